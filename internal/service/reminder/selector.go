package reminder

import (
	"context"
	"fmt"
	"sort"
	"time"

	"reminder-service/internal/model"
)

// TaskSource 任务存储只读查询
type TaskSource interface {
	ListIncompleteDueBy(ctx context.Context, day model.Date) ([]model.Task, error)
}

// SelectionError 任务查询失败，本次派发终止
type SelectionError struct {
	Err error
}

func (e *SelectionError) Error() string { return fmt.Sprintf("select due tasks: %v", e.Err) }
func (e *SelectionError) Unwrap() error { return e.Err }

// Selection 互不相交的两组任务
type Selection struct {
	Today    model.Date
	Start    time.Time
	End      time.Time
	Overdue  []model.Task
	DueToday []model.Task
}

func (s Selection) Total() int {
	return len(s.Overdue) + len(s.DueToday)
}

// Selector 按参考时区计算“今天”并挑出到期任务
type Selector struct {
	store TaskSource
	loc   *time.Location
}

func NewSelector(store TaskSource, loc *time.Location) *Selector {
	if loc == nil {
		loc = time.UTC
	}
	return &Selector{store: store, loc: loc}
}

func (s *Selector) Location() *time.Location {
	return s.loc
}

// DayBounds 参考时区下的日期、零点和当天最后一纳秒
func DayBounds(now time.Time, loc *time.Location) (model.Date, time.Time, time.Time) {
	local := now.In(loc)
	today := model.DateOf(local)
	start := today.In(loc)
	end := time.Date(today.Year, today.Month, today.Day+1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
	return today, start, end
}

func (s *Selector) Select(ctx context.Context, now time.Time) (Selection, error) {
	today, start, end := DayBounds(now, s.loc)

	tasks, err := s.store.ListIncompleteDueBy(ctx, today)
	if err != nil {
		return Selection{}, &SelectionError{Err: err}
	}

	sel := Partition(tasks, today)
	sel.Start = start
	sel.End = end
	return sel, nil
}

// Partition 逾期 / 今天到期；无截止日期、已完成或还没到期的任务被丢弃
func Partition(tasks []model.Task, today model.Date) Selection {
	sel := Selection{Today: today}
	for _, t := range tasks {
		if t.Completed || t.DueDate == nil {
			continue
		}
		switch {
		case t.DueDate.Before(today):
			sel.Overdue = append(sel.Overdue, t)
		case t.DueDate.Equal(today):
			sel.DueToday = append(sel.DueToday, t)
		}
	}
	sortTasks(sel.Overdue)
	sortTasks(sel.DueToday)
	return sel
}

func sortTasks(tasks []model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i], tasks[j]
		if c := a.DueDate.Compare(*b.DueDate); c != 0 {
			return c < 0
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}
