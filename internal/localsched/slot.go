package localsched

import (
	"time"

	"reminder-service/internal/model"
)

// Slot 一个时段的本地触发时间；Weekday 为 nil 表示每天
type Slot struct {
	Occasion model.Occasion
	Hour     int
	Minute   int
	Weekday  *time.Weekday
}

func (s Slot) Weekly() bool { return s.Weekday != nil }

func weekly(d time.Weekday) *time.Weekday { return &d }

func DefaultSlots() []Slot {
	times := model.NewPerOccasion(
		Slot{Occasion: model.OccasionMorning, Hour: 8},
		Slot{Occasion: model.OccasionNoon, Hour: 12},
		Slot{Occasion: model.OccasionEvening, Hour: 18},
		Slot{Occasion: model.OccasionNight, Hour: 21},
		Slot{Occasion: model.OccasionWeeklyReview, Hour: 18, Weekday: weekly(time.Sunday)},
	)
	out := make([]Slot, 0, len(model.AllOccasions()))
	for _, o := range model.AllOccasions() {
		out = append(out, times.Get(o))
	}
	return out
}

// NextFireAt 下一次触发时间，严格晚于 now，使用 now 所在时区
func NextFireAt(slot Slot, now time.Time) time.Time {
	loc := now.Location()
	y, m, d := now.Date()
	fireAt := wallClock(y, m, d, slot.Hour, slot.Minute, loc)

	if slot.Weekday != nil {
		days := (int(*slot.Weekday) - int(fireAt.Weekday()) + 7) % 7
		fireAt = wallClock(y, m, d+days, slot.Hour, slot.Minute, loc)
		if !fireAt.After(now) {
			fireAt = wallClock(y, m, d+days+7, slot.Hour, slot.Minute, loc)
		}
		return fireAt
	}

	if !fireAt.After(now) {
		fireAt = wallClock(y, m, d+1, slot.Hour, slot.Minute, loc)
	}
	return fireAt
}

// wallClock 本地时间 hour:minute；落在夏令时跳变的空档里时取空档之后的第一个有效时刻
func wallClock(y int, m time.Month, d, hour, minute int, loc *time.Location) time.Time {
	t := time.Date(y, m, d, hour, minute, 0, 0, loc)
	if t.Hour() == hour && t.Minute() == minute {
		return t
	}
	start, end := t.ZoneBounds()
	if t.Hour()*60+t.Minute() < hour*60+minute {
		// 被归到了跳变前的时区，空档结束就是该时区的结束
		return end
	}
	return start
}
