package localsched

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"reminder-service/internal/model"
)

var ErrPermissionNotGranted = errors.New("notification permission not granted")

type ContentGenerator interface {
	Generate(ctx context.Context, occasion model.Occasion, pendingCount int) model.NotificationContent
}

// PendingCounter 返回当前用户待办数量，出错时按 0 处理
type PendingCounter func(ctx context.Context) (int, error)

type Config struct {
	Slots    []Slot
	Location *time.Location
	Icon     string
	Badge    string
}

type Deps struct {
	Clock      Clock
	Notifier   Notifier
	Content    ContentGenerator
	Pending    PendingCounter
	Permission PermissionFunc
	Logger     *zap.Logger
}

// ArmedSlot 当前已挂上的定时器
type ArmedSlot struct {
	Occasion model.Occasion
	FireAt   time.Time
}

type armed struct {
	slot   Slot
	fireAt time.Time
	timer  Timer
	gen    uint64
}

// Scheduler 会话级的本地提醒调度，每个时段一个单次定时器，触发后重新挂上
type Scheduler struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	gen      uint64
	armed    map[model.Occasion]*armed
	ctx      context.Context
	stopWhen func() bool
	fired    int
}

func NewScheduler(cfg Config, deps Deps) *Scheduler {
	if len(cfg.Slots) == 0 {
		cfg.Slots = DefaultSlots()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if deps.Permission == nil {
		deps.Permission = AlwaysGranted
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:   cfg,
		deps:  deps,
		armed: make(map[model.Occasion]*armed),
	}
}

// Start 只有权限正好是 granted 才会挂定时器；重复调用会先撤掉旧的。
// ctx 结束时自动 Stop
func (s *Scheduler) Start(ctx context.Context) error {
	if p := s.deps.Permission(ctx); p != PermissionGranted {
		s.deps.Logger.Info("Notification permission not granted, scheduler stays unarmed",
			zap.String("permission", string(p)),
		)
		return fmt.Errorf("%w: %s", ErrPermissionNotGranted, p)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.ctx = ctx
	gen := s.gen
	s.stopWhen = context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.gen == gen {
			s.stopLocked()
		}
	})

	now := s.now()
	for _, slot := range s.cfg.Slots {
		s.armLocked(slot, now)
	}
	s.deps.Logger.Info("Local scheduler armed", zap.Int("slots", len(s.armed)))
	return nil
}

// Stop 撤销所有定时器，可以重复调用
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	s.gen++
	for occasion, a := range s.armed {
		a.timer.Stop()
		delete(s.armed, occasion)
	}
	if s.stopWhen != nil {
		s.stopWhen()
		s.stopWhen = nil
	}
}

// Armed 按触发时间排序
func (s *Scheduler) Armed() []ArmedSlot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ArmedSlot, 0, len(s.armed))
	for occasion, a := range s.armed {
		out = append(out, ArmedSlot{Occasion: occasion, FireAt: a.fireAt})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].Occasion < out[j].Occasion
	})
	return out
}

// Fired 已展示的通知次数
func (s *Scheduler) Fired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fired
}

func (s *Scheduler) now() time.Time {
	return s.deps.Clock.Now().In(s.cfg.Location)
}

func (s *Scheduler) armLocked(slot Slot, now time.Time) {
	fireAt := NextFireAt(slot, now)
	a := &armed{slot: slot, fireAt: fireAt, gen: s.gen}
	a.timer = s.deps.Clock.AfterFunc(fireAt.Sub(now), func() { s.fire(a) })
	s.armed[slot.Occasion] = a
}

func (s *Scheduler) current(a *armed) bool {
	return a.gen == s.gen && s.armed[a.slot.Occasion] == a
}

func (s *Scheduler) fire(a *armed) {
	s.mu.Lock()
	if !s.current(a) {
		s.mu.Unlock()
		return
	}
	ctx := s.ctx
	s.mu.Unlock()

	s.show(ctx, a.slot.Occasion)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fired++
	// 展示期间可能已经 Stop
	if !s.current(a) {
		return
	}
	s.armLocked(a.slot, s.now())
}

func (s *Scheduler) show(ctx context.Context, occasion model.Occasion) {
	count := 0
	if s.deps.Pending != nil {
		n, err := s.deps.Pending(ctx)
		if err != nil {
			s.deps.Logger.Warn("Failed to count pending tasks, using 0",
				zap.String("occasion", occasion.String()),
				zap.Error(err),
			)
		} else {
			count = n
		}
	}

	content := s.deps.Content.Generate(ctx, occasion, count)
	tag := content.Tag
	if tag == "" {
		tag = occasion.Tag()
	}
	n := LocalNotification{
		Title:              content.Title,
		Body:               content.Body,
		Icon:               s.cfg.Icon,
		Badge:              s.cfg.Badge,
		Tag:                tag,
		RequireInteraction: true,
		Actions:            append([]Action(nil), defaultActions...),
	}
	if err := s.deps.Notifier.Show(ctx, n); err != nil {
		s.deps.Logger.Warn("Failed to show local notification",
			zap.String("occasion", occasion.String()),
			zap.Error(err),
		)
	}
}
