package localsched

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"reminder-service/internal/model"
)

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock(now time.Time) *fakeClock {
	return &fakeClock{now: now}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance 按时间顺序触发到期的定时器，回调在锁外执行
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var pending []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				pending = append(pending, t)
			}
		}
		if len(pending) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(pending, func(i, j int) bool { return pending[i].at.Before(pending[j].at) })
		next := pending[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()
		next.f()
	}
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type recordingNotifier struct {
	mu     sync.Mutex
	shown  []LocalNotification
	onShow func()
}

func (n *recordingNotifier) Show(_ context.Context, ln LocalNotification) error {
	n.mu.Lock()
	n.shown = append(n.shown, ln)
	hook := n.onShow
	n.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

type staticContent struct{}

func (staticContent) Generate(_ context.Context, o model.Occasion, n int) model.NotificationContent {
	return model.NotificationContent{Title: o.String(), Body: "pending", Tag: o.Tag()}
}

func newTestScheduler(clock *fakeClock, notifier Notifier, perm Permission) *Scheduler {
	return NewScheduler(Config{Location: time.UTC, Icon: "/icon.png"}, Deps{
		Clock:      clock,
		Notifier:   notifier,
		Content:    staticContent{},
		Pending:    func(context.Context) (int, error) { return 0, errors.New("offline") },
		Permission: func(context.Context) Permission { return perm },
	})
}

func TestNextFireAt(t *testing.T) {
	sunday := time.Sunday
	daily := Slot{Occasion: model.OccasionMorning, Hour: 8}
	weeklySlot := Slot{Occasion: model.OccasionWeeklyReview, Hour: 18, Weekday: &sunday}
	// 2026-05-20 是星期三
	wed := func(h, m int) time.Time { return time.Date(2026, 5, 20, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name string
		slot Slot
		now  time.Time
		want time.Time
	}{
		{"before target fires today", daily, wed(7, 59), wed(8, 0)},
		{"after target fires tomorrow", daily, wed(9, 0), time.Date(2026, 5, 21, 8, 0, 0, 0, time.UTC)},
		{"exactly at target moves on", daily, wed(8, 0), time.Date(2026, 5, 21, 8, 0, 0, 0, time.UTC)},
		{"weekly goes to next sunday", weeklySlot, wed(12, 0), time.Date(2026, 5, 24, 18, 0, 0, 0, time.UTC)},
		{"weekly same day before target", weeklySlot, time.Date(2026, 5, 24, 17, 0, 0, 0, time.UTC), time.Date(2026, 5, 24, 18, 0, 0, 0, time.UTC)},
		{"weekly same day after target", weeklySlot, time.Date(2026, 5, 24, 19, 0, 0, 0, time.UTC), time.Date(2026, 5, 31, 18, 0, 0, 0, time.UTC)},
		{"month rollover", daily, time.Date(2026, 5, 31, 23, 0, 0, 0, time.UTC), time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextFireAt(tt.slot, tt.now)
			if !got.Equal(tt.want) {
				t.Fatalf("NextFireAt = %v, want %v", got, tt.want)
			}
			if !got.After(tt.now) {
				t.Fatalf("fire time %v not after now %v", got, tt.now)
			}
			if tt.slot.Weekly() && got.Weekday() != *tt.slot.Weekday {
				t.Fatalf("weekday = %s", got.Weekday())
			}
		})
	}
}

func TestNextFireAtSkipsSpringForwardGap(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	slot := Slot{Occasion: model.OccasionNight, Hour: 2, Minute: 30}

	// 2026-03-08 02:00 EST 直接跳到 03:00 EDT，02:30 不存在
	got := NextFireAt(slot, time.Date(2026, 3, 8, 0, 0, 0, 0, loc))
	want := time.Date(2026, 3, 8, 7, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("NextFireAt = %v, want %v (03:00 EDT)", got, want.In(loc))
	}

	got = NextFireAt(slot, time.Date(2026, 3, 8, 4, 0, 0, 0, loc))
	want = time.Date(2026, 3, 9, 2, 30, 0, 0, loc)
	if !got.Equal(want) {
		t.Fatalf("NextFireAt after gap = %v, want %v", got, want)
	}
}

func TestDefaultSlotsCoverEveryOccasion(t *testing.T) {
	slots := DefaultSlots()
	if len(slots) != len(model.AllOccasions()) {
		t.Fatalf("slots = %d", len(slots))
	}
	for i, o := range model.AllOccasions() {
		if slots[i].Occasion != o {
			t.Fatalf("slot %d = %s, want %s", i, slots[i].Occasion, o)
		}
	}
	if !slots[len(slots)-1].Weekly() {
		t.Fatal("weekly review should be weekly")
	}
}

func TestStartRequiresGrantedPermission(t *testing.T) {
	for _, p := range []Permission{PermissionDenied, PermissionDefault, ""} {
		clock := newFakeClock(time.Date(2026, 5, 20, 7, 0, 0, 0, time.UTC))
		s := newTestScheduler(clock, &recordingNotifier{}, p)
		if err := s.Start(context.Background()); !errors.Is(err, ErrPermissionNotGranted) {
			t.Fatalf("permission %q: err = %v", p, err)
		}
		if len(s.Armed()) != 0 || clock.active() != 0 {
			t.Fatalf("permission %q: armed %d timers", p, clock.active())
		}
	}
}

func TestFireShowsAndRearms(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 20, 7, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	s := newTestScheduler(clock, notifier, PermissionGranted)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := len(s.Armed()); got != 5 {
		t.Fatalf("armed = %d, want 5", got)
	}
	if first := s.Armed()[0]; first.Occasion != model.OccasionMorning {
		t.Fatalf("first armed = %s", first.Occasion)
	}

	clock.Advance(90 * time.Minute)

	if len(notifier.shown) != 1 {
		t.Fatalf("shown = %d, want 1", len(notifier.shown))
	}
	n := notifier.shown[0]
	if n.Tag != "reminder-morning" || !n.RequireInteraction || len(n.Actions) != 2 || n.Icon != "/icon.png" {
		t.Fatalf("notification = %+v", n)
	}
	if clock.active() != 5 {
		t.Fatalf("active timers = %d, want 5 after re-arm", clock.active())
	}
	for _, a := range s.Armed() {
		if a.Occasion == model.OccasionMorning && !a.FireAt.Equal(time.Date(2026, 5, 21, 8, 0, 0, 0, time.UTC)) {
			t.Fatalf("morning re-armed for %v", a.FireAt)
		}
	}

	// 再跑一周：4 个每日时段各 7 次，周回顾 1 次
	clock.Advance(7 * 24 * time.Hour)
	if got := s.Fired(); got != 1+4*7+1 {
		t.Fatalf("fired = %d", got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 20, 7, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	s := newTestScheduler(clock, notifier, PermissionGranted)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s.Stop()
	s.Stop()

	if len(s.Armed()) != 0 || clock.active() != 0 {
		t.Fatalf("armed=%d active=%d", len(s.Armed()), clock.active())
	}
	clock.Advance(48 * time.Hour)
	if len(notifier.shown) != 0 {
		t.Fatalf("notifications after stop: %d", len(notifier.shown))
	}
}

func TestStopDuringFireDoesNotRearm(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 20, 7, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}
	s := newTestScheduler(clock, notifier, PermissionGranted)
	notifier.onShow = s.Stop
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	clock.Advance(2 * time.Hour)
	if len(notifier.shown) != 1 || clock.active() != 0 || len(s.Armed()) != 0 {
		t.Fatalf("shown=%d active=%d armed=%d", len(notifier.shown), clock.active(), len(s.Armed()))
	}
}

func TestContextCancelStops(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 20, 7, 0, 0, 0, time.UTC))
	s := newTestScheduler(clock, &recordingNotifier{}, PermissionGranted)
	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for len(s.Armed()) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler still armed after context cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionSignInOut(t *testing.T) {
	clock := newFakeClock(time.Date(2026, 5, 20, 7, 0, 0, 0, time.UTC))
	perm := PermissionGranted
	var built []string
	session := NewSession(func(userID string) *Scheduler {
		built = append(built, userID)
		return newTestScheduler(clock, &recordingNotifier{}, perm)
	})

	if err := session.SignIn(context.Background(), "alice"); err != nil {
		t.Fatalf("SignIn alice: %v", err)
	}
	if err := session.SignIn(context.Background(), "bob"); err != nil {
		t.Fatalf("SignIn bob: %v", err)
	}
	if session.UserID() != "bob" || clock.active() != 5 {
		t.Fatalf("user=%s active=%d", session.UserID(), clock.active())
	}

	session.SignOut()
	session.SignOut()
	if session.Scheduler() != nil || clock.active() != 0 {
		t.Fatalf("after sign out active=%d", clock.active())
	}

	perm = PermissionDenied
	if err := session.SignIn(context.Background(), "carol"); !errors.Is(err, ErrPermissionNotGranted) {
		t.Fatalf("SignIn denied: %v", err)
	}
	if session.Scheduler() != nil || len(built) != 3 {
		t.Fatalf("scheduler=%v built=%v", session.Scheduler(), built)
	}
}
