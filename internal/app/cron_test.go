package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"reminder-service/internal/model"
	"reminder-service/internal/service/reminder"
	"reminder-service/pkg/config"
)

type recordingRunner struct {
	mu   sync.Mutex
	reqs []reminder.Request
	done chan struct{}
}

func (r *recordingRunner) Run(_ context.Context, req reminder.Request) (*reminder.Result, error) {
	r.mu.Lock()
	r.reqs = append(r.reqs, req)
	r.mu.Unlock()
	select {
	case r.done <- struct{}{}:
	default:
	}
	return &reminder.Result{RunID: "r"}, nil
}

func TestParseSchedules(t *testing.T) {
	jobs, err := ParseSchedules([]config.ScheduleConfig{
		{Name: "morning", Cron: "0 12 * * *", Occasion: "morning", Channels: []string{"push"}},
		{Cron: "0 22 * * 0", Occasion: "weekly-review"},
	})
	if err != nil {
		t.Fatalf("ParseSchedules: %v", err)
	}
	if len(jobs) != 2 || jobs[1].Name != "schedule-1" {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].Channels.Get(model.ChannelEmail) || !jobs[0].Channels.Get(model.ChannelPush) {
		t.Fatal("morning should be push only")
	}
	if !jobs[1].Channels.Get(model.ChannelEmail) || jobs[1].Occasion != model.OccasionWeeklyReview {
		t.Fatalf("weekly job = %+v", jobs[1])
	}

	bad := []config.ScheduleConfig{
		{Name: "bad-cron", Cron: "every day", Occasion: "morning"},
		{Name: "bad-occasion", Cron: "0 12 * * *", Occasion: "brunch"},
		{Name: "bad-channel", Cron: "0 12 * * *", Occasion: "noon", Channels: []string{"sms"}},
	}
	for _, s := range bad {
		if _, err := ParseSchedules([]config.ScheduleConfig{s}); err == nil {
			t.Fatalf("%s: expected error", s.Name)
		}
	}
}

func TestCronRunsJobWithOccasionAndKey(t *testing.T) {
	runner := &recordingRunner{done: make(chan struct{}, 1)}
	jobs := []Job{{Name: "tick", Spec: "@every 1s", Occasion: model.OccasionNoon, Channels: model.NewPerChannel(true, false)}}

	c, err := NewCron(context.Background(), jobs, runner, "key", zap.NewNop())
	if err != nil {
		t.Fatalf("NewCron: %v", err)
	}
	c.Start()
	defer c.Stop()

	select {
	case <-runner.done:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
	runner.mu.Lock()
	defer runner.mu.Unlock()
	req := runner.reqs[0]
	if req.APIKey != "key" || req.Occasion == nil || *req.Occasion != model.OccasionNoon {
		t.Fatalf("request = %+v", req)
	}
}
