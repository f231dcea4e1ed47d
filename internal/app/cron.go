package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"reminder-service/internal/model"
	"reminder-service/internal/service/reminder"
	"reminder-service/pkg/config"
	"reminder-service/pkg/trace"
)

// Runner cron 任务需要的派发能力
type Runner interface {
	Run(ctx context.Context, req reminder.Request) (*reminder.Result, error)
}

// Job 一条解析后的定时配置
type Job struct {
	Name     string
	Spec     string
	Occasion model.Occasion
	Channels model.PerChannel[bool]
}

// ParseSchedules 校验 cron 表达式、时段和渠道，部署时出错直接失败
func ParseSchedules(schedules []config.ScheduleConfig) ([]Job, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	jobs := make([]Job, 0, len(schedules))
	for i, s := range schedules {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("schedule-%d", i)
		}
		if _, err := parser.Parse(s.Cron); err != nil {
			return nil, fmt.Errorf("schedule %s: invalid cron %q: %w", name, s.Cron, err)
		}
		occasion, err := model.ParseOccasion(s.Occasion)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", name, err)
		}
		channels, err := model.ParseChannelList(s.Channels)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", name, err)
		}
		jobs = append(jobs, Job{Name: name, Spec: s.Cron, Occasion: occasion, Channels: channels})
	}
	return jobs, nil
}

// NewCron 按 UTC 注册所有定时派发。同一个 job 上一轮没跑完时跳过本轮
func NewCron(ctx context.Context, jobs []Job, runner Runner, apiKey string, logger *zap.Logger) (*cron.Cron, error) {
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	for _, job := range jobs {
		job := job
		_, err := c.AddFunc(job.Spec, func() {
			runCtx, traceID := trace.Ensure(context.WithoutCancel(ctx))
			occasion := job.Occasion
			res, err := runner.Run(runCtx, reminder.Request{
				APIKey:   apiKey,
				Occasion: &occasion,
				Channels: job.Channels,
			})
			if err != nil {
				logger.Error("Scheduled dispatch failed",
					zap.String("job", job.Name),
					zap.String("trace_id", traceID),
					zap.Error(err),
				)
				return
			}
			logger.Info("Scheduled dispatch finished",
				zap.String("job", job.Name),
				zap.String("trace_id", traceID),
				zap.String("run_id", res.RunID),
				zap.Int("sent", res.TotalSent()),
				zap.Bool("skipped", res.Skipped),
			)
		})
		if err != nil {
			return nil, fmt.Errorf("register schedule %s: %w", job.Name, err)
		}
		logger.Info("Registered dispatch schedule",
			zap.String("job", job.Name),
			zap.String("cron", job.Spec),
			zap.String("occasion", job.Occasion.String()),
		)
	}
	return c, nil
}

// cronLogger 把 cron 的日志接到 zap
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
