package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"reminder-service/internal/config"
	"reminder-service/internal/handler"
	"reminder-service/internal/httpserver"
	"reminder-service/internal/model"
	"reminder-service/internal/repository"
	"reminder-service/internal/service/content"
	"reminder-service/internal/service/delivery"
	"reminder-service/internal/service/reminder"
	"reminder-service/pkg/circuitbreaker"
	pkgconfig "reminder-service/pkg/config"
	"reminder-service/pkg/db"
	"reminder-service/pkg/mq"
	"reminder-service/pkg/redis"
	"reminder-service/pkg/util"
)

// App 进程内共享的组件；dispatcher 服务和 reminderctl 都从这里构建
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	Location   *time.Location
	DB         *pgxpool.Pool
	Redis      *goredis.Client
	Publisher  *mq.Publisher
	Tasks      *repository.TaskRepository
	Endpoints  *repository.EndpointRepository
	Content    *content.FallbackProvider
	Dispatcher *reminder.Dispatcher
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger, Location: loc}

	// DB
	a.DB, err = db.NewConnection(ctx, cfg.DB, logger)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	a.Tasks = repository.NewTaskRepository(a.DB, logger)
	a.Endpoints = repository.NewEndpointRepository(a.DB, logger)

	// MQ Publisher，事件是尽力而为的，连不上只告警
	var publisher reminder.EventPublisher
	var prunePublisher delivery.EventPublisher
	if cfg.MQ.URL != "" {
		p, err := mq.NewPublisher(cfg.MQ)
		if err != nil {
			logger.Warn("Failed to init MQ publisher, events disabled", zap.Error(err))
		} else {
			a.Publisher = p
			publisher = p
			prunePublisher = p
		}
	}

	// Redis lease
	var lease reminder.Lease
	a.Redis = redis.NewRedisClient(cfg.Redis)
	if cfg.Dispatch.LeaseEnabled {
		if a.Redis == nil {
			logger.Warn("Dispatch lease enabled but redis not configured, running without lease")
		} else {
			lease = util.NewDeduper(a.Redis, cfg.Dispatch.LeaseWindow, logger)
		}
	}

	a.Content = NewContent(cfg.AI, logger)

	senders, err := a.buildSenders()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Dispatcher = reminder.NewDispatcher(reminder.Deps{
		Selector:  reminder.NewSelector(a.Tasks, loc),
		Endpoints: a.Endpoints,
		Content:   a.Content,
		Senders:   senders,
		Lifecycle: delivery.NewLifecycleManager(a.Endpoints, prunePublisher, logger),
		Publisher: publisher,
		Lease:     lease,
		Logger:    logger,
	}, reminder.Options{
		APIKey:      cfg.Reminder.APIKey,
		SendTimeout: cfg.Dispatch.SendTimeout,
		LeaseWindow: cfg.Dispatch.LeaseWindow,
	})

	if cfg.Reminder.APIKey == "" {
		logger.Warn("reminder.api_key is empty, every dispatch call will be rejected")
	}
	return a, nil
}

// NewContent 配了 AI key 时先走 AI，失败或超长回退到静态模板
func NewContent(cfg pkgconfig.AIConfig, logger *zap.Logger) *content.FallbackProvider {
	var primary content.Provider
	if cfg.APIKey != "" {
		breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
		primary = content.NewAIProvider(cfg, breaker, logger)
	}
	return content.NewFallbackProvider(primary, logger)
}

// buildSenders 没配置的渠道留空，派发时跳过
func (a *App) buildSenders() (model.PerChannel[delivery.Sender], error) {
	var push, email delivery.Sender

	if a.Config.VAPID.PublicKey != "" && a.Config.VAPID.PrivateKey != "" {
		push = delivery.NewPushSender(a.Config.VAPID, nil, a.Logger)
	} else {
		a.Logger.Warn("VAPID keys not configured, push channel disabled")
	}

	if a.Config.SMTP.Host != "" {
		sender, err := delivery.NewEmailSender(a.Config.SMTP, delivery.NewSMTPTransport(a.Config.SMTP), a.Logger)
		if err != nil {
			return model.PerChannel[delivery.Sender]{}, fmt.Errorf("init email sender: %w", err)
		}
		email = sender
	} else {
		a.Logger.Warn("SMTP host not configured, email channel disabled")
	}

	return model.NewPerChannel(push, email), nil
}

func (a *App) Router() *httpserver.Router {
	dispatchHandler := handler.NewDispatchHandler(a.Dispatcher, model.NewPerChannel(true, true), a.Logger)
	endpointHandler := handler.NewEndpointHandler(a.Endpoints, a.Config.VAPID.PublicKey, a.Logger)
	var pinger httpserver.Pinger
	if a.DB != nil {
		pinger = a.DB
	}
	return httpserver.NewRouter(dispatchHandler, endpointHandler, a.Config.JWT.Secret, pinger, a.Logger)
}

// Close 释放连接，可以重复调用
func (a *App) Close() {
	if a.Publisher != nil {
		a.Publisher.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
		a.Redis = nil
	}
	if a.DB != nil {
		a.DB.Close()
		a.DB = nil
	}
}
