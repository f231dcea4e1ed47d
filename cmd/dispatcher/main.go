package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "reminder-service/contracts/mq"
	"reminder-service/internal/app"
	"reminder-service/internal/config"
	"reminder-service/internal/mqhandler"
	"reminder-service/pkg/logger"
	"reminder-service/pkg/mq"
)

func main() {
	cfg, err := config.LoadDefault()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	log := logger.NewLogger(cfg.Log)
	defer log.Sync()

	log.Info("Starting reminder dispatcher...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("timezone", cfg.Reminder.Timezone),
		zap.Int("schedules", len(cfg.Schedules)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to init app", zap.Error(err))
	}
	defer a.Close()

	// Cron schedules（UTC），也可以不配，改由外部定时器调 HTTP 接口
	jobs, err := app.ParseSchedules(cfg.Schedules)
	if err != nil {
		log.Fatal("Invalid schedules", zap.Error(err))
	}
	scheduler, err := app.NewCron(ctx, jobs, a.Dispatcher, cfg.Reminder.APIKey, log)
	if err != nil {
		log.Fatal("Failed to init cron", zap.Error(err))
	}
	scheduler.Start()
	log.Info("Cron scheduler started", zap.Int("jobs", len(jobs)))

	// MQ Consumer for reminder.dispatch.requested
	if cfg.MQ.URL != "" && cfg.MQ.DispatchQueue != "" {
		consumer, err := mq.NewConsumer(cfg.MQ, cfg.MQ.DispatchQueue, mqcontracts.RoutingKeyDispatchRequested, log)
		if err != nil {
			log.Fatal("Failed to init consumer", zap.Error(err))
		}
		defer consumer.Close()

		consumer.SetHandler(mqhandler.NewDispatchRequestedHandler(a.Dispatcher, cfg.Reminder.APIKey, log).Handle)
		go func() {
			log.Info("Starting reminder.dispatch.requested consumer...")
			if err := consumer.StartConsuming(ctx); err != nil {
				log.Error("Dispatch request consumer stopped", zap.Error(err))
			}
		}()
	}

	// HTTP Server
	router := a.Router()
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("reminder dispatcher is fully initialized and running")

	// Graceful shutdown
	<-ctx.Done()
	log.Info("Shutting down reminder dispatcher gracefully...")

	// 等正在跑的定时派发结束
	cronDone := scheduler.Stop()

	log.Info("Shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	select {
	case <-cronDone.Done():
		log.Info("Cron scheduler stopped")
	case <-shutdownCtx.Done():
		log.Warn("Timed out waiting for scheduled dispatch to finish")
	}

	a.Close()
	log.Info("reminder dispatcher shutdown complete")
}
