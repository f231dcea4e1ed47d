package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	mqcontracts "reminder-service/contracts/mq"
	"reminder-service/internal/model"
	"reminder-service/internal/service/reminder"
	"reminder-service/pkg/logger"
)

type Runner interface {
	Run(ctx context.Context, req reminder.Request) (*reminder.Result, error)
}

// DispatchRequestedHandler 处理内部总线上的 reminder.dispatch.requested。
// 总线是受信任的，使用服务自己的 API key 通过鉴权
type DispatchRequestedHandler struct {
	runner Runner
	apiKey string
	logger *zap.Logger
}

func NewDispatchRequestedHandler(runner Runner, apiKey string, logger *zap.Logger) *DispatchRequestedHandler {
	return &DispatchRequestedHandler{
		runner: runner,
		apiKey: apiKey,
		logger: logger,
	}
}

func (h *DispatchRequestedHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	log := logger.WithTrace(ctx, h.logger)

	var p mqcontracts.ReminderDispatchRequestedPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Error("Failed to unmarshal dispatch request", zap.Error(err))
		return err
	}

	req := reminder.Request{APIKey: h.apiKey}
	if p.Occasion != "" {
		occasion, err := model.ParseOccasion(p.Occasion)
		if err != nil {
			return fmt.Errorf("dispatch request: %w", err)
		}
		req.Occasion = &occasion
	}
	channels, err := model.ParseChannelList(p.Channels)
	if err != nil {
		return fmt.Errorf("dispatch request: %w", err)
	}
	req.Channels = channels

	log.Info("Processing dispatch request",
		zap.String("occasion", p.Occasion),
		zap.Strings("channels", p.Channels),
		zap.String("requested_by", p.RequestedBy),
	)

	res, err := h.runner.Run(ctx, req)
	if err != nil {
		return err
	}

	log.Info("Dispatch request handled",
		zap.String("run_id", res.RunID),
		zap.Int("sent", res.TotalSent()),
		zap.Bool("skipped", res.Skipped),
	)
	return nil
}
