package content

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"reminder-service/internal/model"
	"reminder-service/pkg/circuitbreaker"
	"reminder-service/pkg/metrics"
)

// FallbackProvider 先试 Primary，任何错误、超时或不合规结果都回退到静态模板。
// Generate 不返回错误。
type FallbackProvider struct {
	primary Provider
	logger  *zap.Logger
}

func NewFallbackProvider(primary Provider, logger *zap.Logger) *FallbackProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackProvider{primary: primary, logger: logger}
}

func (f *FallbackProvider) Generate(ctx context.Context, occasion model.Occasion, pendingCount int) model.NotificationContent {
	if f.primary == nil {
		return Static(occasion, pendingCount)
	}

	c, err := f.primary.Generate(ctx, occasion, pendingCount)
	if err == nil {
		err = Validate(c)
	}
	if err == nil {
		c.Tag = occasion.Tag()
		return c
	}

	reason := fallbackReason(err)
	if reason != "disabled" {
		f.logger.Warn("Content generation fell back to static template",
			zap.String("occasion", occasion.String()),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
	metrics.IncrementContentFallback(occasion.String(), reason)
	return Static(occasion, pendingCount)
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, ErrAIDisabled):
		return "disabled"
	case errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrPolicyViolation):
		return "policy"
	default:
		return "error"
	}
}
