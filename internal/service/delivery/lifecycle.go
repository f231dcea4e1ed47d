package delivery

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	mqcontracts "reminder-service/contracts/mq"
	"reminder-service/internal/model"
	"reminder-service/pkg/metrics"
	"reminder-service/pkg/util"
)

// EndpointDeleter 端点存储中本组件需要的部分
type EndpointDeleter interface {
	DeleteByID(ctx context.Context, id string) error
}

// EventPublisher 可选的事件出口
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// LifecycleManager 永久失败删除端点，临时失败只记日志并保留
type LifecycleManager struct {
	store     EndpointDeleter
	publisher EventPublisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewLifecycleManager(store EndpointDeleter, publisher EventPublisher, logger *zap.Logger) *LifecycleManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LifecycleManager{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleFailure 返回端点是否被删除。同一次派发内不重试，下一次定时派发自然重试
func (m *LifecycleManager) HandleFailure(ctx context.Context, endpoint model.DeliveryEndpoint, err error) bool {
	if err == nil {
		return false
	}

	isPermanent, kind := util.ClassifyDeliveryError(err)
	if !isPermanent {
		metrics.IncrementDelivery(endpoint.Channel.String(), "transient")
		m.logger.Warn("Delivery failed, keeping endpoint",
			zap.String("endpoint_id", endpoint.ID),
			zap.String("user_id", endpoint.UserID),
			zap.String("channel", endpoint.Channel.String()),
			zap.String("error_type", kind),
			zap.Error(err),
		)
		return false
	}

	metrics.IncrementDelivery(endpoint.Channel.String(), "permanent")
	if delErr := m.store.DeleteByID(ctx, endpoint.ID); delErr != nil {
		m.logger.Error("Failed to delete dead endpoint",
			zap.String("endpoint_id", endpoint.ID),
			zap.String("channel", endpoint.Channel.String()),
			zap.Error(delErr),
		)
		return false
	}

	metrics.IncrementEndpointPruned(endpoint.Channel.String())
	m.logger.Info("Removed dead endpoint",
		zap.String("endpoint_id", endpoint.ID),
		zap.String("user_id", endpoint.UserID),
		zap.String("channel", endpoint.Channel.String()),
		zap.Error(err),
	)

	if m.publisher != nil {
		payload := mqcontracts.EndpointPrunedPayload{
			EndpointID: endpoint.ID,
			UserID:     endpoint.UserID,
			Channel:    endpoint.Channel.String(),
			Error:      err.Error(),
			PrunedAt:   m.now(),
		}
		var de *DeliveryError
		if errors.As(err, &de) {
			payload.StatusCode = de.Status
		}
		if pubErr := m.publisher.Publish(ctx, mqcontracts.RoutingKeyEndpointPruned, payload); pubErr != nil {
			m.logger.Warn("Failed to publish endpoint.pruned", zap.Error(pubErr))
		}
	}
	return true
}
