package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reminder-service/internal/model"
)

type EndpointStore interface {
	Upsert(ctx context.Context, userID string, channel model.Channel, payload json.RawMessage) (*model.DeliveryEndpoint, error)
	DeleteByUserChannel(ctx context.Context, userID string, channel model.Channel) (bool, error)
}

type EndpointHandler struct {
	store          EndpointStore
	vapidPublicKey string
	logger         *zap.Logger
}

func NewEndpointHandler(store EndpointStore, vapidPublicKey string, logger *zap.Logger) *EndpointHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EndpointHandler{
		store:          store,
		vapidPublicKey: vapidPublicKey,
		logger:         logger,
	}
}

// VAPIDPublicKey handles GET /api/notifications/vapid-public-key
func (h *EndpointHandler) VAPIDPublicKey(c *gin.Context) {
	if h.vapidPublicKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "push notifications not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.vapidPublicKey})
}

// SubscribePush handles POST /api/notifications/push
func (h *EndpointHandler) SubscribePush(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var sub model.PushSubscription
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if err := sub.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	h.upsert(c, userID, model.ChannelPush, payload)
}

// SubscribeEmail handles PUT /api/notifications/email
func (h *EndpointHandler) SubscribeEmail(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	addr, err := model.NormalizeEmail(req.Email)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid email address"})
		return
	}
	payload, _ := json.Marshal(addr)

	h.upsert(c, userID, model.ChannelEmail, payload)
}

// UnsubscribePush handles DELETE /api/notifications/push
func (h *EndpointHandler) UnsubscribePush(c *gin.Context) {
	h.unsubscribe(c, model.ChannelPush)
}

// UnsubscribeEmail handles DELETE /api/notifications/email
func (h *EndpointHandler) UnsubscribeEmail(c *gin.Context) {
	h.unsubscribe(c, model.ChannelEmail)
}

func (h *EndpointHandler) upsert(c *gin.Context, userID string, channel model.Channel, payload json.RawMessage) {
	ep, err := h.store.Upsert(c.Request.Context(), userID, channel, payload)
	if err != nil {
		h.logger.Error("Failed to save endpoint",
			zap.String("user_id", userID),
			zap.String("channel", channel.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save endpoint"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"endpoint_id": ep.ID,
		"channel":     ep.Channel,
		"status":      "subscribed",
	})
}

func (h *EndpointHandler) unsubscribe(c *gin.Context, channel model.Channel) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	removed, err := h.store.DeleteByUserChannel(c.Request.Context(), userID, channel)
	if err != nil {
		h.logger.Error("Failed to delete endpoint",
			zap.String("user_id", userID),
			zap.String("channel", channel.String()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete endpoint"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"channel": channel,
		"removed": removed,
		"status":  "unsubscribed",
	})
}

func currentUser(c *gin.Context) (string, bool) {
	userID := c.GetString("user_id")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return "", false
	}
	return userID, true
}
