package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"reminder-service/internal/model"
	"reminder-service/internal/service/reminder"
)

type ReminderDispatcher interface {
	Authorized(key string) bool
	Run(ctx context.Context, req reminder.Request) (*reminder.Result, error)
}

type DispatchHandler struct {
	dispatcher      ReminderDispatcher
	defaultChannels model.PerChannel[bool]
	logger          *zap.Logger
}

func NewDispatchHandler(dispatcher ReminderDispatcher, defaultChannels model.PerChannel[bool], logger *zap.Logger) *DispatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchHandler{
		dispatcher:      dispatcher,
		defaultChannels: defaultChannels,
		logger:          logger,
	}
}

// Dispatch handles GET|POST /api/reminders/dispatch?key=&occasion=&channels=
func (h *DispatchHandler) Dispatch(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		key = c.GetHeader("X-API-Key")
	}
	// 鉴权在解析参数之前，未授权请求拿不到任何信息
	if !h.dispatcher.Authorized(key) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	req := reminder.Request{APIKey: key, Channels: h.defaultChannels}
	if raw := c.Query("occasion"); raw != "" {
		occasion, err := model.ParseOccasion(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Occasion = &occasion
	}
	if raw := c.Query("channels"); raw != "" {
		channels, err := model.ParseChannelSet(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Channels = channels
	}

	res, err := h.dispatcher.Run(c.Request.Context(), req)
	if errors.Is(err, reminder.ErrUnauthorized) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("Reminder dispatch failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to dispatch reminders"})
		return
	}

	c.JSON(http.StatusOK, dispatchResponse(res))
}

func dispatchResponse(res *reminder.Result) gin.H {
	message := "Reminders dispatched"
	switch {
	case res.Skipped:
		message = "Dispatch already ran for this window"
	case res.TasksFound == 0:
		message = "No due tasks"
	}
	users := res.Users
	if users == nil {
		users = []reminder.UserSummary{}
	}
	return gin.H{
		"message":        message,
		"sent":           res.TotalSent(),
		"total":          res.Attempts,
		"run_id":         res.RunID,
		"occasion":       res.Occasion,
		"today":          res.Today,
		"tasks_found":    res.TasksFound,
		"overdue":        res.OverdueCount,
		"due_today":      res.DueTodayCount,
		"users_notified": res.UsersNotified,
		"push_sent":      res.Sent.Get(model.ChannelPush),
		"email_sent":     res.Sent.Get(model.ChannelEmail),
		"failed":         res.TotalFailed(),
		"pruned":         res.Pruned,
		"skipped":        res.Skipped,
		"users":          users,
	}
}
