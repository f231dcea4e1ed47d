package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"reminder-service/internal/model"
	"reminder-service/pkg/config"
)

const pushPayloadType = "due-tasks"

// PushSender Web Push 投递，VAPID 签名
type PushSender struct {
	cfg    config.VAPIDConfig
	client webpush.HTTPClient
	logger *zap.Logger
}

func NewPushSender(cfg config.VAPIDConfig, client webpush.HTTPClient, logger *zap.Logger) *PushSender {
	if cfg.TTL <= 0 {
		cfg.TTL = 12 * 60 * 60
	}
	if cfg.URL == "" {
		cfg.URL = "/"
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PushSender{cfg: cfg, client: client, logger: logger}
}

func (s *PushSender) Channel() model.Channel { return model.ChannelPush }

// Payload 构造 service worker 收到的 JSON
func (s *PushSender) Payload(msg Message) model.PushPayload {
	return model.PushPayload{
		Title: msg.Content.Title,
		Body:  msg.Content.Body,
		Tag:   msg.Content.Tag,
		Icon:  s.cfg.Icon,
		Badge: s.cfg.Badge,
		Data: model.PushPayloadData{
			URL:  s.cfg.URL,
			Type: pushPayloadType,
		},
	}
}

func (s *PushSender) Send(ctx context.Context, endpoint model.DeliveryEndpoint, msg Message) error {
	sub, err := endpoint.PushSubscription()
	if err != nil {
		return transient(model.ChannelPush, endpoint.ID, 0, err)
	}

	body, err := json.Marshal(s.Payload(msg))
	if err != nil {
		return transient(model.ChannelPush, endpoint.ID, 0, fmt.Errorf("marshal push payload: %w", err))
	}

	urgency := webpush.UrgencyNormal
	if len(msg.Overdue) > 0 {
		urgency = webpush.UrgencyHigh
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.Keys.P256dh,
			Auth:   sub.Keys.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subject,
		VAPIDPublicKey:  s.cfg.PublicKey,
		VAPIDPrivateKey: s.cfg.PrivateKey,
		TTL:             s.cfg.TTL,
		Urgency:         urgency,
		Topic:           msg.Content.Tag,
	})
	if err != nil {
		return transient(model.ChannelPush, endpoint.ID, 0, fmt.Errorf("send push: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		s.logger.Debug("Push delivered",
			zap.String("endpoint_id", endpoint.ID),
			zap.Int("status", resp.StatusCode),
		)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	reason := fmt.Errorf("push service responded %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))

	switch resp.StatusCode {
	case http.StatusGone, http.StatusNotFound:
		// 订阅已过期或被注销
		return permanent(model.ChannelPush, endpoint.ID, resp.StatusCode, reason)
	default:
		return transient(model.ChannelPush, endpoint.ID, resp.StatusCode, reason)
	}
}
