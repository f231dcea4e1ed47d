package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"
)

// DeliveryEndpoint 用户在某个渠道上的投递目标，(user_id, channel) 唯一
type DeliveryEndpoint struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Channel   Channel         `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PushSubscription 浏览器 PushManager.subscribe() 返回的订阅
type PushSubscription struct {
	Endpoint       string               `json:"endpoint"`
	ExpirationTime *int64               `json:"expirationTime,omitempty"`
	Keys           PushSubscriptionKeys `json:"keys"`
}

type PushSubscriptionKeys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

func (s PushSubscription) Validate() error {
	u, err := url.Parse(s.Endpoint)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("push subscription endpoint must be an https url")
	}
	if s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return errors.New("push subscription keys are required")
	}
	return nil
}

// PushSubscription 解析 push 端点的 payload
func (e DeliveryEndpoint) PushSubscription() (PushSubscription, error) {
	if e.Channel != ChannelPush {
		return PushSubscription{}, fmt.Errorf("endpoint %s is not a push endpoint", e.ID)
	}
	var sub PushSubscription
	if err := json.Unmarshal(e.Payload, &sub); err != nil {
		return PushSubscription{}, fmt.Errorf("decode push subscription: %w", err)
	}
	if err := sub.Validate(); err != nil {
		return PushSubscription{}, err
	}
	return sub, nil
}

// EmailAddress 解析 email 端点的 payload（JSON 字符串）
func (e DeliveryEndpoint) EmailAddress() (string, error) {
	if e.Channel != ChannelEmail {
		return "", fmt.Errorf("endpoint %s is not an email endpoint", e.ID)
	}
	var addr string
	if err := json.Unmarshal(e.Payload, &addr); err != nil {
		return "", fmt.Errorf("decode email address: %w", err)
	}
	return NormalizeEmail(addr)
}

// NormalizeEmail 校验并返回纯地址部分
func NormalizeEmail(addr string) (string, error) {
	parsed, err := mail.ParseAddress(strings.TrimSpace(addr))
	if err != nil {
		return "", fmt.Errorf("invalid email address %q: %w", addr, err)
	}
	return strings.ToLower(parsed.Address), nil
}
