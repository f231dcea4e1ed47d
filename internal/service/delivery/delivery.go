package delivery

import (
	"context"
	"errors"
	"fmt"

	"reminder-service/internal/model"
)

// Message 一个用户在一次派发中收到的内容
type Message struct {
	Occasion model.Occasion
	Content  model.NotificationContent
	Overdue  []model.Task
	DueToday []model.Task
}

func (m Message) PendingCount() int {
	return len(m.Overdue) + len(m.DueToday)
}

// Sender 某个渠道的投递实现
type Sender interface {
	Channel() model.Channel
	Send(ctx context.Context, endpoint model.DeliveryEndpoint, msg Message) error
}

// DeliveryError 单个端点的投递失败。Gone 表示端点永久失效，应当删除
type DeliveryError struct {
	Channel    model.Channel
	EndpointID string
	Status     int
	Gone       bool
	Err        error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Gone {
		kind = "permanent"
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s delivery to %s failed (%s, status %d): %v", e.Channel, e.EndpointID, kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s delivery to %s failed (%s): %v", e.Channel, e.EndpointID, kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
func (e *DeliveryError) Permanent() bool { return e.Gone }
func (e *DeliveryError) StatusCode() int { return e.Status }

// IsPermanent 只有带 Gone 标记的 DeliveryError 才算永久失败
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Gone
}

func transient(c model.Channel, endpointID string, status int, err error) error {
	return &DeliveryError{Channel: c, EndpointID: endpointID, Status: status, Err: err}
}

func permanent(c model.Channel, endpointID string, status int, err error) error {
	return &DeliveryError{Channel: c, EndpointID: endpointID, Status: status, Gone: true, Err: err}
}
