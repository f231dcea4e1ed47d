package mq

import "time"

const (
	RoutingKeyReminderDispatched = "reminder.dispatched"
	RoutingKeyEndpointPruned     = "endpoint.pruned"
	RoutingKeyDispatchRequested  = "reminder.dispatch.requested"
)

// ReminderDispatchRequestedPayload 内部总线上的派发请求，空 Occasion 按当前小时推断
type ReminderDispatchRequestedPayload struct {
	Occasion    string   `json:"occasion,omitempty"`
	Channels    []string `json:"channels,omitempty"`
	RequestedBy string   `json:"requested_by,omitempty"`
}

type ReminderDispatchedPayload struct {
	RunID         string    `json:"run_id"`
	Occasion      string    `json:"occasion"`
	TasksFound    int       `json:"tasks_found"`
	UsersNotified int       `json:"users_notified"`
	PushSent      int       `json:"push_sent"`
	EmailSent     int       `json:"email_sent"`
	Failed        int       `json:"failed"`
	Pruned        int       `json:"pruned"`
	FinishedAt    time.Time `json:"finished_at"`
}

type EndpointPrunedPayload struct {
	EndpointID string    `json:"endpoint_id"`
	UserID     string    `json:"user_id"`
	Channel    string    `json:"channel"` // push / email
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error"`
	PrunedAt   time.Time `json:"pruned_at"`
}
