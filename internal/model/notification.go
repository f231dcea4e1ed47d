package model

// NotificationContent 标题、正文和时段标签
type NotificationContent struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
}

// PushPayload 发给 service worker 的 JSON
type PushPayload struct {
	Title string          `json:"title"`
	Body  string          `json:"body"`
	Tag   string          `json:"tag"`
	Icon  string          `json:"icon,omitempty"`
	Badge string          `json:"badge,omitempty"`
	Data  PushPayloadData `json:"data"`
}

type PushPayloadData struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}
