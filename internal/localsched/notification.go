package localsched

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

type Action struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

// LocalNotification 相同 Tag 的通知会替换掉还没关掉的旧通知
type LocalNotification struct {
	Title              string   `json:"title"`
	Body               string   `json:"body"`
	Icon               string   `json:"icon,omitempty"`
	Badge              string   `json:"badge,omitempty"`
	Tag                string   `json:"tag"`
	RequireInteraction bool     `json:"requireInteraction"`
	Actions            []Action `json:"actions"`
}

var defaultActions = []Action{
	{Action: "open", Title: "Open"},
	{Action: "dismiss", Title: "Dismiss"},
}

type Notifier interface {
	Show(ctx context.Context, n LocalNotification) error
}

type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
	PermissionDefault Permission = "default"
)

type PermissionFunc func(ctx context.Context) Permission

// AlwaysGranted 终端环境下没有权限弹窗
func AlwaysGranted(context.Context) Permission { return PermissionGranted }

// WriterNotifier 把通知打印到终端，reminderctl watch 使用
type WriterNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriterNotifier(w io.Writer) *WriterNotifier {
	return &WriterNotifier{w: w}
}

func (n *WriterNotifier) Show(_ context.Context, ln LocalNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	actions := make([]string, 0, len(ln.Actions))
	for _, a := range ln.Actions {
		actions = append(actions, a.Title)
	}
	_, err := fmt.Fprintf(n.w, "[%s] %s\n  %s\n  (%s)\n", ln.Tag, ln.Title, ln.Body, strings.Join(actions, " | "))
	return err
}
