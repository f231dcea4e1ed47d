package content

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"reminder-service/internal/model"
)

const (
	// MaxBodyRunes 通知正文上限，锁屏上超过这个长度会被截断
	MaxBodyRunes  = 100
	MaxTitleRunes = 60
)

// ErrPolicyViolation 生成结果不满足长度/非空约束
var ErrPolicyViolation = errors.New("content policy violation")

// Provider 为某个时段生成通知内容
type Provider interface {
	Generate(ctx context.Context, occasion model.Occasion, pendingCount int) (model.NotificationContent, error)
}

// Validate 检查标题和正文
func Validate(c model.NotificationContent) error {
	title := strings.TrimSpace(c.Title)
	body := strings.TrimSpace(c.Body)
	switch {
	case title == "":
		return fmt.Errorf("%w: empty title", ErrPolicyViolation)
	case body == "":
		return fmt.Errorf("%w: empty body", ErrPolicyViolation)
	case utf8.RuneCountInString(title) > MaxTitleRunes:
		return fmt.Errorf("%w: title longer than %d characters", ErrPolicyViolation, MaxTitleRunes)
	case utf8.RuneCountInString(body) > MaxBodyRunes:
		return fmt.Errorf("%w: body longer than %d characters", ErrPolicyViolation, MaxBodyRunes)
	}
	return nil
}

// TaskCount "1 task" / "3 tasks"
func TaskCount(n int) string {
	if n == 1 {
		return "1 task"
	}
	return fmt.Sprintf("%d tasks", n)
}
