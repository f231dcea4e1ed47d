package content

import (
	"context"
	"fmt"

	"reminder-service/internal/model"
)

type template struct {
	title string
	body  string // %s 为 TaskCount 的结果
}

var staticTemplates = model.NewPerOccasion(
	template{title: "Good morning ☀️", body: "You have %s on your list today. Let's make it a good one!"},
	template{title: "Midday check-in", body: "%s still pending. Keep the momentum going!"},
	template{title: "Evening wrap-up", body: "%s left for today. Finish what you can before you unwind."},
	template{title: "Plan for tomorrow", body: "%s still open. Take a minute to plan tomorrow before bed."},
	template{title: "Weekly review", body: "%s pending. Look back on your week and set priorities for the next."},
)

// StaticProvider 固定模板，没有 I/O，不会失败
type StaticProvider struct{}

func NewStaticProvider() StaticProvider {
	return StaticProvider{}
}

func (StaticProvider) Generate(_ context.Context, occasion model.Occasion, pendingCount int) (model.NotificationContent, error) {
	return Static(occasion, pendingCount), nil
}

// Static 供回退路径直接调用
func Static(occasion model.Occasion, pendingCount int) model.NotificationContent {
	if !occasion.Valid() {
		occasion = model.OccasionMorning
	}
	if pendingCount < 0 {
		pendingCount = 0
	}
	t := staticTemplates.Get(occasion)
	return model.NotificationContent{
		Title: t.title,
		Body:  fmt.Sprintf(t.body, TaskCount(pendingCount)),
		Tag:   occasion.Tag(),
	}
}
