package reminder

import (
	"context"
	"fmt"
	"sort"

	"reminder-service/internal/model"
)

// EndpointSource 端点存储的批量查询
type EndpointSource interface {
	ListByUsers(ctx context.Context, userIDs []string, channels []model.Channel) ([]model.DeliveryEndpoint, error)
}

// UserDigest 一个用户本次需要提醒的任务
type UserDigest struct {
	UserID   string
	Overdue  []model.Task
	DueToday []model.Task
}

func (d *UserDigest) OverdueCount() int { return len(d.Overdue) }
func (d *UserDigest) DueTodayCount() int { return len(d.DueToday) }
func (d *UserDigest) PendingCount() int { return len(d.Overdue) + len(d.DueToday) }

// Tasks 逾期在前
func (d *UserDigest) Tasks() []model.Task {
	out := make([]model.Task, 0, d.PendingCount())
	out = append(out, d.Overdue...)
	return append(out, d.DueToday...)
}

// Digests userID -> digest；没有到期任务的用户不会出现
type Digests map[string]*UserDigest

// UserIDs 排序后的用户列表，保证投递顺序确定
func (d Digests) UserIDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Group 按用户分组，保留 Selection 里的排序
func Group(sel Selection) Digests {
	out := make(Digests)
	get := func(userID string) *UserDigest {
		d, ok := out[userID]
		if !ok {
			d = &UserDigest{UserID: userID}
			out[userID] = d
		}
		return d
	}
	for _, t := range sel.Overdue {
		d := get(t.UserID)
		d.Overdue = append(d.Overdue, t)
	}
	for _, t := range sel.DueToday {
		d := get(t.UserID)
		d.DueToday = append(d.DueToday, t)
	}
	return out
}

// ResolveEndpoints 一次查询所有用户在启用渠道上的端点
func ResolveEndpoints(ctx context.Context, store EndpointSource, userIDs []string, channels model.PerChannel[bool]) (map[string][]model.DeliveryEndpoint, error) {
	var enabled []model.Channel
	for _, c := range model.AllChannels() {
		if channels.Get(c) {
			enabled = append(enabled, c)
		}
	}
	out := make(map[string][]model.DeliveryEndpoint, len(userIDs))
	if len(userIDs) == 0 || len(enabled) == 0 {
		return out, nil
	}

	endpoints, err := store.ListByUsers(ctx, userIDs, enabled)
	if err != nil {
		return nil, fmt.Errorf("resolve endpoints: %w", err)
	}
	for _, e := range endpoints {
		if !channels.Get(e.Channel) {
			continue
		}
		out[e.UserID] = append(out[e.UserID], e)
	}
	for _, eps := range out {
		sort.SliceStable(eps, func(i, j int) bool {
			if eps[i].Channel != eps[j].Channel {
				return eps[i].Channel < eps[j].Channel
			}
			return eps[i].CreatedAt.Before(eps[j].CreatedAt)
		})
	}
	return out, nil
}
