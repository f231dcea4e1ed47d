package reminder

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	mqcontracts "reminder-service/contracts/mq"
	"reminder-service/internal/model"
	"reminder-service/internal/service/delivery"
	"reminder-service/pkg/logger"
	"reminder-service/pkg/metrics"
)

// ErrUnauthorized 调用方没带或带错了 API key，不会读取任何数据
var ErrUnauthorized = errors.New("unauthorized")

// State 单次派发的状态机
type State int

const (
	StateIdle State = iota
	StateAuthorizing
	StateSelecting
	StateGrouping
	StateGenerating
	StateDelivering
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAuthorizing:
		return "authorizing"
	case StateSelecting:
		return "selecting"
	case StateGrouping:
		return "grouping"
	case StateGenerating:
		return "generating"
	case StateDelivering:
		return "delivering"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ContentGenerator 不会失败的内容生成
type ContentGenerator interface {
	Generate(ctx context.Context, occasion model.Occasion, pendingCount int) model.NotificationContent
}

// FailureHandler 处理单个端点的投递失败，返回端点是否被删除
type FailureHandler interface {
	HandleFailure(ctx context.Context, endpoint model.DeliveryEndpoint, err error) bool
}

type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Lease 每个触发时刻的一次性占位
type Lease interface {
	AcquireOnce(ctx context.Context, key string) bool
	Release(ctx context.Context, key string)
}

// Deps 派发器依赖；Publisher 和 Lease 可以为 nil，Senders 中缺失的渠道会被跳过
type Deps struct {
	Selector  *Selector
	Endpoints EndpointSource
	Content   ContentGenerator
	Senders   model.PerChannel[delivery.Sender]
	Lifecycle FailureHandler
	Publisher EventPublisher
	Lease     Lease
	Logger    *zap.Logger
}

type Options struct {
	APIKey      string
	SendTimeout time.Duration
	LeaseWindow time.Duration
	Now         func() time.Time
}

// Request 一次触发
type Request struct {
	APIKey   string
	Occasion *model.Occasion // nil 时按参考时区的当前小时推断
	Channels model.PerChannel[bool]
	Now      time.Time // 零值时使用时钟
}

// UserSummary 单个用户的派发结果
type UserSummary struct {
	UserID        string `json:"user_id"`
	OverdueCount  int    `json:"overdue_count"`
	DueTodayCount int    `json:"due_today_count"`
	Endpoints     int    `json:"endpoints"`
	Sent          int    `json:"sent"`
}

type Result struct {
	RunID          string
	State          State
	Occasion       model.Occasion
	Today          model.Date
	TasksFound     int
	OverdueCount   int
	DueTodayCount  int
	UsersWithTasks int
	UsersNotified  int
	Attempts       int
	Sent           model.PerChannel[int]
	Failed         model.PerChannel[int]
	Pruned         int
	Skipped        bool
	Users          []UserSummary
}

func (r *Result) TotalSent() int {
	total := 0
	for _, c := range model.AllChannels() {
		total += r.Sent.Get(c)
	}
	return total
}

func (r *Result) TotalFailed() int {
	total := 0
	for _, c := range model.AllChannels() {
		total += r.Failed.Get(c)
	}
	return total
}

// Dispatcher 服务端提醒派发：鉴权 → 选任务 → 分组 → 生成内容 → 逐端点投递
type Dispatcher struct {
	deps        Deps
	apiKey      string
	sendTimeout time.Duration
	leaseWindow time.Duration
	now         func() time.Time
	logger      *zap.Logger
}

func NewDispatcher(deps Deps, opts Options) *Dispatcher {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}
	if opts.LeaseWindow <= 0 {
		opts.LeaseWindow = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := deps.Logger
	if l == nil {
		l = zap.NewNop()
	}
	return &Dispatcher{
		deps:        deps,
		apiKey:      opts.APIKey,
		sendTimeout: opts.SendTimeout,
		leaseWindow: opts.LeaseWindow,
		now:         opts.Now,
		logger:      l,
	}
}

// Authorized 常量时间比较；未配置 key 时拒绝所有请求
func (d *Dispatcher) Authorized(key string) bool {
	if d.apiKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(d.apiKey), []byte(key)) == 1
}

// Run 执行一次派发。投递不是幂等的：同一窗口内调用两次会重复发送，除非启用了 Lease
func (d *Dispatcher) Run(ctx context.Context, req Request) (*Result, error) {
	res := &Result{
		RunID:  uuid.NewString(),
		State:  StateIdle,
		Sent:   model.NewPerChannel(0, 0),
		Failed: model.NewPerChannel(0, 0),
	}
	log := logger.WithTrace(ctx, d.logger).With(zap.String("run_id", res.RunID))
	transition := func(s State, fields ...zap.Field) {
		res.State = s
		log.Debug("Dispatch state", append([]zap.Field{zap.String("state", s.String())}, fields...)...)
	}
	started := time.Now()

	transition(StateAuthorizing)
	if !d.Authorized(req.APIKey) {
		transition(StateFailed)
		metrics.IncrementDispatch("unauthorized")
		log.Warn("Rejected dispatch with missing or invalid api key")
		return res, ErrUnauthorized
	}

	now := req.Now
	if now.IsZero() {
		now = d.now()
	}
	occasion := model.OccasionAt(now.In(d.deps.Selector.Location()))
	if req.Occasion != nil {
		occasion = *req.Occasion
	}
	res.Occasion = occasion
	defer func() {
		metrics.RecordDispatchDuration(occasion.String(), time.Since(started))
	}()

	if d.deps.Lease != nil {
		key := d.leaseKey(occasion, req.Channels, now)
		if !d.deps.Lease.AcquireOnce(ctx, key) {
			res.Skipped = true
			transition(StateDone)
			metrics.IncrementDispatch("skipped")
			log.Info("Dispatch already claimed for this tick", zap.String("lease_key", key))
			return res, nil
		}
		defer func() {
			if res.State == StateFailed {
				d.deps.Lease.Release(context.WithoutCancel(ctx), key)
			}
		}()
	}

	fail := func(err error) (*Result, error) {
		transition(StateFailed)
		metrics.IncrementDispatch("failed")
		log.Error("Dispatch failed", zap.String("occasion", occasion.String()), zap.Error(err))
		return res, err
	}

	transition(StateSelecting)
	sel, err := d.deps.Selector.Select(ctx, now)
	if err != nil {
		return fail(err)
	}
	res.Today = sel.Today
	res.TasksFound = sel.Total()
	res.OverdueCount = len(sel.Overdue)
	res.DueTodayCount = len(sel.DueToday)

	transition(StateGrouping)
	digests := Group(sel)
	userIDs := digests.UserIDs()
	res.UsersWithTasks = len(userIDs)
	endpoints, err := ResolveEndpoints(ctx, d.deps.Endpoints, userIDs, req.Channels)
	if err != nil {
		return fail(err)
	}

	transition(StateGenerating)
	messages := make(map[string]delivery.Message, len(userIDs))
	for _, userID := range userIDs {
		if len(endpoints[userID]) == 0 {
			continue
		}
		digest := digests[userID]
		messages[userID] = delivery.Message{
			Occasion: occasion,
			Content:  d.deps.Content.Generate(ctx, occasion, digest.PendingCount()),
			Overdue:  digest.Overdue,
			DueToday: digest.DueToday,
		}
	}

	sentPerUser := make(map[string]int, len(userIDs))
	for _, channel := range model.AllChannels() {
		if !req.Channels.Get(channel) {
			continue
		}
		sender := d.deps.Senders.Get(channel)
		if sender == nil {
			log.Warn("Channel enabled but no sender configured, skipping", zap.String("channel", channel.String()))
			continue
		}

		transition(StateDelivering, zap.String("channel", channel.String()))
		for _, userID := range userIDs {
			msg, ok := messages[userID]
			if !ok {
				continue
			}
			for _, ep := range endpoints[userID] {
				if ep.Channel != channel {
					continue
				}
				res.Attempts++
				if d.deliver(ctx, log, sender, ep, msg, res) {
					sentPerUser[userID]++
				}
			}
		}
	}

	for _, userID := range userIDs {
		digest := digests[userID]
		res.Users = append(res.Users, UserSummary{
			UserID:        userID,
			OverdueCount:  digest.OverdueCount(),
			DueTodayCount: digest.DueTodayCount(),
			Endpoints:     len(endpoints[userID]),
			Sent:          sentPerUser[userID],
		})
		if sentPerUser[userID] > 0 {
			res.UsersNotified++
		}
	}

	transition(StateDone)
	metrics.IncrementDispatch("done")
	log.Info("Dispatch completed",
		zap.String("occasion", occasion.String()),
		zap.String("today", res.Today.String()),
		zap.Int("tasks_found", res.TasksFound),
		zap.Int("users_with_tasks", res.UsersWithTasks),
		zap.Int("users_notified", res.UsersNotified),
		zap.Int("push_sent", res.Sent.Get(model.ChannelPush)),
		zap.Int("email_sent", res.Sent.Get(model.ChannelEmail)),
		zap.Int("failed", res.TotalFailed()),
		zap.Int("pruned", res.Pruned),
	)
	d.publish(ctx, log, res)
	return res, nil
}

// deliver 单端点投递，失败交给生命周期管理，绝不影响兄弟端点
func (d *Dispatcher) deliver(ctx context.Context, log *zap.Logger, sender delivery.Sender, ep model.DeliveryEndpoint, msg delivery.Message, res *Result) bool {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	err := sender.Send(sendCtx, ep, msg)
	if err == nil {
		res.Sent.Set(ep.Channel, res.Sent.Get(ep.Channel)+1)
		metrics.IncrementDelivery(ep.Channel.String(), "sent")
		return true
	}

	res.Failed.Set(ep.Channel, res.Failed.Get(ep.Channel)+1)
	if d.deps.Lifecycle != nil && d.deps.Lifecycle.HandleFailure(ctx, ep, err) {
		res.Pruned++
	} else if d.deps.Lifecycle == nil {
		log.Warn("Delivery failed",
			zap.String("endpoint_id", ep.ID),
			zap.String("channel", ep.Channel.String()),
			zap.Error(err),
		)
	}
	return false
}

func (d *Dispatcher) publish(ctx context.Context, log *zap.Logger, res *Result) {
	if d.deps.Publisher == nil {
		return
	}
	payload := mqcontracts.ReminderDispatchedPayload{
		RunID:         res.RunID,
		Occasion:      res.Occasion.String(),
		TasksFound:    res.TasksFound,
		UsersNotified: res.UsersNotified,
		PushSent:      res.Sent.Get(model.ChannelPush),
		EmailSent:     res.Sent.Get(model.ChannelEmail),
		Failed:        res.TotalFailed(),
		Pruned:        res.Pruned,
		FinishedAt:    d.now(),
	}
	if err := d.deps.Publisher.Publish(ctx, mqcontracts.RoutingKeyReminderDispatched, payload); err != nil {
		log.Warn("Failed to publish reminder.dispatched", zap.Error(err))
	}
}

func (d *Dispatcher) leaseKey(occasion model.Occasion, channels model.PerChannel[bool], now time.Time) string {
	var names []string
	for _, c := range model.AllChannels() {
		if channels.Get(c) {
			names = append(names, c.String())
		}
	}
	tick := now.UTC().Truncate(d.leaseWindow).Unix()
	return fmt.Sprintf("reminder:lease:%s:%s:%d", occasion, strings.Join(names, "+"), tick)
}
