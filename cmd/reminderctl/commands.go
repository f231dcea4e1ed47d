package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/zap"

	"reminder-service/internal/app"
	"reminder-service/internal/config"
	"reminder-service/internal/localsched"
	"reminder-service/internal/model"
	"reminder-service/internal/service/reminder"
	"reminder-service/pkg/logger"
)

// Context 子命令共享的参数
type Context struct {
	ConfigDir string
	Env       string
}

func (c *Context) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(c.Env, c.ConfigDir)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.NewLogger(cfg.Log), nil
}

type DispatchCmd struct {
	Occasion string `help:"Occasion to send (morning, noon, evening, night, weekly-review). Defaults to the current hour."`
	Channels string `help:"Comma separated channels." default:"push,email"`
}

func (c *DispatchCmd) Run(ctx *Context) error {
	req := reminder.Request{}
	if c.Occasion != "" {
		o, err := model.ParseOccasion(c.Occasion)
		if err != nil {
			return err
		}
		req.Occasion = &o
	}
	channels, err := model.ParseChannelSet(c.Channels)
	if err != nil {
		return err
	}
	req.Channels = channels

	cfg, log, err := ctx.load()
	if err != nil {
		return err
	}
	defer log.Sync()
	req.APIKey = cfg.Reminder.APIKey

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(runCtx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Dispatcher.Run(runCtx, req)
	if err != nil {
		return err
	}

	if res.Skipped {
		fmt.Println("Dispatch already ran for this window, nothing sent.")
		return nil
	}
	fmt.Printf("Run %s (%s, today %s)\n", res.RunID, res.Occasion, res.Today)
	fmt.Printf("Tasks: %d (overdue %d, due today %d)\n", res.TasksFound, res.OverdueCount, res.DueTodayCount)
	fmt.Printf("Users notified: %d\n", res.UsersNotified)
	for _, ch := range model.AllChannels() {
		fmt.Printf("  %-5s sent %d, failed %d\n", ch, res.Sent.Get(ch), res.Failed.Get(ch))
	}
	fmt.Printf("Endpoints pruned: %d\n", res.Pruned)
	return nil
}

type NextCmd struct {
	TZ string `help:"IANA timezone for the local schedule. Defaults to the machine zone." name:"tz"`
}

func (c *NextCmd) Run(_ *Context) error {
	loc, err := resolveZone(c.TZ)
	if err != nil {
		return err
	}
	now := time.Now().In(loc)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OCCASION\tFIRES AT\tIN")
	for _, slot := range localsched.DefaultSlots() {
		at := localsched.NextFireAt(slot, now)
		fmt.Fprintf(w, "%s\t%s\t%s\n", slot.Occasion, at.Format("Mon Jan 2 15:04 MST"), at.Sub(now).Round(time.Minute))
	}
	return w.Flush()
}

type WatchCmd struct {
	User string `help:"User id whose pending tasks are counted. Without it the count is 0 and no database is needed."`
	TZ   string `help:"IANA timezone for the local schedule." name:"tz"`
}

func (c *WatchCmd) Run(ctx *Context) error {
	loc, err := resolveZone(c.TZ)
	if err != nil {
		return err
	}
	cfg, log, err := ctx.load()
	if err != nil {
		return err
	}
	defer log.Sync()

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pending localsched.PendingCounter
	if c.User != "" {
		a, err := app.New(runCtx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()
		pending = func(ctx context.Context) (int, error) {
			today, _, _ := reminder.DayBounds(time.Now(), a.Location)
			return a.Tasks.CountPendingForUser(ctx, c.User, today)
		}
	}

	session := localsched.NewSession(func(userID string) *localsched.Scheduler {
		return localsched.NewScheduler(localsched.Config{
			Location: loc,
			Icon:     cfg.VAPID.Icon,
			Badge:    cfg.VAPID.Badge,
		}, localsched.Deps{
			Notifier:   localsched.NewWriterNotifier(os.Stdout),
			Content:    app.NewContent(cfg.AI, log),
			Pending:    pending,
			Permission: localsched.AlwaysGranted,
			Logger:     log.With(zap.String("user_id", userID)),
		})
	})
	if err := session.SignIn(runCtx, c.User); err != nil {
		return err
	}
	defer session.SignOut()

	for _, a := range session.Scheduler().Armed() {
		fmt.Printf("armed %-14s %s\n", a.Occasion, a.FireAt.Format("Mon Jan 2 15:04 MST"))
	}
	fmt.Println("Watching, Ctrl-C to stop.")
	<-runCtx.Done()
	return nil
}

type VAPIDKeysCmd struct{}

func (c *VAPIDKeysCmd) Run(_ *Context) error {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return fmt.Errorf("generate vapid keys: %w", err)
	}
	fmt.Printf("VAPID_PUBLIC_KEY=%s\n", publicKey)
	fmt.Printf("VAPID_PRIVATE_KEY=%s\n", privateKey)
	return nil
}

func resolveZone(name string) (*time.Location, error) {
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", name, err)
	}
	return loc, nil
}
