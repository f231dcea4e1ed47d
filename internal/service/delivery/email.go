package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"reminder-service/internal/model"
	"reminder-service/internal/service/content"
	"reminder-service/pkg/config"
)

// Transport 把已编码好的邮件交给 SMTP 服务
type Transport interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// SMTPTransport go-smtp 实现，要求 STARTTLS；ctx 结束时连接立即关闭
type SMTPTransport struct {
	addr string
	auth sasl.Client
	tls  *tls.Config
}

func NewSMTPTransport(cfg config.SMTPConfig) *SMTPTransport {
	t := &SMTPTransport{
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		tls:  &tls.Config{ServerName: cfg.Host},
	}
	if cfg.Username != "" {
		t.auth = sasl.NewPlainClient("", cfg.Username, cfg.Password)
	}
	return t
}

func (t *SMTPTransport) Send(ctx context.Context, from string, to []string, msg []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dial smtp %s: %w", t.addr, err)
	}
	// 取消或超时都会打断正在进行的命令，邮件不会在计为失败之后再发出去
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c, err := smtp.NewClientStartTLS(conn, t.tls)
	if err != nil {
		return t.wrap(ctx, err)
	}
	defer c.Close()
	if deadline, ok := ctx.Deadline(); ok {
		// go-smtp 每条命令都会重设连接 deadline，这里把上限收紧到 ctx
		remaining := time.Until(deadline)
		c.CommandTimeout = remaining
		c.SubmissionTimeout = remaining
	}

	if t.auth != nil {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp: server doesn't support AUTH")
		}
		if err := c.Auth(t.auth); err != nil {
			return t.wrap(ctx, err)
		}
	}
	if err := c.SendMail(from, to, bytes.NewReader(msg)); err != nil {
		return t.wrap(ctx, err)
	}
	return t.wrap(ctx, c.Quit())
}

// wrap ctx 已结束时优先返回 ctx 的错误，连接被关闭导致的 I/O 错误没有意义
func (t *SMTPTransport) wrap(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("smtp %s: %w", t.addr, ctxErr)
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("smtp %s: %w", t.addr, context.DeadlineExceeded)
	}
	return err
}

// EmailSender 事务性提醒邮件：先列逾期任务，再列今天到期的任务
type EmailSender struct {
	from      *mail.Address
	appURL    string
	transport Transport
	now       func() time.Time
	logger    *zap.Logger
}

func NewEmailSender(cfg config.SMTPConfig, transport Transport, logger *zap.Logger) (*EmailSender, error) {
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid smtp.from %q: %w", cfg.From, err)
	}
	if transport == nil {
		transport = NewSMTPTransport(cfg)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailSender{
		from:      from,
		appURL:    cfg.AppURL,
		transport: transport,
		now:       time.Now,
		logger:    logger,
	}, nil
}

func (s *EmailSender) Channel() model.Channel { return model.ChannelEmail }

func Subject(pendingCount int) string {
	return fmt.Sprintf("You have %s pending", content.TaskCount(pendingCount))
}

func (s *EmailSender) Send(ctx context.Context, endpoint model.DeliveryEndpoint, msg Message) error {
	to, err := endpoint.EmailAddress()
	if err != nil {
		return transient(model.ChannelEmail, endpoint.ID, 0, err)
	}

	raw, err := s.Compose(to, msg)
	if err != nil {
		return transient(model.ChannelEmail, endpoint.ID, 0, err)
	}

	if err := s.transport.Send(ctx, s.from.Address, []string{to}, raw); err != nil {
		var smtpErr *smtp.SMTPError
		if errors.As(err, &smtpErr) {
			switch smtpErr.Code {
			case 550, 551, 553:
				// 邮箱不存在或被拒收
				return permanent(model.ChannelEmail, endpoint.ID, smtpErr.Code, err)
			}
			return transient(model.ChannelEmail, endpoint.ID, smtpErr.Code, err)
		}
		return transient(model.ChannelEmail, endpoint.ID, 0, err)
	}

	s.logger.Debug("Email delivered", zap.String("endpoint_id", endpoint.ID))
	return nil
}

type emailView struct {
	Title    string
	Intro    string
	Overdue  []taskView
	DueToday []taskView
	AppURL   string
}

type taskView struct {
	Description string
	DueDate     string
}

func toViews(tasks []model.Task) []taskView {
	views := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		v := taskView{Description: t.Description}
		if t.DueDate != nil {
			v.DueDate = t.DueDate.String()
		}
		views = append(views, v)
	}
	return views
}

var htmlBody = template.Must(template.New("reminder").Parse(`<!DOCTYPE html>
<html><body style="font-family:sans-serif">
<h2>{{.Title}}</h2>
<p>{{.Intro}}</p>
{{if .Overdue}}<h3 style="color:#c0392b">Overdue</h3>
<ul>{{range .Overdue}}<li>{{.Description}} <small>(due {{.DueDate}})</small></li>{{end}}</ul>{{end}}
{{if .DueToday}}<h3>Due today</h3>
<ul>{{range .DueToday}}<li>{{.Description}}</li>{{end}}</ul>{{end}}
{{if .AppURL}}<p><a href="{{.AppURL}}">Open your tasks</a></p>{{end}}
</body></html>
`))

func textBody(v emailView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n%s\n", v.Title, v.Intro)
	if len(v.Overdue) > 0 {
		b.WriteString("\nOverdue:\n")
		for _, t := range v.Overdue {
			fmt.Fprintf(&b, "- %s (due %s)\n", t.Description, t.DueDate)
		}
	}
	if len(v.DueToday) > 0 {
		b.WriteString("\nDue today:\n")
		for _, t := range v.DueToday {
			fmt.Fprintf(&b, "- %s\n", t.Description)
		}
	}
	if v.AppURL != "" {
		fmt.Fprintf(&b, "\n%s\n", v.AppURL)
	}
	return b.String()
}

// Compose 生成 multipart/alternative 邮件（纯文本 + HTML）
func (s *EmailSender) Compose(to string, msg Message) ([]byte, error) {
	view := emailView{
		Title:    msg.Content.Title,
		Intro:    msg.Content.Body,
		Overdue:  toViews(msg.Overdue),
		DueToday: toViews(msg.DueToday),
		AppURL:   s.appURL,
	}

	var htmlBuf bytes.Buffer
	if err := htmlBody.Execute(&htmlBuf, view); err != nil {
		return nil, fmt.Errorf("render email html: %w", err)
	}

	var h mail.Header
	h.SetDate(s.now())
	h.SetAddressList("From", []*mail.Address{s.from})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(Subject(msg.PendingCount()))
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create mail writer: %w", err)
	}

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain", textBody(view)},
		{"text/html", htmlBuf.String()},
	}
	for _, p := range parts {
		var ph mail.InlineHeader
		ph.SetContentType(p.contentType, map[string]string{"charset": "utf-8"})
		pw, err := w.CreatePart(ph)
		if err != nil {
			return nil, fmt.Errorf("create %s part: %w", p.contentType, err)
		}
		if _, err := io.WriteString(pw, p.body); err != nil {
			return nil, fmt.Errorf("write %s part: %w", p.contentType, err)
		}
		if err := pw.Close(); err != nil {
			return nil, fmt.Errorf("close %s part: %w", p.contentType, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close mail writer: %w", err)
	}
	return buf.Bytes(), nil
}
