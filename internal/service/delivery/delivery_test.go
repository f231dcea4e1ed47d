package delivery

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/emersion/go-smtp"

	"reminder-service/internal/model"
	"reminder-service/pkg/config"
)

func pushEndpoint(t *testing.T, url string) model.DeliveryEndpoint {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate p256 key: %v", err)
	}
	auth := make([]byte, 16)
	if _, err := rand.Read(auth); err != nil {
		t.Fatalf("generate auth secret: %v", err)
	}
	payload, err := json.Marshal(model.PushSubscription{
		Endpoint: url,
		Keys: model.PushSubscriptionKeys{
			P256dh: base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	})
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	return model.DeliveryEndpoint{ID: "ep-push", UserID: "u1", Channel: model.ChannelPush, Payload: payload}
}

func newPushSender(t *testing.T, srv *httptest.Server) *PushSender {
	t.Helper()
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		t.Fatalf("generate vapid keys: %v", err)
	}
	return NewPushSender(config.VAPIDConfig{
		PublicKey:  publicKey,
		PrivateKey: privateKey,
		Subject:    "ops@example.com",
		Icon:       "/icons/icon-192.png",
		URL:        "/tasks",
	}, srv.Client(), nil)
}

func testMessage() Message {
	today := model.Date{Year: 2026, Month: 10, Day: 14}
	yesterday := today.AddDays(-1)
	return Message{
		Occasion: model.OccasionMorning,
		Content:  model.NotificationContent{Title: "Good morning", Body: "2 tasks today", Tag: model.OccasionMorning.Tag()},
		Overdue:  []model.Task{{ID: "t1", Description: "Pay <card> bill", DueDate: &yesterday}},
		DueToday: []model.Task{{ID: "t2", Description: "Call bank", DueDate: &today}},
	}
}

func TestPushSenderStatusClassification(t *testing.T) {
	cases := []struct {
		status    int
		wantErr   bool
		permanent bool
	}{
		{http.StatusCreated, false, false},
		{http.StatusGone, true, true},
		{http.StatusNotFound, true, true},
		{http.StatusTooManyRequests, true, false},
		{http.StatusInternalServerError, true, false},
		{http.StatusUnauthorized, true, false},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				if r.Header.Get("Content-Encoding") != "aes128gcm" || !strings.HasPrefix(r.Header.Get("Authorization"), "vapid ") {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := newPushSender(t, srv).Send(context.Background(), pushEndpoint(t, srv.URL+"/push/abc"), testMessage())
			if hits.Load() != 1 {
				t.Fatalf("expected exactly one request, got %d", hits.Load())
			}
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error state: %v", err)
			}
			if IsPermanent(err) != tc.permanent {
				t.Fatalf("IsPermanent = %v, want %v (err=%v)", IsPermanent(err), tc.permanent, err)
			}
		})
	}
}

func TestPushPayloadShape(t *testing.T) {
	s := NewPushSender(config.VAPIDConfig{Icon: "/i.png", Badge: "/b.png", URL: "/tasks"}, nil, nil)
	p := s.Payload(testMessage())
	if p.Tag != "reminder-morning" || p.Icon != "/i.png" || p.Badge != "/b.png" || p.Data.URL != "/tasks" || p.Data.Type != "due-tasks" {
		t.Fatalf("unexpected payload %+v", p)
	}
}

func TestPushSenderMalformedSubscriptionIsTransient(t *testing.T) {
	s := NewPushSender(config.VAPIDConfig{}, nil, nil)
	err := s.Send(context.Background(), model.DeliveryEndpoint{ID: "bad", Channel: model.ChannelPush, Payload: json.RawMessage(`{}`)}, testMessage())
	if err == nil || IsPermanent(err) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

type fakeTransport struct {
	err  error
	to   []string
	data []byte
}

func (f *fakeTransport) Send(_ context.Context, _ string, to []string, msg []byte) error {
	f.to = to
	f.data = msg
	return f.err
}

func emailEndpoint() model.DeliveryEndpoint {
	return model.DeliveryEndpoint{ID: "ep-mail", UserID: "u1", Channel: model.ChannelEmail, Payload: json.RawMessage(`"user@example.com"`)}
}

func TestEmailSenderComposesOverdueFirst(t *testing.T) {
	tr := &fakeTransport{}
	s, err := NewEmailSender(config.SMTPConfig{From: "Reminders <noreply@example.com>", AppURL: "https://app.example.com"}, tr, nil)
	if err != nil {
		t.Fatalf("new sender: %v", err)
	}
	s.now = func() time.Time { return time.Date(2026, 10, 14, 8, 0, 0, 0, time.UTC) }

	if err := s.Send(context.Background(), emailEndpoint(), testMessage()); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(tr.to) != 1 || tr.to[0] != "user@example.com" {
		t.Fatalf("unexpected recipients %v", tr.to)
	}

	raw := string(tr.data)
	if !strings.Contains(raw, "Subject: You have 2 tasks pending") {
		t.Fatalf("subject missing pending count:\n%s", raw)
	}
	if !strings.Contains(raw, "multipart/alternative") {
		t.Fatalf("expected multipart/alternative message")
	}
	if !strings.Contains(raw, "Pay &lt;card&gt; bill") {
		t.Fatalf("expected html-escaped task description")
	}
	overdue := strings.Index(raw, "Overdue")
	dueToday := strings.Index(raw, "Due today")
	if overdue < 0 || dueToday < 0 || overdue > dueToday {
		t.Fatalf("overdue section must come before due-today section")
	}
}

func TestEmailSenderErrorClassification(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"mailbox unavailable", &smtp.SMTPError{Code: 550, Message: "no such user"}, true},
		{"mailbox busy", &smtp.SMTPError{Code: 450, Message: "try later"}, false},
		{"network", errors.New("dial tcp: connection refused"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := NewEmailSender(config.SMTPConfig{From: "noreply@example.com"}, &fakeTransport{err: tc.err}, nil)
			if err != nil {
				t.Fatalf("new sender: %v", err)
			}
			sendErr := s.Send(context.Background(), emailEndpoint(), testMessage())
			if sendErr == nil || IsPermanent(sendErr) != tc.permanent {
				t.Fatalf("got %v, want permanent=%v", sendErr, tc.permanent)
			}
		})
	}
}

func TestSubjectSingular(t *testing.T) {
	if got := Subject(1); got != "You have 1 task pending" {
		t.Fatalf("unexpected subject %q", got)
	}
}

type fakeDeleter struct {
	deleted []string
	err     error
}

func (f *fakeDeleter) DeleteByID(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ any) error {
	p.keys = append(p.keys, routingKey)
	return nil
}

func TestLifecycleDeletesOnlyGoneEndpoints(t *testing.T) {
	ep := model.DeliveryEndpoint{ID: "ep1", UserID: "u1", Channel: model.ChannelPush}
	cases := []struct {
		name   string
		err    error
		pruned bool
	}{
		{"gone", permanent(model.ChannelPush, "ep1", 410, errors.New("gone")), true},
		{"not found", permanent(model.ChannelPush, "ep1", 404, errors.New("not found")), true},
		{"server error", transient(model.ChannelPush, "ep1", 500, errors.New("oops")), false},
		{"rate limited", transient(model.ChannelPush, "ep1", 429, errors.New("slow down")), false},
		{"timeout", fmt.Errorf("send: %w", context.DeadlineExceeded), false},
		{"plain error", errors.New("boom"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeDeleter{}
			pub := &recordingPublisher{}
			m := NewLifecycleManager(store, pub, nil)

			pruned := m.HandleFailure(context.Background(), ep, tc.err)
			if pruned != tc.pruned {
				t.Fatalf("pruned = %v, want %v", pruned, tc.pruned)
			}
			if tc.pruned && (len(store.deleted) != 1 || store.deleted[0] != "ep1") {
				t.Fatalf("expected ep1 deleted once, got %v", store.deleted)
			}
			if !tc.pruned && len(store.deleted) != 0 {
				t.Fatalf("endpoint must be kept on %s, deleted %v", tc.name, store.deleted)
			}
			if tc.pruned && (len(pub.keys) != 1 || pub.keys[0] != "endpoint.pruned") {
				t.Fatalf("expected endpoint.pruned event, got %v", pub.keys)
			}
		})
	}
}

func TestLifecycleDeleteFailureReportsNotPruned(t *testing.T) {
	m := NewLifecycleManager(&fakeDeleter{err: errors.New("db down")}, nil, nil)
	ep := model.DeliveryEndpoint{ID: "ep1", Channel: model.ChannelEmail}
	if m.HandleFailure(context.Background(), ep, permanent(model.ChannelEmail, "ep1", 550, errors.New("no user"))) {
		t.Fatalf("a failed delete must not report the endpoint as pruned")
	}
}

func TestSMTPTransportStopsWhenContextEnds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	closed := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		fmt.Fprint(conn, "220 localhost ESMTP\r\n")
		// 收到 EHLO 之后不再回复，直到客户端断开
		io.Copy(io.Discard, conn)
		close(closed)
	}()

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	p, _ := strconv.Atoi(port)
	tr := NewSMTPTransport(config.SMTPConfig{Host: host, Port: p})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err = tr.Send(ctx, "noreply@example.com", []string{"a@example.com"}, []byte("Subject: hi\r\n\r\nbody\r\n"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Send returned after %v", elapsed)
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("smtp connection still open after the context ended")
	}
}
