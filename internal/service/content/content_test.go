package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"reminder-service/internal/model"
	"reminder-service/pkg/circuitbreaker"
	"reminder-service/pkg/config"
)

type stubProvider struct {
	content model.NotificationContent
	err     error
	calls   int
}

func (s *stubProvider) Generate(ctx context.Context, _ model.Occasion, _ int) (model.NotificationContent, error) {
	s.calls++
	return s.content, s.err
}

func TestStaticPluralization(t *testing.T) {
	for _, o := range model.AllOccasions() {
		one := Static(o, 1)
		if !strings.Contains(one.Body, "1 task") || strings.Contains(one.Body, "tasks") {
			t.Fatalf("%s: singular body wrong: %q", o, one.Body)
		}
		for _, n := range []int{0, 2, 17} {
			c := Static(o, n)
			if !strings.Contains(c.Body, fmt.Sprintf("%d tasks", n)) {
				t.Fatalf("%s/%d: plural body wrong: %q", o, n, c.Body)
			}
		}
		if one.Tag != o.Tag() {
			t.Fatalf("%s: unexpected tag %q", o, one.Tag)
		}
	}
}

func TestStaticAlwaysWithinCeiling(t *testing.T) {
	for _, o := range model.AllOccasions() {
		for _, n := range []int{-3, 0, 1, 99, 1 << 62} {
			c := Static(o, n)
			if err := Validate(c); err != nil {
				t.Fatalf("%s/%d: static content violates policy: %v (%q)", o, n, err, c.Body)
			}
		}
	}
}

func TestFallbackOnPrimaryError(t *testing.T) {
	primary := &stubProvider{err: errors.New("provider down")}
	fp := NewFallbackProvider(primary, nil)

	got := fp.Generate(context.Background(), model.OccasionNoon, 1)
	want := Static(model.OccasionNoon, 1)
	if got != want {
		t.Fatalf("expected static fallback %+v, got %+v", want, got)
	}
	if primary.calls != 1 {
		t.Fatalf("expected one primary call, got %d", primary.calls)
	}
}

func TestFallbackOnOverLengthBody(t *testing.T) {
	primary := &stubProvider{content: model.NotificationContent{
		Title: "Hi",
		Body:  strings.Repeat("x", MaxBodyRunes+1),
	}}
	fp := NewFallbackProvider(primary, nil)

	got := fp.Generate(context.Background(), model.OccasionEvening, 4)
	if utf8.RuneCountInString(got.Body) > MaxBodyRunes {
		t.Fatalf("body exceeds ceiling: %d", utf8.RuneCountInString(got.Body))
	}
	if got != Static(model.OccasionEvening, 4) {
		t.Fatalf("expected static fallback, got %+v", got)
	}
}

func TestFallbackOnEmptyBody(t *testing.T) {
	fp := NewFallbackProvider(&stubProvider{content: model.NotificationContent{Title: "Hi", Body: "   "}}, nil)
	if got := fp.Generate(context.Background(), model.OccasionNight, 0); got != Static(model.OccasionNight, 0) {
		t.Fatalf("expected static fallback for empty body, got %+v", got)
	}
}

func TestFallbackKeepsValidPrimaryAndStampsTag(t *testing.T) {
	fp := NewFallbackProvider(&stubProvider{content: model.NotificationContent{
		Title: "Rise and shine",
		Body:  "Two things due today. You've got this.",
		Tag:   "whatever",
	}}, nil)

	got := fp.Generate(context.Background(), model.OccasionMorning, 2)
	if got.Title != "Rise and shine" || got.Tag != model.OccasionMorning.Tag() {
		t.Fatalf("unexpected content %+v", got)
	}
}

func TestFallbackReason(t *testing.T) {
	cases := map[string]error{
		"disabled":     ErrAIDisabled,
		"circuit_open": circuitbreaker.ErrCircuitBreakerOpen,
		"timeout":      fmt.Errorf("post: %w", context.DeadlineExceeded),
		"policy":       fmt.Errorf("%w: empty body", ErrPolicyViolation),
		"error":        errors.New("boom"),
	}
	for want, err := range cases {
		if got := fallbackReason(err); got != want {
			t.Fatalf("fallbackReason(%v) = %q, want %q", err, got, want)
		}
	}
}

func newTestAIProvider(url string, timeout time.Duration) *AIProvider {
	return NewAIProvider(config.AIConfig{
		APIKey:  "test-key",
		BaseURL: url,
		Timeout: timeout,
	}, circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{FailureThreshold: 5, Timeout: time.Minute}), nil)
}

func TestAIProviderParsesReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Header.Get("x-api-key") != "test-key" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"content":[{"type":"text","text":"`+"```json\\n"+`{\"title\":\"Noon nudge\",\"body\":\"3 tasks waiting. Lunch first, then go!\"}`+"\\n```"+`"}]}`)
	}))
	defer srv.Close()

	p := newTestAIProvider(srv.URL, time.Second)
	got, err := p.Generate(context.Background(), model.OccasionNoon, 3)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.Title != "Noon nudge" || got.Tag != model.OccasionNoon.Tag() {
		t.Fatalf("unexpected content %+v", got)
	}
}

func TestAIProviderTimeoutFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	fp := NewFallbackProvider(newTestAIProvider(srv.URL, 50*time.Millisecond), nil)

	start := time.Now()
	got := fp.Generate(context.Background(), model.OccasionMorning, 1)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("fallback blocked past the ai timeout: %s", elapsed)
	}
	if got != Static(model.OccasionMorning, 1) {
		t.Fatalf("expected static fallback, got %+v", got)
	}
}

func TestAIProviderDisabledWithoutKey(t *testing.T) {
	p := NewAIProvider(config.AIConfig{}, nil, nil)
	if _, err := p.Generate(context.Background(), model.OccasionNight, 1); !errors.Is(err, ErrAIDisabled) {
		t.Fatalf("expected ErrAIDisabled, got %v", err)
	}
}
