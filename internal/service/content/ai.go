package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"reminder-service/internal/model"
	"reminder-service/pkg/circuitbreaker"
	"reminder-service/pkg/config"
	"reminder-service/pkg/metrics"
)

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 200
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
)

// ErrAIDisabled 未配置 API key
var ErrAIDisabled = errors.New("ai content provider disabled")

// AIProvider 通过 Messages API 生成个性化文案
type AIProvider struct {
	apiKey    string
	baseURL   string
	model     string
	maxTokens int
	timeout   time.Duration
	client    *http.Client
	breaker   *circuitbreaker.CircuitBreaker
	logger    *zap.Logger
}

func NewAIProvider(cfg config.AIConfig, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *AIProvider {
	p := &AIProvider{
		apiKey:    cfg.APIKey,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		client:    &http.Client{},
		breaker:   breaker,
		logger:    logger,
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}
	if p.model == "" {
		p.model = defaultModel
	}
	if p.maxTokens <= 0 {
		p.maxTokens = defaultMaxTokens
	}
	if p.timeout <= 0 {
		p.timeout = 5 * time.Second
	}
	if p.breaker == nil {
		p.breaker = circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig())
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system"`
	Messages  []apiMessage `json:"messages"`
}

type apiResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type generated struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (p *AIProvider) Generate(ctx context.Context, occasion model.Occasion, pendingCount int) (model.NotificationContent, error) {
	if p.apiKey == "" {
		return model.NotificationContent{}, ErrAIDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var out model.NotificationContent
	start := time.Now()
	err := p.breaker.Execute(func() error {
		c, err := p.call(ctx, occasion, pendingCount)
		if err != nil {
			return err
		}
		out = c
		return nil
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	if !errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		metrics.RecordAICallLatency(status, time.Since(start))
	}
	if err != nil {
		p.logger.Debug("AI content call failed",
			zap.String("occasion", occasion.String()),
			zap.String("breaker_state", p.breaker.GetState().String()),
			zap.Error(err),
		)
		return model.NotificationContent{}, err
	}

	out.Tag = occasion.Tag()
	return out, Validate(out)
}

func (p *AIProvider) call(ctx context.Context, occasion model.Occasion, pendingCount int) (model.NotificationContent, error) {
	reqBody := apiRequest{
		Model:     p.model,
		MaxTokens: p.maxTokens,
		System: fmt.Sprintf(
			"You write short, friendly task reminder notifications. "+
				"Reply with only a JSON object {\"title\": string, \"body\": string}. "+
				"The title must be at most %d characters and the body at most %d characters.",
			MaxTitleRunes, MaxBodyRunes,
		),
		Messages: []apiMessage{{
			Role:    "user",
			Content: fmt.Sprintf("Occasion: %s. The user has %s pending.", occasion, TaskCount(pendingCount)),
		}},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return model.NotificationContent{}, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(bodyBytes))
	if err != nil {
		return model.NotificationContent{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		return model.NotificationContent{}, fmt.Errorf("calling ai api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return model.NotificationContent{}, fmt.Errorf("ai api returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return model.NotificationContent{}, fmt.Errorf("decoding ai response: %w", err)
	}

	var text strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	var g generated
	if err := json.Unmarshal([]byte(stripFences(text.String())), &g); err != nil {
		return model.NotificationContent{}, fmt.Errorf("%w: reply is not a json object: %v", ErrPolicyViolation, err)
	}
	return model.NotificationContent{
		Title: strings.TrimSpace(g.Title),
		Body:  strings.TrimSpace(g.Body),
	}, nil
}

// stripFences 去掉模型偶尔包上的 ```json 代码块
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
