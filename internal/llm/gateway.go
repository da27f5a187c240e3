package llm

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/concept-bot/internal/classifier"
	"github.com/xaenox/concept-bot/internal/models"
)

// User-facing replies for provider failures.
const (
	InvalidKeyMessage  = "API Key 無效，請檢查設定。"
	RateLimitedMessage = "API 請求過於頻繁，請稍後再試。"
	TimeoutMessage     = "請求超時，請稍後再試。"
	UnavailableMessage = "抱歉，我現在無法回答。請稍後再試，或輸入「選單」查看可以問我的問題。"
)

const (
	temperature    = 0.7
	defaultTitle   = "Investment Q&A Bot"
	defaultTimeout = 30 * time.Second
)

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Timeout     time.Duration
	HTTPReferer string
	XTitle      string
	// CheckOutput runs classifier.CheckOutputSafety on every answer.
	CheckOutput bool
}

type Gateway struct {
	client      *openai.Client
	model       string
	maxTokens   int
	timeout     time.Duration
	checkOutput bool
	logger      *zap.Logger
}

type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

func NewGateway(cfg Config, logger *zap.Logger) *Gateway {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 20
	transport.MaxConnsPerHost = 100

	headers := providerHeaders(cfg)
	var rt http.RoundTripper = transport
	if len(headers) > 0 {
		rt = headerTransport{rt: transport, headers: headers}
		logger.Info("Using provider headers", zap.Any("headers", headers))
	}
	config.HTTPClient = &http.Client{Transport: rt}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Gateway{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		timeout:     timeout,
		checkOutput: cfg.CheckOutput,
		logger:      logger,
	}
}

// providerHeaders returns the optional OpenRouter attribution headers.
func providerHeaders(cfg Config) http.Header {
	if !strings.Contains(cfg.BaseURL, "openrouter.ai") {
		return nil
	}
	h := http.Header{}
	if cfg.HTTPReferer != "" {
		h.Set("HTTP-Referer", cfg.HTTPReferer)
	}
	if cfg.XTitle != "" {
		h.Set("X-Title", asciiTitle(cfg.XTitle))
	}
	return h
}

// asciiTitle drops non-ASCII runes; header values must be ASCII.
func asciiTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		if r < 0x80 {
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return defaultTitle
	}
	return out
}

// GetResponse answers userText given the prior turns. It never returns an
// error: every failure is mapped to a fixed user-facing message.
func (g *Gateway) GetResponse(ctx context.Context, userText string, history []models.ChatTurn) string {
	if classifier.IsTradingQuestion(userText) {
		g.logger.Warn("Trading question intercepted before LLM call", zap.String("text", userText))
		return classifier.FallbackMessage
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	g.logger.Info("Calling LLM",
		zap.String("model", g.model),
		zap.Int("history_turns", len(history)))

	resp, err := g.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:       g.model,
			Messages:    BuildMessages(userText, history),
			MaxTokens:   g.maxTokens,
			Temperature: temperature,
		},
	)
	if err != nil {
		return g.fallbackFor(err)
	}

	if len(resp.Choices) == 0 {
		g.logger.Error("LLM returned no choices", zap.String("model", g.model))
		return UnavailableMessage
	}

	output := strings.TrimSpace(resp.Choices[0].Message.Content)
	g.logger.Info("LLM response received",
		zap.String("preview", preview(output, 100)),
		zap.Int("total_tokens", resp.Usage.TotalTokens))

	if g.checkOutput {
		safe, final := classifier.CheckOutputSafety(output)
		if !safe {
			rule, _ := classifier.Match(output, classifier.OutputRules)
			g.logger.Warn("LLM output blocked by safety filter", zap.String("category", string(rule.Category)))
		}
		return final
	}
	return output
}

func (g *Gateway) fallbackFor(err error) string {
	if status, ok := httpStatus(err); ok {
		g.logger.Error("LLM HTTP error", zap.Int("status", status), zap.Error(err))
		switch status {
		case http.StatusUnauthorized:
			return InvalidKeyMessage
		case http.StatusTooManyRequests:
			return RateLimitedMessage
		default:
			return UnavailableMessage
		}
	}
	if isTimeout(err) {
		g.logger.Error("LLM request timed out", zap.Duration("timeout", g.timeout))
		return TimeoutMessage
	}
	g.logger.Error("LLM call failed", zap.Error(err))
	return UnavailableMessage
}

func httpStatus(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
