package assistant

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

	"github.com/koshercapital/kosher/internal/util"
	"github.com/koshercapital/kosher/pkg/types"
)

// Canned replies used when the upstream cannot answer.
const (
	QuotaReply   = "Oy vey! I've been talking too much today and need to rest. Please try again tomorrow!"
	OfflineReply = "Oy vey! My internet connection isn't what it used to be. Could you try again?"
)

// ErrQuotaExceeded marks an upstream answer saying the account is out of
// credit. It is never retried.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Config configures an OpenAI-compatible chat completion client.
type Config struct {
	APIURL      string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
}

func DefaultOpenAIConfig() Config {
	return Config{
		APIURL:      "https://api.openai.com/v1",
		Model:       "gpt-4",
		Temperature: 0.9,
		MaxTokens:   300,
		MaxRetries:  3,
		RetryDelay:  time.Second,
		Timeout:     60 * time.Second,
	}
}

// Observer counts upstream calls by source and result.
type Observer interface {
	FeedRequest(source, result string)
}

type nopObserver struct{}

func (nopObserver) FeedRequest(string, string) {}

// OpenAI completes persona chats against /chat/completions.
type OpenAI struct {
	cfg      Config
	persona  Persona
	http     *http.Client
	observer Observer
}

func NewOpenAI(cfg Config, persona Persona, hc *http.Client, observer Observer) *OpenAI {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &OpenAI{cfg: cfg, persona: persona, http: hc, observer: observer}
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// Complete sends the persona prompt plus msgs and returns the model's reply.
// Rate-limit answers (429) are retried with linear backoff; quota errors are
// returned immediately and match ErrQuotaExceeded.
func (o *OpenAI) Complete(ctx context.Context, msgs []Message) (string, error) {
	if o.cfg.APIKey == "" {
		return "", errors.New("openai: api key not configured")
	}
	body, err := json.Marshal(openAIRequest{
		Model:       o.cfg.Model,
		Messages:    withSystem(o.persona.SystemPrompt(), msgs),
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai: marshal request: %w", err)
	}

	retry := &util.RetryConfig{
		MaxRetries: o.cfg.MaxRetries,
		BaseDelay:  o.cfg.RetryDelay,
		Linear:     true,
		RetryIf:    rateLimited,
	}
	reply, res := util.RetryWithValue(ctx, retry, func() (string, error) {
		return o.post(ctx, body)
	})
	o.observer.FeedRequest("openai", resultLabel(res.LastError))
	if res.LastError != nil {
		return "", res.LastError
	}
	return reply, nil
}

// Reply answers a front-end conversation. The returned text is always
// presentable; err carries the upstream failure for logging.
func (o *OpenAI) Reply(ctx context.Context, history []Turn) (string, error) {
	reply, err := o.Complete(ctx, FromHistory(history))
	if err != nil {
		return FallbackReply(err), err
	}
	return reply, nil
}

// FallbackReply picks the canned answer for a failed completion.
func FallbackReply(err error) string {
	if errors.Is(err, ErrQuotaExceeded) {
		return QuotaReply
	}
	return OfflineReply
}

func (o *OpenAI) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.APIURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return "", &types.NetworkError{Op: "openai chat", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &types.NetworkError{Op: "openai chat", Err: err}
	}
	if resp.StatusCode >= 400 {
		return "", upstreamError("openai chat", resp.StatusCode, raw)
	}

	var out openAIResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &types.SchemaError{Source: "openai", Reason: "malformed JSON", Err: err}
	}
	if len(out.Choices) == 0 {
		return "", &types.SchemaError{Source: "openai", Reason: "no choices"}
	}
	reply := strings.TrimSpace(out.Choices[0].Message.Content)
	if reply == "" {
		return "", &types.SchemaError{Source: "openai", Reason: "empty message content"}
	}
	return reply, nil
}

// upstreamError turns a non-2xx answer into a NetworkError, surfacing the
// provider's own message when the body has one.
func upstreamError(op string, status int, raw []byte) error {
	var body openAIErrorBody
	msg := http.StatusText(status)
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		msg = body.Error.Message
	}
	if isQuota(body.Error.Code, msg) {
		return &types.NetworkError{Op: op, Status: status, Err: fmt.Errorf("%w: %s", ErrQuotaExceeded, msg)}
	}
	return &types.NetworkError{Op: op, Status: status, Err: errors.New(msg)}
}

func isQuota(code, msg string) bool {
	if code == "insufficient_quota" {
		return true
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "quota exceeded") || strings.Contains(lower, "exceeded your current quota")
}

func rateLimited(err error) bool {
	var ne *types.NetworkError
	if !errors.As(err, &ne) {
		return false
	}
	return ne.Status == http.StatusTooManyRequests && !errors.Is(err, ErrQuotaExceeded)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrQuotaExceeded):
		return "quota"
	case types.IsSchemaError(err):
		return "schema_error"
	default:
		return "network_error"
	}
}
