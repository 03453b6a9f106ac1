package assistant

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/koshercapital/kosher/pkg/types"
)

func DefaultGrokConfig() Config {
	return Config{
		APIURL:      "https://api.x.ai/v1",
		Model:       "grok-beta",
		Temperature: 0.9,
		Timeout:     2 * time.Minute,
	}
}

// Grok streams persona replies from the x.ai chat endpoint.
type Grok struct {
	cfg      Config
	persona  Persona
	http     *http.Client
	observer Observer
}

func NewGrok(cfg Config, persona Persona, hc *http.Client, observer Observer) *Grok {
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	if observer == nil {
		observer = nopObserver{}
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return &Grok{cfg: cfg, persona: persona, http: hc, observer: observer}
}

// Stream yields reply fragments until io.EOF.
type Stream interface {
	Recv() (string, error)
	Close() error
}

// Stream opens a streaming completion. The caller must Close the stream.
func (g *Grok) Stream(ctx context.Context, msgs []Message) (Stream, error) {
	if g.cfg.APIKey == "" {
		return nil, errors.New("grok: api key not configured")
	}
	body, err := json.Marshal(openAIRequest{
		Model:       g.cfg.Model,
		Messages:    withSystem(g.persona.streamingPrompt(), msgs),
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("grok: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.APIURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("grok: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := g.http.Do(req)
	if err != nil {
		g.observer.FeedRequest("grok", "network_error")
		return nil, &types.NetworkError{Op: "grok chat", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		g.observer.FeedRequest("grok", "network_error")
		return nil, &types.NetworkError{
			Op:     "grok chat",
			Status: resp.StatusCode,
			Err:    fmt.Errorf("API returned status %d", resp.StatusCode),
		}
	}
	g.observer.FeedRequest("grok", "ok")
	return newSSEStream(resp.Body), nil
}

// Collect drains a streaming reply, calling onChunk for each fragment, and
// returns the full text.
func (g *Grok) Collect(ctx context.Context, msgs []Message, onChunk func(string)) (string, error) {
	stream, err := g.Stream(ctx, msgs)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return full.String(), nil
		}
		if err != nil {
			return full.String(), &types.NetworkError{Op: "grok stream", Err: err}
		}
		full.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
	}
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newSSEStream(body io.ReadCloser) *sseStream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &sseStream{body: body, scanner: sc}
}

func (s *sseStream) Close() error {
	return s.body.Close()
}

// Recv returns the next non-empty content delta. Lines that are not JSON
// are skipped rather than failing the whole reply.
func (s *sseStream) Recv() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return "", io.EOF
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		return chunk.Choices[0].Delta.Content, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
