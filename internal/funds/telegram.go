package funds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/koshercapital/kosher/pkg/types"
)

// Telegram caps message text at 4096 characters.
const maxMessageLen = 4096

// Bot sends messages through the Telegram Bot API.
type Bot struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewBot(baseURL, token string, hc *http.Client) *Bot {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Bot{baseURL: baseURL, token: token, http: hc}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type botResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// SendMessage posts text to chatID.
func (b *Bot) SendMessage(ctx context.Context, chatID, text string) error {
	if b.token == "" {
		return errors.New("telegram bot token not configured")
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text})
	if err != nil {
		return fmt.Errorf("marshal sendMessage: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", b.baseURL, b.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sendMessage request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.http.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of the error.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return &types.NetworkError{Op: "telegram sendMessage", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &types.NetworkError{Op: "telegram sendMessage", Err: err}
	}
	var out botResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 400 {
			return &types.NetworkError{Op: "telegram sendMessage", Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
		}
		return &types.SchemaError{Source: "telegram", Reason: "malformed response", Err: err}
	}
	if resp.StatusCode >= 400 || !out.OK {
		desc := out.Description
		if desc == "" {
			desc = "request failed"
		}
		return &types.NetworkError{Op: "telegram sendMessage", Status: resp.StatusCode, Err: errors.New(desc)}
	}
	return nil
}
