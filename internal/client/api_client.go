// Package client talks to a running kosherd over its HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/koshercapital/kosher/internal/access"
	"github.com/koshercapital/kosher/internal/api"
	"github.com/koshercapital/kosher/internal/feeds"
	"github.com/koshercapital/kosher/internal/funds"
	"github.com/koshercapital/kosher/pkg/types"
)

// DefaultBaseURL matches the daemon's default listen address.
const DefaultBaseURL = "http://127.0.0.1:8645"

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Code    string
	Message string
	Field   string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error (%d): %s", e.Status, http.StatusText(e.Status))
	}
	if e.Code != "" {
		return fmt.Sprintf("API error (%d %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// Unauthorized reports whether the session token was missing or expired.
func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized
}

// APIClient communicates with the kosherd HTTP API. Calls that need a
// wallet session send the token set with SetToken.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewAPIClient creates a client for baseURL; empty uses DefaultBaseURL.
func NewAPIClient(baseURL string) *APIClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &APIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetToken sets the bearer session token.
func (c *APIClient) SetToken(token string) { c.token = token }

// Token returns the current session token.
func (c *APIClient) Token() string { return c.token }

// BaseURL returns the daemon address.
func (c *APIClient) BaseURL() string { return c.baseURL }

// do performs a request and decodes the JSON response into out.
func (c *APIClient) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &types.NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var errResp struct {
			Error string `json:"error"`
			Code  string `json:"code"`
			Field string `json:"field"`
		}
		if json.Unmarshal(respBody, &errResp) == nil {
			apiErr.Message, apiErr.Code, apiErr.Field = errResp.Error, errResp.Code, errResp.Field
		}
		return apiErr
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}

// Health retrieves daemon health.
func (c *APIClient) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Challenge asks the daemon for a sign-in message for address.
func (c *APIClient) Challenge(ctx context.Context, address string) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/auth/challenge", map[string]string{"address": address}, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

// VerifyRequest proves control of a wallet.
type VerifyRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	ChainID   uint64 `json:"chain_id"`
}

// Verify exchanges a signed challenge for a session and stores its token.
func (c *APIClient) Verify(ctx context.Context, req VerifyRequest) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	if err := c.do(ctx, http.MethodPost, "/v1/auth/verify", req, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return &resp, nil
}

// Session returns the current session.
func (c *APIClient) Session(ctx context.Context) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/session", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Disconnect ends the session.
func (c *APIClient) Disconnect(ctx context.Context) error {
	if err := c.do(ctx, http.MethodDelete, "/v1/session", nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

// Tier returns the session wallet's balance and tier.
func (c *APIClient) Tier(ctx context.Context, refresh bool) (*api.TierResponse, error) {
	path := "/v1/tier"
	if refresh {
		path += "?refresh=1"
	}
	var resp api.TierResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Route asks the guard what navigating to path would do.
func (c *APIClient) Route(ctx context.Context, path string) (*access.Decision, error) {
	var d access.Decision
	if err := c.do(ctx, http.MethodGet, "/v1/route?path="+url.QueryEscape(path), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// TxResponse is returned by staking writes.
type TxResponse struct {
	TxHash    string                  `json:"tx_hash"`
	Dashboard *types.StakingDashboard `json:"dashboard,omitempty"`
}

// Staking refreshes and returns the staking dashboard.
func (c *APIClient) Staking(ctx context.Context) (*types.StakingDashboard, error) {
	var d types.StakingDashboard
	if err := c.do(ctx, http.MethodGet, "/v1/staking", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Approve submits an allowance for amount tokens. An empty amount approves
// the full balance; stakeAfter schedules the deposit once it confirms.
func (c *APIClient) Approve(ctx context.Context, amount string, stakeAfter bool, tierIndex int) (*TxResponse, error) {
	body := map[string]any{"amount": amount, "stake_after": stakeAfter, "tier_index": tierIndex}
	var resp TxResponse
	if err := c.do(ctx, http.MethodPost, "/v1/staking/approve", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stake deposits amount tokens under the lock term at tierIndex.
func (c *APIClient) Stake(ctx context.Context, amount string, tierIndex int) (*TxResponse, error) {
	body := map[string]any{"amount": amount, "tier_index": tierIndex}
	var resp TxResponse
	if err := c.do(ctx, http.MethodPost, "/v1/staking/stake", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Unstake withdraws the position at index.
func (c *APIClient) Unstake(ctx context.Context, index uint64) (*TxResponse, error) {
	var resp TxResponse
	if err := c.do(ctx, http.MethodPost, "/v1/staking/unstake", map[string]any{"index": index}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelPending abandons a pending approval.
func (c *APIClient) CancelPending(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/v1/staking/pending", nil, nil)
}

// StakingTiers lists the available lock terms.
func (c *APIClient) StakingTiers(ctx context.Context) ([]types.StakingTierOption, error) {
	var tiers []types.StakingTierOption
	if err := c.do(ctx, http.MethodGet, "/v1/staking/tiers", nil, &tiers); err != nil {
		return nil, err
	}
	return tiers, nil
}

// Prices returns token prices.
func (c *APIClient) Prices(ctx context.Context) (*feeds.Prices, error) {
	var p feeds.Prices
	if err := c.do(ctx, http.MethodGet, "/v1/prices", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// TreasuryResponse combines balances and recent transactions.
type TreasuryResponse struct {
	Balances     *feeds.Treasury    `json:"balances"`
	Transactions []feeds.TreasuryTx `json:"transactions"`
	Stale        bool               `json:"stale,omitempty"`
	Warnings     []string           `json:"warnings,omitempty"`
}

// Treasury returns the treasury view.
func (c *APIClient) Treasury(ctx context.Context) (*TreasuryResponse, error) {
	var resp TreasuryResponse
	if err := c.do(ctx, http.MethodGet, "/v1/treasury", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Holders returns the top holders and whether the list is cached past
// its freshness window.
func (c *APIClient) Holders(ctx context.Context) ([]feeds.Holder, bool, error) {
	var resp struct {
		Holders []feeds.Holder `json:"holders"`
		Stale   bool           `json:"stale"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/holders", nil, &resp); err != nil {
		return nil, false, err
	}
	return resp.Holders, resp.Stale, nil
}

// Messages returns up to limit recent messages in room, oldest first.
func (c *APIClient) Messages(ctx context.Context, room string, limit int) ([]types.ChatMessage, error) {
	path := "/v1/rooms/" + url.PathEscape(room) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Messages []types.ChatMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// Post sends text to room.
func (c *APIClient) Post(ctx context.Context, room, text string) (*types.ChatMessage, error) {
	var msg types.ChatMessage
	path := "/v1/rooms/" + url.PathEscape(room) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"text": text}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// SetUsername claims a chat display name.
func (c *APIClient) SetUsername(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPut, "/v1/username", map[string]string{"username": name}, nil)
}

// ApplyForFund submits a fund-creation application.
func (c *APIClient) ApplyForFund(ctx context.Context, app types.FundApplication) (*funds.Receipt, error) {
	var r funds.Receipt
	if err := c.do(ctx, http.MethodPost, "/v1/funds/apply", app, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Ask sends one question to the assistant. degraded is set when the reply
// is a canned fallback.
func (c *APIClient) Ask(ctx context.Context, question string) (reply string, degraded bool, err error) {
	body := map[string]any{"messages": []map[string]string{{"sender": "user", "text": question}}}
	var resp struct {
		Reply    string `json:"reply"`
		Degraded bool   `json:"degraded"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/assistant/chat", body, &resp); err != nil {
		return "", false, err
	}
	return resp.Reply, resp.Degraded, nil
}
