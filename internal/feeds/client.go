// Package feeds fetches price, holder and treasury data from third-party
// HTTP APIs. Every response is decoded into an explicit schema; a body that
// does not match fails with types.SchemaError.
package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/koshercapital/kosher/internal/cache"
	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/internal/util"
	"github.com/koshercapital/kosher/pkg/types"
)

const maxBodyBytes = 4 << 20

// Config points the client at its upstreams.
type Config struct {
	CoinGeckoURL     string
	GeckoTerminalURL string
	VirtualsURL      string
	TreasuryURL      string

	PoolAddress    common.Address
	VirtualToken   common.Address
	ShekelToken    common.Address
	VirtualsID     string
	HoldersToken   common.Address
	PriceTTL       time.Duration
	TreasuryTTL    time.Duration
	RequestTimeout time.Duration
	Retries        int
}

func DefaultConfig() Config {
	return Config{
		CoinGeckoURL:     "https://api.coingecko.com/api/v3",
		GeckoTerminalURL: "https://app.geckoterminal.com/api/p1",
		VirtualsURL:      "https://api.virtuals.io/api",
		TreasuryURL:      "https://parallax-analytics.onrender.com/kosher/rabbi",
		PoolAddress:      common.HexToAddress("0xdEd72b40970af70720aDBc5127092f3152392273"),
		VirtualToken:     common.HexToAddress("0x0b3e328455c4059EEb9e3f84b5543F74E24e7E1b"),
		ShekelToken:      common.HexToAddress("0x5f6a682a58854c7fbe228712aeeffccde0008ac0"),
		VirtualsID:       "8290",
		HoldersToken:     common.HexToAddress("0x365119d015112a70C79EECf65A4451E7973d311a"),
		PriceTTL:         30 * time.Minute,
		TreasuryTTL:      5 * time.Minute,
		RequestTimeout:   15 * time.Second,
		Retries:          2,
	}
}

// BalanceReader reads ERC20 balances; chain.Reader satisfies it.
type BalanceReader interface {
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
}

// Observer counts upstream requests by source and result.
type Observer interface {
	FeedRequest(source, result string)
}

type nopObserver struct{}

func (nopObserver) FeedRequest(string, string) {}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// Client is safe for concurrent use.
type Client struct {
	cfg      Config
	http     *http.Client
	chain    BalanceReader
	observer Observer
	retry    *util.RetryConfig

	virtualUSD *cache.Cache[float64]
	prices     *cache.Cache[*Prices]
	holders    *cache.Cache[[]Holder]
	treasury   *cache.Cache[*Treasury]
	txs        *cache.Cache[[]TreasuryTx]
}

func NewClient(cfg Config, chain BalanceReader, opts ...Option) *Client {
	c := &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.RequestTimeout},
		chain:    chain,
		observer: nopObserver{},
		retry: &util.RetryConfig{
			MaxRetries: cfg.Retries,
			BaseDelay:  250 * time.Millisecond,
			MaxDelay:   5 * time.Second,
			Multiplier: 2.0,
			Jitter:     0.1,
			RetryIf:    retryable,
		},
	}
	for _, opt := range opts {
		opt(c)
	}

	hooks := func(name string) cache.Hooks {
		return cache.Hooks{
			OnStale: func(key string, err error) {
				logging.Warn("serving cached feed data", logging.Component("feeds"), "source", name, logging.Err(err))
			},
		}
	}
	c.virtualUSD = cache.New[float64](cache.Options{TTL: cfg.PriceTTL, ServeStaleOnError: true}, hooks("coingecko"))
	c.prices = cache.New[*Prices](cache.Options{TTL: cfg.PriceTTL, ServeStaleOnError: true}, hooks("prices"))
	c.holders = cache.New[[]Holder](cache.Options{TTL: cfg.PriceTTL, ServeStaleOnError: true}, hooks("holders"))
	c.treasury = cache.New[*Treasury](cache.Options{TTL: cfg.TreasuryTTL, ServeStaleOnError: true}, hooks("treasury"))
	c.txs = cache.New[[]TreasuryTx](cache.Options{TTL: cfg.TreasuryTTL, ServeStaleOnError: true}, hooks("treasury_tx"))
	return c
}

// retryable retries transport failures and 5xx/429 answers. Schema errors
// and other 4xx are final.
func retryable(err error) bool {
	var ne *types.NetworkError
	if !errors.As(err, &ne) {
		return false
	}
	return ne.Status == 0 || ne.Status == http.StatusTooManyRequests || ne.Status >= 500
}

// getJSON fetches url and decodes the body into out.
func (c *Client) getJSON(ctx context.Context, source, url string, out interface{}) error {
	res := util.Retry(ctx, c.retry, func() error {
		return c.fetch(ctx, source, url, out)
	})
	result := "ok"
	switch {
	case res.LastError == nil:
	case types.IsSchemaError(res.LastError):
		result = "schema_error"
	default:
		result = "network_error"
	}
	c.observer.FeedRequest(source, result)
	return res.LastError
}

func (c *Client) fetch(ctx context.Context, source, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", source, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &types.NetworkError{Op: source, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &types.NetworkError{Op: source, Err: err}
	}
	if resp.StatusCode >= 400 {
		return &types.NetworkError{Op: source, Status: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &types.SchemaError{Source: source, Reason: "malformed JSON", Err: err}
	}
	return nil
}
