package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/internal/util"
	"github.com/koshercapital/kosher/pkg/types"
)

// ErrNotConnected is returned by calls made before Connect succeeds.
var ErrNotConnected = errors.New("chain client not connected")

// ClientConfig holds configuration for the read-side chain client
type ClientConfig struct {
	RPCURLs     []string
	ChainID     uint64
	CallTimeout time.Duration
	DialRetry   *util.RetryConfig
}

// DefaultClientConfig targets Base mainnet.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RPCURLs:     []string{"https://mainnet.base.org"},
		ChainID:     8453,
		CallTimeout: 10 * time.Second,
		DialRetry:   util.DefaultRetryConfig(),
	}
}

// Client is a health-tracked connection to one of several RPC endpoints.
// It satisfies bind.ContractCaller so bound contracts read through it.
type Client struct {
	config  *ClientConfig
	tracker *EndpointTracker

	mu    sync.RWMutex
	eth   *ethclient.Client
	url   string
	stale bool
}

// NewClient creates a client; call Connect before use.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	return &Client{
		config:  config,
		tracker: NewEndpointTracker(config.RPCURLs),
	}
}

// Connect dials the healthiest endpoint whose chain ID matches the
// configured one. A mismatching endpoint is skipped, not fatal, unless it is
// the only one.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked(ctx)
}

func (c *Client) connectLocked(ctx context.Context) error {
	var lastErr error
	for _, url := range c.tracker.Order() {
		client, result := util.RetryWithValue(ctx, c.config.DialRetry, func() (*ethclient.Client, error) {
			return ethclient.DialContext(ctx, url)
		})
		if result.LastError != nil {
			c.tracker.Observe(url, 0, result.LastError)
			lastErr = &types.NetworkError{Op: "dial " + url, Err: result.LastError}
			continue
		}

		start := time.Now()
		id, err := client.ChainID(ctx)
		c.tracker.Observe(url, time.Since(start), err)
		if err != nil {
			client.Close()
			lastErr = &types.NetworkError{Op: "eth_chainId", Err: err}
			continue
		}
		if id.Uint64() != c.config.ChainID {
			client.Close()
			lastErr = &types.ChainMismatchError{Expected: c.config.ChainID, Actual: id.Uint64()}
			logging.Warn("rpc endpoint on unexpected chain",
				logging.Component("chain"), "url", url, "chain_id", id.Uint64())
			continue
		}

		if c.eth != nil {
			c.eth.Close()
		}
		c.eth, c.url, c.stale = client, url, false
		logging.Info("connected to rpc endpoint",
			logging.Component("chain"), "url", url, "chain_id", c.config.ChainID)
		return nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no rpc endpoints configured")
	}
	return lastErr
}

// Close closes the connection
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
}

// IsConnected returns true once an endpoint has been selected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.eth != nil
}

// Endpoint returns the URL in use.
func (c *Client) Endpoint() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

// Tracker exposes endpoint health for diagnostics.
func (c *Client) Tracker() *EndpointTracker {
	return c.tracker
}

// ExpectedChainID is the configured chain.
func (c *Client) ExpectedChainID() uint64 {
	return c.config.ChainID
}

// conn returns the live client, failing over first if the current endpoint
// was marked unhealthy by recent errors.
func (c *Client) conn(ctx context.Context) (*ethclient.Client, string, error) {
	c.mu.RLock()
	eth, url, stale := c.eth, c.url, c.stale
	c.mu.RUnlock()

	if eth != nil && !stale {
		return eth, url, nil
	}
	if eth == nil && url == "" {
		return nil, "", ErrNotConnected
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stale || c.eth == nil {
		if err := c.connectLocked(ctx); err != nil {
			return nil, "", err
		}
	}
	return c.eth, c.url, nil
}

func (c *Client) observe(url string, start time.Time, err error) {
	c.tracker.Observe(url, time.Since(start), err)
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}
	for _, u := range c.tracker.Order() {
		if u == url {
			return
		}
	}
	c.mu.Lock()
	if c.url == url {
		c.stale = true
	}
	c.mu.Unlock()
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.config.CallTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.config.CallTimeout)
}

// CodeAt implements bind.ContractCaller.
func (c *Client) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	eth, url, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	code, err := eth.CodeAt(ctx, contract, blockNumber)
	c.observe(url, start, err)
	return code, err
}

// CallContract implements bind.ContractCaller.
func (c *Client) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	eth, url, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	out, err := eth.CallContract(ctx, call, blockNumber)
	c.observe(url, start, err)
	return out, err
}

// ChainID returns the chain the connected endpoint reports.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	eth, url, err := c.conn(ctx)
	if err != nil {
		return 0, err
	}
	start := time.Now()
	id, err := eth.ChainID(ctx)
	c.observe(url, start, err)
	if err != nil {
		return 0, &types.NetworkError{Op: "eth_chainId", Err: err}
	}
	return id.Uint64(), nil
}
