package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/koshercapital/kosher/internal/api"
)

// Config represents the complete daemon configuration
type Config struct {
	Daemon    DaemonConfig     `yaml:"daemon"`
	Chain     ChainConfig      `yaml:"chain"`
	Staking   StakingConfig    `yaml:"staking"`
	Session   SessionConfig    `yaml:"session"`
	Feeds     FeedsConfig      `yaml:"feeds"`
	Telegram  TelegramConfig   `yaml:"telegram"`
	Assistant AssistantConfig  `yaml:"assistant"`
	API       api.ServerConfig `yaml:"api"`
}

// DaemonConfig contains daemon settings
type DaemonConfig struct {
	DataDir   string `yaml:"data_dir"`
	EnvFile   string `yaml:"env_file"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "json" or "text"

	// WatchConfig reloads the log level when the config file changes.
	WatchConfig bool `yaml:"watch_config"`
}

// StatePath is the sqlite file holding pending transactions and chat.
func (d DaemonConfig) StatePath() string {
	return filepath.Join(d.DataDir, "state.db")
}

// ChainConfig selects the network, contracts, and wallet provider.
type ChainConfig struct {
	ChainID     uint64        `yaml:"chain_id"`
	RPCURLs     []string      `yaml:"rpc_urls"`
	CallTimeout time.Duration `yaml:"call_timeout"`

	// WalletURL is the JSON-RPC endpoint of the external signer. Empty
	// disables transaction submission.
	WalletURL string `yaml:"wallet_url"`

	TokenAddress   string `yaml:"token_address"`
	StakingAddress string `yaml:"staking_address"`

	// MockChain serves reads and writes from an in-memory ledger.
	MockChain bool `yaml:"mock_chain"`
}

// StakingConfig tunes the approval and stake lifecycle.
type StakingConfig struct {
	PollInterval   time.Duration `yaml:"poll_interval"`
	AutoStakeDelay time.Duration `yaml:"auto_stake_delay"`
	SettleDelay    time.Duration `yaml:"settle_delay"`

	// MaxPollAttempts bounds allowance polling; 0 polls until stopped.
	MaxPollAttempts int `yaml:"max_poll_attempts"`
}

// SessionConfig controls wallet sign-in.
type SessionConfig struct {
	AppName      string        `yaml:"app_name"`
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`
	SessionTTL   time.Duration `yaml:"session_ttl"`
}

// FeedsConfig points at the price, holder, and treasury sources.
type FeedsConfig struct {
	CoinGeckoURL     string        `yaml:"coingecko_url"`
	GeckoTerminalURL string        `yaml:"geckoterminal_url"`
	VirtualsURL      string        `yaml:"virtuals_url"`
	TreasuryURL      string        `yaml:"treasury_url"`
	PoolAddress      string        `yaml:"pool_address"`
	VirtualToken     string        `yaml:"virtual_token"`
	VirtualsID       string        `yaml:"virtuals_id"`
	HoldersToken     string        `yaml:"holders_token"`
	PriceTTL         time.Duration `yaml:"price_ttl"`
	TreasuryTTL      time.Duration `yaml:"treasury_ttl"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	Retries          int           `yaml:"retries"`
}

// TelegramConfig routes fund applications. The bot token is a secret and
// never lives in this file.
type TelegramConfig struct {
	APIURL    string `yaml:"api_url"`
	ChannelID string `yaml:"channel_id"`
}

// AssistantConfig selects the chat completion providers. API keys are
// secrets.
type AssistantConfig struct {
	OpenAIURL   string        `yaml:"openai_url"`
	OpenAIModel string        `yaml:"openai_model"`
	GrokURL     string        `yaml:"grok_url"`
	GrokModel   string        `yaml:"grok_model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

// DefaultConfig returns a configuration for Base mainnet with the
// community's contracts.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".kosher")

	return &Config{
		Daemon: DaemonConfig{
			DataDir:     dataDir,
			EnvFile:     filepath.Join(dataDir, ".env"),
			LogLevel:    "info",
			LogFormat:   "text",
			WatchConfig: true,
		},
		Chain: ChainConfig{
			ChainID:        8453, // Base mainnet
			RPCURLs:        []string{"https://mainnet.base.org"},
			CallTimeout:    10 * time.Second,
			WalletURL:      "http://127.0.0.1:8550",
			TokenAddress:   "0x5f6a682a58854c7fbe228712aeeffccde0008ac0",
			StakingAddress: "0x8cd8A5ABCdd4cA6ecb4413477243009F97F2EB08",
		},
		Staking: StakingConfig{
			PollInterval:   3 * time.Second,
			AutoStakeDelay: 6 * time.Second,
			SettleDelay:    2 * time.Second,
		},
		Session: SessionConfig{
			AppName:      "Kosher Capital",
			ChallengeTTL: 5 * time.Minute,
			SessionTTL:   12 * time.Hour,
		},
		Feeds: FeedsConfig{
			CoinGeckoURL:     "https://api.coingecko.com/api/v3",
			GeckoTerminalURL: "https://app.geckoterminal.com/api/p1",
			VirtualsURL:      "https://api.virtuals.io/api",
			TreasuryURL:      "https://parallax-analytics.onrender.com/kosher/rabbi",
			PoolAddress:      "0xdEd72b40970af70720aDBc5127092f3152392273",
			VirtualToken:     "0x0b3e328455c4059EEb9e3f84b5543F74E24e7E1b",
			VirtualsID:       "8290",
			HoldersToken:     "0x365119d015112a70C79EECf65A4451E7973d311a",
			PriceTTL:         30 * time.Minute,
			TreasuryTTL:      5 * time.Minute,
			RequestTimeout:   15 * time.Second,
			Retries:          2,
		},
		Telegram: TelegramConfig{
			APIURL: "https://api.telegram.org",
		},
		Assistant: AssistantConfig{
			OpenAIURL:   "https://api.openai.com/v1",
			OpenAIModel: "gpt-4",
			GrokURL:     "https://api.x.ai/v1",
			GrokModel:   "grok-beta",
			Temperature: 0.9,
			MaxTokens:   300,
			MaxRetries:  3,
			RetryDelay:  time.Second,
			Timeout:     60 * time.Second,
		},
		API: *api.DefaultServerConfig(),
	}
}

// Load loads configuration from file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Daemon.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log_format: %s", c.Daemon.LogFormat)
	}

	if c.Chain.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	if !c.Chain.MockChain {
		if len(c.Chain.RPCURLs) == 0 {
			return fmt.Errorf("at least one rpc_url is required unless mock_chain is set")
		}
		for _, u := range c.Chain.RPCURLs {
			if err := validateURL("rpc_urls", u); err != nil {
				return err
			}
		}
	}
	if c.Chain.WalletURL != "" {
		if err := validateURL("wallet_url", c.Chain.WalletURL); err != nil {
			return err
		}
	}

	addrs := []struct{ name, addr string }{
		{"token_address", c.Chain.TokenAddress},
		{"staking_address", c.Chain.StakingAddress},
		{"pool_address", c.Feeds.PoolAddress},
		{"virtual_token", c.Feeds.VirtualToken},
		{"holders_token", c.Feeds.HoldersToken},
	}
	for _, a := range addrs {
		if err := validateEthAddress(a.name, a.addr); err != nil {
			return err
		}
	}

	if c.Staking.PollInterval <= 0 {
		return fmt.Errorf("staking.poll_interval must be positive")
	}
	if c.Staking.AutoStakeDelay < 0 || c.Staking.SettleDelay < 0 {
		return fmt.Errorf("staking delays must not be negative")
	}
	if c.Staking.MaxPollAttempts < 0 {
		return fmt.Errorf("max_poll_attempts must not be negative, got %d", c.Staking.MaxPollAttempts)
	}

	if c.Session.ChallengeTTL <= 0 || c.Session.SessionTTL <= 0 {
		return fmt.Errorf("session TTLs must be positive")
	}

	if c.Assistant.Temperature < 0 || c.Assistant.Temperature > 2 {
		return fmt.Errorf("assistant.temperature must be between 0 and 2, got %v", c.Assistant.Temperature)
	}

	if c.API.HTTPAddr == "" {
		return fmt.Errorf("api.http_addr is required")
	}
	if c.API.RateLimit < 0 {
		return fmt.Errorf("api.rate_limit must not be negative")
	}

	return nil
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: invalid url %q", name, raw)
	}
	return nil
}

// validateEthAddress checks that an Ethereum address is 0x-prefixed, 40 hex chars, and non-zero.
func validateEthAddress(name, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", name)
	}
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return fmt.Errorf("%s must start with 0x, got %q", name, addr)
	}
	hexPart := addr[2:]
	if len(hexPart) != 40 {
		return fmt.Errorf("%s must be 42 characters (0x + 40 hex), got %d", name, len(addr))
	}
	if _, err := hex.DecodeString(hexPart); err != nil {
		return fmt.Errorf("%s contains invalid hex characters: %w", name, err)
	}
	if strings.Trim(hexPart, "0") == "" {
		return fmt.Errorf("%s must not be the zero address", name)
	}
	return nil
}

// expandPaths expands ~ in all path fields
func (c *Config) expandPaths() {
	c.Daemon.DataDir = expandPath(c.Daemon.DataDir)
	c.Daemon.EnvFile = expandPath(c.Daemon.EnvFile)
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file path
func DefaultConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".kosher", "config.yaml")
}

// EnsureDirectories creates all necessary directories
func (c *Config) EnsureDirectories() error {
	if c.Daemon.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.Daemon.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", c.Daemon.DataDir, err)
	}
	return nil
}
