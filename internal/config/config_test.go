package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Daemon.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Daemon.LogLevel)
	}
	if cfg.Chain.ChainID != 8453 {
		t.Errorf("expected chain ID 8453 (Base mainnet), got %d", cfg.Chain.ChainID)
	}
	if cfg.Staking.PollInterval != 3*time.Second {
		t.Errorf("expected poll interval 3s, got %v", cfg.Staking.PollInterval)
	}
	if cfg.Staking.AutoStakeDelay != 6*time.Second {
		t.Errorf("expected auto-stake delay 6s, got %v", cfg.Staking.AutoStakeDelay)
	}
	if cfg.Staking.MaxPollAttempts != 0 {
		t.Errorf("expected unbounded polling by default, got %d", cfg.Staking.MaxPollAttempts)
	}
	if cfg.API.HTTPAddr != "127.0.0.1:8645" {
		t.Errorf("expected loopback API address, got %s", cfg.API.HTTPAddr)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{"default config is valid", func(c *Config) {}, false},
		{"unknown log format", func(c *Config) { c.Daemon.LogFormat = "xml" }, true},
		{"json log format", func(c *Config) { c.Daemon.LogFormat = "json" }, false},
		{"chain id required", func(c *Config) { c.Chain.ChainID = 0 }, true},
		{"rpc url required", func(c *Config) { c.Chain.RPCURLs = nil }, true},
		{"mock chain needs no rpc", func(c *Config) { c.Chain.RPCURLs = nil; c.Chain.MockChain = true }, false},
		{"malformed rpc url", func(c *Config) { c.Chain.RPCURLs = []string{"mainnet.base.org"} }, true},
		{"wallet url optional", func(c *Config) { c.Chain.WalletURL = "" }, false},
		{"malformed wallet url", func(c *Config) { c.Chain.WalletURL = "::" }, true},
		{"token address missing", func(c *Config) { c.Chain.TokenAddress = "" }, true},
		{"token address no prefix", func(c *Config) { c.Chain.TokenAddress = "5f6a682a58854c7fbe228712aeeffccde0008ac0" }, true},
		{"staking address short", func(c *Config) { c.Chain.StakingAddress = "0x1234" }, true},
		{"pool address bad hex", func(c *Config) { c.Feeds.PoolAddress = "0xzzd72b40970af70720aDBc5127092f3152392273" }, true},
		{"zero address", func(c *Config) { c.Feeds.HoldersToken = "0x0000000000000000000000000000000000000000" }, true},
		{"poll interval zero", func(c *Config) { c.Staking.PollInterval = 0 }, true},
		{"negative settle delay", func(c *Config) { c.Staking.SettleDelay = -time.Second }, true},
		{"negative poll attempts", func(c *Config) { c.Staking.MaxPollAttempts = -1 }, true},
		{"bounded poll attempts", func(c *Config) { c.Staking.MaxPollAttempts = 100 }, false},
		{"session ttl zero", func(c *Config) { c.Session.SessionTTL = 0 }, true},
		{"temperature too high", func(c *Config) { c.Assistant.Temperature = 2.5 }, true},
		{"http addr required", func(c *Config) { c.API.HTTPAddr = "" }, true},
		{"negative rate limit", func(c *Config) { c.API.RateLimit = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Daemon.DataDir = tmpDir
	cfg.Chain.MockChain = true
	cfg.Staking.MaxPollAttempts = 40
	cfg.API.HTTPAddr = "127.0.0.1:9999"
	cfg.Telegram.ChannelID = "-1001234"

	if err := cfg.Save(configPath); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Config file not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected file permissions 0600, got %o", perm)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !loaded.Chain.MockChain {
		t.Error("mock_chain lost in round trip")
	}
	if loaded.Staking.MaxPollAttempts != 40 {
		t.Errorf("expected max_poll_attempts 40, got %d", loaded.Staking.MaxPollAttempts)
	}
	if loaded.API.HTTPAddr != "127.0.0.1:9999" {
		t.Errorf("expected http_addr 127.0.0.1:9999, got %s", loaded.API.HTTPAddr)
	}
	if loaded.Staking.PollInterval != 3*time.Second {
		t.Errorf("durations should survive yaml, got %v", loaded.Staking.PollInterval)
	}
	if loaded.Telegram.ChannelID != "-1001234" {
		t.Errorf("expected channel id, got %q", loaded.Telegram.ChannelID)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	doc := "staking:\n  poll_interval: 5s\nchain:\n  mock_chain: true\n"
	if err := os.WriteFile(configPath, []byte(doc), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Staking.PollInterval != 5*time.Second {
		t.Errorf("poll interval = %v, want 5s", cfg.Staking.PollInterval)
	}
	if cfg.Staking.AutoStakeDelay != 6*time.Second {
		t.Errorf("auto-stake delay = %v, want default 6s", cfg.Staking.AutoStakeDelay)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load() of nonexistent file should not error, got: %v", err)
	}
	if cfg.Chain.ChainID != 8453 {
		t.Errorf("expected default chain id, got %d", cfg.Chain.ChainID)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("{{{{invalid yaml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadInvalidConfig(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("chain:\n  token_address: nope\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(configPath); err == nil {
		t.Error("expected validation error")
	}
}

func TestExpandPath(t *testing.T) {
	homeDir, _ := os.UserHomeDir()

	tests := []struct {
		input    string
		expected string
	}{
		{"~/test", filepath.Join(homeDir, "test")},
		{"~/.kosher", filepath.Join(homeDir, ".kosher")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := expandPath(tt.input); got != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestEnsureDirectories(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Daemon.DataDir = filepath.Join(t.TempDir(), "data")
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories() error: %v", err)
	}
	if _, err := os.Stat(cfg.Daemon.DataDir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}
	if got := cfg.Daemon.StatePath(); got != filepath.Join(cfg.Daemon.DataDir, "state.db") {
		t.Errorf("StatePath() = %s", got)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	if filepath.Base(DefaultConfigPath()) != "config.yaml" {
		t.Errorf("unexpected default path %s", DefaultConfigPath())
	}
	if filepath.Base(filepath.Dir(DefaultConfigPath())) != ".kosher" {
		t.Errorf("unexpected default dir %s", DefaultConfigPath())
	}
}

func TestWatchReloads(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Chain.MockChain = true
	if err := cfg.Save(configPath); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *Config, 4)
	w, err := Watch(ctx, configPath, func(c *Config) { changes <- c })
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	defer w.Close()

	// A broken edit is ignored.
	if err := os.WriteFile(configPath, []byte("{{{{"), 0600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changes:
		t.Fatal("invalid config delivered")
	case <-time.After(3 * reloadDebounce):
	}

	cfg.Daemon.LogLevel = "debug"
	if err := cfg.Save(configPath); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-changes:
		if got.Daemon.LogLevel != "debug" {
			t.Errorf("reloaded log level = %q, want debug", got.Daemon.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after valid edit")
	}
}
