package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/koshercapital/kosher/internal/access"
	"github.com/koshercapital/kosher/internal/api"
	"github.com/koshercapital/kosher/internal/assistant"
	"github.com/koshercapital/kosher/internal/chain"
	"github.com/koshercapital/kosher/internal/chat"
	"github.com/koshercapital/kosher/internal/config"
	"github.com/koshercapital/kosher/internal/feeds"
	"github.com/koshercapital/kosher/internal/funds"
	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/internal/metrics"
	"github.com/koshercapital/kosher/internal/secrets"
	"github.com/koshercapital/kosher/internal/session"
	"github.com/koshercapital/kosher/internal/staking"
	"github.com/koshercapital/kosher/internal/state"
)

// Set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	configPath = flag.String("config", config.DefaultConfigPath(), "Path to config file")
	httpAddr   = flag.String("http", "", "HTTP listen address (overrides config)")
	mockChain  = flag.Bool("mock-chain", false, "Serve chain reads and writes from an in-memory ledger")
	logLevel   = flag.String("log-level", "", "Log level (overrides config)")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kosherd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *httpAddr != "" {
		cfg.API.HTTPAddr = *httpAddr
	}
	if *mockChain {
		cfg.Chain.MockChain = true
	}
	if *logLevel != "" {
		cfg.Daemon.LogLevel = *logLevel
	}
	logging.Configure(os.Stdout, cfg.Daemon.LogFormat, cfg.Daemon.LogLevel)

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	if err := secrets.LoadDotEnv(cfg.Daemon.EnvFile); err != nil {
		logging.Warn("env file not loaded", logging.Component("daemon"), logging.Err(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	collector := metrics.NewCollector()

	kv, err := state.OpenSQLite(ctx, cfg.Daemon.StatePath())
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer kv.Close()

	token := common.HexToAddress(cfg.Chain.TokenAddress)
	stakingAddr := common.HexToAddress(cfg.Chain.StakingAddress)

	reader, writer, closeChain, err := openChain(ctx, cfg, token, stakingAddr)
	if err != nil {
		return err
	}
	defer closeChain()

	routes := access.DefaultRoutes()
	balances := access.NewChainBalanceSource(reader, token)

	// The hub is created up front so tracker updates can reach WebSocket
	// clients.
	hub := api.NewWebSocketHub(collector)

	stakes := staking.NewManager(stakingConfig(cfg, token, stakingAddr), reader, writer,
		staking.NewPendingStore(kv),
		staking.WithObserver(collector),
		staking.WithUpdateFunc(hub.PublishDashboard),
	)
	if pending, err := stakes.PendingWallets(ctx); err != nil {
		logging.Warn("pending transactions not listed", logging.Component("daemon"), logging.Err(err))
	} else if len(pending) > 0 {
		logging.Info("pending transactions resume on reconnect",
			logging.Component("daemon"), "wallets", len(pending))
	}

	sessions := session.NewManager(session.Config{
		AppName:      cfg.Session.AppName,
		ChallengeTTL: cfg.Session.ChallengeTTL,
		SessionTTL:   cfg.Session.SessionTTL,
	}, func() *access.Guard {
		return access.NewGuard(balances, routes, access.WithObserver(collector))
	}, stakes, collector)
	defer sessions.Close()

	chatStore, err := chat.NewStore(ctx, kv.DB())
	if err != nil {
		return fmt.Errorf("open chat store: %w", err)
	}

	resolver := openSecrets()
	deps := api.Deps{
		Sessions: sessions,
		Routes:   routes,
		Staking:  stakes,
		Feeds:    newFeeds(cfg, reader, collector),
		Funds:    newFunds(cfg, resolver, balances),
		Chat:     chat.NewService(chatStore, chat.NewHub()),
		Metrics:  collector,
		Hub:      hub,
		Version:  version,
	}
	deps.Assistant, deps.Grok = newAssistants(cfg, resolver, collector)

	server := api.NewServer(&cfg.API, deps)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start API server: %w", err)
	}

	if cfg.Daemon.WatchConfig {
		w, err := config.Watch(ctx, *configPath, func(next *config.Config) {
			logging.SetLevel(logging.ParseLevel(next.Daemon.LogLevel))
		})
		if err != nil {
			logging.Warn("config watch disabled", logging.Component("daemon"), logging.Err(err))
		} else {
			defer w.Close()
		}
	}

	logging.Info("kosherd started",
		logging.Component("daemon"),
		"version", version,
		"http_addr", cfg.API.HTTPAddr,
		"chain_id", cfg.Chain.ChainID,
		"mock_chain", cfg.Chain.MockChain,
	)

	<-ctx.Done()
	logging.Info("Shutting down...", logging.Component("daemon"))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	var errs []error
	if err := server.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := stakes.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("staking shutdown: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		logging.Error("Error during shutdown", logging.Component("daemon"), logging.Err(err))
		return err
	}
	logging.Info("Shutdown complete", logging.Component("daemon"))
	return nil
}

func stakingConfig(cfg *config.Config, token, stakingAddr common.Address) staking.Config {
	return staking.Config{
		Token:           token,
		Staking:         stakingAddr,
		ChainID:         cfg.Chain.ChainID,
		PollInterval:    cfg.Staking.PollInterval,
		AutoStakeDelay:  cfg.Staking.AutoStakeDelay,
		SettleDelay:     cfg.Staking.SettleDelay,
		MaxPollAttempts: cfg.Staking.MaxPollAttempts,
	}
}

// openChain returns the reader and writer for the configured network.
// Without a wallet URL the gateway is read-only and writes fail with
// chain.ErrNoWallet.
func openChain(ctx context.Context, cfg *config.Config, token, stakingAddr common.Address) (chain.Reader, chain.Writer, func(), error) {
	if cfg.Chain.MockChain {
		ledger := chain.NewMockLedger(token, stakingAddr, cfg.Chain.ChainID)
		ledger.AutoConfirm = true
		logging.Warn("using in-memory mock ledger", logging.Component("chain"))
		return ledger, ledger, func() {}, nil
	}

	client := chain.NewClient(&chain.ClientConfig{
		RPCURLs:     cfg.Chain.RPCURLs,
		ChainID:     cfg.Chain.ChainID,
		CallTimeout: cfg.Chain.CallTimeout,
		DialRetry:   chain.DefaultClientConfig().DialRetry,
	})
	if err := client.Connect(ctx); err != nil {
		return nil, nil, nil, fmt.Errorf("connect to chain: %w", err)
	}

	var provider chain.WalletProvider = chain.NoWallet{}
	closeWallet := func() {}
	if cfg.Chain.WalletURL != "" {
		wallet, err := chain.DialWallet(ctx, cfg.Chain.WalletURL)
		if err != nil {
			logging.Warn("wallet provider unavailable, running read-only",
				logging.Component("chain"), logging.Err(err))
		} else {
			provider, closeWallet = wallet, wallet.Close
		}
	}

	closeAll := func() {
		closeWallet()
		client.Close()
	}
	return chain.NewReader(client), chain.NewContractWriter(provider, client, cfg.Chain.ChainID), closeAll, nil
}

func openSecrets() *secrets.Resolver {
	ring, backend, err := secrets.OpenKeyring()
	if err != nil {
		logging.Debug("keyring unavailable, using environment only",
			logging.Component("daemon"), logging.Err(err))
		return secrets.NewResolver(nil)
	}
	logging.Debug("keyring opened", logging.Component("daemon"), "backend", backend)
	return secrets.NewResolver(ring)
}

func newFeeds(cfg *config.Config, reader chain.Reader, collector *metrics.Collector) *feeds.Client {
	fc := feeds.DefaultConfig()
	fc.CoinGeckoURL = cfg.Feeds.CoinGeckoURL
	fc.GeckoTerminalURL = cfg.Feeds.GeckoTerminalURL
	fc.VirtualsURL = cfg.Feeds.VirtualsURL
	fc.TreasuryURL = cfg.Feeds.TreasuryURL
	fc.PoolAddress = common.HexToAddress(cfg.Feeds.PoolAddress)
	fc.VirtualToken = common.HexToAddress(cfg.Feeds.VirtualToken)
	fc.ShekelToken = common.HexToAddress(cfg.Chain.TokenAddress)
	fc.VirtualsID = cfg.Feeds.VirtualsID
	fc.HoldersToken = common.HexToAddress(cfg.Feeds.HoldersToken)
	fc.PriceTTL = cfg.Feeds.PriceTTL
	fc.TreasuryTTL = cfg.Feeds.TreasuryTTL
	fc.RequestTimeout = cfg.Feeds.RequestTimeout
	fc.Retries = cfg.Feeds.Retries
	return feeds.NewClient(fc, reader, feeds.WithObserver(collector))
}

// newFunds returns nil, which the API answers with 503, when the bot token
// or channel is missing.
func newFunds(cfg *config.Config, resolver *secrets.Resolver, balances access.BalanceSource) *funds.Service {
	botToken, ok := resolver.Lookup(secrets.TelegramBotToken)
	if !ok || cfg.Telegram.ChannelID == "" {
		logging.Info("fund applications disabled: telegram not configured", logging.Component("daemon"))
		return nil
	}
	bot := funds.NewBot(cfg.Telegram.APIURL, botToken, &http.Client{Timeout: 15 * time.Second})
	return funds.NewService(balances, bot, cfg.Telegram.ChannelID)
}

func newAssistants(cfg *config.Config, resolver *secrets.Resolver, collector *metrics.Collector) (*assistant.OpenAI, *assistant.Grok) {
	base := assistant.Config{
		Temperature: cfg.Assistant.Temperature,
		MaxTokens:   cfg.Assistant.MaxTokens,
		MaxRetries:  cfg.Assistant.MaxRetries,
		RetryDelay:  cfg.Assistant.RetryDelay,
		Timeout:     cfg.Assistant.Timeout,
	}
	persona := assistant.DefaultPersona()

	var openai *assistant.OpenAI
	if key, ok := resolver.Lookup(secrets.OpenAIKey); ok {
		c := base
		c.APIURL, c.Model, c.APIKey = cfg.Assistant.OpenAIURL, cfg.Assistant.OpenAIModel, key
		openai = assistant.NewOpenAI(c, persona, nil, collector)
	}
	var grok *assistant.Grok
	if key, ok := resolver.Lookup(secrets.GrokKey); ok {
		c := base
		c.APIURL, c.Model, c.APIKey = cfg.Assistant.GrokURL, cfg.Assistant.GrokModel, key
		grok = assistant.NewGrok(c, persona, nil, collector)
	}
	if openai == nil && grok == nil {
		logging.Info("assistant disabled: no provider key", logging.Component("daemon"))
	}
	return openai, grok
}

// Compile-time checks that the collector satisfies every observer hook.
var (
	_ access.Observer    = (*metrics.Collector)(nil)
	_ staking.Observer   = (*metrics.Collector)(nil)
	_ session.Observer   = (*metrics.Collector)(nil)
	_ feeds.Observer     = (*metrics.Collector)(nil)
	_ assistant.Observer = (*metrics.Collector)(nil)
	_ session.Listener   = (*staking.Manager)(nil)
)
