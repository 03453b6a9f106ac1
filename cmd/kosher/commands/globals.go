package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/koshercapital/kosher/internal/client"
	"github.com/koshercapital/kosher/internal/config"
	"github.com/koshercapital/kosher/internal/secrets"
)

// Global CLI flags
var (
	// APIEndpoint overrides the gateway base URL.
	APIEndpoint string

	// OutputFormat is "" (auto), "json" or "plain".
	OutputFormat string
)

const requestTimeout = 30 * time.Second

// GetAPIEndpoint returns the gateway URL from flag, config, or default.
func GetAPIEndpoint() string {
	if APIEndpoint != "" {
		return strings.TrimRight(APIEndpoint, "/")
	}
	if cfg := loadConfigQuiet(); cfg != nil && cfg.API.HTTPAddr != "" {
		return endpointFromAddr(cfg.API.HTTPAddr)
	}
	return client.DefaultBaseURL
}

// endpointFromAddr turns a listen address into a dialable URL. Wildcard
// hosts become loopback.
func endpointFromAddr(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	host, port, ok := strings.Cut(addr, ":")
	if !ok {
		return "http://" + addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" || host == "[::]" {
		host = "127.0.0.1"
	}
	return "http://" + host + ":" + port
}

// DefaultKeyPath is where login looks for a wallet key when --key is unset.
func DefaultKeyPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "wallet.key"
	}
	return filepath.Join(homeDir, ".kosher", "wallet.key")
}

func loadConfigQuiet() *config.Config {
	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		return nil
	}
	return cfg
}

// chainID is the chain the CLI signs in against.
func chainID() uint64 {
	if cfg := loadConfigQuiet(); cfg != nil {
		return cfg.Chain.ChainID
	}
	return config.DefaultConfig().Chain.ChainID
}

// secretResolver opens the keyring when possible and falls back to the
// environment alone.
func secretResolver() *secrets.Resolver {
	ring, _, err := secrets.OpenKeyring()
	if err != nil {
		return secrets.NewResolver(nil)
	}
	return secrets.NewResolver(ring)
}

// newClient returns an API client carrying the stored session token, if any.
func newClient() *client.APIClient {
	c := client.NewAPIClient(GetAPIEndpoint())
	if tok, ok := secretResolver().Lookup(secrets.SessionToken); ok {
		c.SetToken(tok)
	}
	return c
}

// requireSession returns a client with a session token or an error telling
// the user to sign in.
func requireSession() (*client.APIClient, error) {
	c := newClient()
	if c.Token() == "" {
		return nil, errors.New("not signed in; run 'kosher login' first")
	}
	return c, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), requestTimeout)
}

// explain adds a hint for errors the user can act on.
func explain(err error) error {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Unauthorized() {
		return fmt.Errorf("%w (session expired? run 'kosher login')", err)
	}
	return err
}

// Version information (set at build time)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func GetVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
	}
	return "dev"
}

func GetCommit() string {
	if Commit != "unknown" {
		return Commit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				if len(setting.Value) > 8 {
					return setting.Value[:8]
				}
				return setting.Value
			}
		}
	}
	return "unknown"
}

func GetGoVersion() string {
	return runtime.Version()
}
