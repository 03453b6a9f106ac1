// Package secrets resolves API credentials from the environment (optionally
// seeded from a .env file) and falls back to the platform keyring.
package secrets

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/99designs/keyring"
	"github.com/joho/godotenv"
)

const keyringServiceName = "kosher"

// ErrNotFound is returned when a secret is in neither source.
var ErrNotFound = errors.New("secret not found")

// Name identifies one credential.
type Name string

const (
	TelegramBotToken Name = "telegram-bot-token"
	OpenAIKey        Name = "openai-api-key"
	GrokKey          Name = "xai-api-key"

	// SessionToken is the CLI's gateway session, not a daemon credential.
	SessionToken Name = "session-token"
)

var envVars = map[Name]string{
	TelegramBotToken: "KOSHER_TELEGRAM_BOT_TOKEN",
	OpenAIKey:        "OPENAI_API_KEY",
	GrokKey:          "XAI_API_KEY",
	SessionToken:     "KOSHER_SESSION_TOKEN",
}

var labels = map[Name]string{
	TelegramBotToken: "Kosher Telegram Bot Token",
	OpenAIKey:        "Kosher OpenAI API Key",
	GrokKey:          "Kosher x.ai API Key",
	SessionToken:     "Kosher Gateway Session",
}

// Known lists every credential the daemon uses.
func Known() []Name {
	return []Name{TelegramBotToken, OpenAIKey, GrokKey}
}

// EnvVar returns the environment variable consulted for n.
func (n Name) EnvVar() string {
	return envVars[n]
}

// Valid reports whether n is a known credential.
func (n Name) Valid() bool {
	_, ok := envVars[n]
	return ok
}

// LoadDotEnv copies variables from path into the process environment
// without overriding ones already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Resolver looks a secret up in the environment first and the keyring second.
type Resolver struct {
	getenv func(string) string
	ring   keyring.Keyring
}

// NewResolver returns a Resolver over os.Getenv and ring. ring may be nil to
// use the environment only.
func NewResolver(ring keyring.Keyring) *Resolver {
	return &Resolver{getenv: os.Getenv, ring: ring}
}

// Get returns the secret value or ErrNotFound.
func (r *Resolver) Get(n Name) (string, error) {
	if !n.Valid() {
		return "", fmt.Errorf("unknown secret %q", n)
	}
	if v := r.getenv(n.EnvVar()); v != "" {
		return v, nil
	}
	if r.ring == nil {
		return "", fmt.Errorf("%s: %w", n, ErrNotFound)
	}
	item, err := r.ring.Get(string(n))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", fmt.Errorf("%s: %w", n, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("read %s from keyring: %w", n, err)
	}
	return string(item.Data), nil
}

// Lookup is Get with a "missing" result instead of ErrNotFound.
func (r *Resolver) Lookup(n Name) (string, bool) {
	v, err := r.Get(n)
	return v, err == nil && v != ""
}

// Store saves value in the keyring.
func (r *Resolver) Store(n Name, value string) error {
	if !n.Valid() {
		return fmt.Errorf("unknown secret %q", n)
	}
	if r.ring == nil {
		return errors.New("no keyring available")
	}
	return r.ring.Set(keyring.Item{
		Key:         string(n),
		Data:        []byte(value),
		Label:       labels[n],
		Description: "Credential used by the kosher gateway daemon",
	})
}

// Remove deletes n from the keyring. Removing a missing secret succeeds.
func (r *Resolver) Remove(n Name) error {
	if r.ring == nil {
		return nil
	}
	err := r.ring.Remove(string(n))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

// OpenKeyring opens the platform keyring and returns its display name.
func OpenKeyring() (keyring.Keyring, string, error) {
	backends := platformKeyringBackends()
	if len(backends) == 0 {
		return nil, "", fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    keyringServiceName,
		AllowedBackends:                backends,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
		KeychainSynchronizable:         false,
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to open keyring: %w", err)
	}
	return ring, keyringBackendName(), nil
}

func platformKeyringBackends() []keyring.BackendType {
	switch runtime.GOOS {
	case "darwin":
		return []keyring.BackendType{keyring.KeychainBackend}
	case "linux":
		return []keyring.BackendType{
			keyring.SecretServiceBackend,
			keyring.KWalletBackend,
		}
	default:
		return nil
	}
}

func keyringBackendName() string {
	switch runtime.GOOS {
	case "darwin":
		return "macOS Keychain"
	case "linux":
		return "Secret Service (GNOME Keyring / KDE Wallet)"
	default:
		return "system keyring"
	}
}
