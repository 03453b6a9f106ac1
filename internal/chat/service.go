package chat

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/pkg/types"
)

const (
	MaxMessageLen  = 1000
	DefaultHistory = 100
	MaxHistory     = 500
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

// Service validates and stores room messages and publishes them to live
// subscribers. Room access is checked by the caller.
type Service struct {
	store *Store
	hub   *Hub
	now   func() time.Time
}

func NewService(store *Store, hub *Hub) *Service {
	return &Service{store: store, hub: hub, now: time.Now}
}

func (s *Service) Hub() *Hub { return s.hub }

// Post appends text to room as sender and notifies subscribers.
func (s *Service) Post(ctx context.Context, room Room, sender common.Address, text string) (types.ChatMessage, error) {
	if !room.Valid() {
		return types.ChatMessage{}, &types.ValidationError{Field: "room", Reason: "unknown room"}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return types.ChatMessage{}, &types.ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(text) > MaxMessageLen {
		return types.ChatMessage{}, &types.ValidationError{Field: "text", Reason: "too long"}
	}

	name, err := s.DisplayName(ctx, sender)
	if err != nil {
		return types.ChatMessage{}, err
	}
	msg := types.ChatMessage{
		ID:        uuid.NewString(),
		Room:      string(room),
		Sender:    types.WalletKey(sender),
		Username:  name,
		Text:      text,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Append(ctx, msg); err != nil {
		return types.ChatMessage{}, err
	}
	s.hub.Publish(msg)

	logging.Debug("chat message posted",
		logging.Component("chat"),
		logging.Wallet(msg.Sender),
		"room", msg.Room,
	)
	return msg, nil
}

// History returns the latest messages in room, oldest first.
func (s *Service) History(ctx context.Context, room Room, limit int) ([]types.ChatMessage, error) {
	if !room.Valid() {
		return nil, &types.ValidationError{Field: "room", Reason: "unknown room"}
	}
	if limit <= 0 {
		limit = DefaultHistory
	}
	if limit > MaxHistory {
		limit = MaxHistory
	}
	return s.store.Recent(ctx, room, limit)
}

// DisplayName is the registered username, or a shortened address.
func (s *Service) DisplayName(ctx context.Context, wallet common.Address) (string, error) {
	name, ok, err := s.store.Username(ctx, wallet.Hex())
	if err != nil {
		return "", err
	}
	if ok {
		return name, nil
	}
	return ShortAddress(wallet), nil
}

// Username returns the registered name for wallet, if any.
func (s *Service) Username(ctx context.Context, wallet common.Address) (string, bool, error) {
	return s.store.Username(ctx, wallet.Hex())
}

// SetUsername registers name for wallet.
func (s *Service) SetUsername(ctx context.Context, wallet common.Address, name string) error {
	name = strings.TrimSpace(name)
	if !usernamePattern.MatchString(name) {
		return &types.ValidationError{Field: "username", Reason: "3-20 letters, digits or underscores"}
	}
	if err := s.store.SetUsername(ctx, wallet.Hex(), name); err != nil {
		if err == ErrUsernameTaken {
			return &types.ValidationError{Field: "username", Reason: err.Error()}
		}
		return err
	}
	return nil
}

// ShortAddress renders 0x1234...abcd.
func ShortAddress(addr common.Address) string {
	h := addr.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}
