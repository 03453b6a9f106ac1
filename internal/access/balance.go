package access

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/koshercapital/kosher/internal/chain"
	"github.com/koshercapital/kosher/pkg/types"
)

// ChainBalanceSource reads the gating token balance through a chain.Reader.
type ChainBalanceSource struct {
	reader chain.Reader
	token  common.Address

	mu       sync.Mutex
	decimals uint8
	known    bool
}

// NewChainBalanceSource creates a source for token.
func NewChainBalanceSource(reader chain.Reader, token common.Address) *ChainBalanceSource {
	return &ChainBalanceSource{reader: reader, token: token}
}

// FetchBalance returns owner's balance. Decimals are read once and cached.
func (s *ChainBalanceSource) FetchBalance(ctx context.Context, owner common.Address) (*types.BalanceSnapshot, error) {
	dec, err := s.tokenDecimals(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := s.reader.TokenBalance(ctx, s.token, owner)
	if err != nil {
		return nil, err
	}
	return &types.BalanceSnapshot{
		Token:     s.token,
		Owner:     owner,
		RawAmount: raw,
		Decimals:  dec,
		FetchedAt: time.Now(),
	}, nil
}

func (s *ChainBalanceSource) tokenDecimals(ctx context.Context) (uint8, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.known {
		return s.decimals, nil
	}
	dec, err := s.reader.TokenDecimals(ctx, s.token)
	if err != nil {
		return 0, err
	}
	s.decimals, s.known = dec, true
	return dec, nil
}
