package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/koshercapital/kosher/pkg/types"
)

// TreasuryToken is one non-zero holding of the treasury wallet.
type TreasuryToken struct {
	Mint     string          `json:"mint"`
	Symbol   string          `json:"symbol"`
	Name     string          `json:"name"`
	Amount   decimal.Decimal `json:"amount"`
	Value    decimal.Decimal `json:"value"`
	Price    decimal.Decimal `json:"price"`
	Decimals int             `json:"decimals"`
	Icon     string          `json:"icon,omitempty"`
}

type Treasury struct {
	Tokens     []TreasuryToken `json:"tokens"`
	TotalValue decimal.Decimal `json:"total_value"`
	Stale      bool            `json:"stale,omitempty"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

type balancesResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Tokens []struct {
			Mint     string           `json:"mint"`
			Symbol   string           `json:"symbol"`
			Name     string           `json:"name"`
			Amount   *decimal.Decimal `json:"amount"`
			Value    decimal.Decimal  `json:"value"`
			Price    decimal.Decimal  `json:"price"`
			Decimals int              `json:"decimals"`
			Icon     string           `json:"icon"`
		} `json:"tokens"`
		TotalValue decimal.Decimal `json:"totalValue"`
	} `json:"data"`
}

// Treasury returns holdings with a positive amount. On upstream failure the
// last good answer is served with Stale set.
func (c *Client) Treasury(ctx context.Context) (*Treasury, error) {
	t, stale, err := c.treasury.Get(ctx, "balances", func(ctx context.Context, _ string) (*Treasury, error) {
		var body balancesResponse
		if err := c.getJSON(ctx, "treasury", c.cfg.TreasuryURL+"/balances", &body); err != nil {
			return nil, err
		}
		if !body.Success || body.Data == nil {
			return nil, &types.SchemaError{Source: "treasury", Reason: "unsuccessful or empty response"}
		}

		out := &Treasury{TotalValue: body.Data.TotalValue, FetchedAt: time.Now().UTC()}
		for i, tok := range body.Data.Tokens {
			if tok.Mint == "" || tok.Amount == nil {
				return nil, &types.SchemaError{Source: "treasury", Reason: fmt.Sprintf("token %d missing mint or amount", i)}
			}
			if !tok.Amount.IsPositive() {
				continue
			}
			name := tok.Name
			if name == "" {
				name = tok.Symbol
			}
			out.Tokens = append(out.Tokens, TreasuryToken{
				Mint:     tok.Mint,
				Symbol:   tok.Symbol,
				Name:     name,
				Amount:   *tok.Amount,
				Value:    tok.Value,
				Price:    tok.Price,
				Decimals: tok.Decimals,
				Icon:     tok.Icon,
			})
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	res := *t
	res.Stale = stale
	return &res, nil
}

// TokenAmount is one leg of a treasury swap.
type TokenAmount struct {
	TokenAddress  string          `json:"token_address"`
	Amount        decimal.Decimal `json:"amount"`
	TokenDecimals int             `json:"token_decimals"`
}

type TreasuryTx struct {
	Signature string          `json:"signature"`
	Time      time.Time       `json:"time"`
	Type      string          `json:"type"`
	From      *TokenAmount    `json:"from_token,omitempty"`
	To        *TokenAmount    `json:"to_token,omitempty"`
	Fee       decimal.Decimal `json:"fee"`
}

type transactionsResponse struct {
	Data *[]struct {
		TransID   string          `json:"trans_id"`
		Time      json.RawMessage `json:"time"`
		Type      string          `json:"type"`
		FromToken *TokenAmount    `json:"from_token"`
		ToToken   *TokenAmount    `json:"to_token"`
		Fee       decimal.Decimal `json:"fee"`
	} `json:"data"`
}

var dustThreshold = decimal.NewFromInt(1)

// Transactions returns treasury swaps where either leg moved at least one
// whole token.
func (c *Client) Transactions(ctx context.Context) ([]TreasuryTx, bool, error) {
	return c.txs.Get(ctx, "transactions", func(ctx context.Context, _ string) ([]TreasuryTx, error) {
		var body transactionsResponse
		if err := c.getJSON(ctx, "treasury_tx", c.cfg.TreasuryURL+"/transactions", &body); err != nil {
			return nil, err
		}
		if body.Data == nil {
			return nil, &types.SchemaError{Source: "treasury_tx", Reason: "missing data"}
		}

		var out []TreasuryTx
		for i, tx := range *body.Data {
			if tx.TransID == "" {
				return nil, &types.SchemaError{Source: "treasury_tx", Reason: fmt.Sprintf("transaction %d missing trans_id", i)}
			}
			if !significant(tx.FromToken) && !significant(tx.ToToken) {
				continue
			}
			ts, err := parseTxTime(tx.Time)
			if err != nil {
				return nil, &types.SchemaError{Source: "treasury_tx", Reason: fmt.Sprintf("transaction %d has bad time", i), Err: err}
			}
			out = append(out, TreasuryTx{
				Signature: tx.TransID,
				Time:      ts,
				Type:      tx.Type,
				From:      tx.FromToken,
				To:        tx.ToToken,
				Fee:       tx.Fee,
			})
		}
		return out, nil
	})
}

func significant(t *TokenAmount) bool {
	return t != nil && t.Amount.GreaterThanOrEqual(dustThreshold)
}

// parseTxTime accepts RFC 3339 strings and unix timestamps in seconds or
// milliseconds.
func parseTxTime(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return time.Time{}, errors.New("missing time")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return time.Parse(time.RFC3339, s)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return time.Time{}, err
	}
	if n > 1e12 {
		return time.UnixMilli(n).UTC(), nil
	}
	return time.Unix(n, 0).UTC(), nil
}
