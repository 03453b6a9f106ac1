package feeds

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/pkg/types"
)

const virtualProtocolID = "virtual-protocol"

// Prices is the token price board shown on the home page.
type Prices struct {
	VirtualUSD     decimal.Decimal `json:"virtual_usd"`
	ShekelUSD      decimal.Decimal `json:"shekel_usd"`
	VirtualReserve decimal.Decimal `json:"virtual_reserve"`
	ShekelReserve  decimal.Decimal `json:"shekel_reserve"`
	MarketCapUSD   decimal.Decimal `json:"market_cap_usd"`
	PoolPriceUSD   decimal.Decimal `json:"pool_price_usd"`
	Change24h      string          `json:"change_24h,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
	Stale          bool            `json:"stale,omitempty"`
	FetchedAt      time.Time       `json:"fetched_at"`
}

// VirtualUSD returns the CoinGecko USD price of VIRTUAL.
func (c *Client) VirtualUSD(ctx context.Context) (decimal.Decimal, error) {
	v, _, err := c.virtualUSD.Get(ctx, virtualProtocolID, func(ctx context.Context, id string) (float64, error) {
		var body map[string]map[string]*float64
		u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.cfg.CoinGeckoURL, url.QueryEscape(id))
		if err := c.getJSON(ctx, "coingecko", u, &body); err != nil {
			return 0, err
		}
		p := body[id]["usd"]
		if p == nil {
			return 0, &types.SchemaError{Source: "coingecko", Reason: "missing " + id + ".usd"}
		}
		if *p <= 0 {
			return 0, &types.SchemaError{Source: "coingecko", Reason: "non-positive price"}
		}
		return *p, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromFloat(v), nil
}

type poolResponse struct {
	Data *struct {
		Attributes *struct {
			PriceInUSD          *decimal.Decimal `json:"price_in_usd"`
			PricePercentChanges struct {
				Last24h string `json:"last_24h"`
			} `json:"price_percent_changes"`
		} `json:"attributes"`
	} `json:"data"`
}

// PoolPrice returns the GeckoTerminal USD price of the pool's base token and
// its 24h change as reported, e.g. "-3.2%".
func (c *Client) PoolPrice(ctx context.Context) (decimal.Decimal, string, error) {
	var body poolResponse
	u := fmt.Sprintf("%s/base/pools/%s?base_token=0", c.cfg.GeckoTerminalURL, strings.ToLower(c.cfg.PoolAddress.Hex()))
	if err := c.getJSON(ctx, "geckoterminal", u, &body); err != nil {
		return decimal.Zero, "", err
	}
	if body.Data == nil || body.Data.Attributes == nil || body.Data.Attributes.PriceInUSD == nil {
		return decimal.Zero, "", &types.SchemaError{Source: "geckoterminal", Reason: "missing data.attributes.price_in_usd"}
	}
	a := body.Data.Attributes
	return *a.PriceInUSD, a.PricePercentChanges.Last24h, nil
}

type virtualResponse struct {
	Data *struct {
		VirtualTokenValue *decimal.Decimal `json:"virtualTokenValue"`
	} `json:"data"`
}

var virtualValueScale = decimal.New(1, 9)

// MarketCapUSD derives market cap from the agent's virtualTokenValue, which
// is reported in units of 1e-9 VIRTUAL.
func (c *Client) MarketCapUSD(ctx context.Context, virtualUSD decimal.Decimal) (decimal.Decimal, error) {
	var body virtualResponse
	u := fmt.Sprintf("%s/virtuals/%s", c.cfg.VirtualsURL, url.PathEscape(c.cfg.VirtualsID))
	if err := c.getJSON(ctx, "virtuals", u, &body); err != nil {
		return decimal.Zero, err
	}
	if body.Data == nil || body.Data.VirtualTokenValue == nil {
		return decimal.Zero, &types.SchemaError{Source: "virtuals", Reason: "missing data.virtualTokenValue"}
	}
	return body.Data.VirtualTokenValue.Div(virtualValueScale).Mul(virtualUSD), nil
}

// ShekelPrice prices the token from pool reserves:
// virtualUSD * virtualReserve / shekelReserve.
func ShekelPrice(virtualUSD, virtualReserve, shekelReserve decimal.Decimal) decimal.Decimal {
	if !shekelReserve.IsPositive() {
		return decimal.Zero
	}
	return virtualUSD.Mul(virtualReserve).Div(shekelReserve)
}

// Prices returns the cached price board. The VIRTUAL price and the pool
// reserves are required; market cap and pool price degrade to zero with a
// warning.
func (c *Client) Prices(ctx context.Context) (*Prices, error) {
	p, stale, err := c.prices.Get(ctx, "board", func(ctx context.Context, _ string) (*Prices, error) {
		return c.loadPrices(ctx)
	})
	if err != nil {
		return nil, err
	}
	out := *p
	out.Stale = stale
	return &out, nil
}

func (c *Client) loadPrices(ctx context.Context) (*Prices, error) {
	virtualUSD, err := c.VirtualUSD(ctx)
	if err != nil {
		return nil, err
	}
	virtualReserve, err := c.reserve(ctx, c.cfg.VirtualToken)
	if err != nil {
		return nil, err
	}
	shekelReserve, err := c.reserve(ctx, c.cfg.ShekelToken)
	if err != nil {
		return nil, err
	}

	p := &Prices{
		VirtualUSD:     virtualUSD,
		VirtualReserve: virtualReserve,
		ShekelReserve:  shekelReserve,
		ShekelUSD:      ShekelPrice(virtualUSD, virtualReserve, shekelReserve),
		FetchedAt:      time.Now().UTC(),
	}

	if mc, err := c.MarketCapUSD(ctx, virtualUSD); err != nil {
		logging.Warn("market cap unavailable", logging.Component("feeds"), logging.Err(err))
		p.Warnings = append(p.Warnings, "market cap unavailable")
	} else {
		p.MarketCapUSD = mc
	}
	if price, change, err := c.PoolPrice(ctx); err != nil {
		logging.Warn("pool price unavailable", logging.Component("feeds"), logging.Err(err))
		p.Warnings = append(p.Warnings, "pool price unavailable")
	} else {
		p.PoolPriceUSD = price
		p.Change24h = change
	}
	return p, nil
}

func (c *Client) reserve(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	raw, err := c.chain.TokenBalance(ctx, token, c.cfg.PoolAddress)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pool reserve of %s: %w", token.Hex(), err)
	}
	dec, err := c.chain.TokenDecimals(ctx, token)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decimals of %s: %w", token.Hex(), err)
	}
	return types.FormatUnits(raw, dec), nil
}
