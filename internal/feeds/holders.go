package feeds

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/koshercapital/kosher/pkg/types"
)

// Holder is one row of the top-holders list.
type Holder struct {
	Address    string          `json:"address"`
	Percentage decimal.Decimal `json:"percentage"`
}

type holdersResponse struct {
	Data *[][]json.RawMessage `json:"data"`
}

// Holders returns the top holders as [address, percentage] pairs.
func (c *Client) Holders(ctx context.Context) ([]Holder, bool, error) {
	return c.holders.Get(ctx, strings.ToLower(c.cfg.HoldersToken.Hex()), func(ctx context.Context, token string) ([]Holder, error) {
		var body holdersResponse
		u := fmt.Sprintf("%s/tokens/%s/holders", c.cfg.VirtualsURL, token)
		if err := c.getJSON(ctx, "holders", u, &body); err != nil {
			return nil, err
		}
		return parseHolders(body)
	})
}

func parseHolders(body holdersResponse) ([]Holder, error) {
	if body.Data == nil {
		return nil, &types.SchemaError{Source: "holders", Reason: "missing data"}
	}
	out := make([]Holder, 0, len(*body.Data))
	for i, row := range *body.Data {
		if len(row) != 2 {
			return nil, &types.SchemaError{Source: "holders", Reason: fmt.Sprintf("row %d has %d fields", i, len(row))}
		}
		var addr string
		if err := json.Unmarshal(row[0], &addr); err != nil || !common.IsHexAddress(addr) {
			return nil, &types.SchemaError{Source: "holders", Reason: fmt.Sprintf("row %d: bad address", i), Err: err}
		}
		var pct decimal.Decimal
		if err := pct.UnmarshalJSON(row[1]); err != nil {
			return nil, &types.SchemaError{Source: "holders", Reason: fmt.Sprintf("row %d: bad percentage", i), Err: err}
		}
		out = append(out, Holder{Address: strings.ToLower(addr), Percentage: pct})
	}
	return out, nil
}
