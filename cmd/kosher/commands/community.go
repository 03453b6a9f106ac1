package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func staleNote(stale bool) {
	if stale {
		fmt.Println(StyleWarning.Render("Showing cached data; the upstream feed is unavailable."))
	}
}

func NewPricesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prices",
		Short: "Show token prices and pool reserves",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			p, err := newClient().Prices(ctx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(p)
			}
			fields := [][2]string{
				{"SHEKEL", "$" + p.ShekelUSD.StringFixed(6)},
				{"VIRTUAL", "$" + p.VirtualUSD.StringFixed(4)},
				{"Pool price", "$" + p.PoolPriceUSD.StringFixed(6)},
				{"Market cap", "$" + p.MarketCapUSD.StringFixed(0)},
				{"SHEKEL reserve", p.ShekelReserve.StringFixed(0)},
				{"VIRTUAL reserve", p.VirtualReserve.StringFixed(0)},
			}
			if p.Change24h != "" {
				fields = append(fields, [2]string{"24h", p.Change24h})
			}
			fmt.Println(StatusBox("Prices", fields))
			staleNote(p.Stale)
			for _, w := range p.Warnings {
				fmt.Println(StyleMuted.Render("  " + w))
			}
			return nil
		},
	}
}

func NewTreasuryCmd() *cobra.Command {
	var showTx bool

	cmd := &cobra.Command{
		Use:   "treasury",
		Short: "Show treasury balances",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			t, err := newClient().Treasury(ctx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(t)
			}

			if t.Balances != nil {
				rows := make([][]string, 0, len(t.Balances.Tokens))
				for _, tok := range t.Balances.Tokens {
					rows = append(rows, []string{
						tok.Symbol,
						tok.Amount.StringFixed(4),
						"$" + tok.Price.StringFixed(4),
						"$" + tok.Value.StringFixed(2),
					})
				}
				fmt.Println(RenderTable([]string{"TOKEN", "AMOUNT", "PRICE", "VALUE"}, rows))
				fmt.Println(StyleLabel.Render("Total") + StyleAccent.Render("$"+t.Balances.TotalValue.StringFixed(2)))
			}

			if showTx && len(t.Transactions) > 0 {
				rows := make([][]string, 0, len(t.Transactions))
				for _, tx := range t.Transactions {
					from, to := "-", "-"
					if tx.From != nil {
						from = tx.From.Amount.String()
					}
					if tx.To != nil {
						to = tx.To.Amount.String()
					}
					rows = append(rows, []string{
						tx.Time.Local().Format("2006-01-02 15:04"),
						tx.Type,
						from,
						to,
						shorten(tx.Signature),
					})
				}
				fmt.Println()
				fmt.Println(RenderTable([]string{"TIME", "TYPE", "FROM", "TO", "SIGNATURE"}, rows))
			}

			staleNote(t.Stale)
			for _, w := range t.Warnings {
				fmt.Println(StyleMuted.Render("  " + w))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showTx, "transactions", false, "Include recent treasury transactions")
	return cmd
}

func NewHoldersCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "holders",
		Short: "List the top token holders",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			holders, stale, err := newClient().Holders(ctx)
			if err != nil {
				return err
			}
			if limit > 0 && len(holders) > limit {
				holders = holders[:limit]
			}
			if jsonOutput() {
				return printJSON(holders)
			}
			rows := make([][]string, 0, len(holders))
			for i, h := range holders {
				rows = append(rows, []string{fmt.Sprintf("%d", i+1), h.Address, h.Percentage.StringFixed(2) + "%"})
			}
			fmt.Println(RenderTable([]string{"RANK", "ADDRESS", "SHARE"}, rows))
			staleNote(stale)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of holders to show (0 for all)")
	return cmd
}

// shorten keeps the ends of a long hash readable in a table.
func shorten(s string) string {
	if len(s) <= 14 {
		return s
	}
	return s[:6] + "..." + s[len(s)-6:]
}
