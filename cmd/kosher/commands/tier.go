package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewTierCmd() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "tier",
		Short: "Show the signed-in wallet's access tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			t, err := c.Tier(ctx, refresh)
			if err != nil {
				return explain(err)
			}
			if jsonOutput() {
				return printJSON(t)
			}
			fields := [][2]string{
				{"Wallet", t.Address},
				{"Tier", TierBadge(t.Tier)},
				{"Ladder", TierLadder(t.Tier)},
				{"Balance", t.Balance},
				{"Checked", t.CheckedAt.Local().Format("15:04:05")},
			}
			if t.Degraded {
				fields = append(fields, [2]string{"Note", StyleWarning.Render("balance unavailable, defaulted to Holder")})
			}
			fmt.Println(StatusBox("Access tier", fields))
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "Re-read the balance from chain")
	return cmd
}

func NewRouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <path>",
		Short: "Ask the gateway whether a page is open to you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			d, err := newClient().Route(ctx, args[0])
			if err != nil {
				return explain(err)
			}
			if jsonOutput() {
				return printJSON(d)
			}
			fields := [][2]string{
				{"Route", d.Route},
				{"State", StatusBadge(string(d.State))},
				{"Action", StatusBadge(string(d.Action))},
			}
			if d.Target != "" {
				fields = append(fields, [2]string{"Redirect", d.Target})
			}
			if d.Required != "" {
				fields = append(fields, [2]string{"Requires", TierBadge(d.Required)})
			}
			if d.Tier != "" {
				fields = append(fields, [2]string{"Your tier", TierBadge(d.Tier)})
			}
			fmt.Println(StatusBox("Route", fields))
			return nil
		},
	}
}
