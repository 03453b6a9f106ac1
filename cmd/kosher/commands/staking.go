package commands

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/koshercapital/kosher/internal/client"
	"github.com/koshercapital/kosher/pkg/types"
)

func NewStakingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staking",
		Short: "Show and manage staked positions",
		RunE:  runStakingShow,
	}

	cmd.AddCommand(newStakingApproveCmd())
	cmd.AddCommand(newStakingStakeCmd())
	cmd.AddCommand(newStakingUnstakeCmd())
	cmd.AddCommand(newStakingCancelCmd())
	cmd.AddCommand(newStakingTiersCmd())
	return cmd
}

func runStakingShow(cmd *cobra.Command, args []string) error {
	c, err := requireSession()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	var d *types.StakingDashboard
	err = WithSpinner("Reading positions", func() error {
		var err error
		d, err = c.Staking(ctx)
		return err
	})
	if err != nil {
		return explain(err)
	}
	if jsonOutput() {
		return printJSON(d)
	}
	printDashboard(d)
	return nil
}

func printDashboard(d *types.StakingDashboard) {
	approved := "no"
	if d.Approved {
		approved = "yes"
	}
	fields := [][2]string{
		{"Balance", d.Balance.Formatted().StringFixed(2)},
		{"Approved", approved},
		{"Staked", types.FormatUnits(d.TotalStaked, d.Balance.Decimals).StringFixed(2)},
		{"Rewards", d.TotalReward.StringFixed(4)},
	}
	if d.Pending != nil {
		fields = append(fields, [2]string{"Pending", StatusBadge("pending") + " " + string(d.Pending.Kind) + " " + d.Pending.TxHash})
	}
	if d.InFlight != "" {
		fields = append(fields, [2]string{"In flight", d.InFlight})
	}
	if d.Degraded {
		fields = append(fields, [2]string{"Note", StyleWarning.Render("some chain reads failed")})
	}
	fmt.Println(StatusBox("Staking", fields))

	if len(d.Positions) == 0 {
		fmt.Println(StyleMuted.Render("No staked positions."))
		return
	}
	rows := make([][]string, 0, len(d.Positions))
	for _, p := range d.Positions {
		claimable := "locked"
		if p.IsClaimable {
			claimable = "claimable"
		}
		rows = append(rows, []string{
			strconv.Itoa(p.Index),
			p.AmountFormatted.StringFixed(2),
			fmt.Sprintf("%d%%", p.APY),
			p.RewardFormatted.StringFixed(4),
			fmt.Sprintf("%dd", p.LockDurationSeconds/86400),
			claimable,
		})
	}
	fmt.Println(RenderTable([]string{"#", "AMOUNT", "APY", "REWARD", "LOCK", "STATUS"}, rows))
}

// confirm asks before a wallet write. Non-interactive runs need --yes.
func confirm(title string, yes bool) error {
	if yes {
		return nil
	}
	if !isTTY() {
		return errors.New("refusing to submit a transaction without --yes on a non-interactive terminal")
	}
	ok := false
	err := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().
			Title(title).
			Affirmative("Submit").
			Negative("Cancel").
			Value(&ok),
	)).Run()
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("cancelled")
	}
	return nil
}

func printTx(resp *client.TxResponse, what string) error {
	if jsonOutput() {
		return printJSON(resp)
	}
	fmt.Println(StyleSuccess.Render(what+" submitted") + " " + StyleMuted.Render(resp.TxHash))
	if resp.Dashboard != nil {
		printDashboard(resp.Dashboard)
	}
	return nil
}

func tierFlagCheck(tier int) error {
	if !types.ValidStakingTier(tier) {
		return fmt.Errorf("--tier must be between 0 and %d", len(types.StakingTiers)-1)
	}
	return nil
}

func newStakingApproveCmd() *cobra.Command {
	var (
		amount     string
		stakeAfter bool
		tier       int
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Approve the staking contract to spend tokens",
		Long: `Submits an ERC-20 approval. With --stake the gateway deposits the amount
automatically once the approval confirms.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := tierFlagCheck(tier); err != nil {
				return err
			}
			c, err := requireSession()
			if err != nil {
				return err
			}
			label := amount
			if label == "" {
				label = "your full balance"
			}
			if err := confirm("Approve "+label+" for staking?", yes); err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()
			resp, err := c.Approve(ctx, amount, stakeAfter, tier)
			if err != nil {
				return explain(err)
			}
			return printTx(resp, "Approval")
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "Token amount (default: full balance)")
	cmd.Flags().BoolVar(&stakeAfter, "stake", false, "Stake automatically once approved")
	cmd.Flags().IntVar(&tier, "tier", 0, "Lock term index for --stake")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func newStakingStakeCmd() *cobra.Command {
	var (
		tier int
		yes  bool
	)

	cmd := &cobra.Command{
		Use:   "stake <amount>",
		Short: "Deposit tokens under a lock term",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := tierFlagCheck(tier); err != nil {
				return err
			}
			c, err := requireSession()
			if err != nil {
				return err
			}
			opt := types.StakingTiers[tier]
			title := fmt.Sprintf("Stake %s for %d days at %d%% APY?", args[0], opt.LockDays, opt.APYPercent)
			if err := confirm(title, yes); err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()
			resp, err := c.Stake(ctx, args[0], tier)
			if err != nil {
				return explain(err)
			}
			return printTx(resp, "Stake")
		},
	}

	cmd.Flags().IntVar(&tier, "tier", 0, "Lock term index (see 'kosher staking tiers')")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func newStakingUnstakeCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "unstake <index>",
		Short: "Withdraw a claimable position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid position index %q", args[0])
			}
			c, err := requireSession()
			if err != nil {
				return err
			}
			if err := confirm(fmt.Sprintf("Withdraw position %d?", index), yes); err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()
			resp, err := c.Unstake(ctx, index)
			if err != nil {
				return explain(err)
			}
			return printTx(resp, "Withdrawal")
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func newStakingCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Stop tracking a pending approval",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()
			if err := c.CancelPending(ctx); err != nil {
				return explain(err)
			}
			fmt.Println(StyleSuccess.Render("Pending approval cleared"))
			return nil
		},
	}
}

func newStakingTiersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "List the available lock terms",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()
			tiers, err := newClient().StakingTiers(ctx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(tiers)
			}
			fmt.Println(RenderTable([]string{"INDEX", "NAME", "LOCK", "APY"}, tierRows(tiers)))
			return nil
		},
	}
}

func tierRows(tiers []types.StakingTierOption) [][]string {
	rows := make([][]string, 0, len(tiers))
	for i, t := range tiers {
		rows = append(rows, []string{
			strconv.Itoa(i),
			t.Name,
			fmt.Sprintf("%d days", t.LockDays),
			fmt.Sprintf("%d%%", t.APYPercent),
		})
	}
	return rows
}
