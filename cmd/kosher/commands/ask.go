package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func NewAskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ask <question...>",
		Short: "Ask the Kosher Capital assistant",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			reply, degraded, err := newClient().Ask(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(map[string]any{"reply": reply, "degraded": degraded})
			}
			fmt.Println(reply)
			if degraded {
				fmt.Println(StyleMuted.Render("(assistant unavailable; canned reply)"))
			}
			return nil
		},
	}
}
