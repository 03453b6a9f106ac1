package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show gateway health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			c := newClient()
			h, err := c.Health(ctx)
			if err != nil {
				return fmt.Errorf("gateway at %s: %w", c.BaseURL(), err)
			}
			if jsonOutput() {
				return printJSON(h)
			}

			fields := [][2]string{
				{"Endpoint", c.BaseURL()},
				{"Status", StatusBadge(h.Status)},
				{"Version", h.Version},
				{"Uptime", h.Uptime},
				{"Sessions", fmt.Sprintf("%d", h.ActiveSessions)},
				{"WS clients", fmt.Sprintf("%d", h.WSClients)},
			}
			if h.Reason != "" {
				fields = append(fields, [2]string{"Reason", h.Reason})
			}
			fmt.Println(StatusBox("Gateway", fields))
			return nil
		},
	}
}
