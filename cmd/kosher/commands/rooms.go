package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koshercapital/kosher/pkg/types"
)

func NewRoomsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "Read and post in the tier-gated chat rooms",
		Long: `Rooms are gated by access tier:

  gold-partner   Gold Partner and above
  board-member   Board Member only`,
	}
	cmd.AddCommand(newRoomsReadCmd())
	cmd.AddCommand(newRoomsPostCmd())
	return cmd
}

func newRoomsReadCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "read <room>",
		Short: "Show recent messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			msgs, err := c.Messages(ctx, args[0], limit)
			if err != nil {
				return explain(err)
			}
			if jsonOutput() {
				return printJSON(msgs)
			}
			if len(msgs) == 0 {
				fmt.Println(StyleMuted.Render("No messages yet."))
				return nil
			}
			for _, m := range msgs {
				fmt.Println(formatMessage(m))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Number of messages")
	return cmd
}

func formatMessage(m types.ChatMessage) string {
	who := m.Username
	if who == "" {
		who = shorten(m.Sender)
	}
	return StyleMuted.Render(m.CreatedAt.Local().Format("01-02 15:04")) + " " +
		TierStyle(roomTier(m.Room)).Render(who) + " " + m.Text
}

// roomTier maps a room name or route ("gold-partner", "/board-member-room")
// to the tier that opens it.
func roomTier(room string) types.AccessTier {
	name := strings.TrimSuffix(strings.TrimPrefix(room, "/"), "-room")
	return types.AccessTier(strings.ReplaceAll(name, "-", "_"))
}

func newRoomsPostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <room> <message...>",
		Short: "Post a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args[1:], " "))
			if text == "" {
				return errors.New("message is empty")
			}
			c, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()

			m, err := c.Post(ctx, args[0], text)
			if err != nil {
				return explain(err)
			}
			if jsonOutput() {
				return printJSON(m)
			}
			fmt.Println(formatMessage(*m))
			return nil
		},
	}
}

func NewUsernameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "username <name>",
		Short: "Set your chat display name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := requireSession()
			if err != nil {
				return err
			}
			ctx, cancel := commandContext()
			defer cancel()
			if err := c.SetUsername(ctx, args[0]); err != nil {
				return explain(err)
			}
			fmt.Println(StyleSuccess.Render("Username set to " + args[0]))
			return nil
		},
	}
}
