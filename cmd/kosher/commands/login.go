package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koshercapital/kosher/internal/api"
	"github.com/koshercapital/kosher/internal/client"
	"github.com/koshercapital/kosher/internal/secrets"
)

func NewLoginCmd() *cobra.Command {
	var keyPath string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the gateway with a wallet key",
		Long: `Signs the gateway's challenge with a local secp256k1 key and stores the
resulting session token in the system keyring.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keyPath == "" {
				keyPath = DefaultKeyPath()
			}
			signer, err := client.LoadWalletSigner(keyPath)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			c := client.NewAPIClient(GetAPIEndpoint())
			var sess *api.SessionResponse
			err = WithSpinner("Signing in as "+signer.Address().Hex(), func() error {
				var err error
				sess, err = signer.SignIn(ctx, c, chainID())
				return err
			})
			if err != nil {
				return fmt.Errorf("sign in: %w", err)
			}

			if err := secretResolver().Store(secrets.SessionToken, sess.Token); err != nil {
				fmt.Println(StyleWarning.Render("Could not save the session to the keyring: " + err.Error()))
				fmt.Printf("Export it instead:\n  export %s=%s\n", secrets.SessionToken.EnvVar(), sess.Token)
			}

			if jsonOutput() {
				return printJSON(sess)
			}
			fields := [][2]string{
				{"Wallet", sess.Wallet.Address.Hex()},
				{"Chain", fmt.Sprintf("%d", sess.Wallet.ChainID)},
				{"Expires", sess.ExpiresAt.Local().Format("2006-01-02 15:04")},
			}
			if sess.Guard.Tier != "" {
				fields = append(fields, [2]string{"Tier", TierBadge(sess.Guard.Tier)})
			}
			fmt.Println(StyleSuccess.Render("Signed in"))
			fmt.Println(StatusBox("Session", fields))
			return nil
		},
	}

	cmd.Flags().StringVar(&keyPath, "key", "", "Path to a hex-encoded private key (default ~/.kosher/wallet.key)")
	return cmd
}

func NewLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Disconnect the wallet and forget the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if c.Token() != "" {
				ctx, cancel := commandContext()
				defer cancel()
				// The server may already have expired it.
				if err := c.Disconnect(ctx); err != nil {
					fmt.Println(StyleMuted.Render("gateway: " + err.Error()))
				}
			}
			if err := secretResolver().Remove(secrets.SessionToken); err != nil {
				return err
			}
			fmt.Println(StyleSuccess.Render("Signed out"))
			return nil
		},
	}
}
