package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/domrelay/domrelay/internal/pkg/auth"
	"github.com/domrelay/domrelay/pkg/options"
)

func newTokenCommand(g *globalOptions) *cobra.Command {
	jwt := options.NewJWTOptions()
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a user token with the server's signing secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return fmt.Errorf("--user-id is required")
			}
			if len(jwt.Secret) < 16 {
				return fmt.Errorf("--jwt.secret must be at least 16 bytes")
			}
			token, exp, err := auth.NewSigner(jwt).SignUser(userID, ttl)
			if err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(g.out, map[string]any{"token": token, "expires_at": exp})
			}
			_, err = fmt.Fprintln(g.out, token)
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "Subject of the token.")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime.")
	cmd.Flags().StringVar(&jwt.Secret, "jwt.secret", "", "HMAC secret configured on relay-server.")
	cmd.Flags().StringVar(&jwt.Issuer, "jwt.issuer", jwt.Issuer, "Issuer configured on relay-server.")
	return cmd
}
