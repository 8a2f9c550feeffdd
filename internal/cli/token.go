package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/resale/internal/crypto"
	"github.com/alanyoungcy/resale/internal/domain"
)

// NewTokenCommand creates the token command.
func NewTokenCommand(opts *RootOptions) *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Mint a session token for local development",
		Long: `Mint a session token signed with auth.token_secret, for calling the API
without the external auth service.

Example:
  resaled token alice
  resaled token shop-42 --role pro --ttl 1h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfg.Auth.TokenSecret == "" {
				return errors.New("auth.token_secret is not configured")
			}
			if role != domain.RoleMember && role != domain.RolePro {
				return fmt.Errorf("invalid role %q: must be %s or %s", role, domain.RoleMember, domain.RolePro)
			}
			if ttl <= 0 {
				return fmt.Errorf("ttl must be positive")
			}

			signer, err := crypto.NewTokenSigner(opts.cfg.Auth.TokenSecret)
			if err != nil {
				return err
			}
			token, err := signer.Sign(crypto.Claims{
				UserID:    args[0],
				Role:      role,
				ExpiresAt: time.Now().Add(ttl),
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", domain.RoleMember, "member or pro")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
