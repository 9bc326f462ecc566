package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pratik-mahalle/vitalsync/internal/auth"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "token",
		Short:       "Operator token utilities",
		Annotations: localOnly(),
	}
	cmd.AddCommand(newTokenMintCmd())
	return cmd
}

// newTokenMintCmd signs a session token with the server's JWT secret, for
// development and operator use.
func newTokenMintCmd() *cobra.Command {
	var (
		userID  int64
		subject string
		secret  string
		ttl     time.Duration
		save    bool
	)

	cmd := &cobra.Command{
		Use:   "mint",
		Short: "Sign a session token with the server secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				secret = viper.GetString("jwt_secret")
			}
			if secret == "" {
				secret = promptPassword("JWT secret: ")
			}
			if secret == "" {
				return fmt.Errorf("a JWT secret is required (--secret or VITALSYNC_JWT_SECRET)")
			}
			if userID <= 0 {
				return fmt.Errorf("--user-id must be positive")
			}
			if subject == "" {
				subject = fmt.Sprintf("Patient/%d", userID)
			}

			token, err := auth.MintAccessToken(userID, subject, secret, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}

			if save {
				viper.Set("auth.token", token)
				if _, err := writeConfig(); err != nil {
					return fmt.Errorf("failed to save token: %w", err)
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().Int64Var(&userID, "user-id", 0, "user id carried in the token")
	cmd.Flags().StringVar(&subject, "subject", "", "clinical record reference (default Patient/<user-id>)")
	cmd.Flags().StringVar(&secret, "secret", "", "JWT secret (default $VITALSYNC_JWT_SECRET)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	cmd.Flags().BoolVar(&save, "save", false, "store the token as the CLI session")

	return cmd
}
