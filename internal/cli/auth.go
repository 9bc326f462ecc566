package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/pratik-mahalle/vitalsync/internal/auth"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authentication commands",
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthWhoamiCmd())

	return cmd
}

// Sessions are issued by the identity service; login stores one.
func newAuthLoginCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = promptPassword("Session token: ")
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("a session token is required")
			}

			apiClient.SetToken(token)
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if _, err := apiClient.Integrations().List(ctx); err != nil {
				return fmt.Errorf("login failed: %w", err)
			}

			viper.Set("auth.token", token)
			if _, err := writeConfig(); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}

			if claims, err := peekClaims(token); err == nil {
				fmt.Printf("Logged in as %s\n", claims.SubjectRef)
			} else {
				fmt.Println("Logged in")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "session token (prompted when omitted)")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "logout",
		Short:       "Clear stored credentials",
		Annotations: localOnly(),
		RunE: func(cmd *cobra.Command, args []string) error {
			viper.Set("auth.token", "")

			if _, err := writeConfig(); err != nil {
				return fmt.Errorf("failed to clear credentials: %w", err)
			}

			fmt.Println("Logged out successfully")
			return nil
		},
	}
}

func newAuthWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "whoami",
		Short:       "Show the identity in the stored session",
		Annotations: localOnly(),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := viper.GetString("auth.token")
			if token == "" {
				return fmt.Errorf("not authenticated. Run 'vitalsync auth login' first")
			}
			claims, err := peekClaims(token)
			if err != nil {
				return fmt.Errorf("stored session token is unreadable: %w", err)
			}

			info := map[string]interface{}{
				"user_id": claims.UserID,
				"subject": claims.SubjectRef,
			}
			if claims.ExpiresAt != nil {
				info["expires_at"] = claims.ExpiresAt.Time.Format(time.RFC3339)
			}

			if getOutputFormat() != "table" {
				return printOutput(info)
			}

			fmt.Printf("User ID:  %d\n", claims.UserID)
			fmt.Printf("Subject:  %s\n", claims.SubjectRef)
			if claims.ExpiresAt != nil {
				fmt.Printf("Expires:  %s\n", claims.ExpiresAt.Time.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
}

// peekClaims reads a session token without verifying it. The server
// verifies; the CLI only displays.
func peekClaims(token string) (*auth.Claims, error) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func promptInput(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func promptPassword(prompt string) string {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return ""
	}
	return string(password)
}
