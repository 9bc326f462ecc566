package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/vitalsync/pkg/client"
)

func newIntegrationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "integration",
		Aliases: []string{"integrations", "int"},
		Short:   "Manage wearable vendor integrations",
	}

	cmd.AddCommand(newIntegrationListCmd())
	cmd.AddCommand(newIntegrationStatusCmd())
	cmd.AddCommand(newIntegrationSelectCmd())
	cmd.AddCommand(newIntegrationAuthorizeCmd())
	cmd.AddCommand(newIntegrationDisconnectCmd())

	return cmd
}

func newIntegrationListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List supported vendors and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			integrations, err := apiClient.Integrations().List(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list integrations: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(integrations)
			}

			table := NewTable("VENDOR", "STATUS", "CHECKPOINT", "LAST SYNC", "CREDENTIAL")
			for _, in := range integrations {
				table.AddRow(in.Vendor, formatStatus(in.Status), dash(in.Checkpoint), formatSync(in), formatCredential(in))
			}
			table.Render()
			return nil
		},
	}
}

func newIntegrationStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <vendor>",
		Short: "Show one vendor integration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := apiClient.Integrations().Get(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get integration: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(in)
			}

			fmt.Printf("Vendor:      %s\n", in.Vendor)
			fmt.Printf("Status:      %s\n", formatStatus(in.Status))
			fmt.Printf("Checkpoint:  %s\n", dash(in.Checkpoint))
			fmt.Printf("Last sync:   %s\n", formatSync(*in))
			fmt.Printf("Credential:  %s\n", formatCredential(*in))
			if in.LastJob != nil {
				fmt.Printf("Last job:    %s (%s)\n", in.LastJob.ID, formatStatus(in.LastJob.Status))
			}
			return nil
		},
	}
}

func newIntegrationSelectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <vendor>",
		Short: "Choose a vendor to connect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiClient.Integrations().Select(context.Background(), args[0]); err != nil {
				return fmt.Errorf("failed to select vendor: %w", err)
			}
			fmt.Printf("Selected %s. Run 'vitalsync integration authorize %s' to connect it.\n", args[0], args[0])
			return nil
		},
	}
}

func newIntegrationAuthorizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "authorize <vendor>",
		Short: "Start the vendor consent flow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := apiClient.Integrations().Authorize(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to start authorization: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(auth)
			}

			fmt.Println("Open this URL in a browser to grant access:")
			fmt.Println()
			fmt.Println("  " + auth.AuthorizationURL)
			fmt.Println()
			fmt.Printf("Then check progress with 'vitalsync integration status %s'.\n", args[0])
			return nil
		},
	}
}

func newIntegrationDisconnectCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "disconnect <vendor>",
		Short: "Revoke an integration and destroy its credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				answer := promptInput(fmt.Sprintf("Disconnect %s? [y/N]: ", args[0]))
				if answer != "y" && answer != "Y" {
					fmt.Println("Aborted")
					return nil
				}
			}
			if err := apiClient.Integrations().Disconnect(context.Background(), args[0]); err != nil {
				return fmt.Errorf("failed to disconnect: %w", err)
			}
			fmt.Printf("Disconnected %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation")

	return cmd
}

func formatSync(in client.Integration) string {
	if in.LastSyncAt == nil {
		return "-"
	}
	s := in.LastSyncAt.Local().Format("2006-01-02 15:04")
	if in.LastSyncStatus != "" {
		s += " (" + in.LastSyncStatus + ")"
	}
	return s
}

func formatCredential(in client.Integration) string {
	if in.CredentialExpiresAt == nil {
		return "-"
	}
	s := "expires " + in.CredentialExpiresAt.Local().Format(time.RFC822)
	if in.CredentialNearExpiry {
		s += " [refresh due]"
	}
	return s
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
