package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service and integration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			readyErr := apiClient.Ready(ctx)
			integrations, listErr := apiClient.Integrations().List(ctx)

			if getOutputFormat() != "table" {
				summary := map[string]interface{}{"ready": readyErr == nil}
				if listErr == nil {
					byStatus := map[string]int{}
					for _, in := range integrations {
						byStatus[in.Status]++
					}
					summary["integrations"] = byStatus
				}
				return printOutput(summary)
			}

			fmt.Println("vitalsync")
			fmt.Println(strings.Repeat("=", 40))

			if readyErr != nil {
				fmt.Printf("  Service:       not ready (%v)\n", readyErr)
			} else {
				fmt.Println("  Service:       ready")
			}

			if listErr != nil {
				fmt.Printf("  Integrations:  (error: %v)\n", listErr)
				return nil
			}
			for _, in := range integrations {
				line := fmt.Sprintf("  %-14s %s", in.Vendor+":", formatStatus(in.Status))
				if in.Checkpoint != "" {
					line += ", synced through " + in.Checkpoint
				}
				if in.CredentialNearExpiry {
					line += ", credential refresh due"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}
