package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/vitalsync/pkg/client"
)

func newObservationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "observations",
		Aliases: []string{"obs"},
		Short:   "Read observations from your clinical record",
	}
	cmd.AddCommand(newObservationListCmd())
	return cmd
}

func newObservationListCmd() *cobra.Command {
	var opts client.ObservationListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List observations",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := apiClient.Observations().List(context.Background(), &opts)
			if err != nil {
				return fmt.Errorf("failed to list observations: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(page)
			}

			table := NewTable("EFFECTIVE", "CODE", "DISPLAY", "VALUE")
			for _, o := range page.Data {
				table.AddRow(
					o.Effective.Local().Format("2006-01-02 15:04"),
					o.Code,
					truncate(o.Display, 32),
					strconv.FormatFloat(o.Value, 'f', -1, 64)+" "+o.Unit,
				)
			}
			table.Render()
			fmt.Printf("\nPage %d of %d (%d observations)\n", page.Page, page.TotalPages, page.TotalItems)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Code, "code", "", "LOINC code, e.g. 8867-4")
	cmd.Flags().StringVar(&opts.From, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&opts.To, "to", "", "last day, YYYY-MM-DD")
	cmd.Flags().IntVar(&opts.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 20, "page size")

	return cmd
}
