package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pratik-mahalle/vitalsync/pkg/client"
)

func newSyncCmd() *cobra.Command {
	var (
		from, to string
		async    bool
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync <vendor>",
		Short: "Sync a vendor into the clinical record",
		Long: `Fetches vendor data for a day range and writes it as observations.
Without --from/--to the sync resumes at the integration's checkpoint.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			req := &client.SyncRequest{From: from, To: to}
			vendor := args[0]

			if !async {
				fmt.Fprintf(os.Stderr, "Syncing %s...\n", vendor)
				result, err := apiClient.Integrations().Sync(ctx, vendor, req)
				if err != nil {
					return fmt.Errorf("sync failed: %w", err)
				}
				return printSyncResult(result)
			}

			job, err := apiClient.Integrations().SyncAsync(ctx, vendor, req)
			if err != nil {
				return fmt.Errorf("failed to queue sync: %w", err)
			}
			if !wait {
				if getOutputFormat() != "table" {
					return printOutput(job)
				}
				fmt.Printf("Queued job %s. Check it with 'vitalsync job get %s'.\n", job.ID, job.ID)
				return nil
			}

			fmt.Fprintf(os.Stderr, "Queued job %s, waiting...\n", job.ID)
			job, err = apiClient.Jobs().Wait(ctx, job.ID, interval)
			if err != nil {
				return fmt.Errorf("failed waiting for job: %w", err)
			}
			return printJob(job)
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD")
	cmd.Flags().BoolVar(&async, "async", false, "queue the sync as a background job")
	cmd.Flags().BoolVar(&wait, "wait", false, "with --async, wait for the job to finish")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval for --wait")

	return cmd
}

func printSyncResult(r *client.SyncResult) error {
	if getOutputFormat() != "table" {
		return printOutput(r)
	}

	fmt.Printf("Vendor:      %s\n", r.Vendor)
	fmt.Printf("Range:       %s .. %s\n", r.Range.From, r.Range.To)
	fmt.Printf("Outcome:     %s\n", formatStatus(r.Outcome))
	fmt.Printf("Created:     %d\n", r.ObservationsCreated)
	fmt.Printf("Skipped:     %d\n", r.ObservationsSkipped)
	fmt.Printf("Checkpoint:  %s\n", dash(r.Checkpoint))

	if len(r.Errors) > 0 {
		fmt.Println()
		table := NewTable("UNIT", "CODE", "MESSAGE")
		for _, e := range r.Errors {
			table.AddRow(e.Unit, e.Code, truncate(e.Message, 60))
		}
		table.Render()
	}
	return nil
}

func newJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "job",
		Aliases: []string{"jobs"},
		Short:   "Inspect sync jobs",
	}

	cmd.AddCommand(newJobListCmd())
	cmd.AddCommand(newJobGetCmd())

	return cmd
}

func newJobListCmd() *cobra.Command {
	var opts client.JobListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent sync jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := apiClient.Jobs().List(context.Background(), &opts)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}

			if getOutputFormat() != "table" {
				return printOutput(jobs)
			}

			table := NewTable("ID", "VENDOR", "TRIGGER", "STATUS", "ATTEMPTS", "CREATED")
			for _, j := range jobs {
				table.AddRow(
					j.ID,
					j.Vendor,
					j.Trigger,
					formatStatus(j.Status),
					strconv.Itoa(j.Attempts)+"/"+strconv.Itoa(j.MaxAttempts),
					j.CreatedAt.Local().Format("2006-01-02 15:04"),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Vendor, "vendor", "", "filter by vendor")
	cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status (queued, running, succeeded, failed)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum jobs to show")

	return cmd
}

func newJobGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a sync job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := apiClient.Jobs().Get(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get job: %w", err)
			}
			return printJob(job)
		},
	}
}

func printJob(j *client.Job) error {
	if getOutputFormat() != "table" {
		return printOutput(j)
	}

	fmt.Printf("ID:        %s\n", j.ID)
	fmt.Printf("Vendor:    %s\n", j.Vendor)
	fmt.Printf("Trigger:   %s\n", j.Trigger)
	fmt.Printf("Status:    %s\n", formatStatus(j.Status))
	fmt.Printf("Attempts:  %d/%d\n", j.Attempts, j.MaxAttempts)
	if j.Range != nil {
		fmt.Printf("Range:     %s .. %s\n", j.Range.From, j.Range.To)
	}
	if j.LastError != "" {
		fmt.Printf("Error:     %s\n", j.LastError)
	}
	if j.Result != nil {
		fmt.Println()
		return printSyncResult(j.Result)
	}
	return nil
}
