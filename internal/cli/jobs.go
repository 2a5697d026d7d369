package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/spf13/cobra"
)

func newJobsCmd(a *app) *cobra.Command {
	var maxLogs int

	cmd := &cobra.Command{
		Use:   "jobs [job-id]",
		Short: "List or inspect harvest jobs",
		Long: `List all stored jobs or inspect a specific job by ID.

Examples:
  harvest jobs              # List all jobs
  harvest jobs 1a2b3c4d     # Show details for one job
  harvest jobs 1a2b3c4d -n 50`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			if len(args) == 1 {
				return showJob(ctx, a, cmd.OutOrStdout(), args[0], maxLogs)
			}
			return listJobs(ctx, a, cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVarP(&maxLogs, "logs", "n", 20, "number of recent log lines to show")
	return cmd
}

func listJobs(ctx context.Context, a *app, out io.Writer) error {
	jobs, err := a.client.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.Header("ID", "Method", "Status", "Progress", "Records", "Prefectures", "Created")
	for _, j := range jobs {
		_ = table.Append(
			j.JobID,
			string(j.Method),
			string(j.Status),
			fmt.Sprintf("%d%%", j.Progress.Progress),
			fmt.Sprintf("%d", j.Total),
			strings.Join(j.PrefectureCodes, ","),
			j.CreatedAt.Local().Format("01-02 15:04:05"),
		)
	}
	return table.Render()
}

func showJob(ctx context.Context, a *app, out io.Writer, id string, maxLogs int) error {
	job, err := a.client.GetJob(ctx, id, 0, maxLogs)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	fmt.Fprintf(out, "Job: %s\n", job.JobID)
	fmt.Fprintf(out, "  Method: %s\n", job.Method)
	fmt.Fprintf(out, "  Status: %s\n", job.Status)
	if job.QueuePosition > 0 {
		fmt.Fprintf(out, "  Queue position: %d\n", job.QueuePosition)
	}
	fmt.Fprintf(out, "  Prefectures: %s\n", strings.Join(job.PrefectureCodes, ", "))
	fmt.Fprintf(out, "  Services: %s\n", strings.Join(job.ServiceTypeIDs, ", "))
	fmt.Fprintf(out, "  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	if job.StartedAt != nil {
		fmt.Fprintf(out, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	}
	if job.FinishedAt != nil {
		fmt.Fprintf(out, "  Finished: %s\n", job.FinishedAt.Format(time.RFC3339))
		if job.StartedAt != nil {
			fmt.Fprintf(out, "  Duration: %s\n", job.FinishedAt.Sub(*job.StartedAt).Round(time.Millisecond))
		}
	}
	if job.Status.Finished() {
		fmt.Fprintf(out, "  Records: %d (dataset %d)\n", job.Total, job.AccumulatedTotal)
	} else {
		fmt.Fprintf(out, "  Progress: %d%% %s\n", job.Progress.Progress, job.Progress.Message)
	}
	if job.Error != "" {
		fmt.Fprintf(out, "  Error: %s\n", job.Error)
	}

	if len(job.SourceStats) > 0 {
		fmt.Fprintln(out, "\nSources:")
		if err := renderSourceStats(out, job.SourceStats); err != nil {
			return err
		}
	}

	if len(job.Logs) > 0 {
		fmt.Fprintf(out, "\nLog (%d):\n", len(job.Logs))
		for _, l := range job.Logs {
			fmt.Fprintf(out, "  %4d %s [%s] %s\n", l.Seq, l.Time.Local().Format("15:04:05"), l.Phase, l.Message)
		}
	}
	return nil
}

func renderSourceStats(out io.Writer, stats []models.SourceStat) error {
	table := tablewriter.NewWriter(out)
	table.Header("Source", "Status", "Records", "Error")
	for _, s := range stats {
		_ = table.Append(s.Source, string(s.Status), fmt.Sprintf("%d", s.Count), s.Error)
	}
	return table.Render()
}
