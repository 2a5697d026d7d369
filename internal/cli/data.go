package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/service"
	"github.com/spf13/cobra"
)

func newResultCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "result <job-id>",
		Short: "Show the result of a job",
		Long: `Show the outcome of a job: record counts, per-source statistics and the
first records it produced. A job that is still queued or running prints
its current progress instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			res, err := a.client.GetResult(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("get result: %w", err)
			}

			if !res.Success {
				fmt.Fprintf(out, "Job %s is %s", res.JobID, res.Status)
				if res.Progress != nil {
					fmt.Fprintf(out, ": %d%% %s", res.Progress.Progress, res.Progress.Message)
				}
				fmt.Fprintln(out)
				return nil
			}

			fmt.Fprintf(out, "Job %s: %d records (dataset %d)\n", res.JobID, res.Total, res.AccumulatedTotal)
			if len(res.SourceStats) > 0 {
				if err := renderSourceStats(out, res.SourceStats); err != nil {
					return err
				}
			}

			records := res.Data
			if limit >= 0 && len(records) > limit {
				records = records[:limit]
			}
			if len(records) == 0 {
				return nil
			}
			fmt.Fprintln(out)
			if err := renderRecords(out, records); err != nil {
				return err
			}
			if len(records) < res.Total {
				fmt.Fprintf(out, "Showing %d of %d. Use 'harvest data --job %s' to page through all.\n",
					len(records), res.Total, res.JobID)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of records to show")
	return cmd
}

func newDataCmd(a *app) *cobra.Command {
	var q service.DataQuery

	cmd := &cobra.Command{
		Use:   "data",
		Short: "Page through harvested records",
		Long: `Page through the current dataset, or the records of one job with --job.

Examples:
  harvest data
  harvest data --page 3 --limit 100
  harvest data --search 新宿
  harvest data --job 1a2b3c4d`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			page, err := a.client.ListData(context.Background(), q)
			if err != nil {
				return fmt.Errorf("list data: %w", err)
			}

			if page.Total == 0 {
				fmt.Fprintln(out, "No records")
				return nil
			}
			if len(page.Data) > 0 {
				if err := renderRecords(out, page.Data); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "Page %d/%d (%d records)\n", page.Page, page.TotalPages, page.Total)
			return nil
		},
	}

	cmd.Flags().StringVarP(&q.JobID, "job", "j", "", "show this job's records instead of the current dataset")
	cmd.Flags().IntVar(&q.Page, "page", 1, "page number")
	cmd.Flags().IntVarP(&q.Limit, "limit", "l", service.DefaultPageLimit, "records per page")
	cmd.Flags().StringVarP(&q.Search, "search", "q", "", "filter by name, address, operator, prefecture or user count")
	return cmd
}

func renderRecords(out io.Writer, records []models.FacilityRecord) error {
	table := tablewriter.NewWriter(out)
	table.Header("都道府県", "事業所番号", "事業所名", "住所", "電話番号", "サービス種別", "取得元")
	for _, r := range records {
		_ = table.Append(r.Region, r.RegistryNumber, r.Name, r.Address, r.Phone, r.ServiceType, r.Sources)
	}
	return table.Render()
}
