package cli

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/service"
	"github.com/spf13/cobra"
)

func newSubmitCmd(a *app) *cobra.Command {
	var (
		method   string
		prefs    []string
		services []string
		appendTo bool
		reset    bool
		wait     bool
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a harvest job",
		Long: `Queue a harvest job for the given prefectures and service types.

Methods:
  multi     open data catalog, data portal and facility directory combined (default)
  opendata  the open data file for each service type only
  web       the facility directory only

Examples:
  harvest submit --pref 13 --service houmon_kaigo
  harvest submit -p 13,14 -s houmon_kaigo,tsusho_kaigo --append --wait
  harvest submit -m web -p 27 -s houmon_kaigo --reset`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			out := cmd.OutOrStdout()

			sub, err := a.client.SubmitJob(ctx, service.SubmitRequest{
				Method:              models.Method(method),
				PrefectureCodes:     prefs,
				ServiceTypeIDs:      services,
				AppendToCurrentData: appendTo,
				ResetCurrentData:    reset,
			})
			if err != nil {
				return fmt.Errorf("submit job: %w", err)
			}

			fmt.Fprintf(out, "Job %s queued (position %d)\n", sub.JobID, sub.QueuePosition)
			if !wait {
				fmt.Fprintf(out, "Use 'harvest watch %s' to follow progress.\n", sub.JobID)
				return nil
			}
			return a.follow(ctx, cmd, sub.JobID)
		},
	}

	cmd.Flags().StringVarP(&method, "method", "m", string(models.MethodMulti), "harvest method: multi, opendata or web")
	cmd.Flags().StringSliceVarP(&prefs, "pref", "p", nil, "prefecture codes (e.g. 13,27)")
	cmd.Flags().StringSliceVarP(&services, "service", "s", nil, "service type ids (see 'harvest services')")
	cmd.Flags().BoolVar(&appendTo, "append", false, "merge the result into the current dataset")
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the current dataset before publishing the result")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "follow progress until the job finishes")
	_ = cmd.MarkFlagRequired("pref")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}
