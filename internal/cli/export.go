package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/raphaelgruber/kaigo-harvest/internal/export"
	"github.com/spf13/cobra"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		format string
		jobID  string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download the dataset as CSV, Excel or Parquet",
		Long: `Download the current dataset, or one job's records with --job.

The file is written to kaigo_data.<format> unless --output is given.
Use --output - to write to stdout.

Examples:
  harvest export
  harvest export --format xlsx
  harvest export -f parquet --job 1a2b3c4d -o tokyo.parquet`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := export.ParseFormat(format)
			if err != nil {
				return err
			}
			if output == "" {
				output = f.Filename()
			}

			ctx := context.Background()
			if output == "-" {
				_, err := a.client.Export(ctx, f, jobID, cmd.OutOrStdout())
				return err
			}

			file, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}
			n, err := a.client.Export(ctx, f, jobID, file)
			if cerr := file.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(output)
				return fmt.Errorf("export: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", output, n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(export.FormatCSV), "csv, xlsx or parquet")
	cmd.Flags().StringVarP(&jobID, "job", "j", "", "export this job's records instead of the current dataset")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path, - for stdout")
	return cmd
}
