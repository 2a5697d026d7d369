package cli

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newDeleteCmd(a *app) *cobra.Command {
	var (
		jobID string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Clear the current dataset or a job's records",
		Long: `Clear the current dataset. With --job, clear that job's records instead;
if the job backs the current dataset, the dataset is cleared too.
Requires confirmation unless --force is used.

Examples:
  harvest delete
  harvest delete --job 1a2b3c4d --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			target := "the current dataset"
			if jobID != "" {
				target = "records of job " + jobID
			}

			if !force {
				fmt.Fprintf(out, "About to delete %s.\n", target)
				fmt.Fprint(out, "\nContinue? [y/N]: ")

				reader := bufio.NewReader(cmd.InOrStdin())
				response, _ := reader.ReadString('\n')
				response = strings.TrimSpace(strings.ToLower(response))
				if response != "y" && response != "yes" {
					fmt.Fprintln(out, "Cancelled.")
					return nil
				}
			}

			if err := a.client.DeleteData(context.Background(), jobID); err != nil {
				return fmt.Errorf("delete data: %w", err)
			}
			fmt.Fprintf(out, "Deleted %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&jobID, "job", "j", "", "clear only this job's records")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation")
	return cmd
}
