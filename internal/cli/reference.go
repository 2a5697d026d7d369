package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

func newPrefecturesCmd(a *app) *cobra.Command {
	var region string

	cmd := &cobra.Command{
		Use:   "prefectures",
		Short: "List prefecture codes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs, _, err := a.client.Prefectures(context.Background())
			if err != nil {
				return fmt.Errorf("list prefectures: %w", err)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("Code", "Name", "Region")
			for _, p := range prefs {
				if region != "" && !strings.Contains(p.Region, region) {
					continue
				}
				_ = table.Append(p.Code, p.Name, p.Region)
			}
			return table.Render()
		},
	}

	cmd.Flags().StringVarP(&region, "region", "r", "", "only prefectures in this region (e.g. 関東)")
	return cmd
}

func newServicesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "services",
		Short: "List service type ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := a.client.ServiceTypes(context.Background())
			if err != nil {
				return fmt.Errorf("list service types: %w", err)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.Header("ID", "Name", "Open data file")
			for _, t := range types {
				_ = table.Append(t.ID, t.Name, t.OpendataFile)
			}
			return table.Render()
		},
	}
}
