// Package cli provides the command-line interface for the harvest server.
package cli

import (
	"io"
	"log/slog"
	"os"

	"github.com/raphaelgruber/kaigo-harvest/internal/client"
	"github.com/raphaelgruber/kaigo-harvest/internal/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// Version is set at build time.
var Version = "0.1.0"

// app carries state shared by every subcommand.
type app struct {
	serverURL string
	verbose   bool
	plain     bool

	client *client.Client
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest long-term care facility registries",
		Long: `harvest drives a harvest server: it submits jobs that collect care facility
records from the public registries, follows their progress, and pages,
exports or clears the resulting dataset.

The server is taken from --server, then HARVEST_SERVER_URL, then
http://localhost:3001.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			if a.verbose {
				slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelDebug})))
			}

			url := a.serverURL
			if url == "" {
				url = config.Load().ServerURL
			}
			a.client = client.New(url)
			slog.Debug("using harvest server", "url", a.client.BaseURL())
			return nil
		},
	}

	root.PersistentFlags().StringVar(&a.serverURL, "server", "", "harvest server URL")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "verbose output")
	root.PersistentFlags().BoolVar(&a.plain, "plain", false, "line-based progress output even on a terminal")

	root.AddCommand(
		newSubmitCmd(a),
		newJobsCmd(a),
		newResultCmd(a),
		newDataCmd(a),
		newExportCmd(a),
		newDeleteCmd(a),
		newWatchCmd(a),
		newPrefecturesCmd(a),
		newServicesCmd(a),
	)
	return root
}

// Execute runs the root command with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// interactive reports whether w is a terminal and the live view is wanted.
func (a *app) interactive(w io.Writer) bool {
	if a.plain {
		return false
	}
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
