package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/raphaelgruber/kaigo-harvest/internal/client"
	"github.com/raphaelgruber/kaigo-harvest/internal/models"
	"github.com/raphaelgruber/kaigo-harvest/internal/progress"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it finishes",
		Long: `Follow a job's progress until it completes or fails.

On a terminal this shows a live progress bar. With --plain, or when output
is redirected, progress messages are streamed line by line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.follow(context.Background(), cmd, args[0])
		},
	}
}

// follow tracks jobID until it finishes, interactively when possible.
func (a *app) follow(ctx context.Context, cmd *cobra.Command, jobID string) error {
	out := cmd.OutOrStdout()
	if a.interactive(out) {
		return RunJobProgress(a.client, jobID)
	}
	return followPlain(ctx, a.client, out, jobID)
}

// followPlain streams progress messages over WebSocket and prints the outcome.
// A status poll runs alongside the stream so a job that finishes before the
// stream is attached is still noticed.
func followPlain(ctx context.Context, c *client.Client, out io.Writer, jobID string) error {
	st, err := c.GetJob(ctx, jobID, 0, 0)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	if !st.Status.Finished() {
		if err := streamUntilFinished(ctx, c, out, jobID); err != nil {
			return err
		}
		st, err = c.GetJob(ctx, jobID, 0, 0)
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
	}

	if st.Status == models.JobFailed {
		fmt.Fprintf(out, "✗ Job %s failed\n", jobID)
		return jobError(st)
	}
	fmt.Fprintf(out, "✓ Job %s completed\n", jobID)
	fmt.Fprint(out, outcome(st))
	return nil
}

func streamUntilFinished(ctx context.Context, c *client.Client, out io.Writer, jobID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go pollUntilFinished(ctx, c, jobID, cancel)

	err := c.Watch(ctx, jobID, func(msg progress.Message) error {
		fmt.Fprintln(out, formatMessage(msg))
		if models.JobStatus(msg.Status).Finished() {
			return client.ErrStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("watch job: %w", err)
	}
	return nil
}

// pollUntilFinished calls done once jobID reaches a terminal state.
func pollUntilFinished(ctx context.Context, c *client.Client, jobID string, done func()) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := c.GetJob(ctx, jobID, 0, 0)
			if err == nil && st.Status.Finished() {
				done()
				return
			}
		}
	}
}

func formatMessage(msg progress.Message) string {
	return fmt.Sprintf("%s [%s] %3d%% %s", msg.Time.Local().Format("15:04:05"), msg.Phase, msg.Progress, msg.Message)
}
