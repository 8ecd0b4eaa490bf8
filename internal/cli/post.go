package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// newPostCmd creates the post command, which runs a single dispatch
// pass over every channel.
func newPostCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "post",
		Short: "Run one delivery pass",
		Long: `Deliver all due pending tasks, oldest first, respecting each
channel's rate limit. Tasks without capacity stay pending for the
next pass.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store not initialized")
			}

			// Tasks stranded in-flight by a crashed run come back
			// first.
			if released, err := app.Store.ReleaseStaleInFlight(cmd.Context()); err == nil && released > 0 {
				app.Logger.Info().Int64("count", released).Msg("Released stale in-flight tasks")
			}

			_, dispatcher := app.buildPipeline()
			result, err := dispatcher.DispatchOnce(cmd.Context())
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]int{
					"sent":        result.Sent,
					"rescheduled": result.Rescheduled,
					"failed":      result.Failed,
				})
			}

			output.Success("Sent %d messages", result.Sent)
			if result.Rescheduled > 0 {
				output.Warning("Rescheduled %d deliveries for retry", result.Rescheduled)
			}
			if result.Failed > 0 {
				output.Error("%d deliveries failed permanently", result.Failed)
			}
			return nil
		},
	}
}

// newRunCmd creates the run command, the long-running pipeline mode.
func newRunCmd(app *App) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline until interrupted",
		Long: `Run dispatch, unscored-event recovery, and the daily rollup as
concurrent stages. Interrupt with SIGINT or SIGTERM; in-flight
deliveries finish before exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Store == nil {
				return fmt.Errorf("store not initialized")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, dispatcher := app.buildPipeline()
			app.Logger.Info().Dur("interval", interval).Msg("Pipeline started")

			err := p.Run(ctx, dispatcher, interval)
			if err == context.Canceled {
				app.Logger.Info().Msg("Pipeline stopped")
				return nil
			}
			return err
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "dispatch pass interval")
	return cmd
}
