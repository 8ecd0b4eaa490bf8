package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// channelUsage is one channel's rate-window accounting, derived from
// sent timestamps rather than an in-memory bucket so it reflects what
// a running daemon actually consumed.
type channelUsage struct {
	Channel   string        `json:"channel"`
	Capacity  int           `json:"capacity"`
	Interval  time.Duration `json:"interval"`
	SentInWin int           `json:"sent_in_window"`
	Available int           `json:"available"`
}

// newStatusCmd creates the status command: event counts, task queue
// depth, rate-window usage, and permanently failed deliveries.
func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store not initialized")
			}

			summary, err := app.Store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			failed, err := app.Store.ListFailedTasks(cmd.Context(), 10)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			usages := make([]channelUsage, 0, len(app.Config.Channels))
			for _, name := range app.Config.EnabledChannels() {
				ch := app.Config.Channels[name]
				sent, err := app.Store.CountSentSince(cmd.Context(), name, now.Add(-ch.RateInterval))
				if err != nil {
					return err
				}
				available := ch.RateCapacity - sent
				if available < 0 {
					available = 0
				}
				usages = append(usages, channelUsage{
					Channel:   name,
					Capacity:  ch.RateCapacity,
					Interval:  ch.RateInterval,
					SentInWin: sent,
					Available: available,
				})
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"total_events":     summary.TotalEvents,
					"total_purchases":  summary.TotalPurchases,
					"scored_events":    summary.ScoredEvents,
					"avg_score":        summary.AvgScore,
					"events_by_source": summary.EventsBySource,
					"sent_by_channel":  summary.SentByChannel,
					"pending_tasks":    summary.PendingTasks,
					"failed_tasks":     summary.FailedTasks,
					"rate_windows":     usages,
				})
			}

			output.Bold("Events")
			output.Printf("  total: %d  purchases: %d  scored: %d  avg score: %.1f\n",
				summary.TotalEvents, summary.TotalPurchases, summary.ScoredEvents, summary.AvgScore)

			table := NewTable(output, "SOURCE", "EVENTS")
			for source, n := range summary.EventsBySource {
				table.AddRow(string(source), fmt.Sprintf("%d", n))
			}
			table.Render()

			output.Bold("Delivery")
			output.Printf("  pending: %d  failed: %d\n", summary.PendingTasks, summary.FailedTasks)

			table = NewTable(output, "CHANNEL", "SENT (TOTAL)", "WINDOW", "SENT (WINDOW)", "AVAILABLE")
			for _, u := range usages {
				table.AddRow(u.Channel,
					fmt.Sprintf("%d", summary.SentByChannel[u.Channel]),
					u.Interval.String(),
					fmt.Sprintf("%d", u.SentInWin),
					fmt.Sprintf("%d/%d", u.Available, u.Capacity))
			}
			table.Render()

			if len(failed) > 0 {
				output.Warning("Recent permanent failures:")
				for _, task := range failed {
					output.Printf("  event %d on %s after %d attempts: %s\n",
						task.EventID, task.Channel, task.Attempts, task.LastError)
				}
			}
			return nil
		},
	}
}
