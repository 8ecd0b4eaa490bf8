package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newRollupCmd creates the rollup command, which derives and persists
// the daily summary artifact.
func newRollupCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rollup [date]",
		Short: "Write the daily rollup",
		Long: `Derive the daily rollup (events scraped per source, messages
posted per channel, roundup-only events) for the given date
(YYYY-MM-DD, default yesterday) and persist it. The rollup is
written at most once per day; reruns are no-ops.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store not initialized")
			}

			date := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
			if len(args) == 1 {
				if _, err := time.Parse("2006-01-02", args[0]); err != nil {
					return fmt.Errorf("invalid date %q: want YYYY-MM-DD", args[0])
				}
				date = args[0]
			}

			p, _ := app.buildPipeline()
			rollup, wrote, err := p.WriteRollup(cmd.Context(), date)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"date":              rollup.Date,
					"written":           wrote,
					"scraped_by_source": rollup.ScrapedBySource,
					"posted_by_channel": rollup.PostedByChannel,
					"roundup_events":    rollup.RoundupEvents,
				})
			}

			if !wrote {
				output.Dim("Rollup for %s already written", date)
			} else {
				output.Success("Rollup written for %s", date)
			}

			table := NewTable(output, "SOURCE", "SCRAPED")
			for source, n := range rollup.ScrapedBySource {
				table.AddRow(string(source), fmt.Sprintf("%d", n))
			}
			table.Render()

			table = NewTable(output, "CHANNEL", "POSTED")
			for channel, n := range rollup.PostedByChannel {
				table.AddRow(channel, fmt.Sprintf("%d", n))
			}
			table.Render()

			output.Info("Roundup-only events: %d", rollup.RoundupEvents)
			return nil
		},
	}
}
