package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"smartmoney-alerts/internal/models"
)

// newIngestCmd creates the ingest command. It reads a JSON array of
// raw scraper records from a file or stdin and runs them through the
// full pipeline: validate, store, detect, score, schedule.
func newIngestCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest raw disclosure records",
		Long: `Ingest a batch of raw disclosure records from a JSON file
(or stdin when the file is "-" or omitted). Each new record is
analyzed, scored, and scheduled for delivery; re-ingesting a record
with the same identity is a no-op.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Store == nil {
				return fmt.Errorf("store not initialized")
			}

			var reader io.Reader = os.Stdin
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("opening input: %w", err)
				}
				defer f.Close()
				reader = f
			}

			var records []models.RawEvent
			if err := json.NewDecoder(reader).Decode(&records); err != nil {
				return fmt.Errorf("decoding records: %w", err)
			}

			p, _ := app.buildPipeline()
			result, err := p.IngestBatch(cmd.Context(), records)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]int{
					"ingested":   result.Ingested,
					"duplicates": result.Duplicates,
					"rejected":   result.Rejected,
					"tasks":      result.TasksCreated,
				})
			}

			output.Success("Ingested %d new events (%d duplicates, %d rejected)",
				result.Ingested, result.Duplicates, result.Rejected)
			output.Info("Created %d delivery tasks", result.TasksCreated)
			for _, recErr := range result.Errors {
				output.Warning("  %v", recErr)
			}
			return nil
		},
	}

	return cmd
}
