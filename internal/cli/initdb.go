package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"smartmoney-alerts/internal/store"
)

// newInitDBCmd creates the init-db command. Opening the store creates
// the schema, so this is mostly useful for provisioning a fresh
// deployment ahead of the first ingest.
func newInitDBCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "init-db",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if app.Store != nil {
				output.Dim("Database already initialized at %s", app.Config.Storage.DBPath)
				return nil
			}

			eventStore, err := store.NewSQLiteStore(app.Config.Storage.DBPath)
			if err != nil {
				return fmt.Errorf("initializing database: %w", err)
			}
			app.Store = eventStore

			output.Success("Database initialized at %s", app.Config.Storage.DBPath)
			return nil
		},
	}
}
