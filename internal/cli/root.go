package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"smartmoney-alerts/internal/analyzer"
	"smartmoney-alerts/internal/channels"
	"smartmoney-alerts/internal/config"
	"smartmoney-alerts/internal/dispatch"
	"smartmoney-alerts/internal/logging"
	"smartmoney-alerts/internal/pipeline"
	"smartmoney-alerts/internal/ratelimit"
	"smartmoney-alerts/internal/scoring"
	"smartmoney-alerts/internal/store"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2025-06-01"
)

// App holds the application dependencies.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Store  store.EventStore
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	eventStore, err := store.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize store, commands needing it will fail")
	} else {
		app.Store = eventStore
		logger.Debug().Str("path", cfg.Storage.DBPath).Msg("SQLite store initialized")
	}

	rootCmd := &cobra.Command{
		Use:   "smartmoney",
		Short: "Smart Money Alerts - insider trading disclosure pipeline",
		Long: `Smart Money Alerts ingests financial disclosure events, detects
anomalous patterns, scores them for virality, and posts alerts to
configured channels with per-channel rate limiting.

Use 'smartmoney help <command>' for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
				app.Config.DryRun = true
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/smartmoney-alerts)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Bool("dry-run", false, "log deliveries instead of posting")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newIngestCmd(app))
	rootCmd.AddCommand(newPostCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newRollupCmd(app))
	rootCmd.AddCommand(newStatusCmd(app))
	rootCmd.AddCommand(newInitDBCmd(app))

	return rootCmd
}

// buildPipeline wires the processing stages from the app's config and
// store.
func (a *App) buildPipeline() (*pipeline.Pipeline, *dispatch.Dispatcher) {
	detector := analyzer.NewDetector(analyzer.ThresholdsFromConfig(a.Config.Detector))
	scorer := scoring.NewScorer()
	scheduler := dispatch.NewScheduler(a.Store, a.Config.Scheduler, a.Config.EnabledChannels(), a.Logger)

	registry := ratelimit.NewRegistry(a.Config.Channels)
	adapters := channels.BuildChannels(a.Config)
	dispatcher := dispatch.NewDispatcher(a.Store, registry, adapters, a.Config.Scheduler, a.Logger)

	p := pipeline.New(a.Store, detector, scorer, scheduler, a.Config, a.Logger)
	return p, dispatcher
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			} else {
				output.Printf("Smart Money Alerts v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and manage application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			return output.JSON(app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"path": config.DefaultConfigDir()})
			} else {
				output.Println(config.DefaultConfigDir())
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}
