package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# SmartMoney Alerts Configuration

# Global dry-run: deliveries are logged but never sent
dry_run = false

[storage]
# SQLite database path (default: ~/.config/smartmoney-alerts/smartmoney.db)
db_path = ""

[detector]
# Trailing window for cluster-buy detection
cluster_window_days = 7
# Distinct buyers required within the window
cluster_min_actors = 2
# Years of silence before a purchase counts as first-in-years
first_purchase_years = 2
# Transaction value vs. actor's trailing average to count as unusually large
relative_size_multiplier = 5.0
# Minimum prior transactions before the relative check applies
min_history_samples = 2
# Absolute value ceiling used when history is insufficient
absolute_large_ceiling = 10000000.0

[scheduler]
# Maximum dispatch deferral for tier-2 events
tier2_max_delay = "1h"
# Batch boundary interval for tier-3 events
tier3_batch_window = "4h"
# Delivery attempts before a task is permanently failed
max_attempts = 5
backoff_initial = "1m"
backoff_max = "1h"
# Transaction value band eligible for individual dispatch
min_transaction_value = 10000.0
max_transaction_value = 500000000.0

[channels.twitter]
enabled = true
webhook_url = ""
rate_capacity = 15
rate_interval = "1h"

[channels.discord]
enabled = true
webhook_url = ""
rate_capacity = 30
rate_interval = "1m"

[logging]
level = "info"
console = true
file = true
`

// createTemplateConfig writes a template config file and returns an
// error directing the user to fill it in.
func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
