package migrate

import (
	"fmt"
	"log/slog"

	"github.com/compose-network/shared-bridge/configs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var CMD = &cobra.Command{
	Use:   "migrate",
	Short: "Deploy the shared bridge implementations and upgrade the bridge proxies",
	Long: `Deploys the L1SharedBridge and DummyL1ERC20Bridge implementations through a
CREATE2 factory, points the bridge proxies at them, initializes the legacy
bridge storage and chain governance, then seeds the bridge ledger.

A halted run can be continued with --resume; calls recorded in the journal
under --output-dir are not issued again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		slog.Info("starting migration. Validating config")
		if err := cfg.ValidateMigration(); err != nil {
			return err
		}

		if err := run(cmd.Context(), cfg); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		return nil
	},
}

func loadConfig() (configs.Config, error) {
	// Re-unmarshal to include flag overrides.
	if err := viper.Unmarshal(&configs.Values); err != nil {
		return configs.Config{}, fmt.Errorf("failed to unmarshal config with flag overrides: %w", err)
	}
	return configs.Values, nil
}
