package main

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/compose-network/shared-bridge/configs"
	"github.com/compose-network/shared-bridge/internal/bridge"
	"github.com/compose-network/shared-bridge/internal/logger"
	"github.com/compose-network/shared-bridge/internal/migrate"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	appName   = "bridgectl"
	envPrefix = "BRIDGE"
)

var rootCmd = &cobra.Command{
	Use:           appName,
	Short:         "Shared bridge migration and ledger operations",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.Initialize(slog.LevelInfo, logger.FormatJSON)

		if err := configs.RegisterDefaults(viper.GetViper()); err != nil {
			return err
		}

		viper.SetConfigName("config")
		viper.SetConfigType("yaml")

		if execPath, err := os.Executable(); err == nil {
			execDir := filepath.Dir(execPath)
			viper.AddConfigPath(execDir)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")

		viper.SetEnvPrefix(envPrefix)
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		viper.AutomaticEnv()

		// Flags, env and the embedded defaults can provide all configuration.
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				slog.Debug("no config file found, will rely on flags and defaults")
			} else {
				const errMsg = "error reading config file"
				slog.With("err", err.Error()).Error(errMsg)
				return errors.Join(err, errors.New(errMsg))
			}
		} else {
			slog.With("config_file", viper.ConfigFileUsed()).Debug("config file loaded")
		}

		if err := viper.Unmarshal(&configs.Values); err != nil {
			const errMsg = "unable to decode application config"
			slog.With("err", err.Error()).Error(errMsg)
			return errors.Join(err, errors.New(errMsg))
		}

		level, err := logger.ParseLevel(configs.Values.Log.Level)
		if err != nil {
			return err
		}
		logger.Initialize(level, configs.Values.Log.Format)

		slog.With("config_file", viper.ConfigFileUsed()).Debug("configuration loaded")

		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("log-format", logger.FormatJSON, "Log format (json or text)")
	flags.String("l1-rpc-url", "", "L1 execution layer RPC URL")
	flags.String("ledger-data-dir", "", "Bridge ledger database directory")
	flags.String("metrics-textfile", "", "Write metrics in the node-exporter textfile format to this path")

	for name, key := range map[string]string{
		"log-level":        "log.level",
		"log-format":       "log.format",
		"l1-rpc-url":       "l1.rpc-url",
		"ledger-data-dir":  "ledger.data-dir",
		"metrics-textfile": "metrics.textfile",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func main() {
	rootCmd.AddCommand(migrate.CMD)
	rootCmd.AddCommand(bridge.CMD)

	if err := rootCmd.Execute(); err != nil {
		slog.With("err", err.Error()).Error("failed to execute root command")
		os.Exit(1)
	}
}
