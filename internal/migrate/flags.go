package migrate

import (
	"github.com/compose-network/shared-bridge/configs"
	"github.com/spf13/viper"
)

type (
	flagType interface {
		string | int | bool
	}

	flagDef[T flagType] struct {
		name         string
		viperKey     string
		defaultValue T
		description  string
	}
)

var defaults = configs.MustDefaultConfig()

var (
	stringFlags = []flagDef[string]{
		// L1 signer
		{"private-key", "l1.private-key", "", "Private key of the account that owns the bridge proxies"},
		{"create2-factory", "l1.create2-factory", defaults.L1.Create2Factory, "Deterministic deployment factory"},

		// L2 counterparts
		{"l2-rpc-url", "l2.rpc-url", defaults.L2.RPCURL, "Era L2 RPC URL, used to read the token beacon"},
		{"l2-shared-bridge", "l2.shared-bridge", "", "L2 shared bridge address"},
		{"l2-token-beacon", "l2.token-beacon", "", "L2 token beacon address (read from the L2 shared bridge when empty)"},

		// Migration
		{"owner-address", "migration.owner-address", "", "Owner of the upgradeable contracts (defaults to the signer)"},
		{"create2-salt", "migration.create2-salt", "", "Base CREATE2 salt, 32 hex bytes"},
		{"output-dir", "migration.output-dir", defaults.Migration.OutputDir, "Directory for the report, journal and address registry"},
		{"artifacts-dir", "migration.artifacts-dir", defaults.Migration.ArtifactsDir, "Directory holding the compiled contract artifacts"},
	}

	intFlags = []flagDef[int]{
		{"era-chain-id", "l1.era-chain-id", int(defaults.L1.EraChainID), "Chain ID of the era chain"},
	}

	boolFlags = []flagDef[bool]{
		{"only-verifier", "migration.only-verifier", false, "Deploy the implementations without upgrading the proxies"},
		{"resume", "migration.resume", false, "Skip calls already committed by a previous run"},
	}
)

func init() {
	if err := declareFlags(stringFlags); err != nil {
		panic(err)
	}
	if err := declareFlags(intFlags); err != nil {
		panic(err)
	}
	if err := declareFlags(boolFlags); err != nil {
		panic(err)
	}
}

// declareFlags declares multiple flags and binds them to viper configuration keys.
func declareFlags[T flagType](flags []flagDef[T]) error {
	for _, flag := range flags {
		if err := declareFlag(flag.name, flag.viperKey, flag.defaultValue, flag.description); err != nil {
			return err
		}
	}
	return nil
}

func declareFlag[T flagType](flagName, viperKey string, defaultValue T, description string) error {
	var zero T
	switch any(zero).(type) {
	case string:
		CMD.Flags().String(flagName, any(defaultValue).(string), description)
	case int:
		CMD.Flags().Int(flagName, any(defaultValue).(int), description)
	case bool:
		CMD.Flags().Bool(flagName, any(defaultValue).(bool), description)
	}
	return viper.BindPFlag(viperKey, CMD.Flags().Lookup(flagName))
}
