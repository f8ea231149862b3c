package configs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var Values Config

type (
	Config struct {
		L1        L1                `mapstructure:"l1"`
		L2        L2                `mapstructure:"l2"`
		Migration Migration         `mapstructure:"migration"`
		Ledger    Ledger            `mapstructure:"ledger"`
		Contracts Contracts         `mapstructure:"contracts"`
		Tokens    map[string]string `mapstructure:"tokens"`
		Chains    []Chain           `mapstructure:"chains"`
		Log       Log               `mapstructure:"log"`
		Metrics   Metrics           `mapstructure:"metrics"`
	}

	L1 struct {
		RPCURL         string `mapstructure:"rpc-url"`
		PrivateKey     string `mapstructure:"private-key"`
		Create2Factory string `mapstructure:"create2-factory"`
		EraChainID     uint64 `mapstructure:"era-chain-id"`
	}

	// L2 points at the era chain whose shared bridge and token beacon the
	// legacy bridge is initialized with.
	L2 struct {
		RPCURL       string `mapstructure:"rpc-url"`
		SharedBridge string `mapstructure:"shared-bridge"`
		TokenBeacon  string `mapstructure:"token-beacon"`
	}

	Migration struct {
		OwnerAddress string `mapstructure:"owner-address"`
		Create2Salt  string `mapstructure:"create2-salt"`
		OnlyVerifier bool   `mapstructure:"only-verifier"`
		Resume       bool   `mapstructure:"resume"`
		OutputDir    string `mapstructure:"output-dir"`
		ArtifactsDir string `mapstructure:"artifacts-dir"`
	}

	Ledger struct {
		DataDir       string `mapstructure:"data-dir"`
		LegacyBridge  string `mapstructure:"legacy-bridge"`
		RootSource    string `mapstructure:"root-source"`
		RootCacheSize int    `mapstructure:"root-cache-size"`
	}

	Contracts struct {
		BridgehubProxy        string `mapstructure:"bridgehub-proxy"`
		TransparentProxyAdmin string `mapstructure:"transparent-proxy-admin"`
		SharedBridgeProxy     string `mapstructure:"shared-bridge-proxy"`
		ERC20BridgeProxy      string `mapstructure:"erc20-bridge-proxy"`
		EraDiamondProxy       string `mapstructure:"era-diamond-proxy"`
		WETH                  string `mapstructure:"weth"`
	}

	Chain struct {
		ID           uint64 `mapstructure:"id"`
		BaseToken    string `mapstructure:"base-token"`
		L2Bridge     string `mapstructure:"l2-bridge"`
		DiamondProxy string `mapstructure:"diamond-proxy"`
	}

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	}

	Metrics struct {
		// Textfile receives a node-exporter textfile dump after each command.
		Textfile string `mapstructure:"textfile"`
	}
)

const (
	RootSourceStore = "store"
	RootSourceRPC   = "rpc"
)

// ByName keys the configured addresses by their registry names.
func (c Contracts) ByName() map[string]string {
	out := make(map[string]string)
	for name, value := range map[string]string{
		"BridgehubProxy":        c.BridgehubProxy,
		"TransparentProxyAdmin": c.TransparentProxyAdmin,
		"SharedBridgeProxy":     c.SharedBridgeProxy,
		"ERC20BridgeProxy":      c.ERC20BridgeProxy,
		"EraDiamondProxy":       c.EraDiamondProxy,
		"WETH":                  c.WETH,
	} {
		if value != "" {
			out[name] = value
		}
	}
	return out
}

// ValidateMigration checks everything bridgectl migrate needs before it
// touches the chain.
func (c *Config) ValidateMigration() error {
	var errs []error

	if c.L1.RPCURL == "" {
		errs = append(errs, errors.New("l1.rpc-url is required"))
	}
	if c.L1.PrivateKey == "" {
		errs = append(errs, errors.New("l1.private-key is required"))
	}
	if c.L1.EraChainID == 0 {
		errs = append(errs, errors.New("l1.era-chain-id is required"))
	}
	errs = append(errs, optionalAddress("l1.create2-factory", c.L1.Create2Factory))

	if c.Migration.Create2Salt == "" {
		errs = append(errs, errors.New("migration.create2-salt is required"))
	} else if !isHash(c.Migration.Create2Salt) {
		errs = append(errs, fmt.Errorf("migration.create2-salt must be 32 hex bytes, got %q", c.Migration.Create2Salt))
	}
	errs = append(errs, optionalAddress("migration.owner-address", c.Migration.OwnerAddress))
	if c.Migration.ArtifactsDir == "" {
		errs = append(errs, errors.New("migration.artifacts-dir is required"))
	}
	if c.Migration.OutputDir == "" {
		errs = append(errs, errors.New("migration.output-dir is required"))
	}

	if !c.Migration.OnlyVerifier {
		errs = append(errs, requiredAddress("l2.shared-bridge", c.L2.SharedBridge))
		if c.L2.TokenBeacon == "" && c.L2.RPCURL == "" {
			errs = append(errs, errors.New("l2.token-beacon or l2.rpc-url is required"))
		}
		errs = append(errs, optionalAddress("l2.token-beacon", c.L2.TokenBeacon))
		if len(c.Chains) == 0 {
			errs = append(errs, errors.New("at least one entry in chains is required"))
		}
	}

	errs = append(errs, c.validateChains(false)...)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("migration configuration validation failed: %w", err)
	}
	return nil
}

// ValidateLedger checks the configuration of the local bridge ledger.
func (c *Config) ValidateLedger() error {
	var errs []error

	if c.Ledger.DataDir == "" {
		errs = append(errs, errors.New("ledger.data-dir is required"))
	}
	errs = append(errs, optionalAddress("ledger.legacy-bridge", c.Ledger.LegacyBridge))

	switch c.Ledger.RootSource {
	case RootSourceStore:
	case RootSourceRPC:
		if c.L1.RPCURL == "" {
			errs = append(errs, errors.New("l1.rpc-url is required when ledger.root-source is rpc"))
		}
		if c.Ledger.RootCacheSize <= 0 {
			errs = append(errs, errors.New("ledger.root-cache-size must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("ledger.root-source must be either '%s' or '%s'", RootSourceStore, RootSourceRPC))
	}

	errs = append(errs, c.validateChains(c.Ledger.RootSource == RootSourceRPC)...)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("ledger configuration validation failed: %w", err)
	}
	return nil
}

func (c *Config) validateChains(needDiamond bool) []error {
	var errs []error
	seen := make(map[uint64]struct{}, len(c.Chains))
	for i, chain := range c.Chains {
		field := fmt.Sprintf("chains[%d]", i)
		if chain.ID == 0 {
			errs = append(errs, fmt.Errorf("%s.id is required", field))
		} else if _, dup := seen[chain.ID]; dup {
			errs = append(errs, fmt.Errorf("%s.id %d is configured twice", field, chain.ID))
		}
		seen[chain.ID] = struct{}{}

		if chain.BaseToken == "" {
			errs = append(errs, fmt.Errorf("%s.base-token is required", field))
		} else if _, ok := c.token(chain.BaseToken); !ok {
			errs = append(errs, fmt.Errorf("%s.base-token %s is not listed in tokens", field, chain.BaseToken))
		}
		errs = append(errs, requiredAddress(field+".l2-bridge", chain.L2Bridge))
		if needDiamond {
			errs = append(errs, requiredAddress(field+".diamond-proxy", chain.DiamondProxy))
		} else {
			errs = append(errs, optionalAddress(field+".diamond-proxy", chain.DiamondProxy))
		}
	}
	return errs
}

func (c *Config) token(symbol string) (string, bool) {
	for name, addr := range c.Tokens {
		if strings.EqualFold(name, symbol) {
			return addr, true
		}
	}
	return "", false
}

func requiredAddress(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", field)
	}
	return optionalAddress(field, value)
}

func optionalAddress(field, value string) error {
	if value != "" && !common.IsHexAddress(value) {
		return fmt.Errorf("%s must be a hex address, got %q", field, value)
	}
	return nil
}

func isHash(value string) bool {
	s := strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
	if len(s) != 2*common.HashLength {
		return false
	}
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}
