package registry

import (
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/compose-network/shared-bridge/internal/infra/filesystem"
	"github.com/compose-network/shared-bridge/internal/logger"
	"github.com/ethereum/go-ethereum/common"
)

const fileName = "addresses.json"

type ContractName string

const (
	ContractNameBridgehubProxy             ContractName = "BridgehubProxy"
	ContractNameTransparentProxyAdmin      ContractName = "TransparentProxyAdmin"
	ContractNameSharedBridgeProxy          ContractName = "SharedBridgeProxy"
	ContractNameSharedBridgeImplementation ContractName = "SharedBridgeImplementation"
	ContractNameERC20BridgeProxy           ContractName = "ERC20BridgeProxy"
	ContractNameERC20BridgeImplementation  ContractName = "ERC20BridgeImplementation"
	ContractNameEraDiamondProxy            ContractName = "EraDiamondProxy"
	ContractNameWETH                       ContractName = "WETH"
	ContractNameCreate2Factory             ContractName = "Create2Factory"
)

type (
	// Registry maps logical contract names to deployed addresses, plus base
	// token symbols to token addresses.
	Registry struct {
		mu        sync.RWMutex
		contracts map[ContractName]common.Address
		tokens    map[string]common.Address
		logger    *slog.Logger
	}

	// Document is the persisted form written to addresses.json.
	Document struct {
		Contracts map[ContractName]common.Address `json:"contracts"`
		Tokens    map[string]common.Address       `json:"tokens,omitempty"`
	}
)

func New(contracts map[ContractName]common.Address, tokens map[string]common.Address) *Registry {
	r := &Registry{
		contracts: make(map[ContractName]common.Address, len(contracts)),
		tokens:    make(map[string]common.Address, len(tokens)),
		logger:    logger.Named("address_registry"),
	}
	maps.Copy(r.contracts, contracts)
	for symbol, addr := range tokens {
		r.tokens[strings.ToUpper(symbol)] = addr
	}
	return r
}

// FromHex builds a registry from the string maps found in configuration.
func FromHex(contracts map[string]string, tokens map[string]string) (*Registry, error) {
	parsedContracts := make(map[ContractName]common.Address, len(contracts))
	for name, value := range contracts {
		if !common.IsHexAddress(value) {
			return nil, bridgeerr.New(bridgeerr.ErrZeroAddress, "contract %s has invalid address %q", name, value)
		}
		parsedContracts[ContractName(name)] = common.HexToAddress(value)
	}

	parsedTokens := make(map[string]common.Address, len(tokens))
	for symbol, value := range tokens {
		if !common.IsHexAddress(value) {
			return nil, bridgeerr.New(bridgeerr.ErrZeroAddress, "token %s has invalid address %q", symbol, value)
		}
		parsedTokens[symbol] = common.HexToAddress(value)
	}

	return New(parsedContracts, parsedTokens), nil
}

// Resolve returns the address registered for name.
func (r *Registry) Resolve(name ContractName) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, ok := r.contracts[name]
	if !ok {
		return common.Address{}, bridgeerr.New(bridgeerr.ErrUnknownContract, "%s", name)
	}
	if addr == (common.Address{}) {
		return common.Address{}, bridgeerr.New(bridgeerr.ErrZeroAddress, "%s", name)
	}
	return addr, nil
}

// Require checks that every name resolves to a non-zero address and reports
// all missing names at once.
func (r *Registry) Require(names ...ContractName) error {
	var missing []string
	for _, name := range names {
		if _, err := r.Resolve(name); err != nil {
			missing = append(missing, string(name))
		}
	}
	if len(missing) > 0 {
		return bridgeerr.New(bridgeerr.ErrUnknownContract, "missing addresses for %s", strings.Join(missing, ", "))
	}
	return nil
}

func (r *Registry) Set(name ContractName, addr common.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.contracts[name]; ok && prev != addr {
		r.logger.
			With("contract", name).
			With("previous", prev.Hex()).
			With("address", addr.Hex()).
			Info("address replaced")
	}
	r.contracts[name] = addr
}

// Token resolves a token symbol such as "ETH" or "DAI".
func (r *Registry) Token(symbol string) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addr, ok := r.tokens[strings.ToUpper(symbol)]
	if !ok {
		return common.Address{}, bridgeerr.New(bridgeerr.ErrUnknownContract, "token %s", symbol)
	}
	return addr, nil
}

// Names lists registered contract names in sorted order.
func (r *Registry) Names() []ContractName {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.contracts))
}

func (r *Registry) Snapshot() Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Document{
		Contracts: maps.Clone(r.contracts),
		Tokens:    maps.Clone(r.tokens),
	}
}

// Write persists the registry to addresses.json under dir.
func (r *Registry) Write(writer filesystem.Writer, dir string) (string, error) {
	path := filepath.Join(dir, fileName)
	if err := writer.WriteJSON(path, r.Snapshot()); err != nil {
		return "", fmt.Errorf("failed to write '%s': %w", fileName, err)
	}

	r.logger.With("file_path", path).Info("address registry written")
	return path, nil
}

// Load reads a registry previously written by Write.
func Load(reader filesystem.Reader, path string) (*Registry, error) {
	var doc Document
	if err := reader.ReadJSON(path, &doc); err != nil {
		return nil, fmt.Errorf("failed to read address registry: %w", err)
	}
	return New(doc.Contracts, doc.Tokens), nil
}
