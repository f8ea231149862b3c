package upgrade

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/w3"
)

var (
	upgradeFn                   = w3.MustNewFunc("upgrade(address,address)", "")
	upgradeAndCallFn            = w3.MustNewFunc("upgradeAndCall(address,address,bytes)", "")
	initializeChainGovernanceFn = w3.MustNewFunc("initializeChainGovernance(uint256,address)", "")
	initializeLegacyBridgeFn    = w3.MustNewFunc("initialize(address,address,bytes32)", "")
)

// Call is one admin-gated transaction of an upgrade sequence.
type Call struct {
	Name   string
	Target common.Address
	Value  *big.Int
	Data   []byte
	// Unguarded calls skip the owner check, for initializers any account may call.
	Unguarded bool
}

// UpgradeProxy points proxy at implementation through its ProxyAdmin.
func UpgradeProxy(name string, proxyAdmin, proxy, implementation common.Address) (Call, error) {
	data, err := upgradeFn.EncodeArgs(proxy, implementation)
	if err != nil {
		return Call{}, fmt.Errorf("failed to encode upgrade(%s, %s): %w", proxy.Hex(), implementation.Hex(), err)
	}
	return Call{Name: name, Target: proxyAdmin, Value: new(big.Int), Data: data}, nil
}

// UpgradeProxyAndCall upgrades proxy and runs initData against the new implementation.
func UpgradeProxyAndCall(name string, proxyAdmin, proxy, implementation common.Address, initData []byte) (Call, error) {
	data, err := upgradeAndCallFn.EncodeArgs(proxy, implementation, initData)
	if err != nil {
		return Call{}, fmt.Errorf("failed to encode upgradeAndCall(%s, %s): %w", proxy.Hex(), implementation.Hex(), err)
	}
	return Call{Name: name, Target: proxyAdmin, Value: new(big.Int), Data: data}, nil
}

// InitializeChainGovernance registers the L2 bridge counterpart of chainID on the shared bridge.
func InitializeChainGovernance(sharedBridge common.Address, chainID uint64, l2Bridge common.Address) (Call, error) {
	data, err := initializeChainGovernanceFn.EncodeArgs(new(big.Int).SetUint64(chainID), l2Bridge)
	if err != nil {
		return Call{}, fmt.Errorf("failed to encode initializeChainGovernance(%d): %w", chainID, err)
	}
	return Call{
		Name:   fmt.Sprintf("initialize-chain-governance-%d", chainID),
		Target: sharedBridge,
		Value:  new(big.Int),
		Data:   data,
	}, nil
}

// InitializeLegacyBridge seeds the storage of the legacy ERC20 bridge proxy
// while it points at the initializable dummy implementation.
func InitializeLegacyBridge(erc20BridgeProxy, l2SharedBridge, l2TokenBeacon common.Address, l2TokenBytecodeHash common.Hash) (Call, error) {
	data, err := initializeLegacyBridgeFn.EncodeArgs(l2SharedBridge, l2TokenBeacon, l2TokenBytecodeHash)
	if err != nil {
		return Call{}, fmt.Errorf("failed to encode initialize: %w", err)
	}
	return Call{
		Name:      "initialize-legacy-bridge-storage",
		Target:    erc20BridgeProxy,
		Value:     new(big.Int),
		Data:      data,
		Unguarded: true,
	}, nil
}

// proxyUpgrade decodes the proxy and implementation of a ProxyAdmin upgrade
// call. It reports false for any other call.
func proxyUpgrade(data []byte) (proxy, implementation common.Address, ok bool) {
	if len(data) < 4 {
		return common.Address{}, common.Address{}, false
	}

	switch {
	case [4]byte(data[:4]) == upgradeFn.Selector:
		if err := upgradeFn.DecodeArgs(data, &proxy, &implementation); err != nil {
			return common.Address{}, common.Address{}, false
		}
		return proxy, implementation, true
	case [4]byte(data[:4]) == upgradeAndCallFn.Selector:
		var initData []byte
		if err := upgradeAndCallFn.DecodeArgs(data, &proxy, &implementation, &initData); err != nil {
			return common.Address{}, common.Address{}, false
		}
		return proxy, implementation, true
	default:
		return common.Address{}, common.Address{}, false
	}
}
