// Package deployer places contracts at CREATE2 addresses through a factory,
// so the same (factory, salt, init code) always yields the same address and
// re-running a deployment is a no-op.
package deployer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/compose-network/shared-bridge/internal/logger"
	"github.com/compose-network/shared-bridge/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// DefaultFactory is the deterministic deployment proxy present on most EVM
// chains. It expects calldata salt ‖ initCode.
var DefaultFactory = common.HexToAddress("0x4e59b44847b379578588920cA78FbF26c0B4956C")

type (
	// Backend is the chain surface the deployer needs: one query and one
	// mutation.
	Backend interface {
		CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
		DeployCreate2(ctx context.Context, factory common.Address, salt common.Hash, initCode []byte) (*types.Receipt, error)
	}

	// Contract is a compiled contract. DeployedBytecode is the runtime code
	// expected at the deployed address; when empty, existing code is trusted
	// on address alone.
	Contract struct {
		Name             string
		Bytecode         []byte
		DeployedBytecode []byte
	}

	Result struct {
		Name     string         `json:"name" yaml:"name"`
		Address  common.Address `json:"address" yaml:"address"`
		Salt     common.Hash    `json:"salt" yaml:"salt"`
		Deployed bool           `json:"deployed" yaml:"deployed"`
		TxHash   common.Hash    `json:"txHash,omitempty" yaml:"tx-hash,omitempty"`
	}

	// Plan is the outcome of a read-only deployment check.
	Plan struct {
		Address common.Address
		Present bool
	}

	Deployer struct {
		backend Backend
		factory common.Address
		metrics metrics.Metricer
		logger  *slog.Logger

		mu    sync.Mutex
		salts map[common.Hash]common.Hash
	}
)

func New(backend Backend, factory common.Address, m metrics.Metricer) *Deployer {
	if m == nil {
		m = metrics.NoopMetrics
	}
	return &Deployer{
		backend: backend,
		factory: factory,
		metrics: m,
		logger:  logger.Named("deterministic_deployer"),
		salts:   make(map[common.Hash]common.Hash),
	}
}

// ComputeAddress is the CREATE2 address keccak256(0xff ‖ deployer ‖ salt ‖ initCodeHash)[12:].
func ComputeAddress(deployer common.Address, salt common.Hash, initCodeHash common.Hash) common.Address {
	return crypto.CreateAddress2(deployer, salt, initCodeHash.Bytes())
}

// SlotSalt derives the salt of one logical contract slot from the operator's
// base salt.
func SlotSalt(base common.Hash, slot string) common.Hash {
	return crypto.Keccak256Hash(base.Bytes(), []byte(slot))
}

func InitCode(c Contract, constructorArgs []byte) []byte {
	code := make([]byte, 0, len(c.Bytecode)+len(constructorArgs))
	code = append(code, c.Bytecode...)
	return append(code, constructorArgs...)
}

// Address returns where c would be deployed with salt and constructorArgs.
func (d *Deployer) Address(salt common.Hash, c Contract, constructorArgs []byte) common.Address {
	return ComputeAddress(d.factory, salt, crypto.Keccak256Hash(InitCode(c, constructorArgs)))
}

// Plan checks a deployment without mutating anything: the salt is usable and
// any code already at the target address is the expected code.
func (d *Deployer) Plan(ctx context.Context, salt common.Hash, c Contract, constructorArgs []byte) (Plan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	initCodeHash, err := d.checkSalt(salt, c, constructorArgs)
	if err != nil {
		return Plan{}, err
	}

	address := ComputeAddress(d.factory, salt, initCodeHash)
	present, err := d.verifyExisting(ctx, c, address)
	if err != nil {
		return Plan{}, err
	}
	return Plan{Address: address, Present: present}, nil
}

// Deploy ensures c is present at its CREATE2 address and returns that address.
func (d *Deployer) Deploy(ctx context.Context, salt common.Hash, c Contract, constructorArgs []byte) (Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	initCodeHash, err := d.checkSalt(salt, c, constructorArgs)
	if err != nil {
		return Result{}, err
	}

	address := ComputeAddress(d.factory, salt, initCodeHash)
	log := d.logger.With("contract", c.Name).With("address", address.Hex()).With("salt", salt.Hex())

	result := Result{Name: c.Name, Address: address, Salt: salt}

	present, err := d.verifyExisting(ctx, c, address)
	if err != nil {
		return Result{}, err
	}
	if present {
		log.Info("contract already deployed, skipping")
		d.salts[salt] = initCodeHash
		d.metrics.RecordDeployment(c.Name, false)
		return result, nil
	}

	log.Info("deploying contract through create2 factory")
	receipt, err := d.backend.DeployCreate2(ctx, d.factory, salt, InitCode(c, constructorArgs))
	if err != nil {
		return Result{}, fmt.Errorf("failed to deploy %s: %w", c.Name, err)
	}
	result.TxHash = receipt.TxHash
	result.Deployed = true

	present, err = d.verifyExisting(ctx, c, address)
	if err != nil {
		return Result{}, err
	}
	if !present {
		return Result{}, fmt.Errorf("no code at %s after deploying %s in tx %s", address.Hex(), c.Name, receipt.TxHash.Hex())
	}

	d.salts[salt] = initCodeHash
	d.metrics.RecordDeployment(c.Name, true)
	log.With("tx_hash", receipt.TxHash.Hex()).Info("contract deployed")

	return result, nil
}

func (d *Deployer) checkSalt(salt common.Hash, c Contract, constructorArgs []byte) (common.Hash, error) {
	if salt == (common.Hash{}) {
		return common.Hash{}, bridgeerr.New(bridgeerr.ErrMissingSalt, "deploying %s", c.Name)
	}
	if len(c.Bytecode) == 0 {
		return common.Hash{}, bridgeerr.New(bridgeerr.ErrCodeMismatch, "%s has no bytecode", c.Name)
	}

	initCodeHash := crypto.Keccak256Hash(InitCode(c, constructorArgs))
	if prev, ok := d.salts[salt]; ok && prev != initCodeHash {
		return common.Hash{}, bridgeerr.New(bridgeerr.ErrSaltReuse, "salt %s already used for different init code than %s", salt.Hex(), c.Name)
	}
	return initCodeHash, nil
}

// verifyExisting reports whether code is present at address, failing when it
// is not the code c expects.
func (d *Deployer) verifyExisting(ctx context.Context, c Contract, address common.Address) (bool, error) {
	code, err := d.backend.CodeAt(ctx, address, nil)
	if err != nil {
		return false, fmt.Errorf("failed to read code at %s: %w", address.Hex(), err)
	}
	if len(code) == 0 {
		return false, nil
	}

	if len(c.DeployedBytecode) == 0 {
		d.logger.
			With("contract", c.Name).
			With("address", address.Hex()).
			Warn("no runtime bytecode to compare against, trusting create2 address")
		return true, nil
	}

	if !bytes.Equal(crypto.Keccak256(code), crypto.Keccak256(c.DeployedBytecode)) {
		return false, bridgeerr.New(bridgeerr.ErrCodeMismatch, "%s at %s has code hash %s, expected %s",
			c.Name, address.Hex(), crypto.Keccak256Hash(code).Hex(), crypto.Keccak256Hash(c.DeployedBytecode).Hex())
	}
	return true, nil
}
