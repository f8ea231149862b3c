package pipeline

import (
	"bytes"
	"context"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/compose-network/shared-bridge/internal/artifacts"
	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/compose-network/shared-bridge/internal/deployer"
	fsjson "github.com/compose-network/shared-bridge/internal/infra/filesystem/json"
	"github.com/compose-network/shared-bridge/internal/ledger"
	"github.com/compose-network/shared-bridge/internal/registry"
	"github.com/compose-network/shared-bridge/internal/store"
	"github.com/compose-network/shared-bridge/internal/upgrade"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eraChainID = 270

var (
	signer         = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	stranger       = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	bridgehub      = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	proxyAdmin     = common.HexToAddress("0x0000000000000000000000000000000000000b02")
	sharedProxy    = common.HexToAddress("0x0000000000000000000000000000000000000b03")
	erc20Proxy     = common.HexToAddress("0x0000000000000000000000000000000000000b04")
	eraDiamond     = common.HexToAddress("0x0000000000000000000000000000000000000b05")
	weth           = common.HexToAddress("0x0000000000000000000000000000000000000b06")
	eth            = common.HexToAddress("0x0000000000000000000000000000000000000001")
	l2SharedBridge = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	l2TokenBeacon  = common.HexToAddress("0x0000000000000000000000000000000000000c02")
	l2EraBridge    = common.HexToAddress("0x0000000000000000000000000000000000000c03")
	salt           = common.HexToHash("0x5a17")
)

// fakeBackend installs the runtime code of whichever artifact an init code
// starts with.
type fakeBackend struct {
	artifacts []artifacts.Artifact
	code      map[common.Address][]byte
	deploys   int
}

func (b *fakeBackend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	return b.code[account], nil
}

func (b *fakeBackend) DeployCreate2(_ context.Context, factory common.Address, salt common.Hash, initCode []byte) (*types.Receipt, error) {
	b.deploys++
	address := deployer.ComputeAddress(factory, salt, crypto.Keccak256Hash(initCode))
	for _, a := range b.artifacts {
		if bytes.HasPrefix(initCode, a.Bytecode) {
			b.code[address] = a.DeployedBytecode
		}
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: common.Hash{byte(b.deploys)}}, nil
}

// fakeAdmin is the signer on L1: ownership table plus scripted reverts.
type fakeAdmin struct {
	caller  common.Address
	owners  map[common.Address]common.Address
	reverts map[common.Address]string
	issued  []common.Address
}

func (a *fakeAdmin) Caller() common.Address { return a.caller }

func (a *fakeAdmin) OwnerOf(_ context.Context, target common.Address) (common.Address, error) {
	return a.owners[target], nil
}

func (a *fakeAdmin) Call(_ context.Context, target common.Address, _ *big.Int, _ []byte) (*types.Receipt, error) {
	a.issued = append(a.issued, target)
	if reason, ok := a.reverts[target]; ok {
		return nil, &bridgeerr.RevertError{Reason: reason}
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: common.Hash{0xaa, byte(len(a.issued))}}, nil
}

type harness struct {
	backend  *fakeBackend
	admin    *fakeAdmin
	ledger   *ledger.Ledger
	bindings *upgrade.KVBindings
	registry *registry.Registry
	pipeline *Pipeline
	inputs   Inputs
	dir      string
}

func mustArtifact(t *testing.T, name, abiJSON string, bytecode, runtime []byte) artifacts.Artifact {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	require.NoError(t, err)
	return artifacts.Artifact{Name: name, ABI: parsed, Bytecode: bytecode, DeployedBytecode: runtime}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	db, err := store.Open("", false)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sharedBridge := mustArtifact(t, artifacts.NameSharedBridge,
		`[{"type":"constructor","inputs":[{"type":"address"},{"type":"address"},{"type":"uint256"},{"type":"address"}]}]`,
		[]byte{0x60, 0x01, 0x60, 0x01}, []byte{0x01, 0x01})
	dummy := mustArtifact(t, artifacts.NameDummyERC20Bridge,
		`[{"type":"constructor","inputs":[{"type":"address"}]}]`,
		[]byte{0x60, 0x02, 0x60, 0x02}, []byte{0x02, 0x02})

	h := &harness{
		backend: &fakeBackend{artifacts: []artifacts.Artifact{sharedBridge, dummy}, code: map[common.Address][]byte{}},
		admin: &fakeAdmin{
			caller:  signer,
			owners:  map[common.Address]common.Address{proxyAdmin: signer, sharedProxy: signer},
			reverts: map[common.Address]string{},
		},
		bindings: upgrade.NewKVBindings(db),
		registry: registry.New(map[registry.ContractName]common.Address{
			registry.ContractNameBridgehubProxy:        bridgehub,
			registry.ContractNameTransparentProxyAdmin: proxyAdmin,
			registry.ContractNameSharedBridgeProxy:     sharedProxy,
			registry.ContractNameERC20BridgeProxy:      erc20Proxy,
			registry.ContractNameEraDiamondProxy:       eraDiamond,
			registry.ContractNameWETH:                  weth,
		}, map[string]common.Address{"ETH": eth}),
		inputs: Inputs{
			SharedBridge:         sharedBridge,
			DummyERC20Bridge:     dummy,
			L2TokenProxyBytecode: make([]byte, 32),
			L2SharedBridge:       l2SharedBridge,
			L2TokenBeacon:        l2TokenBeacon,
			EraChainID:           eraChainID,
			Chains:               []ChainInput{{ID: eraChainID, BaseTokenSymbol: "eth", L2Bridge: l2EraBridge}},
		},
		dir: t.TempDir(),
	}
	h.ledger = ledger.New(db, ledger.NewStoreRoots(db), ledger.Config{}, nil)

	h.pipeline = New(
		deployer.New(h.backend, deployer.DefaultFactory, nil),
		upgrade.New(h.admin, h.bindings, nil),
		h.admin,
		h.ledger,
		h.registry,
		fsjson.NewReader(),
		fsjson.NewWriter(),
	)
	return h
}

func (h *harness) params() Params {
	return Params{Salt: salt, OutputDir: h.dir}
}

func (h *harness) journal(t *testing.T) Journal {
	t.Helper()
	var j Journal
	require.NoError(t, fsjson.NewReader().ReadJSON(filepath.Join(h.dir, journalFileName), &j))
	return j
}

func TestRunMigratesAndSeedsLedger(t *testing.T) {
	h := newHarness(t)

	report, err := h.pipeline.Run(context.Background(), h.params(), h.inputs)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Migration.Status)
	assert.Equal(t, signer, report.Migration.Owner)

	require.Len(t, report.Migration.Deployments, 2)
	assert.Equal(t, 2, h.backend.deploys)
	sharedImpl := report.Migration.Deployments[0].Address
	dummyImpl := report.Migration.Deployments[1].Address
	assert.NotEqual(t, sharedImpl, dummyImpl)

	assert.Equal(t, []common.Address{proxyAdmin, proxyAdmin, erc20Proxy, sharedProxy}, h.admin.issued)
	var names []string
	for _, call := range report.Migration.Calls {
		assert.Equal(t, upgrade.StatusCommitted, call.Status)
		names = append(names, call.Name)
	}
	assert.Equal(t, []string{
		"upgrade-shared-bridge",
		"upgrade-erc20-bridge",
		"initialize-legacy-bridge-storage",
		"initialize-chain-governance-270",
	}, names)

	binding, found, err := h.bindings.Binding(sharedProxy)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, sharedImpl, binding.Implementation)

	record, found, err := h.ledger.Chain(eraChainID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, eth, record.BaseToken)
	assert.Equal(t, sharedProxy, record.BridgeProxy)
	assert.Equal(t, l2EraBridge, record.L2Bridge)

	addr, err := h.registry.Resolve(registry.ContractNameSharedBridgeImplementation)
	require.NoError(t, err)
	assert.Equal(t, sharedImpl, addr)

	assert.Equal(t, names, h.journal(t).Committed)

	content, err := os.ReadFile(filepath.Join(h.dir, reportFileName))
	require.NoError(t, err)
	assert.Contains(t, string(content), "status: completed")
	assert.FileExists(t, filepath.Join(h.dir, "addresses.json"))
}

func TestRunIsIdempotentForDeployments(t *testing.T) {
	h := newHarness(t)
	params := h.params()
	params.OnlyVerifier = true

	first, err := h.pipeline.Run(context.Background(), params, h.inputs)
	require.NoError(t, err)
	second, err := h.pipeline.Run(context.Background(), params, h.inputs)
	require.NoError(t, err)

	assert.Equal(t, 2, h.backend.deploys)
	for i := range first.Migration.Deployments {
		assert.Equal(t, first.Migration.Deployments[i].Address, second.Migration.Deployments[i].Address)
		assert.False(t, second.Migration.Deployments[i].Deployed)
	}
}

func TestOnlyVerifierSkipsUpgrades(t *testing.T) {
	h := newHarness(t)
	params := h.params()
	params.OnlyVerifier = true
	in := h.inputs
	in.L2TokenBeacon = common.Address{}

	report, err := h.pipeline.Run(context.Background(), params, in)
	require.NoError(t, err)
	assert.Equal(t, StatusVerifier, report.Migration.Status)
	assert.Len(t, report.Migration.Deployments, 2)
	assert.Empty(t, report.Migration.Calls)
	assert.Empty(t, h.admin.issued)

	_, found, err := h.ledger.Chain(eraChainID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRunRejectsBadConfigurationBeforeMutating(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(h *harness, p *Params, in *Inputs)
		want   *bridgeerr.Error
	}{
		{
			name:   "missing salt",
			mutate: func(_ *harness, p *Params, _ *Inputs) { p.Salt = common.Hash{} },
			want:   bridgeerr.ErrMissingSalt,
		},
		{
			name: "missing registry entry",
			mutate: func(h *harness, _ *Params, _ *Inputs) {
				h.registry.Set(registry.ContractNameERC20BridgeProxy, common.Address{})
			},
			want: bridgeerr.ErrUnknownContract,
		},
		{
			name:   "unknown base token",
			mutate: func(_ *harness, _ *Params, in *Inputs) { in.Chains[0].BaseTokenSymbol = "DAI" },
			want:   bridgeerr.ErrUnknownContract,
		},
		{
			name:   "missing l2 shared bridge",
			mutate: func(_ *harness, _ *Params, in *Inputs) { in.L2SharedBridge = common.Address{} },
			want:   bridgeerr.ErrZeroAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			params := h.params()
			in := h.inputs
			in.Chains = append([]ChainInput(nil), h.inputs.Chains...)
			tt.mutate(h, &params, &in)

			_, err := h.pipeline.Run(context.Background(), params, in)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, bridgeerr.KindConfiguration, bridgeerr.KindOf(err))

			assert.Zero(t, h.backend.deploys)
			assert.Empty(t, h.admin.issued)
		})
	}
}

func TestPreflightRejectsUnauthorizedOwner(t *testing.T) {
	t.Run("owner is not the signer", func(t *testing.T) {
		h := newHarness(t)
		params := h.params()
		params.Owner = stranger

		_, err := h.pipeline.Run(context.Background(), params, h.inputs)
		require.ErrorIs(t, err, bridgeerr.ErrUnauthorized)
		assert.Zero(t, h.backend.deploys)
	})

	t.Run("proxy admin owned elsewhere", func(t *testing.T) {
		h := newHarness(t)
		h.admin.owners[proxyAdmin] = stranger

		_, err := h.pipeline.Run(context.Background(), h.params(), h.inputs)
		require.ErrorIs(t, err, bridgeerr.ErrUnauthorized)
		assert.Zero(t, h.backend.deploys)
		assert.Empty(t, h.admin.issued)
	})
}

func TestPreflightRejectsForeignCode(t *testing.T) {
	h := newHarness(t)

	args, err := h.inputs.SharedBridge.PackConstructor(weth, bridgehub, big.NewInt(eraChainID), eraDiamond)
	require.NoError(t, err)
	d := deployer.New(h.backend, deployer.DefaultFactory, nil)
	planned := d.Address(deployer.SlotSalt(salt, slotSharedBridge), h.inputs.SharedBridge.Contract(), args)
	h.backend.code[planned] = []byte{0xfe}

	_, err = h.pipeline.Run(context.Background(), h.params(), h.inputs)
	require.ErrorIs(t, err, bridgeerr.ErrCodeMismatch)
	assert.Zero(t, h.backend.deploys)
	assert.Empty(t, h.admin.issued)
}

func TestHaltedMigrationResumes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.admin.reverts[erc20Proxy] = "Initializable: contract is already initialized"

	report, err := h.pipeline.Run(ctx, h.params(), h.inputs)
	require.Error(t, err)

	var brk *upgrade.SequenceBreakError
	require.ErrorAs(t, err, &brk)
	assert.Equal(t, 2, brk.FailedAt)
	assert.Equal(t, []string{"upgrade-shared-bridge", "upgrade-erc20-bridge"}, brk.Committed)
	assert.Equal(t, []string{"initialize-chain-governance-270"}, brk.Pending)
	assert.Equal(t, StatusHalted, report.Migration.Status)
	assert.Contains(t, string(report.Migration.Error), "Initializable: contract is already initialized")

	_, found, err := h.ledger.Chain(eraChainID)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, []string{"upgrade-shared-bridge", "upgrade-erc20-bridge"}, h.journal(t).Committed)

	delete(h.admin.reverts, erc20Proxy)
	h.admin.issued = nil
	params := h.params()
	params.Resume = true

	report, err = h.pipeline.Run(ctx, params, h.inputs)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Migration.Status)
	assert.Equal(t, []string{"upgrade-shared-bridge", "upgrade-erc20-bridge"}, report.Migration.Skipped)
	assert.Equal(t, []common.Address{erc20Proxy, sharedProxy}, h.admin.issued)
	assert.Len(t, h.journal(t).Committed, 4)

	_, found, err = h.ledger.Chain(eraChainID)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestResumeRejectsDifferentSalt(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, fsjson.NewWriter().WriteJSON(filepath.Join(h.dir, journalFileName), Journal{
		Owner:     signer,
		Salt:      common.HexToHash("0x01"),
		Committed: []string{"upgrade-shared-bridge"},
	}))

	params := h.params()
	params.Resume = true
	_, err := h.pipeline.Run(context.Background(), params, h.inputs)
	require.ErrorIs(t, err, bridgeerr.ErrResumeMismatch)
	assert.Zero(t, h.backend.deploys)
}

func TestPreflightRejectsConflictingLedgerChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.ledger.RegisterChain(ctx, ledger.ChainRecord{
		ChainID:     eraChainID,
		BaseToken:   weth,
		BridgeProxy: sharedProxy,
		L2Bridge:    l2EraBridge,
	}))

	_, err := h.pipeline.Run(ctx, h.params(), h.inputs)
	require.ErrorIs(t, err, bridgeerr.ErrBaseTokenImmutable)
	assert.Equal(t, bridgeerr.KindProtocolViolation, bridgeerr.KindOf(err))
	assert.Zero(t, h.backend.deploys)
	assert.Empty(t, h.admin.issued)

	record, found, err := h.ledger.Chain(eraChainID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, weth, record.BaseToken)
}

func TestResumedBreakCountsJournaledCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.admin.reverts[erc20Proxy] = "Initializable: contract is already initialized"

	_, err := h.pipeline.Run(ctx, h.params(), h.inputs)
	require.Error(t, err)

	h.admin.issued = nil
	params := h.params()
	params.Resume = true

	report, err := h.pipeline.Run(ctx, params, h.inputs)
	require.Error(t, err)

	var brk *upgrade.SequenceBreakError
	require.ErrorAs(t, err, &brk)
	assert.Equal(t, 2, brk.FailedAt)
	assert.Equal(t, "initialize-legacy-bridge-storage", brk.Failed)
	assert.Equal(t, []string{"upgrade-shared-bridge", "upgrade-erc20-bridge"}, brk.Committed)
	assert.Equal(t, []string{"initialize-chain-governance-270"}, brk.Pending)
	assert.Equal(t, bridgeerr.ReasonSequenceBreak, bridgeerr.ReasonOf(err))

	assert.Equal(t, []string{"upgrade-shared-bridge", "upgrade-erc20-bridge"}, report.Migration.Skipped)
	assert.Equal(t, []common.Address{erc20Proxy}, h.admin.issued)
	assert.Equal(t, []string{"upgrade-shared-bridge", "upgrade-erc20-bridge"}, h.journal(t).Committed)
}
