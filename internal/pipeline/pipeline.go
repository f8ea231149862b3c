// Package pipeline sequences a shared bridge migration: deterministic
// deployment of the new implementations, the admin upgrade calls that point
// the proxies at them, and seeding of the bridge ledger.
//
// Every input is validated and every deployment and authorization is checked
// before the first mutation, so configuration mistakes never leave the
// system half migrated.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"path/filepath"

	"github.com/compose-network/shared-bridge/internal/artifacts"
	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/compose-network/shared-bridge/internal/deployer"
	"github.com/compose-network/shared-bridge/internal/infra/filesystem"
	"github.com/compose-network/shared-bridge/internal/ledger"
	"github.com/compose-network/shared-bridge/internal/logger"
	"github.com/compose-network/shared-bridge/internal/registry"
	"github.com/compose-network/shared-bridge/internal/upgrade"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

const (
	slotSharedBridge = string(registry.ContractNameSharedBridgeImplementation)
	slotERC20Bridge  = string(registry.ContractNameERC20BridgeImplementation)
)

type (
	Deployer interface {
		Plan(ctx context.Context, salt common.Hash, c deployer.Contract, constructorArgs []byte) (deployer.Plan, error)
		Deploy(ctx context.Context, salt common.Hash, c deployer.Contract, constructorArgs []byte) (deployer.Result, error)
	}

	Sequencer interface {
		Run(ctx context.Context, calls []upgrade.Call) (upgrade.Report, error)
	}

	// Owners answers who may issue admin calls.
	Owners interface {
		Caller() common.Address
		OwnerOf(ctx context.Context, target common.Address) (common.Address, error)
	}

	Registrar interface {
		Chain(chainID uint64) (ledger.ChainRecord, bool, error)
		RegisterChain(ctx context.Context, record ledger.ChainRecord) error
	}

	Params struct {
		// Owner must own the proxy admin and the shared bridge. Defaults to the signer.
		Owner        common.Address
		Salt         common.Hash
		OnlyVerifier bool
		Resume       bool
		OutputDir    string
	}

	ChainInput struct {
		ID              uint64
		BaseTokenSymbol string
		L2Bridge        common.Address
	}

	Inputs struct {
		SharedBridge     artifacts.Artifact
		DummyERC20Bridge artifacts.Artifact
		// L2TokenProxyBytecode is the L2 beacon proxy bytecode deployed for
		// every bridged token.
		L2TokenProxyBytecode []byte
		L2SharedBridge       common.Address
		L2TokenBeacon        common.Address
		EraChainID           uint64
		Chains               []ChainInput
	}

	Pipeline struct {
		deployer  Deployer
		sequencer Sequencer
		owners    Owners
		ledger    Registrar
		registry  *registry.Registry
		reader    filesystem.Reader
		writer    filesystem.Writer
		logger    *slog.Logger
	}

	implementation struct {
		name     registry.ContractName
		salt     common.Hash
		contract deployer.Contract
		args     []byte
		planned  common.Address
	}

	// run is the state of one Run invocation.
	run struct {
		params          Params
		owner           common.Address
		chains          []ledger.ChainRecord
		tokenHash       common.Hash
		implementations []*implementation
		journal         Journal
		report          Report
	}
)

func New(
	d Deployer,
	sequencer Sequencer,
	owners Owners,
	registrar Registrar,
	reg *registry.Registry,
	reader filesystem.Reader,
	writer filesystem.Writer,
) *Pipeline {
	return &Pipeline{
		deployer:  d,
		sequencer: sequencer,
		owners:    owners,
		ledger:    registrar,
		registry:  reg,
		reader:    reader,
		writer:    writer,
		logger:    logger.Named("migration_pipeline"),
	}
}

// Run executes the migration. The report is written to the output directory
// whether or not the migration completes; a halted upgrade sequence is
// returned as a *upgrade.SequenceBreakError.
func (p *Pipeline) Run(ctx context.Context, params Params, in Inputs) (Report, error) {
	r := &run{params: params}

	p.step("validate inputs")
	if err := p.validate(r, in); err != nil {
		return Report{}, err
	}
	r.report.Migration.Owner = r.owner
	r.report.Migration.Salt = params.Salt

	if err := p.loadJournal(r); err != nil {
		return Report{}, err
	}

	p.step("preflight")
	calls, err := p.preflight(ctx, r, in)
	if err != nil {
		return Report{}, err
	}

	p.step("deploy implementations")
	if err := p.deploy(ctx, r); err != nil {
		return p.finish(r, err)
	}

	if params.OnlyVerifier {
		p.logger.Info("verifier-only mode, skipping upgrades")
		r.report.Migration.Status = StatusVerifier
		return p.finish(r, nil)
	}

	p.step("execute upgrade calls")
	if err := p.upgrade(ctx, r, calls); err != nil {
		return p.finish(r, err)
	}

	p.step("seed bridge ledger")
	for _, chain := range r.chains {
		if err := p.ledger.RegisterChain(ctx, chain); err != nil {
			return p.finish(r, fmt.Errorf("failed to register chain %d: %w", chain.ChainID, err))
		}
		r.report.Migration.Chains = append(r.report.Migration.Chains, chain)
	}

	r.report.Migration.Status = StatusCompleted
	return p.finish(r, nil)
}

func (p *Pipeline) step(name string) {
	p.logger.With("step", name).Info("migration step")
}

// validate reports every configuration problem at once.
func (p *Pipeline) validate(r *run, in Inputs) error {
	var errs []error

	if r.params.Salt == (common.Hash{}) {
		errs = append(errs, bridgeerr.New(bridgeerr.ErrMissingSalt, "a create2 salt is required"))
	}

	r.owner = r.params.Owner
	if r.owner == (common.Address{}) {
		r.owner = p.owners.Caller()
	}
	if r.owner == (common.Address{}) {
		errs = append(errs, bridgeerr.New(bridgeerr.ErrZeroAddress, "no owner address and no signer"))
	}

	if err := p.registry.Require(
		registry.ContractNameBridgehubProxy,
		registry.ContractNameTransparentProxyAdmin,
		registry.ContractNameSharedBridgeProxy,
		registry.ContractNameERC20BridgeProxy,
		registry.ContractNameEraDiamondProxy,
		registry.ContractNameWETH,
	); err != nil {
		errs = append(errs, err)
	}

	if len(in.SharedBridge.Bytecode) == 0 {
		errs = append(errs, fmt.Errorf("missing %s artifact", artifacts.NameSharedBridge))
	}
	if len(in.DummyERC20Bridge.Bytecode) == 0 {
		errs = append(errs, fmt.Errorf("missing %s artifact", artifacts.NameDummyERC20Bridge))
	}

	if !r.params.OnlyVerifier {
		if in.L2SharedBridge == (common.Address{}) {
			errs = append(errs, bridgeerr.New(bridgeerr.ErrZeroAddress, "l2 shared bridge"))
		}
		if in.L2TokenBeacon == (common.Address{}) {
			errs = append(errs, bridgeerr.New(bridgeerr.ErrZeroAddress, "l2 token beacon"))
		}

		hash, err := deployer.HashL2Bytecode(in.L2TokenProxyBytecode)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid l2 token proxy bytecode: %w", err))
		}
		r.tokenHash = hash

		if len(errs) == 0 {
			chains, err := p.chainRecords(in.Chains)
			if err != nil {
				errs = append(errs, err)
			}
			r.chains = chains
		}
	}

	return errors.Join(errs...)
}

func (p *Pipeline) chainRecords(inputs []ChainInput) ([]ledger.ChainRecord, error) {
	sharedBridgeProxy, err := p.registry.Resolve(registry.ContractNameSharedBridgeProxy)
	if err != nil {
		return nil, err
	}

	var errs []error
	seen := make(map[uint64]struct{}, len(inputs))
	records := make([]ledger.ChainRecord, 0, len(inputs))
	for _, c := range inputs {
		if _, dup := seen[c.ID]; dup {
			errs = append(errs, fmt.Errorf("chain %d configured twice", c.ID))
			continue
		}
		seen[c.ID] = struct{}{}

		baseToken, err := p.registry.Token(c.BaseTokenSymbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("chain %d: %w", c.ID, err))
			continue
		}
		if c.L2Bridge == (common.Address{}) {
			errs = append(errs, bridgeerr.New(bridgeerr.ErrZeroAddress, "chain %d has no l2 bridge", c.ID))
			continue
		}

		records = append(records, ledger.ChainRecord{
			ChainID:     c.ID,
			BaseToken:   baseToken,
			BridgeProxy: sharedBridgeProxy,
			L2Bridge:    c.L2Bridge,
		})
	}
	return records, errors.Join(errs...)
}

func (p *Pipeline) loadJournal(r *run) error {
	r.journal = Journal{Owner: r.owner, Salt: r.params.Salt}
	if !r.params.Resume {
		return nil
	}

	path := filepath.Join(r.params.OutputDir, journalFileName)
	exists, err := p.reader.Exists(path)
	if err != nil {
		return err
	}
	if !exists {
		p.logger.With("file_path", path).Warn("no journal to resume from, starting fresh")
		return nil
	}

	var previous Journal
	if err := p.reader.ReadJSON(path, &previous); err != nil {
		return fmt.Errorf("failed to load journal: %w", err)
	}
	if previous.Salt != r.params.Salt || previous.Owner != r.owner {
		return bridgeerr.New(bridgeerr.ErrResumeMismatch, "journal was written for owner %s salt %s",
			previous.Owner.Hex(), previous.Salt.Hex())
	}

	r.journal = previous
	p.logger.With("committed", previous.Committed).Info("resuming migration")
	return nil
}

// preflight plans every deployment and checks call authorization without
// mutating anything. It returns the upgrade calls still to run.
func (p *Pipeline) preflight(ctx context.Context, r *run, in Inputs) ([]upgrade.Call, error) {
	weth, _ := p.registry.Resolve(registry.ContractNameWETH)
	bridgehub, _ := p.registry.Resolve(registry.ContractNameBridgehubProxy)
	eraDiamond, _ := p.registry.Resolve(registry.ContractNameEraDiamondProxy)
	sharedBridgeProxy, _ := p.registry.Resolve(registry.ContractNameSharedBridgeProxy)
	erc20BridgeProxy, _ := p.registry.Resolve(registry.ContractNameERC20BridgeProxy)
	proxyAdmin, _ := p.registry.Resolve(registry.ContractNameTransparentProxyAdmin)

	sharedArgs, err := in.SharedBridge.PackConstructor(weth, bridgehub, new(big.Int).SetUint64(in.EraChainID), eraDiamond)
	if err != nil {
		return nil, err
	}
	dummyArgs, err := in.DummyERC20Bridge.PackConstructor(sharedBridgeProxy)
	if err != nil {
		return nil, err
	}

	r.implementations = []*implementation{
		{
			name:     registry.ContractNameSharedBridgeImplementation,
			salt:     deployer.SlotSalt(r.params.Salt, slotSharedBridge),
			contract: in.SharedBridge.Contract(),
			args:     sharedArgs,
		},
		{
			name:     registry.ContractNameERC20BridgeImplementation,
			salt:     deployer.SlotSalt(r.params.Salt, slotERC20Bridge),
			contract: in.DummyERC20Bridge.Contract(),
			args:     dummyArgs,
		},
	}

	for _, impl := range r.implementations {
		plan, err := p.deployer.Plan(ctx, impl.salt, impl.contract, impl.args)
		if err != nil {
			return nil, fmt.Errorf("preflight of %s failed: %w", impl.name, err)
		}
		impl.planned = plan.Address
		p.logger.
			With("contract", impl.name).
			With("address", plan.Address.Hex()).
			With("present", plan.Present).
			Info("deployment planned")
	}

	if r.params.OnlyVerifier {
		return nil, nil
	}

	if err := p.checkRegistrations(r); err != nil {
		return nil, err
	}

	calls, err := p.calls(r, in, proxyAdmin, sharedBridgeProxy, erc20BridgeProxy)
	if err != nil {
		return nil, err
	}

	if caller := p.owners.Caller(); caller != r.owner {
		return nil, bridgeerr.New(bridgeerr.ErrUnauthorized, "owner %s is not the signer %s", r.owner.Hex(), caller.Hex())
	}

	checked := make(map[common.Address]struct{})
	for _, call := range calls {
		if call.Unguarded {
			continue
		}
		if _, ok := checked[call.Target]; ok {
			continue
		}
		checked[call.Target] = struct{}{}

		owner, err := p.owners.OwnerOf(ctx, call.Target)
		if err != nil {
			return nil, fmt.Errorf("failed to read owner of %s: %w", call.Target.Hex(), err)
		}
		if owner != r.owner {
			return nil, bridgeerr.New(bridgeerr.ErrUnauthorized, "%s (%s) is owned by %s, not %s",
				call.Name, call.Target.Hex(), owner.Hex(), r.owner.Hex())
		}
	}

	return calls, nil
}

// checkRegistrations rejects a chain the ledger already holds under a
// different registration, since seeding it would fail after the upgrades.
func (p *Pipeline) checkRegistrations(r *run) error {
	for _, record := range r.chains {
		existing, found, err := p.ledger.Chain(record.ChainID)
		if err != nil {
			return fmt.Errorf("failed to read chain %d from the ledger: %w", record.ChainID, err)
		}
		if found && !existing.SameRegistration(record) {
			return bridgeerr.New(bridgeerr.ErrBaseTokenImmutable,
				"chain %d is registered with base token %s", record.ChainID, existing.BaseToken.Hex())
		}
	}
	return nil
}

func (p *Pipeline) calls(r *run, in Inputs, proxyAdmin, sharedBridgeProxy, erc20BridgeProxy common.Address) ([]upgrade.Call, error) {
	sharedImpl, dummyImpl := r.implementations[0].planned, r.implementations[1].planned

	var calls []upgrade.Call
	add := func(call upgrade.Call, err error) error {
		if err != nil {
			return err
		}
		calls = append(calls, call)
		return nil
	}

	if err := add(upgrade.UpgradeProxy("upgrade-shared-bridge", proxyAdmin, sharedBridgeProxy, sharedImpl)); err != nil {
		return nil, err
	}
	if err := add(upgrade.UpgradeProxy("upgrade-erc20-bridge", proxyAdmin, erc20BridgeProxy, dummyImpl)); err != nil {
		return nil, err
	}
	if err := add(upgrade.InitializeLegacyBridge(erc20BridgeProxy, in.L2SharedBridge, in.L2TokenBeacon, r.tokenHash)); err != nil {
		return nil, err
	}
	for _, chain := range r.chains {
		if err := add(upgrade.InitializeChainGovernance(sharedBridgeProxy, chain.ChainID, chain.L2Bridge)); err != nil {
			return nil, err
		}
	}
	return calls, nil
}

func (p *Pipeline) deploy(ctx context.Context, r *run) error {
	r.report.Migration.Deployments = nil
	for _, impl := range r.implementations {
		result, err := p.deployer.Deploy(ctx, impl.salt, impl.contract, impl.args)
		if err != nil {
			return fmt.Errorf("failed to deploy %s: %w", impl.name, err)
		}
		if result.Address != impl.planned {
			return bridgeerr.New(bridgeerr.ErrCodeMismatch, "%s deployed at %s, planned %s",
				impl.name, result.Address.Hex(), impl.planned.Hex())
		}

		p.registry.Set(impl.name, result.Address)
		r.report.Migration.Deployments = append(r.report.Migration.Deployments, result)
	}
	r.journal.Deployments = r.report.Migration.Deployments
	return nil
}

// upgrade runs the calls the journal has not committed yet. A sequence break
// is reported against the full call list, journaled calls included.
func (p *Pipeline) upgrade(ctx context.Context, r *run, calls []upgrade.Call) error {
	var skipped []string
	pending := make([]upgrade.Call, 0, len(calls))
	for _, call := range calls {
		if r.journal.committed(call.Name) {
			p.logger.With("call", call.Name).Info("already committed, skipping")
			skipped = append(skipped, call.Name)
			continue
		}
		pending = append(pending, call)
	}
	r.report.Migration.Skipped = append(r.report.Migration.Skipped, skipped...)

	report, err := p.sequencer.Run(ctx, pending)
	r.report.Migration.Calls = report.Outcomes
	for _, outcome := range report.Outcomes {
		if outcome.Status == upgrade.StatusCommitted {
			r.journal.commit(outcome.Name)
		}
	}

	var brk *upgrade.SequenceBreakError
	if errors.As(err, &brk) && len(skipped) > 0 {
		brk.FailedAt += len(skipped)
		brk.Committed = append(skipped, brk.Committed...)
	}
	return err
}

// finish persists the journal, the registry and the report. A persistence
// failure is joined to cause rather than hiding it.
func (p *Pipeline) finish(r *run, cause error) (Report, error) {
	m := &r.report.Migration
	if cause != nil {
		m.Status = StatusHalted
		m.Error = SingleQuotedString(cause.Error())
		p.logger.With("err", cause.Error()).Error("migration halted")
	}
	m.Contracts = p.registry.Snapshot().Contracts

	var errs []error
	if err := p.writer.WriteJSON(filepath.Join(r.params.OutputDir, journalFileName), r.journal); err != nil {
		errs = append(errs, fmt.Errorf("failed to write journal: %w", err))
	}
	if _, err := p.registry.Write(p.writer, r.params.OutputDir); err != nil {
		errs = append(errs, err)
	}

	data, err := yaml.Marshal(r.report)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to marshal report: %w", err))
	} else if err := p.writer.WriteBytes(filepath.Join(r.params.OutputDir, reportFileName), data); err != nil {
		errs = append(errs, fmt.Errorf("failed to write report: %w", err))
	}

	if len(errs) > 0 {
		return r.report, errors.Join(append([]error{cause}, errs...)...)
	}
	if cause == nil {
		p.logger.With("status", m.Status).Info("migration finished")
	}
	return r.report, cause
}
