package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/compose-network/shared-bridge/configs"
	"github.com/compose-network/shared-bridge/internal/artifacts"
	"github.com/compose-network/shared-bridge/internal/chain"
	"github.com/compose-network/shared-bridge/internal/deployer"
	fsjson "github.com/compose-network/shared-bridge/internal/infra/filesystem/json"
	"github.com/compose-network/shared-bridge/internal/ledger"
	"github.com/compose-network/shared-bridge/internal/metrics"
	"github.com/compose-network/shared-bridge/internal/pipeline"
	"github.com/compose-network/shared-bridge/internal/registry"
	"github.com/compose-network/shared-bridge/internal/store"
	"github.com/compose-network/shared-bridge/internal/upgrade"
	"github.com/ethereum/go-ethereum/common"
)

func run(ctx context.Context, cfg configs.Config) (err error) {
	m := metrics.New()
	defer func() {
		if cfg.Metrics.Textfile == "" {
			return
		}
		if werr := m.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			err = errors.Join(err, werr)
		}
	}()

	reg, err := registry.FromHex(cfg.Contracts.ByName(), cfg.Tokens)
	if err != nil {
		return err
	}
	factory := deployer.DefaultFactory
	if cfg.L1.Create2Factory != "" {
		factory = common.HexToAddress(cfg.L1.Create2Factory)
	}
	reg.Set(registry.ContractNameCreate2Factory, factory)

	client, err := chain.Dial(ctx, cfg.L1.RPCURL, cfg.L1.PrivateKey)
	if err != nil {
		return fmt.Errorf("failed to connect to L1: %w", err)
	}
	defer client.Close()

	reader := fsjson.NewReader()
	inputs, err := loadInputs(ctx, reader, cfg)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Ledger.DataDir, false)
	if err != nil {
		return err
	}
	defer db.Close()

	p := pipeline.New(
		deployer.New(client, factory, m),
		upgrade.New(client, upgrade.NewKVBindings(db), m),
		client,
		ledger.New(db, ledger.NewStoreRoots(db), ledger.Config{LegacyBridge: address(cfg.Ledger.LegacyBridge)}, m),
		reg,
		reader,
		fsjson.NewWriter(),
	)

	params := pipeline.Params{
		Owner:        address(cfg.Migration.OwnerAddress),
		Salt:         common.HexToHash(cfg.Migration.Create2Salt),
		OnlyVerifier: cfg.Migration.OnlyVerifier,
		Resume:       cfg.Migration.Resume,
		OutputDir:    cfg.Migration.OutputDir,
	}

	report, err := p.Run(ctx, params, inputs)
	if err != nil {
		var brk *upgrade.SequenceBreakError
		if errors.As(err, &brk) {
			slog.
				With("committed", brk.Committed).
				With("failed", brk.Failed).
				With("pending", brk.Pending).
				Error("upgrade sequence halted, rerun with --resume once the cause is fixed")
		}
		return err
	}

	for _, d := range report.Migration.Deployments {
		slog.
			With("contract", d.Name).
			With("address", d.Address.Hex()).
			With("deployed", d.Deployed).
			Info("implementation")
	}
	slog.With("status", report.Migration.Status).With("output_dir", cfg.Migration.OutputDir).Info("migration complete")
	return nil
}

func loadInputs(ctx context.Context, reader *fsjson.Reader, cfg configs.Config) (pipeline.Inputs, error) {
	names := []string{artifacts.NameSharedBridge, artifacts.NameDummyERC20Bridge}
	if !cfg.Migration.OnlyVerifier {
		names = append(names, artifacts.NameBeaconProxy)
	}
	loaded, err := artifacts.LoadDir(reader, cfg.Migration.ArtifactsDir, names...)
	if err != nil {
		return pipeline.Inputs{}, err
	}

	in := pipeline.Inputs{
		SharedBridge:     loaded[artifacts.NameSharedBridge],
		DummyERC20Bridge: loaded[artifacts.NameDummyERC20Bridge],
		EraChainID:       cfg.L1.EraChainID,
	}
	if cfg.Migration.OnlyVerifier {
		return in, nil
	}

	in.L2TokenProxyBytecode = loaded[artifacts.NameBeaconProxy].Bytecode
	in.L2SharedBridge = address(cfg.L2.SharedBridge)
	in.L2TokenBeacon = address(cfg.L2.TokenBeacon)
	if in.L2TokenBeacon == (common.Address{}) {
		beacon, err := readTokenBeacon(ctx, cfg.L2.RPCURL, in.L2SharedBridge)
		if err != nil {
			return pipeline.Inputs{}, err
		}
		in.L2TokenBeacon = beacon
	}

	for _, c := range cfg.Chains {
		in.Chains = append(in.Chains, pipeline.ChainInput{
			ID:              c.ID,
			BaseTokenSymbol: c.BaseToken,
			L2Bridge:        address(c.L2Bridge),
		})
	}
	return in, nil
}

func readTokenBeacon(ctx context.Context, url string, l2SharedBridge common.Address) (common.Address, error) {
	l2, err := chain.Dial(ctx, url, "")
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to connect to L2: %w", err)
	}
	defer l2.Close()

	beacon, err := l2.L2TokenBeacon(ctx, l2SharedBridge)
	if err != nil {
		return common.Address{}, err
	}
	slog.With("l2_token_beacon", beacon.Hex()).Info("token beacon read from L2 shared bridge")
	return beacon, nil
}

func address(value string) common.Address {
	if value == "" {
		return common.Address{}
	}
	return common.HexToAddress(value)
}
