package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/compose-network/shared-bridge/configs"
	"github.com/compose-network/shared-bridge/internal/chain"
	"github.com/compose-network/shared-bridge/internal/crossdomain"
	"github.com/compose-network/shared-bridge/internal/ledger"
	"github.com/compose-network/shared-bridge/internal/metrics"
	"github.com/compose-network/shared-bridge/internal/registry"
	"github.com/compose-network/shared-bridge/internal/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"
)

type (
	service struct {
		cfg      configs.Config
		ledger   *ledger.Ledger
		roots    *ledger.StoreRoots
		registry *registry.Registry
		out      io.Writer
	}

	depositArgs struct {
		chainID         uint64
		sender          string
		token           string
		amount          string
		mintValue       string
		l2Receiver      string
		l2GasLimit      uint64
		gasPerPubdata   uint64
		refundRecipient string
		calldata        string
	}

	finalizeArgs struct {
		chainID  uint64
		batch    uint64
		index    uint64
		txNumber uint16
		message  string
		proof    []string
	}

	chainStatus struct {
		Chain    ledger.ChainRecord `yaml:"chain"`
		Custody  map[string]string  `yaml:"custody"`
		Messages []messageView      `yaml:"messages,omitempty"`
	}

	messageView struct {
		TxID       common.Hash    `yaml:"tx-id"`
		SerialID   uint64         `yaml:"serial-id"`
		Sender     common.Address `yaml:"sender"`
		L2Receiver common.Address `yaml:"l2-receiver"`
		Token      common.Address `yaml:"token"`
		Amount     string         `yaml:"amount"`
		MintValue  string         `yaml:"mint-value"`
	}

	withdrawalView struct {
		Kind     string         `yaml:"kind"`
		Receiver common.Address `yaml:"receiver"`
		Token    common.Address `yaml:"token,omitempty"`
		Amount   string         `yaml:"amount"`
	}
)

// withService opens the ledger described by cfg, runs fn and closes it.
// Metrics are exported to the configured textfile afterwards, also on error.
func withService(ctx context.Context, cfg configs.Config, out io.Writer, fn func(s *service) error) (err error) {
	m := metrics.New()
	defer func() {
		if cfg.Metrics.Textfile == "" {
			return
		}
		if werr := m.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			err = errors.Join(err, werr)
		}
	}()

	db, err := store.Open(cfg.Ledger.DataDir, false)
	if err != nil {
		return err
	}
	defer db.Close()

	s, closeOracle, err := newService(ctx, cfg, db, m, out)
	if err != nil {
		return err
	}
	defer closeOracle()

	return fn(s)
}

func newService(ctx context.Context, cfg configs.Config, db ethdb.KeyValueStore, m metrics.Metricer, out io.Writer) (*service, func(), error) {
	reg, err := registry.FromHex(cfg.Contracts.ByName(), cfg.Tokens)
	if err != nil {
		return nil, nil, err
	}

	storeRoots := ledger.NewStoreRoots(db)
	var roots ledger.RootOracle = storeRoots
	closeOracle := func() {}

	if cfg.Ledger.RootSource == configs.RootSourceRPC {
		client, err := chain.Dial(ctx, cfg.L1.RPCURL, "")
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to L1: %w", err)
		}
		diamonds := make(map[uint64]common.Address, len(cfg.Chains))
		for _, c := range cfg.Chains {
			diamonds[c.ID] = common.HexToAddress(c.DiamondProxy)
		}
		cached, err := ledger.NewCachedRoots(chain.NewMessageRootOracle(client, diamonds), cfg.Ledger.RootCacheSize, m)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		roots = cached
		closeOracle = client.Close
	}

	var legacyBridge common.Address
	if cfg.Ledger.LegacyBridge != "" {
		legacyBridge = common.HexToAddress(cfg.Ledger.LegacyBridge)
	}

	return &service{
		cfg:      cfg,
		ledger:   ledger.New(db, roots, ledger.Config{LegacyBridge: legacyBridge}, m),
		roots:    storeRoots,
		registry: reg,
		out:      out,
	}, closeOracle, nil
}

// registerChains registers every configured chain behind the shared bridge proxy.
func (s *service) registerChains(ctx context.Context) error {
	bridgeProxy, err := s.registry.Resolve(registry.ContractNameSharedBridgeProxy)
	if err != nil {
		return err
	}

	for _, c := range s.cfg.Chains {
		baseToken, err := s.registry.Token(c.BaseToken)
		if err != nil {
			return fmt.Errorf("chain %d: %w", c.ID, err)
		}
		record := ledger.ChainRecord{
			ChainID:     c.ID,
			BaseToken:   baseToken,
			BridgeProxy: bridgeProxy,
			L2Bridge:    common.HexToAddress(c.L2Bridge),
		}
		if err := s.ledger.RegisterChain(ctx, record); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "chain %d registered with base token %s\n", c.ID, baseToken.Hex())
	}
	return nil
}

func (s *service) mint(ctx context.Context, token, account, amount string) error {
	tokenAddr, err := s.token(token)
	if err != nil {
		return err
	}
	accountAddr, err := parseAddress("account", account)
	if err != nil {
		return err
	}
	value, err := parseAmount("amount", amount)
	if err != nil {
		return err
	}

	if err := s.ledger.Mint(ctx, tokenAddr, accountAddr, value); err != nil {
		return err
	}
	balance, err := s.ledger.BalanceOf(tokenAddr, accountAddr)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "balance of %s: %s\n", accountAddr.Hex(), balance.Dec())
	return nil
}

func (s *service) deposit(ctx context.Context, args depositArgs) error {
	req, err := s.depositRequest(args)
	if err != nil {
		return err
	}
	if args.token == "" {
		record, found, err := s.ledger.Chain(args.chainID)
		if err != nil {
			return err
		}
		if found {
			req.Token = record.BaseToken
		}
	}

	txID, err := s.ledger.DepositDirect(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "queued %s\n", txID.Hex())
	return nil
}

func (s *service) depositTwoBridges(ctx context.Context, args depositArgs) error {
	if args.calldata != "" {
		data, err := hexutil.Decode(args.calldata)
		if err != nil {
			return fmt.Errorf("invalid second bridge calldata: %w", err)
		}
		token, amount, l2Receiver, err := ledger.DecodeSecondBridgeCalldata(data)
		if err != nil {
			return err
		}
		args.token, args.amount, args.l2Receiver = token.Hex(), amount.Dec(), l2Receiver.Hex()
	}

	req, err := s.depositRequest(args)
	if err != nil {
		return err
	}
	mintValue, err := parseOptionalAmount("mint-value", args.mintValue)
	if err != nil {
		return err
	}

	txID, err := s.ledger.DepositViaSecondBridge(ctx, ledger.SecondBridgeDeposit{DepositRequest: req, MintValue: mintValue})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "queued %s\n", txID.Hex())
	return nil
}

// depositLegacy enters through the legacy erc20 bridge entry point as caller.
func (s *service) depositLegacy(ctx context.Context, caller string, args depositArgs) error {
	callerAddr, err := parseAddress("caller", caller)
	if err != nil {
		return err
	}
	req, err := s.depositRequest(args)
	if err != nil {
		return err
	}

	txID, err := s.ledger.DepositLegacyERC20Bridge(ctx, callerAddr, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "queued %s\n", txID.Hex())
	return nil
}

func (s *service) depositRequest(args depositArgs) (ledger.DepositRequest, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	req := ledger.DepositRequest{
		ChainID:              args.chainID,
		L2GasLimit:           args.l2GasLimit,
		L2GasPerPubdataLimit: args.gasPerPubdata,
	}
	var err error
	req.Sender, err = parseAddress("sender", args.sender)
	collect(err)
	req.L2Receiver, err = parseAddress("l2-receiver", args.l2Receiver)
	collect(err)
	req.Amount, err = parseAmount("amount", args.amount)
	collect(err)
	if args.token != "" {
		req.Token, err = s.token(args.token)
		collect(err)
	}
	if args.refundRecipient != "" {
		req.RefundRecipient, err = parseAddress("refund-recipient", args.refundRecipient)
		collect(err)
	}
	return req, errors.Join(errs...)
}

func (s *service) recordRoot(chainID, batch uint64, root string) error {
	raw, err := hexutil.Decode(root)
	if err != nil || len(raw) != common.HashLength {
		return fmt.Errorf("root must be 32 hex bytes, got %q", root)
	}
	if err := s.roots.SetMessageRoot(chainID, batch, common.BytesToHash(raw)); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "root of chain %d batch %d recorded\n", chainID, batch)
	return nil
}

func (s *service) finalize(ctx context.Context, args finalizeArgs) error {
	message, err := hexutil.Decode(args.message)
	if err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	proof, err := parseProof(args.proof)
	if err != nil {
		return err
	}

	w, err := s.ledger.FinalizeWithdrawal(ctx, crossdomain.WithdrawalMessage{
		ChainID:         args.chainID,
		BatchNumber:     args.batch,
		MessageIndex:    args.index,
		TxNumberInBatch: args.txNumber,
		Message:         message,
		Proof:           proof,
	})
	if err != nil {
		return err
	}
	return s.print(withdrawalView{Kind: w.Kind.String(), Receiver: w.Receiver, Token: w.Token, Amount: w.Amount.Dec()})
}

func (s *service) decodeWithdrawal(message string) error {
	raw, err := hexutil.Decode(message)
	if err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	payload, err := crossdomain.DecodeMessage(raw)
	if err != nil {
		return err
	}
	return s.print(withdrawalView{Kind: payload.Kind.String(), Receiver: payload.Receiver, Token: payload.Token, Amount: payload.Amount.Dec()})
}

func (s *service) status(chainID uint64) error {
	record, found, err := s.ledger.Chain(chainID)
	if err != nil {
		return err
	}
	if !found {
		record = ledger.ChainRecord{ChainID: chainID}
	}

	st := chainStatus{Chain: record, Custody: make(map[string]string)}
	for symbol, token := range s.registry.Snapshot().Tokens {
		balance, err := s.ledger.ChainBalance(chainID, token)
		if err != nil {
			return err
		}
		st.Custody[symbol] = balance.Dec()
	}

	messages, err := s.ledger.Messages(chainID)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		st.Messages = append(st.Messages, messageView{
			TxID:       msg.TxID,
			SerialID:   msg.SerialID,
			Sender:     msg.Sender,
			L2Receiver: msg.L2Receiver,
			Token:      msg.Token,
			Amount:     msg.Amount.Dec(),
			MintValue:  msg.MintValue.Dec(),
		})
	}
	return s.print(st)
}

func (s *service) print(v any) error {
	enc := yaml.NewEncoder(s.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

// token accepts a configured symbol or a hex address.
func (s *service) token(value string) (common.Address, error) {
	if common.IsHexAddress(value) {
		return common.HexToAddress(value), nil
	}
	return s.registry.Token(value)
}

func parseAddress(field, value string) (common.Address, error) {
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("--%s must be a hex address, got %q", field, value)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(field, value string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(strings.ReplaceAll(value, "_", ""))
	if err != nil {
		return nil, fmt.Errorf("--%s must be a decimal amount, got %q: %w", field, value, err)
	}
	return amount, nil
}

func parseOptionalAmount(field, value string) (*uint256.Int, error) {
	if value == "" {
		return new(uint256.Int), nil
	}
	return parseAmount(field, value)
}

func parseProof(values []string) ([]common.Hash, error) {
	proof := make([]common.Hash, 0, len(values))
	for i, value := range values {
		raw, err := hexutil.Decode(value)
		if err != nil || len(raw) != common.HashLength {
			return nil, fmt.Errorf("proof element %d must be 32 hex bytes, got %q", i, value)
		}
		proof = append(proof, common.BytesToHash(raw))
	}
	return proof, nil
}
