// Package ledger is the bridge's book of record: registered chains, custody
// balances held for each chain, the L1 token book, the per-chain queue of
// cross-domain messages and the set of finalized withdrawals.
//
// Every operation is linearized by one mutex and commits all of its writes in
// a single batch, so a rejected operation leaves no trace.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/compose-network/shared-bridge/internal/logger"
	"github.com/compose-network/shared-bridge/internal/metrics"
	"github.com/compose-network/shared-bridge/internal/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
)

type ChainState uint8

const (
	ChainUnregistered ChainState = iota
	ChainRegistered
	ChainActive
)

func (s ChainState) String() string {
	switch s {
	case ChainRegistered:
		return "registered"
	case ChainActive:
		return "active"
	default:
		return "unregistered"
	}
}

func (s ChainState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type (
	// ChainRecord is fixed at registration. Only State moves afterwards.
	ChainRecord struct {
		ChainID     uint64         `json:"chainId" yaml:"chain-id"`
		BaseToken   common.Address `json:"baseToken" yaml:"base-token"`
		BridgeProxy common.Address `json:"bridgeProxy" yaml:"bridge-proxy"`
		L2Bridge    common.Address `json:"l2Bridge" yaml:"l2-bridge"`
		State       ChainState     `json:"state" yaml:"state"`
	}

	// L2Message is a queued deposit awaiting execution on L2.
	L2Message struct {
		TxID                 common.Hash
		SerialID             uint64
		ChainID              uint64
		Sender               common.Address
		L2Receiver           common.Address
		Token                common.Address
		Amount               *uint256.Int
		MintValue            *uint256.Int
		L2GasLimit           uint64
		L2GasPerPubdataLimit uint64
		RefundRecipient      common.Address
	}

	Config struct {
		// LegacyBridge is the only caller allowed into DepositLegacyERC20Bridge.
		LegacyBridge common.Address
	}

	Ledger struct {
		mu sync.Mutex

		db           ethdb.KeyValueStore
		roots        RootOracle
		legacyBridge common.Address
		metrics      metrics.Metricer
		logger       *slog.Logger
	}
)

// SameRegistration reports whether other registers the same chain the same way.
func (r ChainRecord) SameRegistration(other ChainRecord) bool {
	return r.ChainID == other.ChainID &&
		r.BaseToken == other.BaseToken &&
		r.BridgeProxy == other.BridgeProxy &&
		r.L2Bridge == other.L2Bridge
}

func New(db ethdb.KeyValueStore, roots RootOracle, cfg Config, m metrics.Metricer) *Ledger {
	if m == nil {
		m = metrics.NoopMetrics
	}
	return &Ledger{
		db:           db,
		roots:        roots,
		legacyBridge: cfg.LegacyBridge,
		metrics:      m,
		logger:       logger.Named("bridge_ledger"),
	}
}

// RegisterChain fixes the base token of a chain. Registering the same record
// again is a no-op; any other record for a registered chain is rejected.
func (l *Ledger) RegisterChain(_ context.Context, record ChainRecord) error {
	const op = "register-chain"

	if record.BaseToken == (common.Address{}) {
		return l.reject(op, bridgeerr.New(bridgeerr.ErrZeroAddress, "chain %d has no base token", record.ChainID))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	existing, found, err := l.chain(record.ChainID)
	if err != nil {
		return err
	}
	if found {
		if existing.SameRegistration(record) {
			return nil
		}
		return l.reject(op, bridgeerr.New(bridgeerr.ErrBaseTokenImmutable,
			"chain %d is registered with base token %s", record.ChainID, existing.BaseToken.Hex()))
	}

	record.State = ChainRegistered
	if err := store.PutRLP(l.db, chainKey(record.ChainID), record); err != nil {
		return fmt.Errorf("failed to register chain %d: %w", record.ChainID, err)
	}

	l.logger.
		With("chain_id", record.ChainID).
		With("base_token", record.BaseToken.Hex()).
		With("bridge_proxy", record.BridgeProxy.Hex()).
		Info("chain registered")
	return nil
}

// Chain returns the record of chainID and whether it is registered.
func (l *Ledger) Chain(chainID uint64) (ChainRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chain(chainID)
}

// Mint credits freshly created tokens to account. It backs the testnet faucet.
func (l *Ledger) Mint(_ context.Context, token, account common.Address, amount *uint256.Int) error {
	const op = "mint"

	if amount == nil || amount.IsZero() {
		return l.reject(op, bridgeerr.New(bridgeerr.ErrZeroAmount, "nothing to mint"))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	m := l.mutate()
	if err := m.credit(balanceKey(token, account), amount); err != nil {
		return l.reject(op, err)
	}
	return m.commit()
}

func (l *Ledger) BalanceOf(token, account common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return readAmount(l.db, balanceKey(token, account))
}

// ChainBalance is the amount of token held in custody for chainID.
func (l *Ledger) ChainBalance(chainID uint64, token common.Address) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return readAmount(l.db, custodyKey(chainID, token))
}

// Messages lists the queued messages of chainID in serial order.
func (l *Ledger) Messages(chainID uint64) ([]L2Message, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	it := l.db.NewIterator(store.Key(queuePrefix, u64(chainID)), nil)
	defer it.Release()

	var out []L2Message
	for it.Next() {
		var msg L2Message
		if err := rlp.DecodeBytes(it.Value(), &msg); err != nil {
			return nil, fmt.Errorf("failed to decode queued message %x: %w", it.Key(), err)
		}
		out = append(out, msg)
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue of chain %d: %w", chainID, err)
	}
	return out, nil
}

func (l *Ledger) chain(chainID uint64) (ChainRecord, bool, error) {
	var record ChainRecord
	found, err := store.GetRLP(l.db, chainKey(chainID), &record)
	if err != nil {
		return ChainRecord{}, false, fmt.Errorf("failed to load chain %d: %w", chainID, err)
	}
	return record, found, nil
}

func (l *Ledger) registeredChain(chainID uint64) (ChainRecord, error) {
	record, found, err := l.chain(chainID)
	if err != nil {
		return ChainRecord{}, err
	}
	if !found {
		return ChainRecord{}, bridgeerr.New(bridgeerr.ErrChainNotRegistered, "chain %d", chainID)
	}
	return record, nil
}

func (l *Ledger) reject(operation string, err error) error {
	if reason := bridgeerr.ReasonOf(err); reason != "" {
		l.metrics.RecordRejection(operation, reason)
		l.logger.With("operation", operation).With("reason", reason).Warn(err.Error())
	}
	return err
}

// mutation stages the writes of one operation. Amounts are cached so an
// operation reads its own writes before they are committed.
type mutation struct {
	db      ethdb.KeyValueReader
	batch   ethdb.Batch
	amounts map[string]*uint256.Int
	order   []string
}

func (l *Ledger) mutate() *mutation {
	return &mutation{db: l.db, batch: l.db.NewBatch(), amounts: make(map[string]*uint256.Int)}
}

func (m *mutation) amount(key []byte) (*uint256.Int, error) {
	if v, ok := m.amounts[string(key)]; ok {
		return v, nil
	}
	v, err := readAmount(m.db, key)
	if err != nil {
		return nil, err
	}
	m.amounts[string(key)] = v
	m.order = append(m.order, string(key))
	return v, nil
}

func (m *mutation) credit(key []byte, amount *uint256.Int) error {
	current, err := m.amount(key)
	if err != nil {
		return err
	}
	if _, overflow := current.AddOverflow(current, amount); overflow {
		return bridgeerr.New(bridgeerr.ErrAmountOverflow, "credit of %s overflows", amount.Dec())
	}
	return nil
}

// debit fails with shortfall when the balance at key is below amount.
func (m *mutation) debit(key []byte, amount *uint256.Int, shortfall *bridgeerr.Error) error {
	current, err := m.amount(key)
	if err != nil {
		return err
	}
	if current.Lt(amount) {
		return bridgeerr.New(shortfall, "have %s, need %s", current.Dec(), amount.Dec())
	}
	current.Sub(current, amount)
	return nil
}

func (m *mutation) put(key []byte, v any) error {
	return store.PutRLP(m.batch, key, v)
}

func (m *mutation) commit() error {
	for _, key := range m.order {
		word := m.amounts[key].Bytes32()
		if err := m.batch.Put([]byte(key), word[:]); err != nil {
			return fmt.Errorf("failed to stage balance: %w", err)
		}
	}
	if err := m.batch.Write(); err != nil {
		return fmt.Errorf("failed to commit ledger batch: %w", err)
	}
	return nil
}

func readAmount(db ethdb.KeyValueReader, key []byte) (*uint256.Int, error) {
	ok, err := db.Has(key)
	if err != nil {
		return nil, fmt.Errorf("failed to check balance %x: %w", key, err)
	}
	if !ok {
		return new(uint256.Int), nil
	}
	raw, err := db.Get(key)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance %x: %w", key, err)
	}
	return new(uint256.Int).SetBytes(raw), nil
}
