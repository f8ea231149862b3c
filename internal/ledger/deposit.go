package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	DepositKindDirect       = "direct"
	DepositKindSecondBridge = "second-bridge"
	DepositKindLegacy       = "legacy-erc20"
)

type (
	DepositRequest struct {
		ChainID              uint64
		Sender               common.Address
		Token                common.Address
		Amount               *uint256.Int
		L2Receiver           common.Address
		L2GasLimit           uint64
		L2GasPerPubdataLimit uint64
		RefundRecipient      common.Address
	}

	// SecondBridgeDeposit moves a non-base token. MintValue is the base-token
	// leg paying for L2 execution; both legs commit together or not at all.
	SecondBridgeDeposit struct {
		DepositRequest
		MintValue *uint256.Int
	}
)

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)

	// (address l1Token, uint256 amount, address l2Receiver)
	secondBridgeCalldataArgs = abi.Arguments{{Type: addressT}, {Type: uint256T}, {Type: addressT}}

	txIDArgs = abi.Arguments{
		{Type: uint256T}, // chain id
		{Type: uint256T}, // serial id
		{Type: addressT}, // sender
		{Type: addressT}, // l2 receiver
		{Type: addressT}, // token
		{Type: uint256T}, // amount
		{Type: uint256T}, // mint value
		{Type: uint256T}, // l2 gas limit
		{Type: uint256T}, // l2 gas per pubdata limit
		{Type: addressT}, // refund recipient
	}
)

// DecodeSecondBridgeCalldata decodes the abi-encoded (token, amount,
// l2Receiver) payload handed to the second bridge.
func DecodeSecondBridgeCalldata(data []byte) (token common.Address, amount *uint256.Int, l2Receiver common.Address, err error) {
	values, err := secondBridgeCalldataArgs.Unpack(data)
	if err != nil {
		return common.Address{}, nil, common.Address{}, fmt.Errorf("failed to decode second bridge calldata: %w", err)
	}

	raw, ok := values[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, common.Address{}, fmt.Errorf("unexpected amount type %T", values[1])
	}
	amount, overflow := uint256.FromBig(raw)
	if overflow {
		return common.Address{}, nil, common.Address{}, bridgeerr.New(bridgeerr.ErrAmountOverflow, "second bridge amount")
	}
	return values[0].(common.Address), amount, values[2].(common.Address), nil
}

// EncodeSecondBridgeCalldata is the inverse of DecodeSecondBridgeCalldata.
func EncodeSecondBridgeCalldata(token common.Address, amount *uint256.Int, l2Receiver common.Address) ([]byte, error) {
	return secondBridgeCalldataArgs.Pack(token, amount.ToBig(), l2Receiver)
}

// DepositDirect deposits the chain's base token.
func (l *Ledger) DepositDirect(_ context.Context, req DepositRequest) (common.Hash, error) {
	const op = "deposit-direct"

	l.mu.Lock()
	defer l.mu.Unlock()

	chain, err := l.registeredChain(req.ChainID)
	if err != nil {
		return common.Hash{}, l.reject(op, err)
	}
	if req.Token != chain.BaseToken {
		return common.Hash{}, l.reject(op, bridgeerr.New(bridgeerr.ErrBaseTokenMismatch,
			"chain %d base token is %s, got %s", req.ChainID, chain.BaseToken.Hex(), req.Token.Hex()))
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return common.Hash{}, l.reject(op, bridgeerr.New(bridgeerr.ErrZeroAmount, "empty deposit"))
	}

	m := l.mutate()
	if err := m.debit(balanceKey(req.Token, req.Sender), req.Amount, bridgeerr.ErrInsufficientBalance); err != nil {
		return common.Hash{}, l.reject(op, err)
	}
	if err := m.credit(custodyKey(req.ChainID, req.Token), req.Amount); err != nil {
		return common.Hash{}, l.reject(op, err)
	}

	msg, err := l.enqueue(m, chain, req, req.Amount)
	if err != nil {
		return common.Hash{}, err
	}
	l.recordDeposit(DepositKindDirect, msg)
	return msg.TxID, nil
}

// DepositViaSecondBridge deposits a non-base token together with the
// base-token mint value that pays for its L2 execution.
func (l *Ledger) DepositViaSecondBridge(_ context.Context, req SecondBridgeDeposit) (common.Hash, error) {
	const op = "deposit-second-bridge"

	l.mu.Lock()
	defer l.mu.Unlock()

	chain, err := l.registeredChain(req.ChainID)
	if err != nil {
		return common.Hash{}, l.reject(op, err)
	}
	if req.Token == chain.BaseToken {
		return common.Hash{}, l.reject(op, bridgeerr.New(bridgeerr.ErrBaseTokenMismatch,
			"base token %s must be deposited directly", req.Token.Hex()))
	}
	if req.MintValue == nil || req.MintValue.IsZero() {
		return common.Hash{}, l.reject(op, bridgeerr.New(bridgeerr.ErrBaseTokenMismatch, "missing base token leg"))
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return common.Hash{}, l.reject(op, bridgeerr.New(bridgeerr.ErrZeroAmount, "empty deposit"))
	}

	m := l.mutate()
	if err := m.debit(balanceKey(chain.BaseToken, req.Sender), req.MintValue, bridgeerr.ErrBaseTokenMismatch); err != nil {
		return common.Hash{}, l.reject(op, err)
	}
	if err := m.credit(custodyKey(req.ChainID, chain.BaseToken), req.MintValue); err != nil {
		return common.Hash{}, l.reject(op, err)
	}
	if err := m.debit(balanceKey(req.Token, req.Sender), req.Amount, bridgeerr.ErrInsufficientBalance); err != nil {
		return common.Hash{}, l.reject(op, err)
	}
	if err := m.credit(custodyKey(req.ChainID, req.Token), req.Amount); err != nil {
		return common.Hash{}, l.reject(op, err)
	}

	msg, err := l.enqueue(m, chain, req.DepositRequest, req.MintValue)
	if err != nil {
		return common.Hash{}, err
	}
	l.recordDeposit(DepositKindSecondBridge, msg)
	return msg.TxID, nil
}

// DepositLegacyERC20Bridge is the entry point reserved for the legacy ERC20
// bridge. Any other caller is rejected before the books are touched.
func (l *Ledger) DepositLegacyERC20Bridge(_ context.Context, caller common.Address, req DepositRequest) (common.Hash, error) {
	const op = "deposit-legacy-erc20"

	if l.legacyBridge == (common.Address{}) || caller != l.legacyBridge {
		return common.Hash{}, l.reject(op, bridgeerr.New(bridgeerr.ErrDirectDepositDisallowed,
			"%s is not the legacy bridge", caller.Hex()))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	chain, err := l.registeredChain(req.ChainID)
	if err != nil {
		return common.Hash{}, l.reject(op, err)
	}
	if req.Token == chain.BaseToken {
		return common.Hash{}, l.reject(op, bridgeerr.New(bridgeerr.ErrBaseTokenMismatch,
			"base token %s cannot use the legacy bridge", req.Token.Hex()))
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return common.Hash{}, l.reject(op, bridgeerr.New(bridgeerr.ErrZeroAmount, "empty deposit"))
	}

	m := l.mutate()
	if err := m.debit(balanceKey(req.Token, req.Sender), req.Amount, bridgeerr.ErrInsufficientBalance); err != nil {
		return common.Hash{}, l.reject(op, err)
	}
	if err := m.credit(custodyKey(req.ChainID, req.Token), req.Amount); err != nil {
		return common.Hash{}, l.reject(op, err)
	}

	msg, err := l.enqueue(m, chain, req, new(uint256.Int))
	if err != nil {
		return common.Hash{}, err
	}
	l.recordDeposit(DepositKindLegacy, msg)
	return msg.TxID, nil
}

// enqueue appends the deposit's message to the chain queue, activates the
// chain on its first deposit and commits m.
func (l *Ledger) enqueue(m *mutation, chain ChainRecord, req DepositRequest, mintValue *uint256.Int) (L2Message, error) {
	head, err := l.queueHead(chain.ChainID)
	if err != nil {
		return L2Message{}, err
	}

	refund := req.RefundRecipient
	if refund == (common.Address{}) {
		refund = req.Sender
	}

	msg := L2Message{
		SerialID:             head,
		ChainID:              chain.ChainID,
		Sender:               req.Sender,
		L2Receiver:           req.L2Receiver,
		Token:                req.Token,
		Amount:               new(uint256.Int).Set(req.Amount),
		MintValue:            new(uint256.Int).Set(mintValue),
		L2GasLimit:           req.L2GasLimit,
		L2GasPerPubdataLimit: req.L2GasPerPubdataLimit,
		RefundRecipient:      refund,
	}
	if msg.TxID, err = messageTxID(msg); err != nil {
		return L2Message{}, err
	}

	if err := m.put(queueKey(chain.ChainID, head), msg); err != nil {
		return L2Message{}, err
	}
	if err := m.batch.Put(queueHeadKey(chain.ChainID), u64(head+1)); err != nil {
		return L2Message{}, fmt.Errorf("failed to stage queue head: %w", err)
	}
	if chain.State != ChainActive {
		chain.State = ChainActive
		if err := m.put(chainKey(chain.ChainID), chain); err != nil {
			return L2Message{}, err
		}
	}

	if err := m.commit(); err != nil {
		return L2Message{}, err
	}
	return msg, nil
}

func (l *Ledger) queueHead(chainID uint64) (uint64, error) {
	key := queueHeadKey(chainID)
	ok, err := l.db.Has(key)
	if err != nil {
		return 0, fmt.Errorf("failed to check queue head: %w", err)
	}
	if !ok {
		return 0, nil
	}
	raw, err := l.db.Get(key)
	if err != nil {
		return 0, fmt.Errorf("failed to read queue head: %w", err)
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (l *Ledger) recordDeposit(kind string, msg L2Message) {
	l.metrics.RecordDeposit(msg.ChainID, kind)
	l.logger.
		With("kind", kind).
		With("chain_id", msg.ChainID).
		With("serial_id", msg.SerialID).
		With("token", msg.Token.Hex()).
		With("amount", msg.Amount.Dec()).
		With("tx_id", msg.TxID.Hex()).
		Info("deposit enqueued")
}

func messageTxID(msg L2Message) (common.Hash, error) {
	packed, err := txIDArgs.Pack(
		new(uint256.Int).SetUint64(msg.ChainID).ToBig(),
		new(uint256.Int).SetUint64(msg.SerialID).ToBig(),
		msg.Sender,
		msg.L2Receiver,
		msg.Token,
		msg.Amount.ToBig(),
		msg.MintValue.ToBig(),
		new(uint256.Int).SetUint64(msg.L2GasLimit).ToBig(),
		new(uint256.Int).SetUint64(msg.L2GasPerPubdataLimit).ToBig(),
		msg.RefundRecipient,
	)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to encode message %d: %w", msg.SerialID, err)
	}
	return crypto.Keccak256Hash(packed), nil
}
