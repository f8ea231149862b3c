// Package crossdomain validates L2→L1 withdrawal messages and proves their
// inclusion in an L2 batch.
//
// A raw withdrawal message is a packed byte string starting with the 4-byte
// selector of the L1 function it finalizes. Each selector fixes the exact
// length of the message:
//
//	finalizeEthWithdrawal  selector ‖ l1Receiver(20) ‖ amount(32)               = 56 bytes
//	finalizeWithdrawal     selector ‖ l1Receiver(20) ‖ l1Token(20) ‖ amount(32) = 76 bytes
package crossdomain

import (
	"bytes"
	"fmt"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/lmittmann/w3"
)

const selectorLength = 4

type Kind uint8

const (
	KindBaseToken Kind = iota + 1
	KindERC20
)

func (k Kind) String() string {
	switch k {
	case KindBaseToken:
		return "base-token"
	case KindERC20:
		return "erc20"
	default:
		return "unknown"
	}
}

var (
	finalizeBaseTokenWithdrawalFn = w3.MustNewFunc("finalizeEthWithdrawal(uint256,uint256,uint16,bytes,bytes32[])", "")
	finalizeERC20WithdrawalFn     = w3.MustNewFunc("finalizeWithdrawal(uint256,uint256,uint16,bytes,bytes32[])", "")
)

type layout struct {
	kind     Kind
	selector [4]byte
	length   int
}

var layouts = []layout{
	{kind: KindBaseToken, selector: finalizeBaseTokenWithdrawalFn.Selector, length: selectorLength + common.AddressLength + 32},
	{kind: KindERC20, selector: finalizeERC20WithdrawalFn.Selector, length: selectorLength + 2*common.AddressLength + 32},
}

type (
	// Key identifies a withdrawal for replay protection.
	Key struct {
		ChainID      uint64
		BatchNumber  uint64
		MessageIndex uint64
	}

	// WithdrawalMessage is a finalization request as submitted on L1.
	WithdrawalMessage struct {
		ChainID         uint64
		BatchNumber     uint64
		MessageIndex    uint64
		TxNumberInBatch uint16
		Message         []byte
		Proof           []common.Hash
	}

	// Payload is the decoded body of a raw withdrawal message. Token is zero
	// for base-token withdrawals; the chain's base token applies.
	Payload struct {
		Kind     Kind
		Receiver common.Address
		Token    common.Address
		Amount   *uint256.Int
	}

	// Withdrawal is a validated finalization request.
	Withdrawal struct {
		WithdrawalMessage
		Payload
	}
)

func (m WithdrawalMessage) Key() Key {
	return Key{ChainID: m.ChainID, BatchNumber: m.BatchNumber, MessageIndex: m.MessageIndex}
}

func (k Key) String() string {
	return fmt.Sprintf("chain=%d batch=%d index=%d", k.ChainID, k.BatchNumber, k.MessageIndex)
}

// Validate checks the raw message of msg against its selector's length
// contract and decodes it. It runs before any proof verification.
func Validate(msg WithdrawalMessage) (Withdrawal, error) {
	payload, err := DecodeMessage(msg.Message)
	if err != nil {
		return Withdrawal{}, err
	}
	return Withdrawal{WithdrawalMessage: msg, Payload: payload}, nil
}

// DecodeMessage decodes a raw withdrawal message.
func DecodeMessage(raw []byte) (Payload, error) {
	if len(raw) < selectorLength {
		return Payload{}, bridgeerr.New(bridgeerr.ErrWrongMessageLength, "got %d bytes, need at least %d", len(raw), selectorLength)
	}

	l, ok := lookup(raw[:selectorLength])
	if !ok {
		return Payload{}, bridgeerr.New(bridgeerr.ErrUnknownSelector, "0x%x", raw[:selectorLength])
	}
	if len(raw) != l.length {
		return Payload{}, bridgeerr.New(bridgeerr.ErrWrongMessageLength, "%s message must be %d bytes, got %d", l.kind, l.length, len(raw))
	}

	body := raw[selectorLength:]
	payload := Payload{
		Kind:     l.kind,
		Receiver: common.BytesToAddress(body[:common.AddressLength]),
	}
	body = body[common.AddressLength:]

	if l.kind == KindERC20 {
		payload.Token = common.BytesToAddress(body[:common.AddressLength])
		body = body[common.AddressLength:]
	}
	payload.Amount = new(uint256.Int).SetBytes32(body)

	return payload, nil
}

// EncodeBaseTokenMessage builds the raw message the L2 base-token system
// contract emits on withdrawal.
func EncodeBaseTokenMessage(receiver common.Address, amount *uint256.Int) []byte {
	out := make([]byte, 0, layouts[0].length)
	out = append(out, finalizeBaseTokenWithdrawalFn.Selector[:]...)
	out = append(out, receiver.Bytes()...)
	word := amount.Bytes32()
	return append(out, word[:]...)
}

// EncodeERC20Message builds the raw message the L2 bridge emits on withdrawal.
func EncodeERC20Message(receiver, token common.Address, amount *uint256.Int) []byte {
	out := make([]byte, 0, layouts[1].length)
	out = append(out, finalizeERC20WithdrawalFn.Selector[:]...)
	out = append(out, receiver.Bytes()...)
	out = append(out, token.Bytes()...)
	word := amount.Bytes32()
	return append(out, word[:]...)
}

func lookup(selector []byte) (layout, bool) {
	for _, l := range layouts {
		if bytes.Equal(l.selector[:], selector) {
			return l, true
		}
	}
	return layout{}, false
}
