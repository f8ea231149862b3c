package ledger

import (
	"context"
	"fmt"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/compose-network/shared-bridge/internal/crossdomain"
	"github.com/ethereum/go-ethereum/common"
)

var finalizedMarker = []byte{0x01}

// FinalizeWithdrawal releases the funds of a proven L2→L1 withdrawal. The
// replay guard runs first, so a finalized key is always reported as
// AlreadyFinalized whatever else the request carries. The message is then
// structurally validated and only afterwards proven against the batch root
// reported by the oracle. The finalized key and the fund release are
// committed in one batch.
//
// For base-token withdrawals the returned Token is the chain's base token.
func (l *Ledger) FinalizeWithdrawal(ctx context.Context, msg crossdomain.WithdrawalMessage) (crossdomain.Withdrawal, error) {
	const op = "finalize-withdrawal"

	l.mu.Lock()
	defer l.mu.Unlock()

	chain, err := l.registeredChain(msg.ChainID)
	if err != nil {
		return crossdomain.Withdrawal{}, l.reject(op, err)
	}

	key := finalizedKey(msg.ChainID, msg.BatchNumber, msg.MessageIndex)
	done, err := l.db.Has(key)
	if err != nil {
		return crossdomain.Withdrawal{}, fmt.Errorf("failed to check finalized set: %w", err)
	}
	if done {
		return crossdomain.Withdrawal{}, l.reject(op, bridgeerr.New(bridgeerr.ErrAlreadyFinalized, "%s", msg.Key()))
	}

	w, err := crossdomain.Validate(msg)
	if err != nil {
		return crossdomain.Withdrawal{}, l.reject(op, err)
	}

	var l2Sender common.Address
	switch w.Kind {
	case crossdomain.KindBaseToken:
		w.Token = chain.BaseToken
		l2Sender = crossdomain.L2BaseTokenSystemAddress
	case crossdomain.KindERC20:
		if w.Token == chain.BaseToken {
			return crossdomain.Withdrawal{}, l.reject(op, bridgeerr.New(bridgeerr.ErrBaseTokenMismatch,
				"base token %s withdrawn through the erc20 path", w.Token.Hex()))
		}
		l2Sender = chain.L2Bridge
	}

	root, err := l.roots.MessageRoot(ctx, w.ChainID, w.BatchNumber)
	if err != nil {
		return crossdomain.Withdrawal{}, fmt.Errorf("failed to get message root for chain %d batch %d: %w", w.ChainID, w.BatchNumber, err)
	}
	if err := crossdomain.VerifyInclusion(root, w, l2Sender); err != nil {
		return crossdomain.Withdrawal{}, l.reject(op, err)
	}

	m := l.mutate()
	if err := m.debit(custodyKey(w.ChainID, w.Token), w.Amount, bridgeerr.ErrInsufficientChainBalance); err != nil {
		return crossdomain.Withdrawal{}, l.reject(op, err)
	}
	if err := m.credit(balanceKey(w.Token, w.Receiver), w.Amount); err != nil {
		return crossdomain.Withdrawal{}, l.reject(op, err)
	}
	if err := m.batch.Put(key, finalizedMarker); err != nil {
		return crossdomain.Withdrawal{}, fmt.Errorf("failed to stage finalized key: %w", err)
	}
	if err := m.commit(); err != nil {
		return crossdomain.Withdrawal{}, err
	}

	l.metrics.RecordFinalization(w.ChainID)
	l.logger.
		With("chain_id", w.ChainID).
		With("batch", w.BatchNumber).
		With("index", w.MessageIndex).
		With("kind", w.Kind.String()).
		With("receiver", w.Receiver.Hex()).
		With("amount", w.Amount.Dec()).
		Info("withdrawal finalized")
	return w, nil
}

func (l *Ledger) IsWithdrawalFinalized(chainID, batch, index uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	done, err := l.db.Has(finalizedKey(chainID, batch, index))
	if err != nil {
		return false, fmt.Errorf("failed to check finalized set: %w", err)
	}
	return done, nil
}
