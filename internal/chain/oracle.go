package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/w3"
	w3eth "github.com/lmittmann/w3/module/eth"
)

var l2LogsRootHashFn = w3.MustNewFunc("l2LogsRootHash(uint256)", "bytes32")

// MessageRootOracle reads executed batch roots from each chain's diamond
// proxy on L1.
type MessageRootOracle struct {
	client   *Client
	diamonds map[uint64]common.Address
}

func NewMessageRootOracle(client *Client, diamonds map[uint64]common.Address) *MessageRootOracle {
	return &MessageRootOracle{client: client, diamonds: diamonds}
}

func (o *MessageRootOracle) MessageRoot(ctx context.Context, chainID, batch uint64) (common.Hash, error) {
	diamond, ok := o.diamonds[chainID]
	if !ok || diamond == (common.Address{}) {
		return common.Hash{}, bridgeerr.New(bridgeerr.ErrChainNotRegistered, "no diamond proxy for chain %d", chainID)
	}

	var root common.Hash
	call := w3eth.CallFunc(diamond, l2LogsRootHashFn, new(big.Int).SetUint64(batch)).Returns(&root)
	if err := o.client.w3.CallCtx(ctx, call); err != nil {
		return common.Hash{}, fmt.Errorf("failed to read l2LogsRootHash(%d) on %s: %w", batch, diamond.Hex(), err)
	}
	return root, nil
}
