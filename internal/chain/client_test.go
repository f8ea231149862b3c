package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type dataError struct {
	msg  string
	data any
}

func (e dataError) Error() string  { return e.msg }
func (e dataError) ErrorData() any { return e.data }

// Error(string) with reason "Ownable: caller is not the owner".
const ownableRevert = "0x08c379a0" +
	"0000000000000000000000000000000000000000000000000000000000000020" +
	"0000000000000000000000000000000000000000000000000000000000000020" +
	"4f776e61626c653a2063616c6c6572206973206e6f7420746865206f776e6572"

func TestRevertFrom(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantRevert bool
		wantReason string
	}{
		{
			name:       "rpc revert data",
			err:        dataError{msg: "execution reverted", data: ownableRevert},
			wantRevert: true,
			wantReason: "Ownable: caller is not the owner",
		},
		{
			name:       "revert without data",
			err:        errors.New("execution reverted: ShB not legacy bridge"),
			wantRevert: true,
			wantReason: "ShB not legacy bridge",
		},
		{
			name:       "custom error data",
			err:        dataError{msg: "execution reverted", data: "0xdeadbeef"},
			wantRevert: true,
			wantReason: "",
		},
		{
			name: "transport error",
			err:  errors.New("dial tcp: connection refused"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := revertFrom(tt.err)
			reason, ok := bridgeerr.RevertReason(err)
			require.Equal(t, tt.wantRevert, ok)
			assert.Equal(t, tt.wantReason, reason)
			if !tt.wantRevert {
				assert.Equal(t, tt.err, err)
			}
		})
	}
}

func TestRevertFromKeepsRawData(t *testing.T) {
	err := revertFrom(dataError{msg: "execution reverted", data: ownableRevert})

	var revert *bridgeerr.RevertError
	require.ErrorAs(t, err, &revert)
	assert.Equal(t, hexutil.MustDecode(ownableRevert), revert.Data)
}

type fakeFees struct {
	baseFee *big.Int
	tip     *big.Int
	price   *big.Int
}

func (f fakeFees) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: f.baseFee}, nil
}

func (f fakeFees) SuggestGasTipCap(context.Context) (*big.Int, error) { return f.tip, nil }

func (f fakeFees) SuggestGasPrice(context.Context) (*big.Int, error) { return f.price, nil }

func TestUnsignedTxPricing(t *testing.T) {
	chainID := big.NewInt(31337)
	target := common.HexToAddress("0x0000000000000000000000000000000000000b03")

	t.Run("dynamic fee when the head has a base fee", func(t *testing.T) {
		fees := fakeFees{baseFee: big.NewInt(100), tip: big.NewInt(2), price: big.NewInt(999)}

		tx, err := unsignedTx(context.Background(), fees, chainID, 7, 21000, target, new(big.Int), nil)
		require.NoError(t, err)
		assert.Equal(t, uint8(types.DynamicFeeTxType), tx.Type())
		assert.Equal(t, big.NewInt(2), tx.GasTipCap())
		assert.Equal(t, big.NewInt(202), tx.GasFeeCap())
		assert.Equal(t, uint64(7), tx.Nonce())
	})

	t.Run("legacy gas price when the head has no base fee", func(t *testing.T) {
		fees := fakeFees{price: big.NewInt(999)}

		tx, err := unsignedTx(context.Background(), fees, chainID, 7, 21000, target, new(big.Int), []byte{0x01})
		require.NoError(t, err)
		assert.Equal(t, uint8(types.LegacyTxType), tx.Type())
		assert.Equal(t, big.NewInt(999), tx.GasPrice())
		assert.Equal(t, uint64(21000), tx.Gas())

		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		signer := types.LatestSignerForChainID(chainID)
		signed, err := types.SignTx(tx, signer, key)
		require.NoError(t, err)
		from, err := types.Sender(signer, signed)
		require.NoError(t, err)
		assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), from)
		assert.Equal(t, chainID, signed.ChainId())
	})
}
