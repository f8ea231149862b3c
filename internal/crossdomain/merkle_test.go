package crossdomain

import (
	"testing"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLeafLayout(t *testing.T) {
	data := []byte("payload")
	sender := common.HexToAddress("0x000000000000000000000000000000000000800a")

	packed := []byte{0x00, 0x01, 0x00, 0x07}
	packed = append(packed, L2ToL1MessengerAddress.Bytes()...)
	packed = append(packed, common.LeftPadBytes(sender.Bytes(), 32)...)
	packed = append(packed, crypto.Keccak256(data)...)
	require.Len(t, packed, 88)

	assert.Equal(t, crypto.Keccak256Hash(packed), LogLeaf(7, sender, data))
}

func TestCalculateRootOrdering(t *testing.T) {
	leaf := common.Hash{0xaa}
	sibling := common.Hash{0xbb}

	left, err := CalculateRoot([]common.Hash{sibling}, 0, leaf)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(leaf.Bytes(), sibling.Bytes()), left)

	right, err := CalculateRoot([]common.Hash{sibling}, 1, leaf)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(sibling.Bytes(), leaf.Bytes()), right)
}

func TestCalculateRootRejectsMalformedProofs(t *testing.T) {
	_, err := CalculateRoot(nil, 0, common.Hash{})
	assert.ErrorIs(t, err, bridgeerr.ErrInvalidProof)

	_, err = CalculateRoot(make([]common.Hash, 256), 0, common.Hash{})
	assert.ErrorIs(t, err, bridgeerr.ErrInvalidProof)

	_, err = CalculateRoot(make([]common.Hash, 2), 4, common.Hash{})
	assert.ErrorIs(t, err, bridgeerr.ErrInvalidProof)
}

func TestTreeProofsVerify(t *testing.T) {
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")
	messages := [][]byte{
		EncodeERC20Message(receiver, token, uint256.NewInt(1)),
		EncodeERC20Message(receiver, token, uint256.NewInt(2)),
		EncodeBaseTokenMessage(receiver, uint256.NewInt(3)),
	}

	leaves := make([]common.Hash, len(messages))
	for i, m := range messages {
		leaves[i] = LogLeaf(uint16(i), sender, m)
	}
	tree := NewTree(leaves)
	assert.Len(t, tree.Proof(0), 2)
	assert.Nil(t, tree.Proof(4))

	for i, m := range messages {
		w, err := Validate(WithdrawalMessage{
			ChainID:         9,
			BatchNumber:     1,
			MessageIndex:    uint64(i),
			TxNumberInBatch: uint16(i),
			Message:         m,
			Proof:           tree.Proof(uint64(i)),
		})
		require.NoError(t, err)
		require.NoError(t, VerifyInclusion(tree.Root(), w, sender), "message %d", i)
	}
}

func TestVerifyInclusionFailures(t *testing.T) {
	sender := common.HexToAddress("0x1111111111111111111111111111111111111111")
	msg := EncodeBaseTokenMessage(receiver, uint256.NewInt(10))
	tree := NewTree([]common.Hash{LogLeaf(0, sender, msg)})

	w, err := Validate(WithdrawalMessage{ChainID: 9, Message: msg, Proof: tree.Proof(0)})
	require.NoError(t, err)

	tests := []struct {
		name   string
		root   common.Hash
		sender common.Address
		mutate func(*Withdrawal)
	}{
		{name: "missing root", root: common.Hash{}, sender: sender},
		{name: "wrong sender", root: tree.Root(), sender: L2BaseTokenSystemAddress},
		{name: "wrong index", root: tree.Root(), sender: sender, mutate: func(w *Withdrawal) { w.MessageIndex = 1 }},
		{name: "wrong tx number", root: tree.Root(), sender: sender, mutate: func(w *Withdrawal) { w.TxNumberInBatch = 1 }},
		{name: "empty proof", root: tree.Root(), sender: sender, mutate: func(w *Withdrawal) { w.Proof = nil }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			candidate := w
			if tc.mutate != nil {
				tc.mutate(&candidate)
			}
			err := VerifyInclusion(tc.root, candidate, tc.sender)
			assert.ErrorIs(t, err, bridgeerr.ErrInvalidProof)
		})
	}
}
