package crossdomain

import (
	"encoding/binary"

	"github.com/compose-network/shared-bridge/internal/bridgeerr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

const maxProofLength = 256

var (
	// L2ToL1MessengerAddress is the system contract that emits every L2→L1 log.
	L2ToL1MessengerAddress = common.HexToAddress("0x0000000000000000000000000000000000008008")
	// L2BaseTokenSystemAddress sends base-token withdrawal messages.
	L2BaseTokenSystemAddress = common.HexToAddress("0x000000000000000000000000000000000000800a")
	// DefaultLeafHash pads L2→L1 log trees up to a power of two.
	DefaultLeafHash = common.HexToHash("0x72abee45b59e344af8a6e520241c4744aff26ed411f4c4b00f8af09adada43ba")
)

// LogLeaf hashes the L2→L1 log carrying a message sent by sender:
// keccak256(shardId ‖ isService ‖ txNumberInBatch ‖ messenger ‖ bytes32(sender) ‖ keccak256(data)).
func LogLeaf(txNumberInBatch uint16, sender common.Address, data []byte) common.Hash {
	packed := make([]byte, 0, 1+1+2+common.AddressLength+2*common.HashLength)
	packed = append(packed, 0, 1)
	packed = binary.BigEndian.AppendUint16(packed, txNumberInBatch)
	packed = append(packed, L2ToL1MessengerAddress.Bytes()...)
	packed = append(packed, common.BytesToHash(sender.Bytes()).Bytes()...)
	packed = append(packed, crypto.Keccak256(data)...)
	return crypto.Keccak256Hash(packed)
}

// CalculateRoot folds path into leaf. Bit i of index selects whether the
// running hash is the left (0) or right (1) child at depth i.
func CalculateRoot(path []common.Hash, index uint64, leaf common.Hash) (common.Hash, error) {
	if len(path) == 0 {
		return common.Hash{}, bridgeerr.New(bridgeerr.ErrInvalidProof, "empty proof")
	}
	if len(path) >= maxProofLength {
		return common.Hash{}, bridgeerr.New(bridgeerr.ErrInvalidProof, "proof too long: %d", len(path))
	}
	if len(path) < 64 && index >= uint64(1)<<len(path) {
		return common.Hash{}, bridgeerr.New(bridgeerr.ErrInvalidProof, "index %d out of range for proof length %d", index, len(path))
	}

	current := leaf
	for _, sibling := range path {
		if index&1 == 0 {
			current = crypto.Keccak256Hash(current.Bytes(), sibling.Bytes())
		} else {
			current = crypto.Keccak256Hash(sibling.Bytes(), current.Bytes())
		}
		index >>= 1
	}
	return current, nil
}

// VerifyInclusion proves that w was emitted by l2Sender in a batch whose
// L2→L1 logs root is root.
func VerifyInclusion(root common.Hash, w Withdrawal, l2Sender common.Address) error {
	if root == (common.Hash{}) {
		return bridgeerr.New(bridgeerr.ErrInvalidProof, "no message root for %s", w.Key())
	}

	leaf := LogLeaf(w.TxNumberInBatch, l2Sender, w.Message)
	calculated, err := CalculateRoot(w.Proof, w.MessageIndex, leaf)
	if err != nil {
		return err
	}
	if calculated != root {
		return bridgeerr.New(bridgeerr.ErrInvalidProof, "root mismatch for %s", w.Key())
	}
	return nil
}

// Tree is an L2→L1 logs tree built from a batch's leaves, padded with
// DefaultLeafHash up to a power of two of at least two leaves.
type Tree struct {
	levels [][]common.Hash
}

func NewTree(leaves []common.Hash) *Tree {
	width := 2
	for width < len(leaves) {
		width <<= 1
	}

	level := make([]common.Hash, width)
	copy(level, leaves)
	for i := len(leaves); i < width; i++ {
		level[i] = DefaultLeafHash
	}

	levels := [][]common.Hash{level}
	for len(level) > 1 {
		next := make([]common.Hash, len(level)/2)
		for i := range next {
			next[i] = crypto.Keccak256Hash(level[2*i].Bytes(), level[2*i+1].Bytes())
		}
		levels = append(levels, next)
		level = next
	}
	return &Tree{levels: levels}
}

func (t *Tree) Root() common.Hash {
	return t.levels[len(t.levels)-1][0]
}

// Proof returns the sibling path for the leaf at index, or nil when index is
// outside the tree.
func (t *Tree) Proof(index uint64) []common.Hash {
	if index >= uint64(len(t.levels[0])) {
		return nil
	}
	path := make([]common.Hash, 0, len(t.levels)-1)
	for _, level := range t.levels[:len(t.levels)-1] {
		path = append(path, level[index^1])
		index >>= 1
	}
	return path
}
