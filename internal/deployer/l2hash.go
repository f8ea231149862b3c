package deployer

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

const (
	wordSize       = 32
	maxL2CodeWords = 1<<16 - 1
)

// HashL2Bytecode returns the versioned hash the L2 uses to identify contract
// bytecode: sha256(bytecode) with byte 0 set to the version (1), byte 1 zero
// and bytes 2..3 holding the length in 32-byte words.
func HashL2Bytecode(bytecode []byte) (common.Hash, error) {
	if len(bytecode)%wordSize != 0 {
		return common.Hash{}, fmt.Errorf("bytecode length %d is not a multiple of %d", len(bytecode), wordSize)
	}

	words := len(bytecode) / wordSize
	if words > maxL2CodeWords {
		return common.Hash{}, fmt.Errorf("bytecode too long: %d words", words)
	}
	if words%2 == 0 {
		return common.Hash{}, fmt.Errorf("bytecode length in words must be odd, got %d", words)
	}

	hash := common.Hash(sha256.Sum256(bytecode))
	hash[0] = 1
	hash[1] = 0
	binary.BigEndian.PutUint16(hash[2:4], uint16(words))
	return hash, nil
}
