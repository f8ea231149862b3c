package ledger

import (
	"encoding/binary"

	"github.com/compose-network/shared-bridge/internal/store"
	"github.com/ethereum/go-ethereum/common"
)

// Key layout. Nothing under these prefixes is ever pruned.
var (
	chainPrefix     = []byte("chain-")     // chainID -> ChainRecord
	balancePrefix   = []byte("balance-")   // token ‖ account -> uint256
	custodyPrefix   = []byte("custody-")   // chainID ‖ token -> uint256
	queuePrefix     = []byte("queue-")     // chainID ‖ serialID -> L2Message
	queueHeadPrefix = []byte("qhead-")     // chainID -> next serialID
	finalizedPrefix = []byte("finalized-") // chainID ‖ batch ‖ index -> 0x01
	rootPrefix      = []byte("root-")      // chainID ‖ batch -> hash
)

func u64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func chainKey(chainID uint64) []byte {
	return store.Key(chainPrefix, u64(chainID))
}

func balanceKey(token, account common.Address) []byte {
	return store.Key(balancePrefix, token.Bytes(), account.Bytes())
}

func custodyKey(chainID uint64, token common.Address) []byte {
	return store.Key(custodyPrefix, u64(chainID), token.Bytes())
}

func queueKey(chainID, serialID uint64) []byte {
	return store.Key(queuePrefix, u64(chainID), u64(serialID))
}

func queueHeadKey(chainID uint64) []byte {
	return store.Key(queueHeadPrefix, u64(chainID))
}

func finalizedKey(chainID, batch, index uint64) []byte {
	return store.Key(finalizedPrefix, u64(chainID), u64(batch), u64(index))
}

func rootKey(chainID, batch uint64) []byte {
	return store.Key(rootPrefix, u64(chainID), u64(batch))
}
