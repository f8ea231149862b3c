// Package store opens the persistent key-value database shared by the ledger
// and the upgrade orchestrator, and provides RLP helpers over it.
package store

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/ethdb/pebble"
	"github.com/ethereum/go-ethereum/rlp"
)

const (
	cacheMB = 16
	handles = 16
	// namespace prefixes the pebble metrics when a metrics registry is enabled.
	namespace = "bridge/db/"
)

// Open returns a pebble database under dataDir, or an in-memory database when
// dataDir is empty.
func Open(dataDir string, readonly bool) (ethdb.KeyValueStore, error) {
	if dataDir == "" {
		return memorydb.New(), nil
	}

	if !readonly {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir '%s': %w", dataDir, err)
		}
	}

	db, err := pebble.New(dataDir, cacheMB, handles, namespace, readonly)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble database at '%s': %w", dataDir, err)
	}
	return db, nil
}

// GetRLP decodes the value at key into v. It reports false when the key is absent.
func GetRLP(db ethdb.KeyValueReader, key []byte, v any) (bool, error) {
	ok, err := db.Has(key)
	if err != nil {
		return false, fmt.Errorf("failed to check key %x: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	raw, err := db.Get(key)
	if err != nil {
		return false, fmt.Errorf("failed to read key %x: %w", key, err)
	}
	if err := rlp.DecodeBytes(raw, v); err != nil {
		return false, fmt.Errorf("failed to decode key %x: %w", key, err)
	}
	return true, nil
}

func PutRLP(w ethdb.KeyValueWriter, key []byte, v any) error {
	raw, err := rlp.EncodeToBytes(v)
	if err != nil {
		return fmt.Errorf("failed to encode key %x: %w", key, err)
	}
	if err := w.Put(key, raw); err != nil {
		return fmt.Errorf("failed to write key %x: %w", key, err)
	}
	return nil
}

// Key concatenates a table prefix with key parts.
func Key(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p)
	}
	key := make([]byte, 0, size)
	key = append(key, prefix...)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}
