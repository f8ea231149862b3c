package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/compose-network/shared-bridge/internal/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

const DefaultRootCacheSize = 1_024

type (
	// RootOracle returns the L2→L1 logs root of an executed batch. A zero hash
	// means the batch is not known yet.
	RootOracle interface {
		MessageRoot(ctx context.Context, chainID, batch uint64) (common.Hash, error)
	}

	// StoreRoots serves roots recorded locally, e.g. by a devnet operator
	// replaying batch commitments.
	StoreRoots struct {
		db ethdb.KeyValueStore
	}

	batchRef struct {
		chainID uint64
		batch   uint64
	}

	// CachedRoots memoizes non-zero roots of another oracle. Roots of executed
	// batches never change, so entries need no invalidation.
	CachedRoots struct {
		oracle  RootOracle
		metrics metrics.Metricer

		mu    sync.Mutex
		roots *simplelru.LRU[batchRef, common.Hash]
	}
)

func NewStoreRoots(db ethdb.KeyValueStore) *StoreRoots {
	return &StoreRoots{db: db}
}

func (s *StoreRoots) SetMessageRoot(chainID, batch uint64, root common.Hash) error {
	if err := s.db.Put(rootKey(chainID, batch), root.Bytes()); err != nil {
		return fmt.Errorf("failed to store message root for chain %d batch %d: %w", chainID, batch, err)
	}
	return nil
}

func (s *StoreRoots) MessageRoot(_ context.Context, chainID, batch uint64) (common.Hash, error) {
	key := rootKey(chainID, batch)
	ok, err := s.db.Has(key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to check message root: %w", err)
	}
	if !ok {
		return common.Hash{}, nil
	}

	raw, err := s.db.Get(key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to read message root: %w", err)
	}
	return common.BytesToHash(raw), nil
}

func NewCachedRoots(oracle RootOracle, size int, m metrics.Metricer) (*CachedRoots, error) {
	if size <= 0 {
		size = DefaultRootCacheSize
	}
	if m == nil {
		m = metrics.NoopMetrics
	}

	roots, err := simplelru.NewLRU[batchRef, common.Hash](size, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create root cache: %w", err)
	}
	return &CachedRoots{oracle: oracle, metrics: m, roots: roots}, nil
}

func (c *CachedRoots) MessageRoot(ctx context.Context, chainID, batch uint64) (common.Hash, error) {
	ref := batchRef{chainID: chainID, batch: batch}

	c.mu.Lock()
	root, ok := c.roots.Get(ref)
	c.mu.Unlock()
	if ok {
		c.metrics.RecordRootLookup(true)
		return root, nil
	}

	root, err := c.oracle.MessageRoot(ctx, chainID, batch)
	if err != nil {
		return common.Hash{}, err
	}
	c.metrics.RecordRootLookup(false)

	if root != (common.Hash{}) {
		c.mu.Lock()
		c.roots.Add(ref, root)
		c.mu.Unlock()
	}
	return root, nil
}
