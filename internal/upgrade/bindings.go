package upgrade

import (
	"fmt"
	"sync"

	"github.com/compose-network/shared-bridge/internal/store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethdb"
)

var bindingPrefix = []byte("proxy-binding-")

type (
	// ProxyBinding records which implementation a proxy points at and which
	// ProxyAdmin may change it.
	ProxyBinding struct {
		Proxy          common.Address `json:"proxy" yaml:"proxy"`
		Implementation common.Address `json:"implementation" yaml:"implementation"`
		Admin          common.Address `json:"admin" yaml:"admin"`
	}

	BindingStore interface {
		Binding(proxy common.Address) (ProxyBinding, bool, error)
		PutBinding(binding ProxyBinding) error
	}

	// KVBindings persists bindings in the shared key-value store.
	KVBindings struct {
		mu sync.Mutex
		db ethdb.KeyValueStore
	}
)

func NewKVBindings(db ethdb.KeyValueStore) *KVBindings {
	return &KVBindings{db: db}
}

func (s *KVBindings) Binding(proxy common.Address) (ProxyBinding, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var binding ProxyBinding
	found, err := store.GetRLP(s.db, store.Key(bindingPrefix, proxy.Bytes()), &binding)
	if err != nil {
		return ProxyBinding{}, false, fmt.Errorf("failed to load binding of %s: %w", proxy.Hex(), err)
	}
	return binding, found, nil
}

func (s *KVBindings) PutBinding(binding ProxyBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return store.PutRLP(s.db, store.Key(bindingPrefix, binding.Proxy.Bytes()), binding)
}
