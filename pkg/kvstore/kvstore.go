// Package kvstore implements the persistence contract spec.md §6
// requires from collaborators: kv_get(namespace, key) -> Option<bytes>,
// kv_set(namespace, key, bytes) -> Result, kv_commit() -> Result. The
// core (pkg/energy, pkg/gwconfig) never touches storage directly; it
// only depends on this package's KVStore interface.
//
// Grounded on the original firmware's NVS handle-per-namespace usage
// (config_manager_core.c/config_manager_network.c: nvs_get_*/nvs_set_*
// keyed within a namespace handle, followed by an explicit nvs_commit),
// re-expressed with a real embedded key-value engine
// (github.com/syndtr/goleveldb) standing in for NVS on a POSIX host.
package kvstore

import "sync"

// KVStore is the persistence contract every other package depends on.
// Get's second return reports presence, matching kv_get's Option<bytes>.
type KVStore interface {
	Get(namespace, key string) ([]byte, bool, error)
	Set(namespace, key string, value []byte) error
	Commit() error
	Close() error
}

// Memory is an in-process KVStore double for tests and for hosts with
// no durable storage configured. Commit is a no-op since every Set is
// already visible.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func compositeKey(namespace, key string) string {
	return namespace + "\x00" + key
}

func (m *Memory) Get(namespace, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[compositeKey(namespace, key)]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *Memory) Set(namespace, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[compositeKey(namespace, key)] = cp
	return nil
}

func (m *Memory) Commit() error { return nil }
func (m *Memory) Close() error  { return nil }
