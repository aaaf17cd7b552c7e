package blob

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"sync"
)

// MemoryStore keeps blobs in process memory. Fail, when set, is consulted
// before every Put.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int

	Fail func(key string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, key string, data []byte, _ string) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.Fail != nil {
		if err := m.Fail(key); err != nil {
			return Object{}, err
		}
	}

	m.objects[key] = append([]byte(nil), data...)
	sum := md5.Sum(data)
	return Object{
		ProviderID: "memory/" + key,
		URL:        "memory://images/" + key,
		ETag:       hex.EncodeToString(sum[:]),
	}, nil
}

// Puts reports how many Put calls reached the store.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Len reports how many objects are stored.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
