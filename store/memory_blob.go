package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/sicko7947/world"
)

// MemoryBlobStore implements world.BlobStore using an in-memory map
type MemoryBlobStore struct {
	objects map[string][]byte
	mu      sync.RWMutex
}

var _ world.BlobStore = (*MemoryBlobStore)(nil)

// NewMemoryBlobStore creates an empty in-memory blob store
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{objects: make(map[string][]byte)}
}

func (b *MemoryBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, exists := b.objects[key]
	if !exists {
		return nil, world.NotFound("blob", key)
	}
	return cloneBytes(data), nil
}

func (b *MemoryBlobStore) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.objects[key] = cloneBytes(data)
	return nil
}

func (b *MemoryBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	keys := make([]string, 0)
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key, for tests simulating lost objects
func (b *MemoryBlobStore) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
}
