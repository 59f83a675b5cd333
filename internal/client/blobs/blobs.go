// Package blobs reads photo binaries from remote object storage.
package blobs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dmitrijs2005/estisync/internal/common"
)

// Store fetches the object stored under a photo's remote uri.
// Missing objects yield common.ErrNotFound.
type Store interface {
	Fetch(ctx context.Context, uri string) (io.ReadCloser, error)
}

// MemoryStore keeps objects in a map. It backs the in-memory remote and tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	fetches int
	// FailWith, when non-nil, is returned by every Fetch.
	FailWith error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}}
}

// Put stores data under uri.
func (m *MemoryStore) Put(uri string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[uri] = append([]byte(nil), data...)
}

func (m *MemoryStore) Fetch(ctx context.Context, uri string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	data, ok := m.objects[uri]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", uri, common.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Fetches reports how many Fetch calls were made.
func (m *MemoryStore) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}
