package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// FakeStore is an in-memory PhotoStore for tests and local development.
type FakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

// NewFakeStore creates an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{objects: make(map[string][]byte)}
}

// SignedUploadURL returns a placeholder URL and a fresh key. The object is
// created empty so Reader works immediately.
func (f *FakeStore) SignedUploadURL(_ context.Context, userID int64, _ string) (string, string, error) {
	key := fmt.Sprintf("photos/%d/%s", userID, uuid.New().String())
	f.mu.Lock()
	f.objects[key] = []byte{}
	f.mu.Unlock()
	return "https://storage.invalid/upload/" + key, key, nil
}

// Put stores object bytes directly, standing in for the client's signed PUT.
func (f *FakeStore) Put(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

// Reader opens a stored object.
func (f *FakeStore) Reader(_ context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	data, ok := f.objects[key]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("storage: open %s: object not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
