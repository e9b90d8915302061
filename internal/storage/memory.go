package storage

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and local development.
// Put simulates the companion writer appending to a run's objects.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	err     error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
	}
}

// Put stores or replaces an object.
func (m *MemoryStore) Put(key, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = []byte(content)
}

// PutBytes stores raw bytes, e.g. gzip-compressed content.
func (m *MemoryStore) PutBytes(key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), content...)
}

// Append extends an existing object, mimicking incremental log growth.
func (m *MemoryStore) Append(key, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append(m.objects[key], []byte(content)...)
}

// Delete removes an object.
func (m *MemoryStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}

// SetError makes every subsequent call fail with a *StoreError wrapping err
// until cleared with SetError(nil). Used to exercise transient-failure paths.
func (m *MemoryStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &StoreError{Op: "head", Key: key, Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return false, &StoreError{Op: "head", Key: key, Err: m.err}
	}

	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &StoreError{Op: "get", Key: key, Err: err}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return "", &StoreError{Op: "get", Key: key, Err: m.err}
	}

	data, ok := m.objects[key]
	if !ok {
		return "", ErrNotFound
	}

	return decodeContent(data)
}
