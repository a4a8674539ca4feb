package testsupport

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrInjected is returned by MemoryObjectStore operations configured to fail.
var ErrInjected = errors.New("injected object store failure")

// MemoryObjectStore is an in-memory object store with per-operation failure
// injection. It satisfies the object store interfaces consumed by the upload,
// retention, and daemon packages.
type MemoryObjectStore struct {
	mu       sync.Mutex
	objects  map[string][]byte
	puts     []string
	failPut  map[string]bool
	failList bool
	failHead bool
	failPing bool
}

// NewMemoryObjectStore returns an empty store.
func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{
		objects: make(map[string][]byte),
		failPut: make(map[string]bool),
	}
}

// Seed stores an object directly without counting it as an upload.
func (m *MemoryObjectStore) Seed(key string, body []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), body...)
}

// Remove drops an object directly.
func (m *MemoryObjectStore) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}

// FailPut makes uploads of key fail.
func (m *MemoryObjectStore) FailPut(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut[key] = true
}

// FailList makes List fail.
func (m *MemoryObjectStore) FailList(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failList = fail
}

// FailHead makes Exists and Stat fail.
func (m *MemoryObjectStore) FailHead(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failHead = fail
}

// FailPing makes Ping fail.
func (m *MemoryObjectStore) FailPing(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPing = fail
}

// Puts returns the keys uploaded so far in call order.
func (m *MemoryObjectStore) Puts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.puts...)
}

// Has reports whether key is stored.
func (m *MemoryObjectStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Put reads localPath and stores it under key.
func (m *MemoryObjectStore) Put(ctx context.Context, key, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", localPath, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPut[key] {
		return fmt.Errorf("put %s: %w", key, ErrInjected)
	}
	m.objects[key] = body
	m.puts = append(m.puts, key)
	return nil
}

// Exists reports whether key is stored.
func (m *MemoryObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failHead {
		return false, fmt.Errorf("head %s: %w", key, ErrInjected)
	}
	_, ok := m.objects[key]
	return ok, nil
}

// Stat returns the stored size of key.
func (m *MemoryObjectStore) Stat(ctx context.Context, key string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failHead {
		return 0, false, fmt.Errorf("head %s: %w", key, ErrInjected)
	}
	body, ok := m.objects[key]
	return int64(len(body)), ok, nil
}

// List returns every key under prefix in ascending order.
func (m *MemoryObjectStore) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failList {
		return nil, fmt.Errorf("list %s: %w", prefix, ErrInjected)
	}
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes key.
func (m *MemoryObjectStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Remove(key)
	return nil
}

// Presign returns a fake URL embedding key and ttl.
func (m *MemoryObjectStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !m.Has(key) {
		return "", fmt.Errorf("presign %s: object not found", key)
	}
	return fmt.Sprintf("memory://test-bucket/%s?ttl=%d", key, int(ttl.Seconds())), nil
}

// Ping reports whether the store is reachable.
func (m *MemoryObjectStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPing {
		return fmt.Errorf("ping: %w", ErrInjected)
	}
	return nil
}
