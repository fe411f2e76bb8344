package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ignite/mailflow/internal/errs"
)

// MemoryStore is an in-memory ObjectStore for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	types   map[string]string

	// FailDownloads forces the next N downloads to fail with a
	// retriable storage error.
	FailDownloads int
	// FailUploads forces the next N uploads to fail.
	FailUploads int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// Put seeds an object directly.
func (m *MemoryStore) Put(bucket, key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, key)] = data
}

// Has reports whether an object exists.
func (m *MemoryStore) Has(bucket, key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[objectKey(bucket, key)]
	return ok
}

// ContentType returns the stored content type for an object.
func (m *MemoryStore) ContentType(bucket, key string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.types[objectKey(bucket, key)]
}

// Download implements ObjectStore.
func (m *MemoryStore) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDownloads > 0 {
		m.FailDownloads--
		return nil, errs.New(errs.Storage, "simulated download failure")
	}
	data, ok := m.objects[objectKey(bucket, key)]
	if !ok {
		return nil, errs.New(errs.Storage, "object %s/%s not found", bucket, key)
	}
	return data, nil
}

// Upload implements ObjectStore.
func (m *MemoryStore) Upload(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailUploads > 0 {
		m.FailUploads--
		return errs.New(errs.Storage, "simulated upload failure")
	}
	m.objects[objectKey(bucket, key)] = data
	m.types[objectKey(bucket, key)] = contentType
	return nil
}

// Delete implements ObjectStore.
func (m *MemoryStore) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectKey(bucket, key))
	delete(m.types, objectKey(bucket, key))
	return nil
}

// PresignGet implements ObjectStore with a deterministic fake URL.
func (m *MemoryStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, time.Time, error) {
	if !m.Has(bucket, key) {
		return "", time.Time{}, errs.New(errs.Storage, "object %s/%s not found", bucket, key)
	}
	url := fmt.Sprintf("https://%s.example-presigned/%s", bucket, key)
	return url, time.Now().UTC().Add(ttl), nil
}
