package storage

import (
	"context"
	"net/url"
	"sync"
	"time"
)

// MemoryStorage keeps objects in process. Presigned URLs use the memory:// scheme.
type MemoryStorage struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string]memoryObject
}

type memoryObject struct {
	contentType string
	body        []byte
}

func NewMemoryStorage(bucket string) *MemoryStorage {
	return &MemoryStorage{bucket: bucket, objects: make(map[string]memoryObject)}
}

func (m *MemoryStorage) PutObject(_ context.Context, objectKey, contentType string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey] = memoryObject{contentType: contentType, body: append([]byte(nil), body...)}
	return nil
}

func (m *MemoryStorage) ObjectExists(_ context.Context, objectKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[objectKey]
	return ok, nil
}

func (m *MemoryStorage) GeneratePresignedDownloadURL(_ context.Context, objectKey string, expires time.Duration) (string, error) {
	if expires <= 0 {
		expires = DefaultPresignedURLExpiry
	}
	u := url.URL{Scheme: "memory", Host: m.bucket, Path: "/" + objectKey}
	u.RawQuery = url.Values{"expires": {expires.String()}}.Encode()
	return u.String(), nil
}

func (m *MemoryStorage) DeleteObject(_ context.Context, objectKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, objectKey)
	return nil
}

// Object returns a stored body.
func (m *MemoryStorage) Object(objectKey string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[objectKey]
	return obj.body, ok
}
