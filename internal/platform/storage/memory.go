package storage

import (
	"context"
	"sync"
)

// MemoryBlobs keeps pictures in process memory. It backs local development
// when no bucket is configured.
type MemoryBlobs struct {
	mu      sync.RWMutex
	objects map[string]Picture
}

func NewMemoryBlobs() *MemoryBlobs {
	return &MemoryBlobs{objects: make(map[string]Picture)}
}

func (m *MemoryBlobs) Upload(ctx context.Context, key string, pic *Picture) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data := make([]byte, len(pic.Data))
	copy(data, pic.Data)

	m.mu.Lock()
	m.objects[key] = Picture{Filename: pic.Filename, ContentType: pic.MediaType(), Data: data}
	m.mu.Unlock()

	return "memory://" + key, nil
}

func (m *MemoryBlobs) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[key]; !ok {
		return ErrBlobNotFound
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryBlobs) PresignGet(ctx context.Context, key string) (string, error) {
	if _, ok := m.Get(key); !ok {
		return "", ErrBlobNotFound
	}
	return "memory://" + key, nil
}

// Get returns the stored picture for key.
func (m *MemoryBlobs) Get(key string) (Picture, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pic, ok := m.objects[key]
	return pic, ok
}

// Len reports how many objects are stored.
func (m *MemoryBlobs) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
