package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

// Memory is an in-process Store for tests and local development.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte

	// FailPut makes Put return an error, for exercising upload-failure
	// paths.
	FailPut bool
}

// NewMemory returns an empty in-memory store with links under
// memory://bucket/.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailPut {
		return "", fmt.Errorf("blob: put %s: forced failure", key)
	}
	m.objects[key] = append([]byte(nil), data...)
	return "memory://bucket/" + key, nil
}

func (m *Memory) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("blob: stat %s: not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
