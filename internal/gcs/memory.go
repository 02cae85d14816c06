package gcs

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Memory is an in-process StorageService for local runs and tests.
type Memory struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
}

// NewMemory creates an empty store that reports URIs under bucket.
func NewMemory(bucket string) *Memory {
	return &Memory{bucket: bucket, objects: make(map[string][]byte)}
}

// Put implements StorageService.
func (m *Memory) Put(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectPath] = append([]byte(nil), data...)
	return URI(m.bucket, objectPath), nil
}

// Get implements StorageService.
func (m *Memory) Get(ctx context.Context, objectPath string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[objectPath]
	if !ok {
		return nil, fmt.Errorf("Get %s: %w", objectPath, ErrObjectNotFound)
	}
	return append([]byte(nil), data...), nil
}

// SignedURL implements StorageService. The URL is not fetchable; it only
// carries the path and expiry.
func (m *Memory) SignedURL(ctx context.Context, objectPath string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[objectPath]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("SignedURL %s: %w", objectPath, ErrObjectNotFound)
	}
	expires := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("memory://%s/%s?expires=%d", m.bucket, url.PathEscape(objectPath), expires), nil
}

var _ StorageService = (*Memory)(nil)
