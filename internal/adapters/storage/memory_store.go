package storage

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"

	apperrors "github.com/zatekoja/dermascan/pkg/errors"
)

const memoryScheme = "mem://"

type blob struct {
	data        []byte
	contentType string
}

// MemoryBlobStore keeps images in process memory. URLs are data URIs.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

// NewMemoryBlobStore creates an empty store
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string]blob)}
}

func (s *MemoryBlobStore) Put(_ context.Context, key string, data []byte, contentType string) (string, error) {
	if key == "" {
		return "", apperrors.NewValidationError("blob key is required")
	}
	copied := make([]byte, len(data))
	copy(copied, data)

	s.mu.Lock()
	s.blobs[key] = blob{data: copied, contentType: contentType}
	s.mu.Unlock()
	return memoryScheme + key, nil
}

func (s *MemoryBlobStore) Get(_ context.Context, imageRef string) ([]byte, string, error) {
	s.mu.RLock()
	b, ok := s.blobs[strings.TrimPrefix(imageRef, memoryScheme)]
	s.mu.RUnlock()
	if !ok || !strings.HasPrefix(imageRef, memoryScheme) {
		return nil, "", apperrors.NewNotFoundError("scan image not found")
	}
	copied := make([]byte, len(b.data))
	copy(copied, b.data)
	return copied, b.contentType, nil
}

func (s *MemoryBlobStore) URL(ctx context.Context, imageRef string) (string, error) {
	data, contentType, err := s.Get(ctx, imageRef)
	if err != nil {
		return "", err
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (s *MemoryBlobStore) Exists(_ context.Context, imageRef string) (bool, error) {
	if !strings.HasPrefix(imageRef, memoryScheme) {
		return false, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[strings.TrimPrefix(imageRef, memoryScheme)]
	return ok, nil
}
