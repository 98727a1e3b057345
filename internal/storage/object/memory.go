package object

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/colligo/internal/interfaces"
	"github.com/ternarybob/colligo/internal/models"
)

type memoryObject struct {
	data        []byte
	contentType string
	meta        interfaces.ObjectMeta
}

// MemoryStore is an in-process ObjectStore used in development mode and
// tests. It keeps VerifiedPut's read-back semantics so integrity behavior
// can be exercised without a backend.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject

	// Corrupt, when set, mutates stored bytes after the write and before
	// verification. Tests use it to force integrity failures.
	Corrupt func(key string, data []byte) []byte
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

// VerifiedPut stores data and verifies the stored copy against the source
// hash, mirroring the backend adapter.
func (s *MemoryStore) VerifiedPut(ctx context.Context, key string, data []byte, contentType string, meta interfaces.ObjectMeta) error {
	if len(data) == 0 {
		return models.ValidationError("refusing to store empty object %s", key)
	}

	meta.ContentMD5 = ContentMD5(data)
	meta.FileSize = int64(len(data))
	meta.PDFHeaderOK = bytes.HasPrefix(data, pdfMagic)
	meta.UploadTimestamp = time.Now().UTC().Format(time.RFC3339)

	if err := s.Put(ctx, key, data, contentType, meta); err != nil {
		return err
	}

	stored, err := s.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("verification read failed for %s: %w", key, err)
	}
	if int64(len(stored)) != meta.FileSize {
		return fmt.Errorf("%w: object %s length %d, expected %d", models.ErrIntegrity, key, len(stored), meta.FileSize)
	}
	if got := ContentMD5(stored); got != meta.ContentMD5 {
		return fmt.Errorf("%w: object %s md5 %s, expected %s", models.ErrIntegrity, key, got, meta.ContentMD5)
	}
	return nil
}

// Put stores data without verification
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string, meta interfaces.ObjectMeta) error {
	stored := make([]byte, len(data))
	copy(stored, data)
	if s.Corrupt != nil {
		stored = s.Corrupt(key, stored)
	}
	if meta.ContentMD5 == "" {
		meta.ContentMD5 = ContentMD5(data)
		meta.FileSize = int64(len(data))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = memoryObject{data: stored, contentType: contentType, meta: meta}
	return nil
}

// Get fetches the full object body
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, models.NotFoundError("object", key)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// GetStream fetches the object body as a stream
func (s *MemoryStore) GetStream(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Head returns object info without the body
func (s *MemoryStore) Head(ctx context.Context, key string) (*interfaces.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, models.NotFoundError("object", key)
	}
	return &interfaces.ObjectInfo{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentMD5:  obj.meta.ContentMD5,
		ContentType: obj.contentType,
	}, nil
}

// Delete removes one object
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

// DeletePrefix removes every object under prefix
func (s *MemoryStore) DeletePrefix(ctx context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			delete(s.objects, key)
		}
	}
	return nil
}

// Len reports the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var _ interfaces.ObjectStore = (*MemoryStore)(nil)
