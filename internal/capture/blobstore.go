package capture

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Handle is a dereferenceable reference to an assembled artifact.
type Handle string

const handlePrefix = "blob:"

// ParseHandle validates a handle string received from outside.
func ParseHandle(s string) (Handle, bool) {
	id, ok := strings.CutPrefix(s, handlePrefix)
	if !ok {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return Handle(s), true
}

type blob struct {
	data []byte
	mime string
}

// BlobStore holds artifacts in memory until their handle is revoked.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[Handle]blob
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[Handle]blob)}
}

// DefaultBlobs is the process-wide store used when a Host does not set one.
var DefaultBlobs = NewBlobStore()

// Put registers data and returns a new handle for it.
func (s *BlobStore) Put(data []byte, mime string) Handle {
	h := Handle(handlePrefix + uuid.NewString())
	s.mu.Lock()
	s.blobs[h] = blob{data: data, mime: mime}
	s.mu.Unlock()
	return h
}

// Open dereferences h. The returned slice must not be modified.
func (s *BlobStore) Open(h Handle) (data []byte, mime string, ok bool) {
	s.mu.RLock()
	b, ok := s.blobs[h]
	s.mu.RUnlock()
	return b.data, b.mime, ok
}

// Revoke releases h. It reports whether the handle was live.
func (s *BlobStore) Revoke(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[h]; !ok {
		return false
	}
	delete(s.blobs, h)
	return true
}

// Len returns the number of live handles.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
