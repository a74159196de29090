package memory

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

var (
	errDuplicateSlug = errors.New("an article with this URL name already exists")
	errNotDraft      = errors.New("version is not a draft")
	errDraftExists   = errors.New("article already has a draft version")
)

var _ ports.ObjectStore = (*ObjectStore)(nil)

// ObjectStore is a flat key/value blob store.
type ObjectStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	mutations int
}

// NewObjectStore returns an empty object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{objects: map[string][]byte{}}
}

// Mutations counts every Put, Copy and Delete that changed the store.
func (s *ObjectStore) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// Get returns a copy of the object at key.
func (s *ObjectStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[key]
	return slices.Clone(data), ok
}

func (s *ObjectStore) ListKeys(_ context.Context, excludePrefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.objects {
		if excludePrefix != "" && strings.HasPrefix(key, excludePrefix) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *ObjectStore) ListPrefix(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *ObjectStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.objects[key]
	return ok, nil
}

func (s *ObjectStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = slices.Clone(data)
	s.mutations++
	return nil
}

func (s *ObjectStore) Copy(_ context.Context, srcKey, dstKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[srcKey]
	if !ok {
		return &domain.StoreError{Op: "copy object", Target: srcKey, Status: http.StatusNotFound, Err: domain.ErrNotFound}
	}
	s.objects[dstKey] = slices.Clone(data)
	s.mutations++
	return nil
}

func (s *ObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return nil
	}
	delete(s.objects, key)
	s.mutations++
	return nil
}
