package memory

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
	"github.com/mrajeshsfdc/sfdoc/internal/ports"
)

var _ ports.ArticleStore = (*ArticleStore)(nil)

// ArticleStore mimics a knowledge base: each article has at most one online
// and one draft version, and publishing a draft archives the previous online
// version.
type ArticleStore struct {
	mu        sync.Mutex
	versions  map[string]*domain.ArticleRecord
	mutations int
}

// NewArticleStore returns an empty article store.
func NewArticleStore() *ArticleStore {
	return &ArticleStore{versions: map[string]*domain.ArticleRecord{}}
}

// Seed inserts a record as-is, generating missing ids.
func (s *ArticleStore) Seed(rec domain.ArticleRecord) domain.ArticleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ArticleID == "" {
		rec.ArticleID = newID("kA0")
	}
	if rec.VersionID == "" {
		rec.VersionID = newID("ka0")
	}
	if rec.PublishStatus == "" {
		rec.PublishStatus = domain.PublishOnline
	}
	s.versions[rec.VersionID] = &rec
	return rec
}

// Mutations counts every successful mutating call.
func (s *ArticleStore) Mutations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutations
}

// Versions returns every stored version ordered by slug then status.
func (s *ArticleStore) Versions() []domain.ArticleRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ArticleRecord, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Slug != out[j].Slug {
			return out[i].Slug < out[j].Slug
		}
		return out[i].PublishStatus < out[j].PublishStatus
	})
	return out
}

func (s *ArticleStore) QueryBySlug(_ context.Context, slug string, status domain.PublishStatus) (*domain.ArticleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := domain.Key(slug)
	for _, v := range s.versions {
		if v.PublishStatus == status && domain.Key(v.Slug) == key {
			rec := *v
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *ArticleStore) GetVersion(_ context.Context, versionID string) (domain.ArticleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[versionID]
	if !ok {
		return domain.ArticleRecord{}, notFound("get version", versionID)
	}
	return *v, nil
}

func (s *ArticleStore) FindDraft(_ context.Context, articleID string) (*domain.ArticleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v := s.find(articleID, domain.PublishDraft); v != nil {
		rec := *v
		return &rec, nil
	}
	return nil, nil
}

func (s *ArticleStore) ListPublished(_ context.Context) ([]domain.ArticleRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ArticleRecord
	for _, v := range s.versions {
		if v.PublishStatus == domain.PublishOnline {
			out = append(out, *v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

func (s *ArticleStore) CreateDraft(_ context.Context, fields domain.ArticleFields) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, v := range s.versions {
		if v.PublishStatus != domain.PublishArchived && domain.Key(v.Slug) == domain.Key(fields.Slug) {
			return "", &domain.StoreError{Op: "create draft", Target: fields.Slug, Status: http.StatusBadRequest, Err: errDuplicateSlug}
		}
	}

	rec := &domain.ArticleRecord{
		ArticleID:     newID("kA0"),
		VersionID:     newID("ka0"),
		PublishStatus: domain.PublishDraft,
		ArticleFields: fields,
	}
	s.versions[rec.VersionID] = rec
	s.mutations++
	return rec.VersionID, nil
}

func (s *ArticleStore) UpdateDraft(_ context.Context, versionID string, fields domain.ArticleFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[versionID]
	if !ok {
		return notFound("update draft", versionID)
	}
	if v.PublishStatus != domain.PublishDraft {
		return &domain.StoreError{Op: "update draft", Target: versionID, Status: http.StatusBadRequest, Err: errNotDraft}
	}
	v.ArticleFields = fields
	s.mutations++
	return nil
}

func (s *ArticleStore) CreateDraftCopy(_ context.Context, articleID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	online := s.find(articleID, domain.PublishOnline)
	if online == nil {
		return "", notFound("copy article", articleID)
	}
	if s.find(articleID, domain.PublishDraft) != nil {
		return "", &domain.StoreError{Op: "copy article", Target: articleID, Status: http.StatusBadRequest, Err: errDraftExists}
	}

	rec := &domain.ArticleRecord{
		ArticleID:     articleID,
		VersionID:     newID("ka0"),
		PublishStatus: domain.PublishDraft,
		ArticleFields: online.ArticleFields,
	}
	s.versions[rec.VersionID] = rec
	s.mutations++
	return rec.VersionID, nil
}

func (s *ArticleStore) SetPublishStatus(_ context.Context, versionID string, status domain.PublishStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[versionID]
	if !ok {
		return notFound("set publish status", versionID)
	}
	if status == domain.PublishOnline {
		if prev := s.find(v.ArticleID, domain.PublishOnline); prev != nil && prev != v {
			prev.PublishStatus = domain.PublishArchived
		}
	}
	v.PublishStatus = status
	s.mutations++
	return nil
}

func (s *ArticleStore) DeleteDraft(_ context.Context, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.versions[versionID]
	if !ok {
		return notFound("delete draft", versionID)
	}
	if v.PublishStatus != domain.PublishDraft {
		return &domain.StoreError{Op: "delete draft", Target: versionID, Status: http.StatusBadRequest, Err: errNotDraft}
	}
	delete(s.versions, versionID)
	s.mutations++
	return nil
}

func (s *ArticleStore) find(articleID string, status domain.PublishStatus) *domain.ArticleRecord {
	for _, v := range s.versions {
		if v.ArticleID == articleID && v.PublishStatus == status {
			return v
		}
	}
	return nil
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:15]
}

func notFound(op, target string) error {
	return &domain.StoreError{Op: op, Target: target, Status: http.StatusNotFound, Err: domain.ErrNotFound}
}
