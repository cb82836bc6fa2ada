package biz

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// fakeTxRunner serializes transactions with a mutex and retries retryable
// errors, mimicking the serializable runner backed by the real database.
type fakeTxRunner struct {
	mu         sync.Mutex
	maxRetries int
}

func newFakeTxRunner() *fakeTxRunner {
	return &fakeTxRunner{maxRetries: 3}
}

func (r *fakeTxRunner) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		err = fn(ctx)
		if err == nil || !isRetryableFake(err) {
			return err
		}
	}
	return err
}

func isRetryableFake(err error) bool {
	return err == gorm.ErrDuplicatedKey
}

type fakeContentRepo struct {
	mu     sync.Mutex
	byID   map[string]*Content
	byHash map[string]string
}

func newFakeContentRepo() *fakeContentRepo {
	return &fakeContentRepo{
		byID:   make(map[string]*Content),
		byHash: make(map[string]string),
	}
}

func (r *fakeContentRepo) clone(c *Content) *Content {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func (r *fakeContentRepo) GetByHash(_ context.Context, hash string) (*Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byHash[hash]
	if !ok {
		return nil, nil
	}
	return r.clone(r.byID[id]), nil
}

func (r *fakeContentRepo) GetByHashLocked(ctx context.Context, hash string) (*Content, error) {
	return r.GetByHash(ctx, hash)
}

func (r *fakeContentRepo) GetByIDLocked(_ context.Context, id string) (*Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clone(r.byID[id]), nil
}

func (r *fakeContentRepo) Create(_ context.Context, content *Content) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byHash[content.ContentHash]; exists {
		return gorm.ErrDuplicatedKey
	}
	content.ID = uuid.New().String()
	content.CreatedAt = time.Now().UTC()
	r.byID[content.ID] = r.clone(content)
	r.byHash[content.ContentHash] = content.ID
	return nil
}

func (r *fakeContentRepo) IncrementRef(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return ErrContentNotFound
	}
	c.ReferenceCount++
	return nil
}

func (r *fakeContentRepo) DecrementRef(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return ErrContentNotFound
	}
	if c.ReferenceCount <= 0 {
		return ErrNegativeRefCount
	}
	c.ReferenceCount--
	return nil
}

func (r *fakeContentRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byHash, c.ContentHash)
	delete(r.byID, id)
	return nil
}

func (r *fakeContentRepo) ListOrphaned(_ context.Context) ([]*Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Content
	for _, c := range r.byID {
		if c.ReferenceCount <= 0 {
			out = append(out, r.clone(c))
		}
	}
	return out, nil
}

func (r *fakeContentRepo) ListDuplicated(_ context.Context) ([]*Content, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Content
	for _, c := range r.byID {
		if c.ReferenceCount > 1 {
			out = append(out, r.clone(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReferenceCount > out[j].ReferenceCount })
	return out, nil
}

func (r *fakeContentRepo) Totals(_ context.Context) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var size int64
	for _, c := range r.byID {
		size += c.Size
	}
	return int64(len(r.byID)), size, nil
}

type fakeFileRepo struct {
	mu       sync.Mutex
	byID     map[string]*File
	contents *fakeContentRepo
}

func newFakeFileRepo(contents *fakeContentRepo) *fakeFileRepo {
	return &fakeFileRepo{byID: make(map[string]*File), contents: contents}
}

func (r *fakeFileRepo) clone(f *File) *File {
	cp := *f
	if f.Content != nil {
		c := *f.Content
		cp.Content = &c
	}
	return &cp
}

func (r *fakeFileRepo) Create(_ context.Context, file *File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file.ID = uuid.New().String()
	file.UploadedAt = time.Now().UTC()
	r.byID[file.ID] = r.clone(file)
	return nil
}

func (r *fakeFileRepo) GetByID(ctx context.Context, id string) (*File, error) {
	r.mu.Lock()
	f, ok := r.byID[id]
	if !ok {
		r.mu.Unlock()
		return nil, ErrFileNotFound
	}
	out := r.clone(f)
	r.mu.Unlock()

	if r.contents != nil {
		c, err := r.contents.GetByIDLocked(ctx, out.ContentID)
		if err != nil {
			return nil, err
		}
		out.Content = c
	}
	return out, nil
}

func (r *fakeFileRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return ErrFileNotFound
	}
	delete(r.byID, id)
	return nil
}

func (r *fakeFileRepo) List(_ context.Context, q *ListFilesQuery) ([]*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*File
	for _, f := range r.byID {
		if q.Search != "" && !strings.Contains(strings.ToLower(f.OriginalFilename), strings.ToLower(q.Search)) {
			continue
		}
		if q.FileType != "" && !strings.EqualFold(f.FileType, q.FileType) {
			continue
		}
		if q.MinSize != nil && f.Size < *q.MinSize {
			continue
		}
		if q.MaxSize != nil && f.Size > *q.MaxSize {
			continue
		}
		out = append(out, r.clone(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (r *fakeFileRepo) ListByContentID(_ context.Context, contentID string) ([]*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*File
	for _, f := range r.byID {
		if f.ContentID == contentID {
			out = append(out, r.clone(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	return out, nil
}

func (r *fakeFileRepo) Totals(_ context.Context) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var size int64
	for _, f := range r.byID {
		size += f.Size
	}
	return int64(len(r.byID)), size, nil
}

func (r *fakeFileRepo) TypeBreakdown(_ context.Context, limit int) ([]*TypeStat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byType := make(map[string]*TypeStat)
	for _, f := range r.byID {
		st, ok := byType[f.FileType]
		if !ok {
			st = &TypeStat{FileType: f.FileType}
			byType[f.FileType] = st
		}
		st.Count++
		st.TotalSize += f.Size
	}
	out := make([]*TypeStat, 0, len(byType))
	for _, st := range byType {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalSize > out[j].TotalSize })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	// failDelete makes Delete error for the named keys.
	failDelete map[string]bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte), failDelete: make(map[string]bool)}
}

func (s *fakeBlobStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	return nil
}

func (s *fakeBlobStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, ErrContentNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *fakeBlobStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDelete[key] {
		return io.ErrUnexpectedEOF
	}
	delete(s.objects, key)
	return nil
}

func (s *fakeBlobStore) URL(_ context.Context, key string, _ time.Duration, downloadName string) (string, error) {
	return "https://blobs.test/" + key + "?name=" + downloadName, nil
}

func (s *fakeBlobStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// fakeStatsCache stores JSON-encoded values, matching the real cache's
// serialization behavior.
type fakeStatsCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	hits    int
	sets    int
}

func newFakeStatsCache() *fakeStatsCache {
	return &fakeStatsCache{entries: make(map[string][]byte)}
}

func (c *fakeStatsCache) Get(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(data, dest)
}

func (c *fakeStatsCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = data
	c.sets++
	return nil
}

func (c *fakeStatsCache) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}
