package biz

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/filedepot/internal/pkg/hasher"
)

func newTestContentStore(t *testing.T) (*ContentStore, *fakeContentRepo, *fakeBlobStore) {
	t.Helper()
	repo := newFakeContentRepo()
	blobs := newFakeBlobStore()
	store := NewContentStore(repo, blobs, newFakeTxRunner(), nil)
	return store, repo, blobs
}

func TestContentStore_AcquireStoresNewContent(t *testing.T) {
	store, _, blobs := newTestContentStore(t)
	data := []byte("hello content store")
	hash := hasher.SumBytes(data)

	res, err := store.Acquire(context.Background(), hash, int64(len(data)), "text/plain", bytes.NewReader(data))
	require.NoError(t, err)

	assert.False(t, res.Deduplicated)
	assert.Equal(t, 1, res.Content.ReferenceCount)
	assert.Equal(t, hash, res.Content.ContentHash)
	assert.Equal(t, ObjectKeyForHash(hash), res.Content.ObjectKey)
	assert.Equal(t, 1, blobs.count())
}

func TestContentStore_AcquireDeduplicates(t *testing.T) {
	store, _, blobs := newTestContentStore(t)
	data := []byte("same bytes twice")
	hash := hasher.SumBytes(data)
	ctx := context.Background()

	first, err := store.Acquire(ctx, hash, int64(len(data)), "text/plain", bytes.NewReader(data))
	require.NoError(t, err)
	second, err := store.Acquire(ctx, hash, int64(len(data)), "text/plain", bytes.NewReader(data))
	require.NoError(t, err)

	assert.False(t, first.Deduplicated)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.Content.ID, second.Content.ID)
	assert.Equal(t, 2, second.Content.ReferenceCount)
	assert.Equal(t, 1, blobs.count())
}

func TestContentStore_AcquireSizeMismatch(t *testing.T) {
	store, _, _ := newTestContentStore(t)
	data := []byte("original bytes")
	hash := hasher.SumBytes(data)
	ctx := context.Background()

	_, err := store.Acquire(ctx, hash, int64(len(data)), "text/plain", bytes.NewReader(data))
	require.NoError(t, err)

	_, err = store.Acquire(ctx, hash, int64(len(data))+5, "text/plain", bytes.NewReader(data))
	require.ErrorIs(t, err, ErrSizeMismatch)
}

// conflictingContentRepo simulates a concurrent first upload: the initial
// lookup misses, then the insert collides with a row another transaction
// committed in between.
type conflictingContentRepo struct {
	*fakeContentRepo
	conflicted bool
}

func (r *conflictingContentRepo) GetByHashLocked(ctx context.Context, hash string) (*Content, error) {
	if !r.conflicted {
		return nil, nil
	}
	return r.fakeContentRepo.GetByHashLocked(ctx, hash)
}

func (r *conflictingContentRepo) Create(ctx context.Context, content *Content) error {
	if !r.conflicted {
		r.conflicted = true
		rival := *content
		if err := r.fakeContentRepo.Create(ctx, &rival); err != nil {
			return err
		}
		return r.fakeContentRepo.Create(ctx, content)
	}
	return r.fakeContentRepo.Create(ctx, content)
}

func TestContentStore_AcquireRetriesOnInsertConflict(t *testing.T) {
	repo := &conflictingContentRepo{fakeContentRepo: newFakeContentRepo()}
	blobs := newFakeBlobStore()
	store := NewContentStore(repo, blobs, newFakeTxRunner(), nil)

	data := []byte("raced upload")
	hash := hasher.SumBytes(data)

	res, err := store.Acquire(context.Background(), hash, int64(len(data)), "text/plain", bytes.NewReader(data))
	require.NoError(t, err)

	// The retry must land on the row the rival inserted.
	assert.True(t, res.Deduplicated)
	assert.Equal(t, 2, res.Content.ReferenceCount)
	assert.Equal(t, 1, blobs.count())
}

func TestContentStore_ReleaseAndReclaim(t *testing.T) {
	store, repo, blobs := newTestContentStore(t)
	data := []byte("short lived")
	hash := hasher.SumBytes(data)
	ctx := context.Background()

	res, err := store.Acquire(ctx, hash, int64(len(data)), "text/plain", bytes.NewReader(data))
	require.NoError(t, err)

	var orphaned bool
	err = store.tx.Execute(ctx, func(ctx context.Context) error {
		var err error
		orphaned, err = store.ReleaseTx(ctx, res.Content.ID)
		return err
	})
	require.NoError(t, err)
	assert.True(t, orphaned)

	// The row survives until reclaim.
	got, err := repo.GetByIDLocked(ctx, res.Content.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0, got.ReferenceCount)

	deleted, err := store.Reclaim(ctx, res.Content.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	got, err = repo.GetByIDLocked(ctx, res.Content.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 0, blobs.count())
}

func TestContentStore_ReclaimSkipsReferencedContent(t *testing.T) {
	store, repo, blobs := newTestContentStore(t)
	data := []byte("still referenced")
	hash := hasher.SumBytes(data)
	ctx := context.Background()

	res, err := store.Acquire(ctx, hash, int64(len(data)), "text/plain", bytes.NewReader(data))
	require.NoError(t, err)

	deleted, err := store.Reclaim(ctx, res.Content.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	got, err := repo.GetByIDLocked(ctx, res.Content.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.ReferenceCount)
	assert.Equal(t, 1, blobs.count())
}

func TestContentStore_ReclaimMissingContentIsNoop(t *testing.T) {
	store, _, _ := newTestContentStore(t)
	deleted, err := store.Reclaim(context.Background(), "no-such-id")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestContentStore_ReleaseGuardsNegativeCount(t *testing.T) {
	store, repo, _ := newTestContentStore(t)
	ctx := context.Background()

	content := &Content{ContentHash: strings.Repeat("ab", 32), ObjectKey: "files/ab/x", Size: 4, ReferenceCount: 0}
	require.NoError(t, repo.Create(ctx, content))

	err := store.tx.Execute(ctx, func(ctx context.Context) error {
		_, err := store.ReleaseTx(ctx, content.ID)
		return err
	})
	require.ErrorIs(t, err, ErrNegativeRefCount)
}
