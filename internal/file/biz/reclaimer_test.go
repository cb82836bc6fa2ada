package biz

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/filedepot/internal/pkg/hasher"
)

func seedOrphan(t *testing.T, repo *fakeContentRepo, blobs *fakeBlobStore, data []byte) *Content {
	t.Helper()
	hash := hasher.SumBytes(data)
	content := &Content{
		ContentHash:    hash,
		ObjectKey:      ObjectKeyForHash(hash),
		Size:           int64(len(data)),
		ReferenceCount: 0,
	}
	require.NoError(t, repo.Create(context.Background(), content))
	require.NoError(t, blobs.Put(context.Background(), content.ObjectKey, bytes.NewReader(data), content.Size, "application/octet-stream"))
	return content
}

func TestReclaimer_SweepRemovesOrphans(t *testing.T) {
	repo := newFakeContentRepo()
	blobs := newFakeBlobStore()
	store := NewContentStore(repo, blobs, newFakeTxRunner(), nil)
	ctx := context.Background()

	var expectBytes int64
	for i := 0; i < 5; i++ {
		c := seedOrphan(t, repo, blobs, []byte(fmt.Sprintf("orphan payload %d", i)))
		expectBytes += c.Size
	}

	// One live content must survive the sweep.
	live := []byte("still in use")
	liveHash := hasher.SumBytes(live)
	_, err := store.Acquire(ctx, liveHash, int64(len(live)), "text/plain", bytes.NewReader(live))
	require.NoError(t, err)

	reclaimer := NewReclaimer(repo, store, 4, nil)
	report, err := reclaimer.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Scanned)
	assert.Equal(t, 5, report.Reclaimed)
	assert.Zero(t, report.Failed)
	assert.Equal(t, expectBytes, report.BytesFreed)

	count, _, err := repo.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, blobs.count())
}

func TestReclaimer_SweepCountsFailures(t *testing.T) {
	repo := newFakeContentRepo()
	blobs := newFakeBlobStore()
	store := NewContentStore(repo, blobs, newFakeTxRunner(), nil)
	ctx := context.Background()

	ok := seedOrphan(t, repo, blobs, []byte("reclaimable"))
	stuck := seedOrphan(t, repo, blobs, []byte("blob delete fails"))
	blobs.failDelete[stuck.ObjectKey] = true

	reclaimer := NewReclaimer(repo, store, 2, nil)
	report, err := reclaimer.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Reclaimed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, ok.Size, report.BytesFreed)

	// The failed row stays for the next run.
	remaining, err := repo.ListOrphaned(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, stuck.ID, remaining[0].ID)
}

// reacquiringContentRepo bumps the reference count of every scanned row right
// after listing it, simulating an upload that lands between the scan and the
// per-row delete.
type reacquiringContentRepo struct {
	*fakeContentRepo
}

func (r *reacquiringContentRepo) ListOrphaned(ctx context.Context) ([]*Content, error) {
	orphans, err := r.fakeContentRepo.ListOrphaned(ctx)
	if err != nil {
		return nil, err
	}
	for _, orphan := range orphans {
		if err := r.IncrementRef(ctx, orphan.ID); err != nil {
			return nil, err
		}
	}
	return orphans, nil
}

func TestReclaimer_SweepSkipsReacquiredContent(t *testing.T) {
	inner := newFakeContentRepo()
	blobs := newFakeBlobStore()
	repo := &reacquiringContentRepo{fakeContentRepo: inner}
	store := NewContentStore(repo, blobs, newFakeTxRunner(), nil)
	ctx := context.Background()

	orphan := seedOrphan(t, inner, blobs, []byte("back from the dead"))

	report, err := NewReclaimer(repo, store, 2, nil).Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Scanned)
	assert.Zero(t, report.Reclaimed)
	assert.Equal(t, 1, report.Skipped)
	assert.Zero(t, report.Failed)
	assert.Zero(t, report.BytesFreed)

	// The row and its blob survive with the new reference intact.
	kept, err := inner.GetByIDLocked(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, kept.ReferenceCount)
	assert.Equal(t, 1, blobs.count())
}

func TestReclaimer_SweepEmpty(t *testing.T) {
	repo := newFakeContentRepo()
	store := NewContentStore(repo, newFakeBlobStore(), newFakeTxRunner(), nil)

	report, err := NewReclaimer(repo, store, 4, nil).Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Scanned)
	assert.Zero(t, report.Reclaimed)
}
