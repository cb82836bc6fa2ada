package biz

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	uc       *FileUseCase
	contents *fakeContentRepo
	files    *fakeFileRepo
	blobs    *fakeBlobStore
	cache    *fakeStatsCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	contents := newFakeContentRepo()
	files := newFakeFileRepo(contents)
	blobs := newFakeBlobStore()
	cache := newFakeStatsCache()
	tx := newFakeTxRunner()
	store := NewContentStore(contents, blobs, tx, nil)
	uc := NewFileUseCase(files, store, blobs, tx, cache, time.Minute, 10*1024*1024, nil)
	return &fixture{uc: uc, contents: contents, files: files, blobs: blobs, cache: cache}
}

func upload(t *testing.T, fx *fixture, name, fileType string, data []byte) *UploadResult {
	t.Helper()
	res, err := fx.uc.CreateFile(context.Background(), &UploadRequest{
		OriginalFilename: name,
		FileType:         fileType,
		DeclaredSize:     int64(len(data)),
		Content:          bytes.NewReader(data),
	})
	require.NoError(t, err)
	return res
}

func TestFileUseCase_CreateFile(t *testing.T) {
	fx := newFixture(t)
	data := []byte("report contents")

	res := upload(t, fx, "report.pdf", "application/pdf", data)

	assert.False(t, res.Deduplicated)
	assert.Zero(t, res.StorageSaved)
	assert.Equal(t, int64(len(data)), res.File.Size)
	require.NotNil(t, res.File.Content)
	assert.Equal(t, 1, res.File.Content.ReferenceCount)
	assert.Equal(t, 1, fx.blobs.count())
}

func TestFileUseCase_CreateFileDeduplicates(t *testing.T) {
	fx := newFixture(t)
	data := []byte("identical bytes")

	first := upload(t, fx, "a.txt", "text/plain", data)
	second := upload(t, fx, "b.txt", "text/plain", data)

	assert.True(t, second.Deduplicated)
	assert.Equal(t, int64(len(data)), second.StorageSaved)
	assert.Equal(t, first.File.ContentID, second.File.ContentID)
	assert.Equal(t, 2, second.File.Content.ReferenceCount)
	assert.Equal(t, 1, fx.blobs.count())
}

func TestFileUseCase_CreateFileRejectsEmpty(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.uc.CreateFile(context.Background(), &UploadRequest{
		OriginalFilename: "empty.txt",
		FileType:         "text/plain",
		DeclaredSize:     0,
		Content:          bytes.NewReader(nil),
	})
	require.ErrorIs(t, err, ErrEmptyUpload)
}

func TestFileUseCase_CreateFileRejectsOversized(t *testing.T) {
	contents := newFakeContentRepo()
	files := newFakeFileRepo(contents)
	blobs := newFakeBlobStore()
	tx := newFakeTxRunner()
	store := NewContentStore(contents, blobs, tx, nil)
	uc := NewFileUseCase(files, store, blobs, tx, nil, 0, 16, nil)

	data := bytes.Repeat([]byte("x"), 17)
	_, err := uc.CreateFile(context.Background(), &UploadRequest{
		OriginalFilename: "big.bin",
		FileType:         "application/octet-stream",
		DeclaredSize:     int64(len(data)),
		Content:          bytes.NewReader(data),
	})
	require.ErrorIs(t, err, ErrFileTooLarge)
	assert.Zero(t, blobs.count())
}

func TestFileUseCase_DeleteLastReferenceReclaims(t *testing.T) {
	fx := newFixture(t)
	res := upload(t, fx, "solo.txt", "text/plain", []byte("one owner"))
	ctx := context.Background()

	require.NoError(t, fx.uc.DeleteFile(ctx, res.File.ID))

	_, err := fx.uc.GetFile(ctx, res.File.ID)
	require.ErrorIs(t, err, ErrFileNotFound)
	content, err := fx.contents.GetByIDLocked(ctx, res.File.ContentID)
	require.NoError(t, err)
	assert.Nil(t, content)
	assert.Zero(t, fx.blobs.count())
}

func TestFileUseCase_DeleteKeepsSharedContent(t *testing.T) {
	fx := newFixture(t)
	data := []byte("shared bytes")
	first := upload(t, fx, "a.txt", "text/plain", data)
	second := upload(t, fx, "b.txt", "text/plain", data)
	ctx := context.Background()

	require.NoError(t, fx.uc.DeleteFile(ctx, first.File.ID))

	content, err := fx.contents.GetByIDLocked(ctx, second.File.ContentID)
	require.NoError(t, err)
	require.NotNil(t, content)
	assert.Equal(t, 1, content.ReferenceCount)
	assert.Equal(t, 1, fx.blobs.count())

	// The surviving file can still be read back.
	_, rc, err := fx.uc.OpenFile(ctx, second.File.ID)
	require.NoError(t, err)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, data, got)
}

func TestFileUseCase_DeleteMissingFile(t *testing.T) {
	fx := newFixture(t)
	err := fx.uc.DeleteFile(context.Background(), "no-such-file")
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestFileUseCase_DeleteLeavesOrphanWhenBlobDeleteFails(t *testing.T) {
	fx := newFixture(t)
	res := upload(t, fx, "stubborn.txt", "text/plain", []byte("stuck blob"))
	ctx := context.Background()

	fx.blobs.failDelete[res.File.Content.ObjectKey] = true

	// The delete itself succeeds; the reclaim failure is left for the sweep.
	require.NoError(t, fx.uc.DeleteFile(ctx, res.File.ID))

	content, err := fx.contents.GetByIDLocked(ctx, res.File.ContentID)
	require.NoError(t, err)
	require.NotNil(t, content)
	assert.Equal(t, 0, content.ReferenceCount)
}

func TestFileUseCase_ConcurrentUploadsOfSameContent(t *testing.T) {
	fx := newFixture(t)
	data := []byte("hot content everyone uploads")
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := fx.uc.CreateFile(ctx, &UploadRequest{
				OriginalFilename: fmt.Sprintf("copy-%d.txt", i),
				FileType:         "text/plain",
				DeclaredSize:     int64(len(data)),
				Content:          bytes.NewReader(data),
			})
			errs[i] = err
			if err == nil {
				ids[i] = res.File.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}

	contentCount, physical, err := fx.contents.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), contentCount)
	assert.Equal(t, int64(len(data)), physical)
	assert.Equal(t, 1, fx.blobs.count())

	file, err := fx.uc.GetFile(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, n, file.Content.ReferenceCount)

	// Now delete every copy concurrently. Exactly the last one reclaims.
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = fx.uc.DeleteFile(ctx, ids[i])
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	contentCount, _, err = fx.contents.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), contentCount)
	assert.Zero(t, fx.blobs.count())
}

func TestFileUseCase_Stats(t *testing.T) {
	fx := newFixture(t)
	shared := []byte("shared payload for stats")
	upload(t, fx, "a.txt", "text/plain", shared)
	upload(t, fx, "b.txt", "text/plain", shared)
	upload(t, fx, "c.pdf", "application/pdf", []byte("unique pdf"))
	ctx := context.Background()

	stats, err := fx.uc.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(3), stats.TotalFiles)
	assert.Equal(t, int64(2), stats.UniqueContents)
	logical := int64(2*len(shared) + len("unique pdf"))
	physical := int64(len(shared) + len("unique pdf"))
	assert.Equal(t, logical, stats.LogicalStorage)
	assert.Equal(t, physical, stats.TotalStorageUsed)
	assert.Equal(t, int64(len(shared)), stats.StorageSaved)
	require.Len(t, stats.FileTypes, 2)
	assert.Equal(t, "text/plain", stats.FileTypes[0].FileType)
	assert.Equal(t, int64(2), stats.FileTypes[0].Count)
}

func TestFileUseCase_StatsUsesCache(t *testing.T) {
	fx := newFixture(t)
	upload(t, fx, "a.txt", "text/plain", []byte("cached stats"))
	ctx := context.Background()

	first, err := fx.uc.Stats(ctx)
	require.NoError(t, err)
	second, err := fx.uc.Stats(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fx.cache.hits)

	// A new upload invalidates, so the next read recomputes.
	upload(t, fx, "b.txt", "text/plain", []byte("fresh bytes"))
	third, err := fx.uc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), third.TotalFiles)
}

func TestFileUseCase_DuplicateGroups(t *testing.T) {
	fx := newFixture(t)
	shared := []byte("duplicated across three files")
	upload(t, fx, "one.txt", "text/plain", shared)
	upload(t, fx, "two.txt", "text/plain", shared)
	upload(t, fx, "three.txt", "text/plain", shared)
	upload(t, fx, "lonely.txt", "text/plain", []byte("no duplicates here"))

	groups, err := fx.uc.DuplicateGroups(context.Background())
	require.NoError(t, err)

	require.Len(t, groups, 1)
	assert.Equal(t, 3, groups[0].Content.ReferenceCount)
	require.Len(t, groups[0].Files, 3)
	names := []string{groups[0].Files[0].OriginalFilename, groups[0].Files[1].OriginalFilename, groups[0].Files[2].OriginalFilename}
	assert.ElementsMatch(t, []string{"one.txt", "two.txt", "three.txt"}, names)
}

func TestFileUseCase_DownloadURL(t *testing.T) {
	fx := newFixture(t)
	res := upload(t, fx, "download me.txt", "text/plain", []byte("presign me"))

	url, err := fx.uc.DownloadURL(context.Background(), res.File.ID, 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, res.File.Content.ObjectKey)
	assert.Contains(t, url, "download me.txt")
}

func TestFileUseCase_ListFilters(t *testing.T) {
	fx := newFixture(t)
	upload(t, fx, "annual-report.pdf", "application/pdf", bytes.Repeat([]byte("r"), 100))
	upload(t, fx, "notes.txt", "text/plain", []byte("tiny"))
	ctx := context.Background()

	byName, err := fx.uc.ListFiles(ctx, &ListFilesQuery{Search: "report"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, "annual-report.pdf", byName[0].OriginalFilename)

	byType, err := fx.uc.ListFiles(ctx, &ListFilesQuery{FileType: "text/plain"})
	require.NoError(t, err)
	require.Len(t, byType, 1)

	min := int64(50)
	bySize, err := fx.uc.ListFiles(ctx, &ListFilesQuery{MinSize: &min})
	require.NoError(t, err)
	require.Len(t, bySize, 1)
	assert.Equal(t, "annual-report.pdf", bySize[0].OriginalFilename)
}
