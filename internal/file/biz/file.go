package biz

import (
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/filedepot/internal/pkg/hasher"
	"github.com/lk2023060901/filedepot/internal/pkg/logger"
)

const (
	statsCacheKey      = "filedepot:stats"
	duplicatesCacheKey = "filedepot:duplicates"

	topFileTypes = 10
)

// UploadRequest carries a validated upload into the use case. Content must be
// seekable because the bytes are read twice: once to hash, once to store.
type UploadRequest struct {
	OriginalFilename string
	FileType         string
	DeclaredSize     int64
	Content          io.ReadSeeker
}

// UploadResult is the outcome of a CreateFile call.
type UploadResult struct {
	File *File
	// Deduplicated is true when the upload's bytes were already stored.
	Deduplicated bool
	// StorageSaved is the number of physical bytes the dedup avoided
	// writing. Zero for first-time content.
	StorageSaved int64
}

// FileUseCase implements the user-facing file operations on top of the
// content ledger.
type FileUseCase struct {
	files    FileRepo
	contents *ContentStore
	blobs    BlobStore
	tx       TxRunner
	cache    StatsCache
	cacheTTL time.Duration
	maxSize  int64
	log      *logger.Logger
}

func NewFileUseCase(files FileRepo, contents *ContentStore, blobs BlobStore, tx TxRunner, cache StatsCache, cacheTTL time.Duration, maxSize int64, log *logger.Logger) *FileUseCase {
	if log == nil {
		log = logger.L()
	}
	return &FileUseCase{
		files:    files,
		contents: contents,
		blobs:    blobs,
		tx:       tx,
		cache:    cache,
		cacheTTL: cacheTTL,
		maxSize:  maxSize,
		log:      log.Named("file"),
	}
}

// CreateFile stores an upload. The content hash is computed here, server
// side, and the hashed byte count is the authoritative size regardless of
// what the client declared. The content acquisition and the file row insert
// share one transaction, so a crash can never leave a file row without its
// reference being counted.
func (uc *FileUseCase) CreateFile(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if req.DeclaredSize == 0 {
		return nil, ErrEmptyUpload
	}
	if uc.maxSize > 0 && req.DeclaredSize > uc.maxSize {
		return nil, ErrFileTooLarge
	}

	hash, size, err := hasher.SumReader(req.Content)
	if err != nil {
		return nil, err
	}
	if size == 0 {
		return nil, ErrEmptyUpload
	}
	if uc.maxSize > 0 && size > uc.maxSize {
		return nil, ErrFileTooLarge
	}

	var res *UploadResult
	err = uc.tx.Execute(ctx, func(ctx context.Context) error {
		// Retried attempts must re-read the content from the start.
		if _, err := req.Content.Seek(0, io.SeekStart); err != nil {
			return err
		}
		acquired, err := uc.contents.AcquireTx(ctx, hash, size, req.FileType, req.Content)
		if err != nil {
			return err
		}
		file := &File{
			ContentID:        acquired.Content.ID,
			OriginalFilename: req.OriginalFilename,
			FileType:         req.FileType,
			Size:             size,
		}
		if err := uc.files.Create(ctx, file); err != nil {
			return err
		}
		file.Content = acquired.Content
		res = &UploadResult{File: file, Deduplicated: acquired.Deduplicated}
		if acquired.Deduplicated {
			res.StorageSaved = size
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.invalidateCaches(ctx)
	uc.log.WithContext(ctx).Info("file created",
		zap.String("file_id", res.File.ID),
		zap.String("filename", req.OriginalFilename),
		zap.Bool("deduplicated", res.Deduplicated))
	return res, nil
}

// DeleteFile removes a file and drops its content reference. If that was the
// last reference the content is reclaimed after the transaction commits; a
// reclaim failure only logs, because the orphan sweep will finish the job.
func (uc *FileUseCase) DeleteFile(ctx context.Context, id string) error {
	var (
		orphaned  bool
		contentID string
	)
	err := uc.tx.Execute(ctx, func(ctx context.Context) error {
		orphaned = false
		file, err := uc.files.GetByID(ctx, id)
		if err != nil {
			return err
		}
		contentID = file.ContentID
		if err := uc.files.Delete(ctx, id); err != nil {
			return err
		}
		orphaned, err = uc.contents.ReleaseTx(ctx, contentID)
		return err
	})
	if err != nil {
		return err
	}

	if orphaned {
		if _, err := uc.contents.Reclaim(ctx, contentID); err != nil {
			uc.log.WithContext(ctx).Warn("reclaim after delete failed, leaving for sweep",
				zap.String("content_id", contentID),
				zap.Error(err))
		}
	}
	uc.invalidateCaches(ctx)
	uc.log.WithContext(ctx).Info("file deleted", zap.String("file_id", id))
	return nil
}

func (uc *FileUseCase) GetFile(ctx context.Context, id string) (*File, error) {
	return uc.files.GetByID(ctx, id)
}

func (uc *FileUseCase) ListFiles(ctx context.Context, q *ListFilesQuery) ([]*File, error) {
	if q == nil {
		q = &ListFilesQuery{}
	}
	return uc.files.List(ctx, q)
}

// DownloadURL returns a presigned locator for the file's content, with the
// original filename attached as the download name.
func (uc *FileUseCase) DownloadURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	file, err := uc.files.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if file.Content == nil {
		return "", ErrContentNotFound
	}
	return uc.blobs.URL(ctx, file.Content.ObjectKey, expiry, file.OriginalFilename)
}

// OpenFile streams the file's bytes. The caller closes the reader.
func (uc *FileUseCase) OpenFile(ctx context.Context, id string) (*File, io.ReadCloser, error) {
	file, err := uc.files.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if file.Content == nil {
		return nil, nil, ErrContentNotFound
	}
	rc, err := uc.blobs.Open(ctx, file.Content.ObjectKey)
	if err != nil {
		return nil, nil, err
	}
	return file, rc, nil
}

// Stats computes the storage efficiency summary, served from cache when one
// is configured.
func (uc *FileUseCase) Stats(ctx context.Context) (*StorageStats, error) {
	if uc.cache != nil {
		var cached StorageStats
		if ok, err := uc.cache.Get(ctx, statsCacheKey, &cached); err != nil {
			uc.log.WithContext(ctx).Warn("stats cache read failed", zap.Error(err))
		} else if ok {
			return &cached, nil
		}
	}

	fileCount, logicalSize, err := uc.files.Totals(ctx)
	if err != nil {
		return nil, err
	}
	contentCount, physicalSize, err := uc.contents.repo.Totals(ctx)
	if err != nil {
		return nil, err
	}
	types, err := uc.files.TypeBreakdown(ctx, topFileTypes)
	if err != nil {
		return nil, err
	}

	stats := &StorageStats{
		TotalFiles:       fileCount,
		UniqueContents:   contentCount,
		TotalStorageUsed: physicalSize,
		LogicalStorage:   logicalSize,
		StorageSaved:     logicalSize - physicalSize,
		FileTypes:        types,
	}
	if uc.cache != nil {
		if err := uc.cache.Set(ctx, statsCacheKey, stats, uc.cacheTTL); err != nil {
			uc.log.WithContext(ctx).Warn("stats cache write failed", zap.Error(err))
		}
	}
	return stats, nil
}

// DuplicateGroups lists every content blob referenced by more than one file,
// with the referencing files, most referenced first.
func (uc *FileUseCase) DuplicateGroups(ctx context.Context) ([]*DuplicateGroup, error) {
	if uc.cache != nil {
		var cached []*DuplicateGroup
		if ok, err := uc.cache.Get(ctx, duplicatesCacheKey, &cached); err != nil {
			uc.log.WithContext(ctx).Warn("duplicates cache read failed", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	contents, err := uc.contents.repo.ListDuplicated(ctx)
	if err != nil {
		return nil, err
	}
	groups := make([]*DuplicateGroup, 0, len(contents))
	for _, c := range contents {
		files, err := uc.files.ListByContentID(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		groups = append(groups, &DuplicateGroup{Content: c, Files: files})
	}
	if uc.cache != nil {
		if err := uc.cache.Set(ctx, duplicatesCacheKey, groups, uc.cacheTTL); err != nil {
			uc.log.WithContext(ctx).Warn("duplicates cache write failed", zap.Error(err))
		}
	}
	return groups, nil
}

func (uc *FileUseCase) invalidateCaches(ctx context.Context) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.Invalidate(ctx, statsCacheKey, duplicatesCacheKey); err != nil {
		uc.log.WithContext(ctx).Warn("cache invalidation failed", zap.Error(err))
	}
}
