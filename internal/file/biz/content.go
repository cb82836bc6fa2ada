package biz

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/lk2023060901/filedepot/internal/pkg/logger"
)

// ObjectKeyForHash maps a content hash to its blob key. Fanning out on the
// first two hex digits keeps bucket listings manageable.
func ObjectKeyForHash(hash string) string {
	return fmt.Sprintf("files/%s/%s", hash[:2], hash)
}

// AcquireResult reports how an Acquire resolved.
type AcquireResult struct {
	Content *Content
	// Deduplicated is true when the upload matched an existing content row
	// instead of storing new bytes.
	Deduplicated bool
}

// ContentStore owns the content ledger: hash-keyed rows, their reference
// counts, and the blobs behind them. All mutations run inside transactions
// provided by the TxRunner so concurrent uploads and deletes of the same
// content serialize on the row lock.
type ContentStore struct {
	repo  ContentRepo
	blobs BlobStore
	tx    TxRunner
	log   *logger.Logger
}

func NewContentStore(repo ContentRepo, blobs BlobStore, tx TxRunner, log *logger.Logger) *ContentStore {
	if log == nil {
		log = logger.L()
	}
	return &ContentStore{repo: repo, blobs: blobs, tx: tx, log: log.Named("content")}
}

// Acquire registers one reference to the given content, storing the bytes if
// the hash is new. The reader must be positioned at the start of the content
// and is consumed only on the store path.
//
// The read-modify-write runs under SELECT FOR UPDATE. A concurrent first
// upload of the same hash hits the unique index on content_hash; the runner
// retries and the retry resolves as a dedup hit.
func (s *ContentStore) Acquire(ctx context.Context, hash string, size int64, contentType string, r io.Reader) (*AcquireResult, error) {
	var res *AcquireResult
	err := s.tx.Execute(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.AcquireTx(ctx, hash, size, contentType, r)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AcquireTx is Acquire inside a caller-owned transaction. Callers compose it
// with other writes, typically creating the file row in the same transaction.
func (s *ContentStore) AcquireTx(ctx context.Context, hash string, size int64, contentType string, r io.Reader) (*AcquireResult, error) {
	existing, err := s.repo.GetByHashLocked(ctx, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Size != size {
			s.log.WithContext(ctx).Error("size mismatch on content hash hit",
				zap.String("content_hash", hash),
				zap.Int64("stored_size", existing.Size),
				zap.Int64("upload_size", size))
			return nil, ErrSizeMismatch
		}
		if err := s.repo.IncrementRef(ctx, existing.ID); err != nil {
			return nil, err
		}
		existing.ReferenceCount++
		return &AcquireResult{Content: existing, Deduplicated: true}, nil
	}

	key := ObjectKeyForHash(hash)
	if err := s.blobs.Put(ctx, key, r, size, contentType); err != nil {
		return nil, fmt.Errorf("store blob: %w", err)
	}

	content := &Content{
		ContentHash:    hash,
		ObjectKey:      key,
		Size:           size,
		ReferenceCount: 1,
	}
	if err := s.repo.Create(ctx, content); err != nil {
		// A unique violation here means another transaction inserted the
		// same hash first. The blob write is keyed by hash and therefore
		// convergent; the runner retries and lands on the hit path.
		return nil, err
	}
	s.log.WithContext(ctx).Info("stored new content",
		zap.String("content_hash", hash),
		zap.Int64("size", size))
	return &AcquireResult{Content: content, Deduplicated: false}, nil
}

// ReleaseTx drops one reference inside a caller-owned transaction and reports
// whether the count reached zero. It never deletes anything itself; callers
// run Reclaim after their transaction commits.
func (s *ContentStore) ReleaseTx(ctx context.Context, contentID string) (orphaned bool, err error) {
	content, err := s.repo.GetByIDLocked(ctx, contentID)
	if err != nil {
		return false, err
	}
	if content == nil {
		return false, ErrContentNotFound
	}
	if err := s.repo.DecrementRef(ctx, contentID); err != nil {
		return false, err
	}
	return content.ReferenceCount-1 <= 0, nil
}

// Reclaim deletes a content row and its blob if and only if the row still has
// no references at the time of the check, reporting whether anything was
// deleted. The blob goes first: a missing blob delete is idempotent, so a
// crash between the two steps leaves a zero-count row that the orphan sweep
// picks up later.
func (s *ContentStore) Reclaim(ctx context.Context, contentID string) (deleted bool, err error) {
	err = s.tx.Execute(ctx, func(ctx context.Context) error {
		deleted = false
		content, err := s.repo.GetByIDLocked(ctx, contentID)
		if err != nil {
			return err
		}
		if content == nil {
			return nil
		}
		if content.ReferenceCount > 0 {
			// Re-referenced between release and reclaim. Leave it alone.
			return nil
		}
		if err := s.blobs.Delete(ctx, content.ObjectKey); err != nil {
			return fmt.Errorf("delete blob: %w", err)
		}
		if err := s.repo.Delete(ctx, contentID); err != nil {
			return err
		}
		deleted = true
		s.log.WithContext(ctx).Info("reclaimed orphaned content",
			zap.String("content_hash", content.ContentHash),
			zap.Int64("size", content.Size))
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}
