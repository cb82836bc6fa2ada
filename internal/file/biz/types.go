package biz

import (
	"context"
	"io"
	"time"
)

// Content is one unique blob of bytes, keyed by its SHA-256 digest. Any
// number of File records may point at it; ReferenceCount is the
// authoritative count of those records.
type Content struct {
	ID             string
	ContentHash    string
	Bucket         string
	ObjectKey      string
	Size           int64
	ReferenceCount int
	CreatedAt      time.Time
}

// File is a logical, user-visible file. It always points at exactly one
// Content; Size is a denormalized copy of the content size taken at creation
// time so list queries stay index-friendly.
type File struct {
	ID               string
	ContentID        string
	OriginalFilename string
	FileType         string
	Size             int64
	UploadedAt       time.Time

	// Content is populated on reads that join the content row.
	Content *Content
}

// ListFilesQuery filters and orders a file listing.
type ListFilesQuery struct {
	// Search matches a case-insensitive substring of the original filename.
	Search string
	// FileType matches the stored type exactly (case-insensitive).
	FileType string
	// MinSize/MaxSize bound the file size, inclusive.
	MinSize *int64
	MaxSize *int64
	// StartDate/EndDate bound the upload date, inclusive.
	StartDate *time.Time
	EndDate   *time.Time
	// Ordering is one of the whitelisted sort keys ("uploaded_at", "size",
	// "original_filename", each optionally prefixed with "-"). Unrecognized
	// values fall back to most-recent-first.
	Ordering string
}

// TypeStat is one row of the per-type storage breakdown.
type TypeStat struct {
	FileType  string
	Count     int64
	TotalSize int64
}

// StorageStats summarizes logical vs. physical storage use.
type StorageStats struct {
	TotalFiles       int64
	UniqueContents   int64
	TotalStorageUsed int64 // bytes physically stored
	LogicalStorage   int64 // bytes as the user sees them
	StorageSaved     int64
	FileTypes        []*TypeStat
}

// DuplicateGroup is one content blob referenced by more than one file.
type DuplicateGroup struct {
	Content *Content
	Files   []*File
}

// ContentRepo is the persistence interface for content rows. Methods suffixed
// Locked take a row-level exclusive lock and must run inside a transaction.
type ContentRepo interface {
	// GetByHash returns nil, nil when no row matches.
	GetByHash(ctx context.Context, hash string) (*Content, error)
	// GetByHashLocked is GetByHash with SELECT ... FOR UPDATE semantics.
	GetByHashLocked(ctx context.Context, hash string) (*Content, error)
	// GetByIDLocked returns nil, nil when no row matches.
	GetByIDLocked(ctx context.Context, id string) (*Content, error)
	Create(ctx context.Context, content *Content) error
	// IncrementRef atomically adds one to the reference count.
	IncrementRef(ctx context.Context, id string) error
	// DecrementRef atomically subtracts one, guarded so the count can never
	// go below zero. Returns ErrNegativeRefCount if the guard rejects the
	// update for an existing row.
	DecrementRef(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	// ListOrphaned returns rows whose reference count is zero or less.
	ListOrphaned(ctx context.Context) ([]*Content, error)
	// ListDuplicated returns rows with more than one reference, most
	// referenced first.
	ListDuplicated(ctx context.Context) ([]*Content, error)
	// Totals returns the number of content rows and the sum of their sizes.
	Totals(ctx context.Context) (count int64, totalSize int64, err error)
}

// FileRepo is the persistence interface for file rows.
type FileRepo interface {
	Create(ctx context.Context, file *File) error
	// GetByID returns ErrFileNotFound when no row matches.
	GetByID(ctx context.Context, id string) (*File, error)
	// Delete returns ErrFileNotFound when no row matches.
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, q *ListFilesQuery) ([]*File, error)
	ListByContentID(ctx context.Context, contentID string) ([]*File, error)
	// Totals returns the number of file rows and the sum of their sizes.
	Totals(ctx context.Context) (count int64, totalSize int64, err error)
	TypeBreakdown(ctx context.Context, limit int) ([]*TypeStat, error)
}

// BlobStore is the byte store behind the content ledger. Keys are derived
// from the content hash, so writing the same content twice converges on the
// same object.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete is idempotent: deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
	// URL returns a time-limited download locator for external callers.
	URL(ctx context.Context, key string, expiry time.Duration, downloadName string) (string, error)
}

// TxRunner serializes a unit of work against the metadata store, retrying
// transient conflicts. Repository calls made inside fn share one transaction.
type TxRunner interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// StatsCache caches read-only projections. Implementations must be safe for
// concurrent use; a nil cache disables caching.
type StatsCache interface {
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}
