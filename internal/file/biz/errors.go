package biz

import "errors"

var (
	// ErrFileNotFound means no file row matches the requested ID.
	ErrFileNotFound = errors.New("file not found")

	// ErrContentNotFound means a content row expected to exist is gone.
	ErrContentNotFound = errors.New("content not found")

	// ErrEmptyUpload rejects zero-byte uploads.
	ErrEmptyUpload = errors.New("uploaded file is empty")

	// ErrFileTooLarge rejects uploads beyond the configured size limit.
	ErrFileTooLarge = errors.New("uploaded file exceeds size limit")

	// ErrNegativeRefCount means a decrement would have pushed a reference
	// count below zero. The guarded update refuses it.
	ErrNegativeRefCount = errors.New("reference count would become negative")

	// ErrSizeMismatch means an upload matched an existing content hash but
	// reported a different byte size. Either the stored row or the upload is
	// corrupt; the operation is refused.
	ErrSizeMismatch = errors.New("content size mismatch for existing hash")
)
