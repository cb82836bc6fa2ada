package database

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxFunc defines a transaction function
type TxFunc func(ctx context.Context, tx *gorm.DB) error

// Transaction executes a function within a database transaction
func (db *DB) Transaction(ctx context.Context, fn TxFunc) error {
	return db.TransactionWithOptions(ctx, &sql.TxOptions{}, fn)
}

// TransactionWithOptions executes a function within a database transaction
// with custom options. The transaction is stored in the context handed to fn,
// so repositories called inside fn join it via GetDBFromContext.
func (db *DB) TransactionWithOptions(ctx context.Context, opts *sql.TxOptions, fn TxFunc) error {
	return db.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := ContextWithTransaction(ctx, tx)
		if err := fn(txCtx, tx); err != nil {
			db.logger.WithContext(ctx).Debug("transaction failed, rolling back",
				zap.Error(err),
			)
			return err
		}
		return nil
	}, opts)
}

// TransactionManager runs transactions with bounded retry on transient
// conflicts. Concurrent acquire/release traffic on the same content row is
// expected to collide; the manager absorbs those collisions instead of
// surfacing them to callers.
type TransactionManager struct {
	db         *DB
	maxRetries int
	baseDelay  time.Duration
}

// NewTransactionManager creates a new transaction manager
func NewTransactionManager(db *DB) *TransactionManager {
	return &TransactionManager{
		db:         db,
		maxRetries: 3,
		baseDelay:  10 * time.Millisecond,
	}
}

// Execute runs fn in a transaction, retrying transient conflicts
func (tm *TransactionManager) Execute(ctx context.Context, fn TxFunc) error {
	return tm.execute(ctx, &sql.TxOptions{}, fn)
}

// Serializable runs fn in a SERIALIZABLE transaction, retrying transient conflicts
func (tm *TransactionManager) Serializable(ctx context.Context, fn TxFunc) error {
	return tm.execute(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable}, fn)
}

// ReadOnly runs fn in a read-only transaction
func (tm *TransactionManager) ReadOnly(ctx context.Context, fn TxFunc) error {
	return tm.db.TransactionWithOptions(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (tm *TransactionManager) execute(ctx context.Context, opts *sql.TxOptions, fn TxFunc) error {
	var lastErr error

	for attempt := 0; attempt <= tm.maxRetries; attempt++ {
		if attempt > 0 {
			tm.db.logger.WithContext(ctx).Warn("retrying transaction",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", tm.maxRetries),
				zap.Error(lastErr),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(tm.backoff(attempt)):
			}
		}

		err := tm.db.TransactionWithOptions(ctx, opts, fn)
		if err == nil {
			return nil
		}

		lastErr = err

		if !IsRetryableError(err) {
			return err
		}
	}

	return fmt.Errorf("transaction failed after %d retries: %w", tm.maxRetries, lastErr)
}

// backoff returns an exponential delay with jitter for the given attempt
func (tm *TransactionManager) backoff(attempt int) time.Duration {
	delay := tm.baseDelay << (attempt - 1)
	jitter := time.Duration(rand.Int63n(int64(tm.baseDelay)))
	return delay + jitter
}

// IsRetryableError reports whether a transaction error is worth retrying
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	return IsSerializationError(err) || IsDuplicateKeyError(err)
}

// transactionKey is the context key for storing the active transaction
type transactionKey struct{}

// ContextWithTransaction stores the transaction in ctx
func ContextWithTransaction(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, transactionKey{}, tx)
}

// TransactionFromContext extracts the transaction from ctx
func TransactionFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(transactionKey{}).(*gorm.DB)
	return tx, ok
}

// GetDBFromContext returns the active transaction if ctx carries one, and the
// base connection otherwise
func (db *DB) GetDBFromContext(ctx context.Context) *gorm.DB {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx
	}
	return db.DB.WithContext(ctx)
}
