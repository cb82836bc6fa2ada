package data

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lk2023060901/filedepot/internal/file/biz"
	"github.com/lk2023060901/filedepot/internal/pkg/database"
)

// ContentPO is the database model for a unique content blob.
type ContentPO struct {
	ID             string    `gorm:"type:uuid;primarykey;default:gen_random_uuid()"`
	ContentHash    string    `gorm:"size:64;not null;uniqueIndex:idx_file_contents_hash"`
	Bucket         string    `gorm:"size:63;not null"`
	ObjectKey      string    `gorm:"size:255;not null"`
	Size           int64     `gorm:"not null"`
	ReferenceCount int       `gorm:"not null;default:0"`
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (ContentPO) TableName() string {
	return "file_contents"
}

// ContentRepo implements biz.ContentRepo on postgres.
type ContentRepo struct {
	db     *database.DB
	bucket string
}

func NewContentRepo(db *database.DB, bucket string) biz.ContentRepo {
	return &ContentRepo{db: db, bucket: bucket}
}

func (r *ContentRepo) toContent(po *ContentPO) *biz.Content {
	return &biz.Content{
		ID:             po.ID,
		ContentHash:    po.ContentHash,
		Bucket:         po.Bucket,
		ObjectKey:      po.ObjectKey,
		Size:           po.Size,
		ReferenceCount: po.ReferenceCount,
		CreatedAt:      po.CreatedAt,
	}
}

func (r *ContentRepo) getByHash(ctx context.Context, hash string, lock bool) (*biz.Content, error) {
	tx := r.db.GetDBFromContext(ctx)
	if lock {
		tx = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var po ContentPO
	if err := tx.Where("content_hash = ?", hash).First(&po).Error; err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get content by hash: %w", err)
	}
	return r.toContent(&po), nil
}

func (r *ContentRepo) GetByHash(ctx context.Context, hash string) (*biz.Content, error) {
	return r.getByHash(ctx, hash, false)
}

func (r *ContentRepo) GetByHashLocked(ctx context.Context, hash string) (*biz.Content, error) {
	return r.getByHash(ctx, hash, true)
}

func (r *ContentRepo) GetByIDLocked(ctx context.Context, id string) (*biz.Content, error) {
	var po ContentPO
	err := r.db.GetDBFromContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get content by id: %w", err)
	}
	return r.toContent(&po), nil
}

func (r *ContentRepo) Create(ctx context.Context, content *biz.Content) error {
	po := &ContentPO{
		ContentHash:    content.ContentHash,
		Bucket:         r.bucket,
		ObjectKey:      content.ObjectKey,
		Size:           content.Size,
		ReferenceCount: content.ReferenceCount,
	}
	if err := r.db.GetDBFromContext(ctx).Create(po).Error; err != nil {
		return fmt.Errorf("create content: %w", err)
	}
	content.ID = po.ID
	content.Bucket = po.Bucket
	content.CreatedAt = po.CreatedAt
	return nil
}

func (r *ContentRepo) IncrementRef(ctx context.Context, id string) error {
	result := r.db.GetDBFromContext(ctx).Model(&ContentPO{}).
		Where("id = ?", id).
		Update("reference_count", gorm.Expr("reference_count + 1"))
	if result.Error != nil {
		return fmt.Errorf("increment reference: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return biz.ErrContentNotFound
	}
	return nil
}

// DecrementRef is guarded so the count can never go below zero, even if two
// releases of the same reference race past the row lock.
func (r *ContentRepo) DecrementRef(ctx context.Context, id string) error {
	result := r.db.GetDBFromContext(ctx).Model(&ContentPO{}).
		Where("id = ? AND reference_count > 0", id).
		Update("reference_count", gorm.Expr("reference_count - 1"))
	if result.Error != nil {
		return fmt.Errorf("decrement reference: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		if err := r.db.GetDBFromContext(ctx).Model(&ContentPO{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return fmt.Errorf("decrement reference: %w", err)
		}
		if count == 0 {
			return biz.ErrContentNotFound
		}
		return biz.ErrNegativeRefCount
	}
	return nil
}

func (r *ContentRepo) Delete(ctx context.Context, id string) error {
	if err := r.db.GetDBFromContext(ctx).Where("id = ?", id).Delete(&ContentPO{}).Error; err != nil {
		return fmt.Errorf("delete content: %w", err)
	}
	return nil
}

func (r *ContentRepo) ListOrphaned(ctx context.Context) ([]*biz.Content, error) {
	var pos []ContentPO
	err := r.db.GetDBFromContext(ctx).
		Where("reference_count <= 0").
		Order("created_at").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("list orphaned contents: %w", err)
	}
	out := make([]*biz.Content, len(pos))
	for i := range pos {
		out[i] = r.toContent(&pos[i])
	}
	return out, nil
}

func (r *ContentRepo) ListDuplicated(ctx context.Context) ([]*biz.Content, error) {
	var pos []ContentPO
	err := r.db.GetDBFromContext(ctx).
		Where("reference_count > 1").
		Order("reference_count DESC, created_at").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("list duplicated contents: %w", err)
	}
	out := make([]*biz.Content, len(pos))
	for i := range pos {
		out[i] = r.toContent(&pos[i])
	}
	return out, nil
}

func (r *ContentRepo) Totals(ctx context.Context) (int64, int64, error) {
	var row struct {
		Count     int64
		TotalSize int64
	}
	err := r.db.GetDBFromContext(ctx).Model(&ContentPO{}).
		Select("COUNT(*) AS count, COALESCE(SUM(size), 0) AS total_size").
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("content totals: %w", err)
	}
	return row.Count, row.TotalSize, nil
}
