package data

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lk2023060901/filedepot/internal/file/biz"
	"github.com/lk2023060901/filedepot/internal/pkg/database"
)

// FilePO is the database model for a logical file. The foreign key restricts
// content deletion while references exist, backing up the reference counter
// at the schema level.
type FilePO struct {
	ID               string    `gorm:"type:uuid;primarykey;default:gen_random_uuid()"`
	ContentID        string    `gorm:"type:uuid;not null;index:idx_files_content_id"`
	OriginalFilename string    `gorm:"size:255;not null;index:idx_files_original_filename"`
	FileType         string    `gorm:"size:100;not null;index:idx_files_file_type"`
	Size             int64     `gorm:"not null;index:idx_files_size"`
	UploadedAt       time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index:idx_files_uploaded_at,sort:desc"`

	Content *ContentPO `gorm:"foreignKey:ContentID;constraint:OnDelete:RESTRICT"`
}

func (FilePO) TableName() string {
	return "files"
}

// orderings whitelists the sortable columns. Keys are the API-level names,
// values the SQL column.
var orderings = map[string]string{
	"uploaded_at":       "uploaded_at",
	"size":              "size",
	"original_filename": "original_filename",
}

// resolveOrdering maps an API ordering value ("size", "-uploaded_at", ...)
// to a whitelisted column and direction, falling back to most-recent-first.
func resolveOrdering(ordering string) (column string, desc bool) {
	desc = strings.HasPrefix(ordering, "-")
	column, ok := orderings[strings.TrimPrefix(ordering, "-")]
	if !ok {
		return "uploaded_at", true
	}
	return column, desc
}

// FileRepo implements biz.FileRepo on postgres.
type FileRepo struct {
	db *database.DB
}

func NewFileRepo(db *database.DB) biz.FileRepo {
	return &FileRepo{db: db}
}

func (r *FileRepo) toFile(po *FilePO) *biz.File {
	f := &biz.File{
		ID:               po.ID,
		ContentID:        po.ContentID,
		OriginalFilename: po.OriginalFilename,
		FileType:         po.FileType,
		Size:             po.Size,
		UploadedAt:       po.UploadedAt,
	}
	if po.Content != nil {
		f.Content = &biz.Content{
			ID:             po.Content.ID,
			ContentHash:    po.Content.ContentHash,
			Bucket:         po.Content.Bucket,
			ObjectKey:      po.Content.ObjectKey,
			Size:           po.Content.Size,
			ReferenceCount: po.Content.ReferenceCount,
			CreatedAt:      po.Content.CreatedAt,
		}
	}
	return f
}

func (r *FileRepo) Create(ctx context.Context, file *biz.File) error {
	po := &FilePO{
		ContentID:        file.ContentID,
		OriginalFilename: file.OriginalFilename,
		FileType:         file.FileType,
		Size:             file.Size,
	}
	if err := r.db.GetDBFromContext(ctx).Create(po).Error; err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	file.ID = po.ID
	file.UploadedAt = po.UploadedAt
	return nil
}

func (r *FileRepo) GetByID(ctx context.Context, id string) (*biz.File, error) {
	var po FilePO
	err := r.db.GetDBFromContext(ctx).
		Preload("Content").
		Where("id = ?", id).
		First(&po).Error
	if err != nil {
		if database.IsRecordNotFoundError(err) {
			return nil, biz.ErrFileNotFound
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return r.toFile(&po), nil
}

func (r *FileRepo) Delete(ctx context.Context, id string) error {
	result := r.db.GetDBFromContext(ctx).Where("id = ?", id).Delete(&FilePO{})
	if result.Error != nil {
		return fmt.Errorf("delete file: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return biz.ErrFileNotFound
	}
	return nil
}

func (r *FileRepo) List(ctx context.Context, q *biz.ListFilesQuery) ([]*biz.File, error) {
	tx := r.db.GetDBFromContext(ctx).Model(&FilePO{}).Preload("Content").Scopes(
		database.WhereIf(q.Search != "", "original_filename ILIKE ?", "%"+q.Search+"%"),
		database.WhereIf(q.FileType != "", "LOWER(file_type) = LOWER(?)", q.FileType),
	)
	if q.MinSize != nil {
		tx = tx.Where("size >= ?", *q.MinSize)
	}
	if q.MaxSize != nil {
		tx = tx.Where("size <= ?", *q.MaxSize)
	}
	if q.StartDate != nil {
		tx = tx.Where("uploaded_at >= ?", *q.StartDate)
	}
	if q.EndDate != nil {
		tx = tx.Where("uploaded_at <= ?", *q.EndDate)
	}

	column, desc := resolveOrdering(q.Ordering)
	var pos []FilePO
	if err := tx.Scopes(database.OrderBy(column, desc)).Find(&pos).Error; err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	out := make([]*biz.File, len(pos))
	for i := range pos {
		out[i] = r.toFile(&pos[i])
	}
	return out, nil
}

func (r *FileRepo) ListByContentID(ctx context.Context, contentID string) ([]*biz.File, error) {
	var pos []FilePO
	err := r.db.GetDBFromContext(ctx).
		Where("content_id = ?", contentID).
		Order("uploaded_at").
		Find(&pos).Error
	if err != nil {
		return nil, fmt.Errorf("list files by content: %w", err)
	}
	out := make([]*biz.File, len(pos))
	for i := range pos {
		out[i] = r.toFile(&pos[i])
	}
	return out, nil
}

func (r *FileRepo) Totals(ctx context.Context) (int64, int64, error) {
	var row struct {
		Count     int64
		TotalSize int64
	}
	err := r.db.GetDBFromContext(ctx).Model(&FilePO{}).
		Select("COUNT(*) AS count, COALESCE(SUM(size), 0) AS total_size").
		Scan(&row).Error
	if err != nil {
		return 0, 0, fmt.Errorf("file totals: %w", err)
	}
	return row.Count, row.TotalSize, nil
}

func (r *FileRepo) TypeBreakdown(ctx context.Context, limit int) ([]*biz.TypeStat, error) {
	var rows []struct {
		FileType  string
		Count     int64
		TotalSize int64
	}
	err := r.db.GetDBFromContext(ctx).Model(&FilePO{}).
		Select("file_type, COUNT(*) AS count, COALESCE(SUM(size), 0) AS total_size").
		Group("file_type").
		Order("total_size DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("file type breakdown: %w", err)
	}
	out := make([]*biz.TypeStat, len(rows))
	for i, row := range rows {
		out[i] = &biz.TypeStat{FileType: row.FileType, Count: row.Count, TotalSize: row.TotalSize}
	}
	return out, nil
}
