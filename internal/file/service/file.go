package service

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lk2023060901/filedepot/internal/file/biz"
	"github.com/lk2023060901/filedepot/internal/pkg/database"
	apperrors "github.com/lk2023060901/filedepot/internal/pkg/errors"
	"github.com/lk2023060901/filedepot/internal/pkg/logger"
	"github.com/lk2023060901/filedepot/internal/pkg/response"
	"github.com/lk2023060901/filedepot/internal/pkg/validator"
)

const downloadExpiry = 15 * time.Minute

// FileService exposes the file operations over HTTP.
type FileService struct {
	uc        *biz.FileUseCase
	reclaimer *biz.Reclaimer
	maxSize   int64
	log       *logger.Logger
}

func NewFileService(uc *biz.FileUseCase, reclaimer *biz.Reclaimer, maxSize int64, log *logger.Logger) *FileService {
	if log == nil {
		log = logger.L()
	}
	return &FileService{uc: uc, reclaimer: reclaimer, maxSize: maxSize, log: log.Named("file-service")}
}

// Upload handles POST /api/v1/files. The file arrives as multipart form
// field "file".
func (s *FileService) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		response.ErrorWithCode(c, apperrors.ErrFileInvalidUpload, "missing form field \"file\"")
		return
	}
	if header.Size == 0 {
		response.ErrorWithCode(c, apperrors.ErrFileEmptyUpload)
		return
	}
	if !validator.ValidSizeLimit(header.Size, s.maxSize) {
		response.ErrorWithCode(c, apperrors.ErrFileTooLarge)
		return
	}

	f, err := header.Open()
	if err != nil {
		s.log.WithContext(c.Request.Context()).Error("open multipart file", zap.Error(err))
		response.ErrorWithCode(c, apperrors.ErrFileInvalidUpload, "unreadable upload")
		return
	}
	defer f.Close()

	req := &biz.UploadRequest{
		OriginalFilename: validator.SanitizeFilename(header.Filename),
		FileType:         validator.NormalizeContentType(header.Header.Get("Content-Type")),
		DeclaredSize:     header.Size,
		Content:          f,
	}
	res, err := s.uc.CreateFile(c.Request.Context(), req)
	if err != nil {
		s.handleError(c, err)
		return
	}

	response.Created(c, &UploadResponse{
		File: toFileResponse(res.File),
		UploadDetails: UploadDetails{
			WasDeduplicated: res.Deduplicated,
			ContentHash:     shortHash(res.File.Content.ContentHash),
			StorageSaved:    res.StorageSaved,
		},
	})
}

// List handles GET /api/v1/files with optional filters.
func (s *FileService) List(c *gin.Context) {
	q := &biz.ListFilesQuery{
		Search:   c.Query("search"),
		FileType: c.Query("file_type"),
		Ordering: c.Query("ordering"),
	}

	var bad string
	q.MinSize, bad = parseSizeParam(c, "min_size", bad)
	q.MaxSize, bad = parseSizeParam(c, "max_size", bad)
	q.StartDate, bad = parseDateParam(c, "start_date", bad, false)
	q.EndDate, bad = parseDateParam(c, "end_date", bad, true)
	if bad != "" {
		response.ErrorWithCode(c, apperrors.ErrInvalidParams, bad)
		return
	}

	files, err := s.uc.ListFiles(c.Request.Context(), q)
	if err != nil {
		s.handleError(c, err)
		return
	}

	out := make([]*FileResponse, len(files))
	for i, f := range files {
		out[i] = toFileResponse(f)
	}
	response.Success(c, &ListResponse{Files: out, Count: len(out)})
}

// Get handles GET /api/v1/files/:id.
func (s *FileService) Get(c *gin.Context) {
	file, err := s.uc.GetFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	response.Success(c, toFileResponse(file))
}

// Delete handles DELETE /api/v1/files/:id.
func (s *FileService) Delete(c *gin.Context) {
	if err := s.uc.DeleteFile(c.Request.Context(), c.Param("id")); err != nil {
		s.handleError(c, err)
		return
	}
	response.NoContent(c)
}

// Download handles GET /api/v1/files/:id/download by redirecting to a
// presigned object URL carrying the original filename.
func (s *FileService) Download(c *gin.Context) {
	url, err := s.uc.DownloadURL(c.Request.Context(), c.Param("id"), downloadExpiry)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.Redirect(http.StatusFound, url)
}

// Stats handles GET /api/v1/files/stats.
func (s *FileService) Stats(c *gin.Context) {
	stats, err := s.uc.Stats(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}
	response.Success(c, toStatsResponse(stats))
}

// Duplicates handles GET /api/v1/files/duplicates.
func (s *FileService) Duplicates(c *gin.Context) {
	groups, err := s.uc.DuplicateGroups(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}
	response.Success(c, toDuplicatesResponse(groups))
}

// ReclaimOrphans handles POST /api/v1/admin/reclaim-orphans.
func (s *FileService) ReclaimOrphans(c *gin.Context) {
	report, err := s.reclaimer.Sweep(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}
	response.Success(c, toSweepResponse(report))
}

func (s *FileService) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, biz.ErrFileNotFound):
		response.ErrorWithCode(c, apperrors.ErrFileNotFound)
	case errors.Is(err, biz.ErrEmptyUpload):
		response.ErrorWithCode(c, apperrors.ErrFileEmptyUpload)
	case errors.Is(err, biz.ErrFileTooLarge):
		response.ErrorWithCode(c, apperrors.ErrFileTooLarge)
	case errors.Is(err, biz.ErrSizeMismatch), errors.Is(err, biz.ErrNegativeRefCount):
		s.log.WithContext(c.Request.Context()).Error("storage integrity violation", zap.Error(err))
		response.ErrorWithCode(c, apperrors.ErrStorageIntegrity)
	case errors.Is(err, biz.ErrContentNotFound):
		s.log.WithContext(c.Request.Context()).Error("content missing for file", zap.Error(err))
		response.ErrorWithCode(c, apperrors.ErrStorageIntegrity)
	case database.IsRetryableError(err):
		// The transaction runner already exhausted its retries. The client
		// can safely try again.
		s.log.WithContext(c.Request.Context()).Warn("storage conflict after retries", zap.Error(err))
		response.ErrorWithCode(c, apperrors.ErrStorageConflict)
	default:
		s.log.WithContext(c.Request.Context()).Error("file operation failed", zap.Error(err))
		response.HandleError(c, apperrors.Wrap(err, apperrors.ErrStorageFailed))
	}
}

func parseSizeParam(c *gin.Context, name, bad string) (*int64, string) {
	if bad != "" {
		return nil, bad
	}
	raw := c.Query(name)
	if raw == "" {
		return nil, ""
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return nil, "invalid " + name
	}
	return &v, ""
}

func parseDateParam(c *gin.Context, name, bad string, endOfDay bool) (*time.Time, string) {
	if bad != "" {
		return nil, bad
	}
	raw := c.Query(name)
	if raw == "" {
		return nil, ""
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		// A bare date bound is inclusive of the whole day.
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return &t, ""
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, "invalid " + name
	}
	return &t, ""
}

// RegisterRoutes mounts the public file routes.
func (s *FileService) RegisterRoutes(r *gin.RouterGroup) {
	files := r.Group("/files")
	{
		files.POST("", s.Upload)
		files.GET("", s.List)
		files.GET("/stats", s.Stats)
		files.GET("/duplicates", s.Duplicates)
		files.GET("/:id", s.Get)
		files.GET("/:id/download", s.Download)
		files.DELETE("/:id", s.Delete)
	}
}

// RegisterAdminRoutes mounts the admin routes; the caller wraps the group in
// the auth middleware.
func (s *FileService) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/reclaim-orphans", s.ReclaimOrphans)
}
