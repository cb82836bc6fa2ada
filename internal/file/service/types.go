package service

import (
	"time"

	"github.com/docker/go-units"

	"github.com/lk2023060901/filedepot/internal/file/biz"
)

const timeFormat = time.RFC3339

// shortHash abbreviates a content hash for display. Full hashes stay
// server-side.
func shortHash(hash string) string {
	if len(hash) <= 8 {
		return hash
	}
	return hash[:8] + "..."
}

func formatSize(size int64) string {
	return units.HumanSize(float64(size))
}

// FileResponse is the API shape of a single file.
type FileResponse struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename"`
	FileType         string `json:"file_type"`
	Size             int64  `json:"size"`
	SizeFormatted    string `json:"size_formatted"`
	ContentHash      string `json:"content_hash"`
	ReferenceCount   int    `json:"reference_count"`
	UploadedAt       string `json:"uploaded_at"`
}

func toFileResponse(f *biz.File) *FileResponse {
	resp := &FileResponse{
		ID:               f.ID,
		OriginalFilename: f.OriginalFilename,
		FileType:         f.FileType,
		Size:             f.Size,
		SizeFormatted:    formatSize(f.Size),
		UploadedAt:       f.UploadedAt.UTC().Format(timeFormat),
	}
	if f.Content != nil {
		resp.ContentHash = shortHash(f.Content.ContentHash)
		resp.ReferenceCount = f.Content.ReferenceCount
	}
	return resp
}

// UploadDetails reports how an upload was handled.
type UploadDetails struct {
	WasDeduplicated bool   `json:"was_deduplicated"`
	ContentHash     string `json:"content_hash"`
	StorageSaved    int64  `json:"storage_saved"`
}

// UploadResponse is the payload of a successful upload.
type UploadResponse struct {
	File          *FileResponse `json:"file"`
	UploadDetails UploadDetails `json:"upload_details"`
}

// ListResponse wraps a file listing.
type ListResponse struct {
	Files []*FileResponse `json:"files"`
	Count int             `json:"count"`
}

// TypeStatResponse is one row of the per-type breakdown.
type TypeStatResponse struct {
	FileType           string `json:"file_type"`
	Count              int64  `json:"count"`
	TotalSize          int64  `json:"total_size"`
	TotalSizeFormatted string `json:"total_size_formatted"`
}

// StatsResponse summarizes storage use and dedup savings.
type StatsResponse struct {
	TotalFiles                int64               `json:"total_files"`
	UniqueContents            int64               `json:"unique_contents"`
	TotalLogicalSize          int64               `json:"total_logical_size"`
	TotalLogicalSizeFormatted string              `json:"total_logical_size_formatted"`
	TotalStorageUsed          int64               `json:"total_storage_used"`
	TotalStorageUsedFormatted string              `json:"total_storage_used_formatted"`
	StorageSaved              int64               `json:"storage_saved"`
	StorageSavedFormatted     string              `json:"storage_saved_formatted"`
	DeduplicationRatio        float64             `json:"deduplication_ratio"`
	SavingsPercentage         float64             `json:"savings_percentage"`
	FileTypes                 []*TypeStatResponse `json:"file_types"`
}

func toStatsResponse(stats *biz.StorageStats) *StatsResponse {
	resp := &StatsResponse{
		TotalFiles:                stats.TotalFiles,
		UniqueContents:            stats.UniqueContents,
		TotalLogicalSize:          stats.LogicalStorage,
		TotalLogicalSizeFormatted: formatSize(stats.LogicalStorage),
		TotalStorageUsed:          stats.TotalStorageUsed,
		TotalStorageUsedFormatted: formatSize(stats.TotalStorageUsed),
		StorageSaved:              stats.StorageSaved,
		StorageSavedFormatted:     formatSize(stats.StorageSaved),
		FileTypes:                 make([]*TypeStatResponse, len(stats.FileTypes)),
	}
	if stats.LogicalStorage > 0 {
		resp.SavingsPercentage = float64(stats.StorageSaved) / float64(stats.LogicalStorage) * 100
	}
	if stats.UniqueContents > 0 {
		resp.DeduplicationRatio = float64(stats.TotalFiles) / float64(stats.UniqueContents)
	}
	for i, st := range stats.FileTypes {
		resp.FileTypes[i] = &TypeStatResponse{
			FileType:           st.FileType,
			Count:              st.Count,
			TotalSize:          st.TotalSize,
			TotalSizeFormatted: formatSize(st.TotalSize),
		}
	}
	return resp
}

// DuplicateFileResponse is one file inside a duplicate group.
type DuplicateFileResponse struct {
	ID               string `json:"id"`
	OriginalFilename string `json:"original_filename"`
	UploadedAt       string `json:"uploaded_at"`
}

// DuplicateGroupResponse is one content blob shared by several files.
type DuplicateGroupResponse struct {
	ContentHash           string                   `json:"content_hash"`
	Size                  int64                    `json:"size"`
	SizeFormatted         string                   `json:"size_formatted"`
	ReferenceCount        int                      `json:"reference_count"`
	StorageSaved          int64                    `json:"storage_saved"`
	StorageSavedFormatted string                   `json:"storage_saved_formatted"`
	Files                 []*DuplicateFileResponse `json:"files"`
}

// DuplicatesResponse wraps the duplicate listing.
type DuplicatesResponse struct {
	Groups []*DuplicateGroupResponse `json:"groups"`
	Count  int                       `json:"count"`
}

func toDuplicatesResponse(groups []*biz.DuplicateGroup) *DuplicatesResponse {
	resp := &DuplicatesResponse{Groups: make([]*DuplicateGroupResponse, len(groups)), Count: len(groups)}
	for i, g := range groups {
		saved := g.Content.Size * int64(g.Content.ReferenceCount-1)
		gr := &DuplicateGroupResponse{
			ContentHash:           shortHash(g.Content.ContentHash),
			Size:                  g.Content.Size,
			SizeFormatted:         formatSize(g.Content.Size),
			ReferenceCount:        g.Content.ReferenceCount,
			StorageSaved:          saved,
			StorageSavedFormatted: formatSize(saved),
			Files:                 make([]*DuplicateFileResponse, len(g.Files)),
		}
		for j, f := range g.Files {
			gr.Files[j] = &DuplicateFileResponse{
				ID:               f.ID,
				OriginalFilename: f.OriginalFilename,
				UploadedAt:       f.UploadedAt.UTC().Format(timeFormat),
			}
		}
		resp.Groups[i] = gr
	}
	return resp
}

// SweepResponse reports an orphan sweep run.
type SweepResponse struct {
	Scanned             int    `json:"scanned"`
	Reclaimed           int    `json:"reclaimed"`
	Skipped             int    `json:"skipped"`
	Failed              int    `json:"failed"`
	BytesFreed          int64  `json:"bytes_freed"`
	BytesFreedFormatted string `json:"bytes_freed_formatted"`
}

func toSweepResponse(report *biz.SweepReport) *SweepResponse {
	return &SweepResponse{
		Scanned:             report.Scanned,
		Reclaimed:           report.Reclaimed,
		Skipped:             report.Skipped,
		Failed:              report.Failed,
		BytesFreed:          report.BytesFreed,
		BytesFreedFormatted: formatSize(report.BytesFreed),
	}
}
