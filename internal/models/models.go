package models

import (
	"time"

	"github.com/google/uuid"
)

// Image is a stored upload. Everything except LikeCount and Comments is
// fixed at creation.
type Image struct {
	ID          uuid.UUID `json:"id" db:"id"`
	ProviderID  string    `json:"providerId" db:"provider_id"`
	URL         string    `json:"url" db:"url"`
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	Name        string    `json:"name,omitempty" db:"name"`
	Width       int       `json:"width" db:"width"`
	Height      int       `json:"height" db:"height"`
	LikeCount   int64     `json:"likeCount" db:"like_count"`
	Comments    []Comment `json:"comments"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}

// NewImage carries the fields of an image that is about to be persisted.
type NewImage struct {
	ProviderID  string
	URL         string
	Fingerprint string
	Name        string
	Width       int
	Height      int
}

type Comment struct {
	Text      string    `json:"text" db:"text"`
	Author    string    `json:"author,omitempty" db:"author"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// RawUpload is one file of an upload batch, fully read into memory.
type RawUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

type UploadStatus string

const (
	StatusStored  UploadStatus = "stored"
	StatusSkipped UploadStatus = "skipped"
	StatusFailed  UploadStatus = "failed"
)

// Skip and failure reasons reported per upload item.
const (
	ReasonDuplicate    = "duplicate"
	ReasonTimeout      = "timeout"
	ReasonInvalidImage = "invalid image"
	ReasonBlobStore    = "blob store failure"
	ReasonDatabase     = "database failure"
)

type UploadResult struct {
	Name        string       `json:"name"`
	Status      UploadStatus `json:"status"`
	Reason      string       `json:"reason,omitempty"`
	Fingerprint string       `json:"fingerprint,omitempty"`
	ID          string       `json:"id,omitempty"`
	URL         string       `json:"url,omitempty"`

	Image *Image `json:"-"`
}

// BatchOutcome summarises a whole upload batch.
type BatchOutcome string

const (
	BatchStored        BatchOutcome = "stored"
	BatchAllDuplicates BatchOutcome = "all_duplicates"
	BatchFailed        BatchOutcome = "failed"
)

// Outcome derives the batch level result from per item results.
func Outcome(results []UploadResult) BatchOutcome {
	var stored, skipped int
	for _, r := range results {
		switch r.Status {
		case StatusStored:
			stored++
		case StatusSkipped:
			skipped++
		}
	}
	switch {
	case stored > 0:
		return BatchStored
	case len(results) > 0 && skipped == len(results):
		return BatchAllDuplicates
	default:
		return BatchFailed
	}
}
