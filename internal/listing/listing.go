// Package listing serves numbered pages over the image collection.
package listing

import (
	"context"
	"fmt"
	"math"

	"repost/internal/models"
	"repost/internal/storage"
)

// Request asks for a 1-based page. PageSize 0 means the default size.
// Snapshot, when set, is a token from an earlier Page and pins the view to
// the records that existed then.
type Request struct {
	Page     int
	PageSize int
	Snapshot string
}

type Page struct {
	Images      []models.Image `json:"images"`
	CurrentPage int            `json:"currentPage"`
	TotalPages  int            `json:"totalPages"`
	TotalCount  int64          `json:"totalCount"`
	PageSize    int            `json:"pageSize"`
	Snapshot    string         `json:"snapshot,omitempty"`
}

type Service struct {
	repo        storage.Repository
	defaultSize int
	maxSize     int
}

func NewService(repo storage.Repository, defaultSize, maxSize int) *Service {
	if defaultSize <= 0 {
		defaultSize = 20
	}
	if maxSize < defaultSize {
		maxSize = defaultSize
	}
	return &Service{repo: repo, defaultSize: defaultSize, maxSize: maxSize}
}

// List returns the requested page. Pages past the end are empty, not an
// error. A logical page larger than the repository's per-call cap is
// assembled from several consecutive reads.
func (s *Service) List(ctx context.Context, req Request) (*Page, error) {
	const op = "listing.List"

	if req.Page < 1 {
		return nil, fmt.Errorf("%s: %w", op, models.Validationf("page must be a positive integer"))
	}
	size := req.PageSize
	switch {
	case size < 0:
		return nil, fmt.Errorf("%s: %w", op, models.Validationf("pageSize must be a positive integer"))
	case size == 0:
		size = s.defaultSize
	case size > s.maxSize:
		size = s.maxSize
	}

	until, err := s.snapshot(ctx, req.Snapshot)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	page := &Page{
		Images:      []models.Image{},
		CurrentPage: req.Page,
		PageSize:    size,
	}
	if until == nil {
		return page, nil
	}
	page.Snapshot = until.Encode()

	offset := int64(req.Page-1) * int64(size)
	var total int64
	for first := true; first || len(page.Images) < size; first = false {
		pos := offset + int64(len(page.Images))
		if !first && pos >= total {
			break
		}

		q := storage.PageQuery{Offset: int(pos), Limit: size - len(page.Images), Until: until}
		if pos > math.MaxInt32 {
			// only the count is needed; nothing can live that far out
			q.Offset, q.Limit = 0, 0
		}
		batch, n, err := s.repo.Page(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if first {
			total = n
		}
		if len(batch) == 0 {
			break
		}
		page.Images = append(page.Images, batch...)
	}

	page.TotalCount = total
	page.TotalPages = int((total + int64(size) - 1) / int64(size))
	return page, nil
}

func (s *Service) snapshot(ctx context.Context, token string) (*storage.Cursor, error) {
	if token != "" {
		c, err := storage.DecodeCursor(token)
		if err != nil {
			return nil, err
		}
		return &c, nil
	}
	return s.repo.Latest(ctx)
}
