package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"repost/internal/models"
)

// Repository is the single owner of the image collection.
//
// Insert treats fingerprint uniqueness as authoritative and returns
// models.ErrDuplicate on conflict, whatever ExistsByFingerprint said before.
type Repository interface {
	Insert(ctx context.Context, img models.NewImage) (*models.Image, error)
	ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Image, error)

	// Page returns records ordered newest first (ties by id descending)
	// and the total number of records matching the query.
	Page(ctx context.Context, q PageQuery) ([]models.Image, int64, error)

	// Latest returns the cursor of the newest record, nil when empty.
	Latest(ctx context.Context) (*Cursor, error)

	IncrementLike(ctx context.Context, id uuid.UUID, source string) error
	AppendComment(ctx context.Context, id uuid.UUID, c models.Comment) error

	// MaxPageSize is the largest Limit a single Page call honours.
	MaxPageSize() int

	Ping(ctx context.Context) error
	Close()
}

// PageQuery selects [Offset, Offset+Limit) of the ordered collection.
// When Until is set only records at or after it in listing order are
// considered, which pins page boundaries against concurrent inserts.
type PageQuery struct {
	Offset int
	Limit  int
	Until  *Cursor
}

// Cursor identifies a position in listing order.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

func CursorOf(img models.Image) Cursor {
	return Cursor{CreatedAt: img.CreatedAt, ID: img.ID}
}

// Encode returns an opaque url-safe token.
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "." + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func DecodeCursor(token string) (Cursor, error) {
	const op = "storage.DecodeCursor"

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%s: %w", op, models.Validationf("malformed snapshot token"))
	}
	nanos, id, ok := strings.Cut(string(raw), ".")
	if !ok {
		return Cursor{}, fmt.Errorf("%s: %w", op, models.Validationf("malformed snapshot token"))
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("%s: %w", op, models.Validationf("malformed snapshot token"))
	}
	uid, err := uuid.Parse(id)
	if err != nil {
		return Cursor{}, fmt.Errorf("%s: %w", op, models.Validationf("malformed snapshot token"))
	}
	return Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: uid}, nil
}

// listedBefore reports whether a comes before b in listing order.
func listedBefore(a, b Cursor) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) > 0
}

func validatePageQuery(q PageQuery) error {
	if q.Offset < 0 {
		return models.Validationf("offset must not be negative")
	}
	if q.Limit < 0 {
		return models.Validationf("limit must not be negative")
	}
	return nil
}

func clampLimit(limit, max int) int {
	if limit > max {
		return max
	}
	return limit
}

func validateComment(c models.Comment) error {
	if strings.TrimSpace(c.Text) == "" {
		return models.Validationf("comment text is required")
	}
	return nil
}
