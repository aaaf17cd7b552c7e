package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"repost/internal/models"
)

const defaultMaxPageSize = 500

type likeKey struct {
	image  uuid.UUID
	source string
}

// Memory keeps the collection in process memory. Its state lives as long
// as the value and is not persisted.
type Memory struct {
	mu            sync.RWMutex
	images        map[uuid.UUID]*models.Image
	ordered       []*models.Image // listing order
	byFingerprint map[string]uuid.UUID
	likes         map[likeKey]struct{}
	lastCreated   time.Time

	maxPage int
	now     func() time.Time
}

type MemoryOption func(*Memory)

// WithMaxPageSize caps the Limit honoured by a single Page call.
func WithMaxPageSize(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.maxPage = n
		}
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		images:        make(map[uuid.UUID]*models.Image),
		byFingerprint: make(map[string]uuid.UUID),
		likes:         make(map[likeKey]struct{}),
		maxPage:       defaultMaxPageSize,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Insert(_ context.Context, in models.NewImage) (*models.Image, error) {
	const op = "storage.Memory.Insert"

	if in.Fingerprint == "" || in.URL == "" {
		return nil, fmt.Errorf("%s: %w", op, models.Validationf("fingerprint and url are required"))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byFingerprint[in.Fingerprint]; ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrDuplicate)
	}

	img := &models.Image{
		ID:          uuid.New(),
		ProviderID:  in.ProviderID,
		URL:         in.URL,
		Fingerprint: in.Fingerprint,
		Name:        in.Name,
		Width:       in.Width,
		Height:      in.Height,
		Comments:    []models.Comment{},
		CreatedAt:   m.nextCreatedAt(),
	}
	m.images[img.ID] = img
	m.byFingerprint[img.Fingerprint] = img.ID

	c := CursorOf(*img)
	i := sort.Search(len(m.ordered), func(i int) bool {
		return listedBefore(c, CursorOf(*m.ordered[i]))
	})
	m.ordered = append(m.ordered, nil)
	copy(m.ordered[i+1:], m.ordered[i:])
	m.ordered[i] = img

	return cloneImage(img), nil
}

// nextCreatedAt keeps creation times strictly increasing so a record
// inserted after a snapshot cursor always sorts ahead of it.
func (m *Memory) nextCreatedAt() time.Time {
	t := m.now().UTC().Truncate(time.Microsecond)
	if !t.After(m.lastCreated) {
		t = m.lastCreated.Add(time.Microsecond)
	}
	m.lastCreated = t
	return t
}

func (m *Memory) ExistsByFingerprint(_ context.Context, fingerprint string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.byFingerprint[fingerprint]
	return ok, nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*models.Image, error) {
	const op = "storage.Memory.Get"

	m.mu.RLock()
	defer m.mu.RUnlock()
	img, ok := m.images[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return cloneImage(img), nil
}

func (m *Memory) Page(_ context.Context, q PageQuery) ([]models.Image, int64, error) {
	const op = "storage.Memory.Page"

	if err := validatePageQuery(q); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	start := 0
	if q.Until != nil {
		until := *q.Until
		start = sort.Search(len(m.ordered), func(i int) bool {
			return !listedBefore(CursorOf(*m.ordered[i]), until)
		})
	}
	visible := m.ordered[start:]
	total := int64(len(visible))

	limit := clampLimit(q.Limit, m.maxPage)
	if q.Offset >= len(visible) || limit == 0 {
		return []models.Image{}, total, nil
	}
	end := q.Offset + limit
	if end > len(visible) {
		end = len(visible)
	}

	out := make([]models.Image, 0, end-q.Offset)
	for _, img := range visible[q.Offset:end] {
		out = append(out, *cloneImage(img))
	}
	return out, total, nil
}

func (m *Memory) Latest(_ context.Context) (*Cursor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.ordered) == 0 {
		return nil, nil
	}
	c := CursorOf(*m.ordered[0])
	return &c, nil
}

// IncrementLike records the like and bumps the counter under one lock, so
// the counter always equals the number of like records.
func (m *Memory) IncrementLike(_ context.Context, id uuid.UUID, source string) error {
	const op = "storage.Memory.IncrementLike"

	m.mu.Lock()
	defer m.mu.Unlock()

	img, ok := m.images[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	key := likeKey{image: id, source: source}
	if _, liked := m.likes[key]; liked {
		return fmt.Errorf("%s: %w", op, models.ErrAlreadyLiked)
	}
	m.likes[key] = struct{}{}
	img.LikeCount++
	return nil
}

func (m *Memory) AppendComment(_ context.Context, id uuid.UUID, c models.Comment) error {
	const op = "storage.Memory.AppendComment"

	if err := validateComment(c); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	img, ok := m.images[id]
	if !ok {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now().UTC()
	}
	img.Comments = append(img.Comments, c)
	return nil
}

func (m *Memory) MaxPageSize() int { return m.maxPage }

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

func cloneImage(img *models.Image) *models.Image {
	out := *img
	out.Comments = append([]models.Comment{}, img.Comments...)
	return &out
}

var _ Repository = (*Memory)(nil)
