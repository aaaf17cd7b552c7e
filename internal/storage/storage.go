package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"repost/internal/models"
)

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"

	fingerprintConstraint = "images_fingerprint_key"
	likesConstraint       = "likes_pkey"

	// insertLockKey orders inserts against snapshot reads: an insert holds it
	// exclusively from before created_at is stamped until commit, Latest
	// holds it shared. A snapshot therefore never precedes an uncommitted row.
	insertLockKey int64 = 0x696d6167
)

// Storage is the Postgres backed Repository.
type Storage struct {
	pool    *pgxpool.Pool
	timeout time.Duration
	maxPage int
}

type Options struct {
	// Timeout bounds every database call.
	Timeout time.Duration
	// MaxPageSize caps the Limit honoured by a single Page call.
	MaxPageSize int
}

// NewStorage connects to dsn and brings the schema up to date.
func NewStorage(ctx context.Context, dsn string, opts Options) (*Storage, error) {
	const op = "storage.NewStorage"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := RunMigrations(ctx, db, "up"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaultMaxPageSize
	}
	return &Storage{pool: pool, timeout: opts.Timeout, maxPage: opts.MaxPageSize}, nil
}

func (s *Storage) Close() {
	s.pool.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.upstream("storage.Ping", s.pool.Ping(ctx))
}

func (s *Storage) MaxPageSize() int { return s.maxPage }

const imageColumns = `id, provider_id, url, fingerprint, name, width, height, like_count, created_at`

func scanImage(row pgx.Row, img *models.Image) error {
	return row.Scan(&img.ID, &img.ProviderID, &img.URL, &img.Fingerprint, &img.Name,
		&img.Width, &img.Height, &img.LikeCount, &img.CreatedAt)
}

func (s *Storage) Insert(ctx context.Context, in models.NewImage) (*models.Image, error) {
	const op = "storage.Insert"

	if in.Fingerprint == "" || in.URL == "" {
		return nil, fmt.Errorf("%s: %w", op, models.Validationf("fingerprint and url are required"))
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var img models.Image
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, insertLockKey); err != nil {
			return err
		}
		return scanImage(tx.QueryRow(ctx,
			`INSERT INTO images (id, provider_id, url, fingerprint, name, width, height)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING `+imageColumns,
			uuid.New(), in.ProviderID, in.URL, in.Fingerprint, in.Name, in.Width, in.Height), &img)
	})
	if err != nil {
		if isViolation(err, codeUniqueViolation, fingerprintConstraint) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrDuplicate)
		}
		return nil, s.upstream(op, err)
	}
	img.Comments = []models.Comment{}
	return &img, nil
}

func (s *Storage) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	const op = "storage.ExistsByFingerprint"

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM images WHERE fingerprint = $1)`, fingerprint).Scan(&exists)
	if err != nil {
		return false, s.upstream(op, err)
	}
	return exists, nil
}

func (s *Storage) Get(ctx context.Context, id uuid.UUID) (*models.Image, error) {
	const op = "storage.Get"

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var img models.Image
	err := scanImage(s.pool.QueryRow(ctx,
		`SELECT `+imageColumns+` FROM images WHERE id = $1`, id), &img)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return nil, s.upstream(op, err)
	}

	images := []models.Image{img}
	if err := s.attachComments(ctx, images); err != nil {
		return nil, s.upstream(op, err)
	}
	return &images[0], nil
}

func (s *Storage) Page(ctx context.Context, q PageQuery) ([]models.Image, int64, error) {
	const op = "storage.Page"

	if err := validatePageQuery(q); err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	where, args := "", []any{}
	if q.Until != nil {
		where = ` WHERE (created_at, id) <= ($1, $2)`
		args = append(args, q.Until.CreatedAt, q.Until.ID)
	}

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM images`+where, args...).Scan(&total); err != nil {
		return nil, 0, s.upstream(op, err)
	}

	limit := clampLimit(q.Limit, s.maxPage)
	if int64(q.Offset) >= total || limit == 0 {
		return []models.Image{}, total, nil
	}

	n := len(args)
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM images%s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
			imageColumns, where, n+1, n+2),
		append(args, limit, q.Offset)...)
	if err != nil {
		return nil, 0, s.upstream(op, err)
	}
	defer rows.Close()

	images := make([]models.Image, 0, limit)
	for rows.Next() {
		var img models.Image
		if err := scanImage(rows, &img); err != nil {
			return nil, 0, s.upstream(op, err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, s.upstream(op, err)
	}

	if err := s.attachComments(ctx, images); err != nil {
		return nil, 0, s.upstream(op, err)
	}
	return images, total, nil
}

func (s *Storage) Latest(ctx context.Context) (*Cursor, error) {
	const op = "storage.Latest"

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var c Cursor
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock_shared($1)`, insertLockKey); err != nil {
			return err
		}
		return tx.QueryRow(ctx,
			`SELECT created_at, id FROM images ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&c.CreatedAt, &c.ID)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, s.upstream(op, err)
	}
	return &c, nil
}

// IncrementLike bumps the counter and records the (image, source) pair in
// one transaction. The row lock taken by the UPDATE serialises concurrent
// likes on the same image; the primary key on likes rejects repeats.
func (s *Storage) IncrementLike(ctx context.Context, id uuid.UUID, source string) error {
	const op = "storage.IncrementLike"

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE images SET like_count = like_count + 1 WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		_, err = tx.Exec(ctx, `INSERT INTO likes (image_id, source) VALUES ($1, $2)`, id, source)
		return err
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	case isViolation(err, codeUniqueViolation, likesConstraint):
		return fmt.Errorf("%s: %w", op, models.ErrAlreadyLiked)
	default:
		return s.upstream(op, err)
	}
}

// AppendComment inserts one row per comment, so concurrent writers never
// overwrite each other. Arrival order is kept by the serial id.
func (s *Storage) AppendComment(ctx context.Context, id uuid.UUID, c models.Comment) error {
	const op = "storage.AppendComment"

	if err := validateComment(c); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO comments (image_id, text, author) VALUES ($1, $2, $3)`,
		id, c.Text, c.Author)
	if err != nil {
		if isViolation(err, codeForeignKeyViolation, "") {
			return fmt.Errorf("%s: %w", op, models.ErrNotFound)
		}
		return s.upstream(op, err)
	}
	return nil
}

func (s *Storage) attachComments(ctx context.Context, images []models.Image) error {
	if len(images) == 0 {
		return nil
	}

	ids := make([]string, len(images))
	index := make(map[uuid.UUID]int, len(images))
	for i := range images {
		ids[i] = images[i].ID.String()
		index[images[i].ID] = i
		images[i].Comments = []models.Comment{}
	}

	rows, err := s.pool.Query(ctx,
		`SELECT image_id, text, author, created_at FROM comments
		 WHERE image_id = ANY($1::uuid[]) ORDER BY id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			imageID uuid.UUID
			c       models.Comment
		)
		if err := rows.Scan(&imageID, &c.Text, &c.Author, &c.CreatedAt); err != nil {
			return err
		}
		if i, ok := index[imageID]; ok {
			images[i].Comments = append(images[i].Comments, c)
		}
	}
	return rows.Err()
}

func (s *Storage) upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return models.Upstream(op, err, pgconn.SafeToRetry(err))
}

func isViolation(err error, code, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != code {
		return false
	}
	return constraint == "" || strings.EqualFold(pgErr.ConstraintName, constraint)
}

var _ Repository = (*Storage)(nil)
