package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repost/internal/models"
)

// contractPageSize is the MaxPageSize every repository under test is built with.
const contractPageSize = 3

func newImage(n int) models.NewImage {
	return models.NewImage{
		ProviderID:  fmt.Sprintf("provider-%d", n),
		URL:         fmt.Sprintf("https://cdn.example.com/%d.png", n),
		Fingerprint: fmt.Sprintf("sha256:%064d", n),
		Name:        fmt.Sprintf("%d.png", n),
	}
}

func seed(t *testing.T, repo Repository, n int) []*models.Image {
	t.Helper()
	out := make([]*models.Image, 0, n)
	for i := 0; i < n; i++ {
		img, err := repo.Insert(context.Background(), newImage(i))
		require.NoError(t, err)
		out = append(out, img)
	}
	return out
}

func readAll(t *testing.T, repo Repository, until *Cursor, size int) []models.Image {
	t.Helper()
	var all []models.Image
	for offset := 0; ; offset += size {
		page, _, err := repo.Page(context.Background(), PageQuery{Offset: offset, Limit: size, Until: until})
		require.NoError(t, err)
		if len(page) == 0 {
			return all
		}
		all = append(all, page...)
	}
}

// testRepository runs the behaviour every Repository must share.
func testRepository(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("insert and get", func(t *testing.T) {
		repo := newRepo(t)
		created, err := repo.Insert(ctx, newImage(1))
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, created.ID)
		assert.Zero(t, created.LikeCount)
		assert.Empty(t, created.Comments)
		assert.False(t, created.CreatedAt.IsZero())

		got, err := repo.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.URL, got.URL)
		assert.Equal(t, created.Fingerprint, got.Fingerprint)

		exists, err := repo.ExistsByFingerprint(ctx, created.Fingerprint)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = repo.ExistsByFingerprint(ctx, "sha256:missing")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("get unknown id", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("duplicate fingerprint rejected", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Insert(ctx, newImage(1))
		require.NoError(t, err)

		dup := newImage(1)
		dup.URL = "https://cdn.example.com/other.png"
		_, err = repo.Insert(ctx, dup)
		assert.ErrorIs(t, err, models.ErrDuplicate)

		_, total, err := repo.Page(ctx, PageQuery{Limit: 10})
		require.NoError(t, err)
		assert.EqualValues(t, 1, total)
	})

	t.Run("concurrent identical inserts store one record", func(t *testing.T) {
		repo := newRepo(t)
		const n = 10

		var (
			wg         sync.WaitGroup
			mu         sync.Mutex
			ok, dupErr int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.Insert(ctx, newImage(7))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					ok++
				case assert.ErrorIs(t, err, models.ErrDuplicate):
					dupErr++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, ok)
		assert.Equal(t, n-1, dupErr)
	})

	t.Run("pages cover the collection in order", func(t *testing.T) {
		repo := newRepo(t)
		seeded := seed(t, repo, 8)

		for size := 1; size <= contractPageSize; size++ {
			all := readAll(t, repo, nil, size)
			require.Len(t, all, len(seeded), "page size %d", size)

			seen := make(map[uuid.UUID]bool)
			for i, img := range all {
				assert.False(t, seen[img.ID], "duplicate %s at page size %d", img.ID, size)
				seen[img.ID] = true
				if i > 0 {
					assert.True(t, listedBefore(CursorOf(all[i-1]), CursorOf(img)), "order broken at %d", i)
				}
			}
			for _, img := range seeded {
				assert.True(t, seen[img.ID], "missing %s", img.ID)
			}
		}
	})

	t.Run("page limit is clamped", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, contractPageSize+2)

		page, total, err := repo.Page(ctx, PageQuery{Limit: contractPageSize + 10})
		require.NoError(t, err)
		assert.Len(t, page, contractPageSize)
		assert.EqualValues(t, contractPageSize+2, total)
		assert.Equal(t, contractPageSize, repo.MaxPageSize())
	})

	t.Run("offset past the end is empty", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, 2)

		page, total, err := repo.Page(ctx, PageQuery{Offset: 50, Limit: 2})
		require.NoError(t, err)
		assert.Empty(t, page)
		assert.EqualValues(t, 2, total)

		_, _, err = repo.Page(ctx, PageQuery{Offset: -1, Limit: 2})
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("until pins pages against inserts", func(t *testing.T) {
		repo := newRepo(t)
		seed(t, repo, 5)

		latest, err := repo.Latest(ctx)
		require.NoError(t, err)
		require.NotNil(t, latest)

		first, _, err := repo.Page(ctx, PageQuery{Limit: 2, Until: latest})
		require.NoError(t, err)

		_, err = repo.Insert(ctx, newImage(100))
		require.NoError(t, err)

		again, total, err := repo.Page(ctx, PageQuery{Limit: 2, Until: latest})
		require.NoError(t, err)
		assert.EqualValues(t, 5, total)
		assert.Equal(t, ids(first), ids(again))

		assert.Len(t, readAll(t, repo, latest, 2), 5)
		assert.Len(t, readAll(t, repo, nil, 2), 6)
	})

	t.Run("latest on empty", func(t *testing.T) {
		repo := newRepo(t)
		latest, err := repo.Latest(ctx)
		require.NoError(t, err)
		assert.Nil(t, latest)
	})

	t.Run("like once per source", func(t *testing.T) {
		repo := newRepo(t)
		img := seed(t, repo, 1)[0]

		require.NoError(t, repo.IncrementLike(ctx, img.ID, "10.0.0.1"))
		assert.ErrorIs(t, repo.IncrementLike(ctx, img.ID, "10.0.0.1"), models.ErrAlreadyLiked)
		require.NoError(t, repo.IncrementLike(ctx, img.ID, "10.0.0.2"))

		got, err := repo.Get(ctx, img.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, got.LikeCount)

		assert.ErrorIs(t, repo.IncrementLike(ctx, uuid.New(), "10.0.0.1"), models.ErrNotFound)
	})

	t.Run("concurrent likes from one source count once", func(t *testing.T) {
		repo := newRepo(t)
		img := seed(t, repo, 1)[0]
		const n = 20

		var (
			wg             sync.WaitGroup
			mu             sync.Mutex
			liked, already int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.IncrementLike(ctx, img.ID, "203.0.113.9")
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					liked++
				case assert.ErrorIs(t, err, models.ErrAlreadyLiked):
					already++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, liked)
		assert.Equal(t, n-1, already)

		got, err := repo.Get(ctx, img.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, got.LikeCount)
	})

	t.Run("comments keep order", func(t *testing.T) {
		repo := newRepo(t)
		img := seed(t, repo, 1)[0]

		require.NoError(t, repo.AppendComment(ctx, img.ID, models.Comment{Text: "first"}))
		require.NoError(t, repo.AppendComment(ctx, img.ID, models.Comment{Text: "second", Author: "ana"}))

		got, err := repo.Get(ctx, img.ID)
		require.NoError(t, err)
		require.Len(t, got.Comments, 2)
		assert.Equal(t, "first", got.Comments[0].Text)
		assert.Equal(t, "second", got.Comments[1].Text)
		assert.Equal(t, "ana", got.Comments[1].Author)
	})

	t.Run("concurrent comments are not lost", func(t *testing.T) {
		repo := newRepo(t)
		img := seed(t, repo, 1)[0]
		const n = 25

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, repo.AppendComment(ctx, img.ID, models.Comment{Text: fmt.Sprintf("c%d", i)}))
			}(i)
		}
		wg.Wait()

		first, err := repo.Get(ctx, img.ID)
		require.NoError(t, err)
		require.Len(t, first.Comments, n)

		texts := make(map[string]bool)
		for _, c := range first.Comments {
			texts[c.Text] = true
		}
		assert.Len(t, texts, n)

		second, err := repo.Get(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, first.Comments, second.Comments)
	})

	t.Run("comment errors", func(t *testing.T) {
		repo := newRepo(t)
		img := seed(t, repo, 1)[0]

		assert.ErrorIs(t, repo.AppendComment(ctx, img.ID, models.Comment{Text: "  "}), models.ErrValidation)
		assert.ErrorIs(t, repo.AppendComment(ctx, uuid.New(), models.Comment{Text: "hi"}), models.ErrNotFound)
	})

	t.Run("records handed out are copies", func(t *testing.T) {
		repo := newRepo(t)
		img := seed(t, repo, 1)[0]
		require.NoError(t, repo.AppendComment(ctx, img.ID, models.Comment{Text: "kept"}))

		got, err := repo.Get(ctx, img.ID)
		require.NoError(t, err)
		got.Comments[0].Text = "changed"
		got.LikeCount = 99

		again, err := repo.Get(ctx, img.ID)
		require.NoError(t, err)
		assert.Equal(t, "kept", again.Comments[0].Text)
		assert.Zero(t, again.LikeCount)
	})
}

func ids(images []models.Image) []uuid.UUID {
	out := make([]uuid.UUID, len(images))
	for i, img := range images {
		out[i] = img.ID
	}
	return out
}
