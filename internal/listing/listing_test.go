package listing

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repost/internal/models"
	"repost/internal/storage"
)

type countingRepo struct {
	storage.Repository
	pageCalls int
}

func (c *countingRepo) Page(ctx context.Context, q storage.PageQuery) ([]models.Image, int64, error) {
	c.pageCalls++
	return c.Repository.Page(ctx, q)
}

func seed(t *testing.T, repo storage.Repository, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := repo.Insert(context.Background(), models.NewImage{
			ProviderID:  fmt.Sprintf("p%d", i),
			URL:         fmt.Sprintf("https://cdn.example.com/%d.png", i),
			Fingerprint: fmt.Sprintf("sha256:%064d", i),
		})
		require.NoError(t, err)
	}
}

func collect(t *testing.T, svc *Service, size int) []uuid.UUID {
	t.Helper()
	first, err := svc.List(context.Background(), Request{Page: 1, PageSize: size})
	require.NoError(t, err)

	var out []uuid.UUID
	for p := 1; p <= first.TotalPages; p++ {
		page, err := svc.List(context.Background(), Request{Page: p, PageSize: size, Snapshot: first.Snapshot})
		require.NoError(t, err)
		for _, img := range page.Images {
			out = append(out, img.ID)
		}
	}
	return out
}

func TestListPagesCoverCollection(t *testing.T) {
	repo := storage.NewMemory()
	seed(t, repo, 11)

	all, _, err := repo.Page(context.Background(), storage.PageQuery{Limit: 100})
	require.NoError(t, err)
	want := make([]uuid.UUID, len(all))
	for i, img := range all {
		want[i] = img.ID
	}

	for size := 1; size <= 12; size++ {
		svc := NewService(repo, 20, 50)
		assert.Equal(t, want, collect(t, svc, size), "page size %d", size)
	}
}

func TestListMetadata(t *testing.T) {
	repo := storage.NewMemory()
	seed(t, repo, 25)
	svc := NewService(repo, 20, 100)

	page, err := svc.List(context.Background(), Request{Page: 1})
	require.NoError(t, err)
	assert.Len(t, page.Images, 20)
	assert.Equal(t, 1, page.CurrentPage)
	assert.Equal(t, 2, page.TotalPages)
	assert.EqualValues(t, 25, page.TotalCount)
	assert.Equal(t, 20, page.PageSize)
	assert.NotEmpty(t, page.Snapshot)

	page, err = svc.List(context.Background(), Request{Page: 2})
	require.NoError(t, err)
	assert.Len(t, page.Images, 5)
}

func TestListPastTheEnd(t *testing.T) {
	repo := storage.NewMemory()
	seed(t, repo, 30)
	svc := NewService(repo, 20, 100)

	page, err := svc.List(context.Background(), Request{Page: 5})
	require.NoError(t, err)
	assert.Empty(t, page.Images)
	assert.NotNil(t, page.Images)
	assert.Equal(t, 5, page.CurrentPage)
	assert.Equal(t, 2, page.TotalPages)

	page, err = svc.List(context.Background(), Request{Page: 1 << 30, PageSize: 100})
	require.NoError(t, err)
	assert.Empty(t, page.Images)
	assert.EqualValues(t, 30, page.TotalCount)
}

func TestListEmptyCollection(t *testing.T) {
	svc := NewService(storage.NewMemory(), 20, 100)

	page, err := svc.List(context.Background(), Request{Page: 1})
	require.NoError(t, err)
	assert.Empty(t, page.Images)
	assert.Zero(t, page.TotalPages)
	assert.Empty(t, page.Snapshot)
}

func TestListChainsBackendReads(t *testing.T) {
	repo := &countingRepo{Repository: storage.NewMemory(storage.WithMaxPageSize(3))}
	seed(t, repo, 10)
	svc := NewService(repo, 8, 8)

	repo.pageCalls = 0
	page, err := svc.List(context.Background(), Request{Page: 1})
	require.NoError(t, err)
	assert.Len(t, page.Images, 8)
	assert.Equal(t, 3, repo.pageCalls)

	page, err = svc.List(context.Background(), Request{Page: 2})
	require.NoError(t, err)
	assert.Len(t, page.Images, 2)
	assert.Equal(t, 2, page.TotalPages)
}

func TestListSnapshotIsStableUnderInserts(t *testing.T) {
	repo := storage.NewMemory()
	seed(t, repo, 6)
	svc := NewService(repo, 3, 10)

	first, err := svc.List(context.Background(), Request{Page: 1})
	require.NoError(t, err)

	_, err = repo.Insert(context.Background(), models.NewImage{
		ProviderID: "late", URL: "https://cdn.example.com/late.png", Fingerprint: "sha256:late",
	})
	require.NoError(t, err)

	second, err := svc.List(context.Background(), Request{Page: 2, Snapshot: first.Snapshot})
	require.NoError(t, err)
	assert.EqualValues(t, 6, second.TotalCount)

	seen := map[uuid.UUID]bool{}
	for _, img := range append(first.Images, second.Images...) {
		assert.False(t, seen[img.ID], "record %s served twice", img.ID)
		seen[img.ID] = true
	}
	assert.Len(t, seen, 6)

	fresh, err := svc.List(context.Background(), Request{Page: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 7, fresh.TotalCount)
}

func TestListValidation(t *testing.T) {
	svc := NewService(storage.NewMemory(), 20, 100)

	_, err := svc.List(context.Background(), Request{Page: 0})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.List(context.Background(), Request{Page: 1, PageSize: -1})
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = svc.List(context.Background(), Request{Page: 1, Snapshot: "!!"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestListClampsPageSize(t *testing.T) {
	repo := storage.NewMemory()
	seed(t, repo, 15)
	svc := NewService(repo, 5, 10)

	page, err := svc.List(context.Background(), Request{Page: 1, PageSize: 1000})
	require.NoError(t, err)
	assert.Equal(t, 10, page.PageSize)
	assert.Len(t, page.Images, 10)
}
