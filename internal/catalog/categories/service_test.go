package categories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	mu         sync.Mutex
	categories map[int64]Category
	refs       map[int64]int
	nextID     int64
	listCalls  int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{categories: map[int64]Category{}, refs: map[int64]int{}}
}

func (r *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Category, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listCalls++
	var result []Category
	for _, c := range r.categories {
		result = append(result, c)
	}
	return result, len(result), nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.categories[id]
	if !ok {
		return Category{}, ErrNotFound
	}
	return c, nil
}

func (r *memoryRepo) Create(ctx context.Context, category Category) (Category, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.categories {
		if existing.Code == category.Code {
			return Category{}, ErrDuplicateCode
		}
	}
	r.nextID++
	category.ID = r.nextID
	r.categories[category.ID] = category
	return category, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, category Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[id]; !ok {
		return ErrNotFound
	}
	category.ID = id
	r.categories[id] = category
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.categories[id]; !ok {
		return ErrNotFound
	}
	if r.refs[id] > 0 {
		return ErrReferencedByProducts
	}
	delete(r.categories, id)
	return nil
}

func newCachedService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	repo := newMemoryRepo()
	return NewService(repo, NewCache(client, time.Minute), nil), repo
}

func TestListServesFromCache(t *testing.T) {
	svc, repo := newCachedService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, Category{Code: "ELEC", Name: "Electronics"})
	require.NoError(t, err)
	repo.listCalls = 0

	filters := ListFilters{Page: 1, Limit: 10}
	first, total, err := svc.List(ctx, filters)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, first, 1)
	require.Equal(t, 1, repo.listCalls)

	// Second read comes from Redis, not the repository.
	second, _, err := svc.List(ctx, filters)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.listCalls)
}

func TestWritesInvalidateCache(t *testing.T) {
	svc, _ := newCachedService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, Category{Code: "ELEC", Name: "Electronics"})
	require.NoError(t, err)

	filters := ListFilters{Page: 1, Limit: 10}
	_, total, err := svc.List(ctx, filters)
	require.NoError(t, err)
	require.Equal(t, 1, total)

	created, err := svc.Create(ctx, Category{Code: "HOME", Name: "Home"})
	require.NoError(t, err)

	// The version bump routes the same filters to a fresh key.
	rows, total, err := svc.List(ctx, filters)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, rows, 2)

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, total, err = svc.List(ctx, filters)
	require.NoError(t, err)
	require.Equal(t, 1, total)
}

func TestListDegradesWithoutRedis(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, NewCache(nil, time.Minute), nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, Category{Code: "ELEC", Name: "Electronics"})
	require.NoError(t, err)

	rows, total, err := svc.List(ctx, ListFilters{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, rows, 1)
}

func TestDeleteGuardsReferencedCategories(t *testing.T) {
	svc, repo := newCachedService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, Category{Code: "ELEC", Name: "Electronics"})
	require.NoError(t, err)

	repo.refs[created.ID] = 3
	err = svc.Delete(ctx, created.ID)
	require.ErrorIs(t, err, ErrReferencedByProducts)

	repo.refs[created.ID] = 0
	require.NoError(t, svc.Delete(ctx, created.ID))
}

func TestCreateValidatesInput(t *testing.T) {
	svc, _ := newCachedService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, Category{Name: "No code"})
	require.Error(t, err)
	_, err = svc.Create(ctx, Category{Code: "NC"})
	require.Error(t, err)
}

func TestDuplicateCodeRejected(t *testing.T) {
	svc, _ := newCachedService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, Category{Code: "ELEC", Name: "Electronics"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Category{Code: "ELEC", Name: "Other"})
	require.ErrorIs(t, err, ErrDuplicateCode)
}
