package shipping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	areas  map[int64]Area
	refs   map[int64]int
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{areas: map[int64]Area{}, refs: map[int64]int{}}
}

func (r *memoryRepo) List(ctx context.Context) ([]Area, error) {
	var result []Area
	for _, a := range r.areas {
		result = append(result, a)
	}
	return result, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Area, error) {
	a, ok := r.areas[id]
	if !ok {
		return Area{}, ErrNotFound
	}
	return a, nil
}

func (r *memoryRepo) Create(ctx context.Context, area Area) (Area, error) {
	r.nextID++
	area.ID = r.nextID
	r.areas[area.ID] = area
	return area, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, area Area) error {
	if _, ok := r.areas[id]; !ok {
		return ErrNotFound
	}
	area.ID = id
	r.areas[id] = area
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) error {
	if _, ok := r.areas[id]; !ok {
		return ErrNotFound
	}
	if r.refs[id] > 0 {
		return ErrReferencedByOrders
	}
	delete(r.areas, id)
	return nil
}

func TestAreaCRUD(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, Area{Name: "North Zone", Cost: 1500})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	require.NoError(t, svc.Update(ctx, created.ID, Area{Name: "North Zone", Cost: 1800}))
	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1800), got.Cost)

	require.NoError(t, svc.Delete(ctx, created.ID))
	_, err = svc.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAreaValidation(t *testing.T) {
	svc := NewService(newMemoryRepo())
	ctx := context.Background()

	_, err := svc.Create(ctx, Area{Cost: 100})
	require.Error(t, err)
	_, err = svc.Create(ctx, Area{Name: "Zone", Cost: -1})
	require.Error(t, err)
}

func TestDeleteGuardsReferencedAreas(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()

	created, err := svc.Create(ctx, Area{Name: "North Zone", Cost: 1500})
	require.NoError(t, err)

	repo.refs[created.ID] = 4
	err = svc.Delete(ctx, created.ID)
	require.ErrorIs(t, err, ErrReferencedByOrders)
}
