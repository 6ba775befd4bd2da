package products

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stockpilot/stockpilot/internal/ledger"
)

type memoryRepo struct {
	mu       sync.Mutex
	products map[int64]Product
	refs     map[int64]int
	nextID   int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{products: map[int64]Product{}, refs: map[int64]int{}}
}

func (r *memoryRepo) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Product
	for _, p := range r.products {
		result = append(result, p)
	}
	return result, len(result), nil
}

func (r *memoryRepo) ListLowStock(ctx context.Context) ([]Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Product
	for _, p := range r.products {
		if p.Active && p.Stock <= p.MinStock {
			result = append(result, p)
		}
	}
	return result, nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryRepo) Create(ctx context.Context, product Product) (Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.products {
		if existing.SKU == product.SKU {
			return Product{}, ErrDuplicateSKU
		}
	}
	r.nextID++
	product.ID = r.nextID
	r.products[product.ID] = product
	return product, nil
}

func (r *memoryRepo) Update(ctx context.Context, id int64, product Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.products[id]
	if !ok {
		return ErrNotFound
	}
	// Stock is not part of the update: it only moves through movements.
	product.ID = id
	product.Stock = current.Stock
	r.products[id] = product
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.products[id]; !ok {
		return ErrNotFound
	}
	if r.refs[id] > 0 {
		return ErrReferencedByOrders
	}
	delete(r.products, id)
	return nil
}

// applyStock mirrors what a committed ledger adjustment does to the table.
func (r *memoryRepo) applyStock(id, delta int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.products[id]
	p.Stock += delta
	r.products[id] = p
}

type recordingAdjuster struct {
	repo  *memoryRepo
	calls []ledger.AdjustInput
	fail  error
}

func (a *recordingAdjuster) AdjustStock(ctx context.Context, input ledger.AdjustInput) (ledger.StockSnapshot, error) {
	a.calls = append(a.calls, input)
	if a.fail != nil {
		return ledger.StockSnapshot{}, a.fail
	}
	a.repo.applyStock(input.ProductID, input.Delta)
	p, _ := a.repo.Get(ctx, input.ProductID)
	return ledger.StockSnapshot{Previous: p.Stock - input.Delta, New: p.Stock}, nil
}

func TestCreateRecordsOpeningBalance(t *testing.T) {
	repo := newMemoryRepo()
	adjuster := &recordingAdjuster{repo: repo}
	svc := NewService(repo, adjuster, nil)

	created, err := svc.Create(context.Background(), SaveInput{SKU: "SKU-1", Name: "Widget", Stock: 25, Active: true})
	require.NoError(t, err)
	require.Equal(t, int64(25), created.Stock)

	require.Len(t, adjuster.calls, 1)
	require.Equal(t, ledger.ReferenceAdjustment, adjuster.calls[0].Reference)
	require.Equal(t, int64(25), adjuster.calls[0].Delta)
}

func TestCreateZeroStockSkipsLedger(t *testing.T) {
	repo := newMemoryRepo()
	adjuster := &recordingAdjuster{repo: repo}
	svc := NewService(repo, adjuster, nil)

	_, err := svc.Create(context.Background(), SaveInput{SKU: "SKU-1", Name: "Widget"})
	require.NoError(t, err)
	require.Empty(t, adjuster.calls)
}

func TestSaveRoutesStockDeltaThroughLedger(t *testing.T) {
	repo := newMemoryRepo()
	adjuster := &recordingAdjuster{repo: repo}
	svc := NewService(repo, adjuster, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, SaveInput{SKU: "SKU-1", Name: "Widget", Stock: 10, Active: true})
	require.NoError(t, err)
	adjuster.calls = nil

	updated, err := svc.Save(ctx, created.ID, SaveInput{SKU: "SKU-1", Name: "Widget", Stock: 4, Active: true})
	require.NoError(t, err)
	require.Equal(t, int64(4), updated.Stock)

	require.Len(t, adjuster.calls, 1)
	require.Equal(t, int64(-6), adjuster.calls[0].Delta)
	require.Equal(t, ledger.ReferenceAdjustment, adjuster.calls[0].Reference)
}

func TestSaveEqualStockSkipsLedger(t *testing.T) {
	repo := newMemoryRepo()
	adjuster := &recordingAdjuster{repo: repo}
	svc := NewService(repo, adjuster, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, SaveInput{SKU: "SKU-1", Name: "Widget", Stock: 10, Active: true})
	require.NoError(t, err)
	adjuster.calls = nil

	_, err = svc.Save(ctx, created.ID, SaveInput{SKU: "SKU-1", Name: "Renamed", Stock: 10, Active: true})
	require.NoError(t, err)
	require.Empty(t, adjuster.calls)

	got, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Equal(t, "Renamed", got.Name)
	require.Equal(t, int64(10), got.Stock)
}

func TestSaveSurfacesLedgerRejection(t *testing.T) {
	repo := newMemoryRepo()
	adjuster := &recordingAdjuster{repo: repo}
	svc := NewService(repo, adjuster, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, SaveInput{SKU: "SKU-1", Name: "Widget", Stock: 3, Active: true})
	require.NoError(t, err)

	adjuster.fail = ledger.ErrInsufficientStock
	_, err = svc.Save(ctx, created.ID, SaveInput{SKU: "SKU-1", Name: "Widget", Stock: 0, Active: true})
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
}

func TestDeleteGuardsReferencedProducts(t *testing.T) {
	repo := newMemoryRepo()
	adjuster := &recordingAdjuster{repo: repo}
	svc := NewService(repo, adjuster, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, SaveInput{SKU: "SKU-1", Name: "Widget", Active: true})
	require.NoError(t, err)

	repo.refs[created.ID] = 2
	err = svc.Delete(ctx, created.ID, nil)
	require.ErrorIs(t, err, ErrReferencedByOrders)

	repo.refs[created.ID] = 0
	require.NoError(t, svc.Delete(ctx, created.ID, nil))
	_, err = svc.Get(ctx, created.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListLowStock(t *testing.T) {
	repo := newMemoryRepo()
	adjuster := &recordingAdjuster{repo: repo}
	svc := NewService(repo, adjuster, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, SaveInput{SKU: "LOW", Name: "Low", Stock: 2, MinStock: 5, Active: true})
	require.NoError(t, err)
	_, err = svc.Create(ctx, SaveInput{SKU: "OK", Name: "OK", Stock: 50, MinStock: 5, Active: true})
	require.NoError(t, err)
	_, err = svc.Create(ctx, SaveInput{SKU: "OFF", Name: "Inactive", Stock: 0, MinStock: 5})
	require.NoError(t, err)

	low, err := svc.ListLowStock(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)
	require.Equal(t, "LOW", low[0].SKU)
}
