package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memoryRepo emulates the transactional repository including the per-product
// exclusive lock, so service semantics can be exercised without PostgreSQL.
type memoryRepo struct {
	mu         sync.Mutex
	products   map[int64]Product
	movements  []Movement
	locks      map[int64]*sync.Mutex
	nextID     int64
	lastFilter HistoryFilter

	failInsert bool
}

func newMemoryRepo(products ...Product) *memoryRepo {
	repo := &memoryRepo{
		products: make(map[int64]Product),
		locks:    make(map[int64]*sync.Mutex),
	}
	for _, p := range products {
		repo.products[p.ID] = p
		repo.locks[p.ID] = &sync.Mutex{}
	}
	return repo
}

type memoryTx struct {
	repo      *memoryRepo
	locked    []*sync.Mutex
	inserted  []Movement
	stockSets map[int64]int64
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r, stockSets: make(map[int64]int64)}
	err := fn(ctx, tx)
	if err == nil {
		r.mu.Lock()
		for _, m := range tx.inserted {
			m.CreatedAt = time.Now().UTC()
			r.movements = append(r.movements, m)
		}
		for id, stock := range tx.stockSets {
			p := r.products[id]
			p.Stock = stock
			r.products[id] = p
		}
		r.mu.Unlock()
	}
	for _, l := range tx.locked {
		l.Unlock()
	}
	return err
}

func (tx *memoryTx) GetProductForUpdate(ctx context.Context, productID int64) (Product, error) {
	tx.repo.mu.Lock()
	lock, ok := tx.repo.locks[productID]
	tx.repo.mu.Unlock()
	if !ok {
		return Product{}, ErrProductNotFound
	}
	lock.Lock()
	tx.locked = append(tx.locked, lock)
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	return tx.repo.products[productID], nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	if tx.repo.failInsert {
		return 0, &PersistenceError{Op: "insert movement", Err: errors.New("disk full")}
	}
	tx.repo.mu.Lock()
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.repo.mu.Unlock()
	tx.inserted = append(tx.inserted, m)
	return m.ID, nil
}

func (tx *memoryTx) UpdateProductStock(ctx context.Context, productID, stock int64) error {
	tx.stockSets[productID] = stock
	return nil
}

func (r *memoryRepo) ListMovements(ctx context.Context, filter HistoryFilter) ([]MovementRow, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFilter = filter
	rows := make([]MovementRow, 0, len(r.movements))
	for _, m := range r.movements {
		if filter.ProductID != nil && m.ProductID != *filter.ProductID {
			continue
		}
		rows = append(rows, MovementRow{Movement: m})
	}
	return rows, len(rows), nil
}

func (r *memoryRepo) ProductSummary(ctx context.Context, productID int64) (ProductSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok {
		return ProductSummary{}, ErrProductNotFound
	}
	s := ProductSummary{ProductID: p.ID, SKU: p.SKU, CurrentStock: p.Stock}
	for _, m := range r.movements {
		if m.ProductID != productID {
			continue
		}
		s.MovementCount++
		if m.Quantity > 0 {
			s.TotalIn += m.Quantity
		} else {
			s.TotalOut += -m.Quantity
		}
	}
	return s, nil
}

func (r *memoryRepo) PeriodTotals(ctx context.Context, from, to time.Time) (PeriodTotals, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	totals := PeriodTotals{From: from, To: to}
	for _, m := range r.movements {
		totals.Movements++
		if m.Quantity > 0 {
			totals.TotalIn += m.Quantity
		} else {
			totals.TotalOut += -m.Quantity
		}
	}
	return totals, nil
}

func (r *memoryRepo) RecentActivity(ctx context.Context, limit int) ([]ProductActivity, error) {
	return []ProductActivity{}, nil
}

func (r *memoryRepo) ScanAnomalies(ctx context.Context, filter AnomalyFilter) ([]Anomaly, error) {
	return []Anomaly{}, nil
}

func (r *memoryRepo) movementsFor(productID int64) []Movement {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Movement
	for _, m := range r.movements {
		if m.ProductID == productID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (r *memoryRepo) stock(productID int64) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.products[productID].Stock
}

func TestAdjustStockRecordsSnapshot(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, SKU: "SKU-1", Stock: 10})
	svc := NewService(repo, nil)
	ctx := context.Background()

	snap, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 1, Delta: -6, Reference: ReferenceAdjustment, Note: "manual edit"})
	require.NoError(t, err)
	require.Equal(t, int64(10), snap.Previous)
	require.Equal(t, int64(4), snap.New)

	movements := repo.movementsFor(1)
	require.Len(t, movements, 1)
	require.Equal(t, MovementOut, movements[0].Kind)
	require.Equal(t, int64(-6), movements[0].Quantity)
	require.Equal(t, int64(10), movements[0].StockBefore)
	require.Equal(t, int64(4), movements[0].StockAfter)
	require.Equal(t, ReferenceAdjustment, movements[0].Reference)
	require.Equal(t, int64(4), repo.stock(1))
}

func TestAdjustStockRejectsNegative(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, SKU: "SKU-1", Stock: 3})
	svc := NewService(repo, nil)

	_, err := svc.AdjustStock(context.Background(), AdjustInput{ProductID: 1, Delta: -4, Reference: ReferenceSale})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Empty(t, repo.movementsFor(1))
	require.Equal(t, int64(3), repo.stock(1))
}

func TestAdjustStockValidation(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Stock: 5})
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 1, Delta: 0, Reference: ReferenceAdjustment})
	require.ErrorIs(t, err, ErrInvalidMovement)

	_, err = svc.AdjustStock(ctx, AdjustInput{ProductID: 1, Delta: 1, Reference: ReferenceKind("restock")})
	require.ErrorIs(t, err, ErrInvalidMovement)

	_, err = svc.AdjustStock(ctx, AdjustInput{ProductID: 99, Delta: 1, Reference: ReferenceAdjustment})
	require.ErrorIs(t, err, ErrProductNotFound)

	require.Empty(t, repo.movementsFor(1))
}

func TestAdjustStockRollsBackOnPersistenceFailure(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Stock: 10})
	repo.failInsert = true
	svc := NewService(repo, nil)

	_, err := svc.AdjustStock(context.Background(), AdjustInput{ProductID: 1, Delta: 2, Reference: ReferencePurchase})
	var persistence *PersistenceError
	require.ErrorAs(t, err, &persistence)
	require.Empty(t, repo.movementsFor(1))
	require.Equal(t, int64(10), repo.stock(1))
}

func TestConcurrentAdjustmentsLinearize(t *testing.T) {
	const workers = 16
	repo := newMemoryRepo(Product{ID: 1, Stock: 1000})
	svc := NewService(repo, nil)

	deltas := make([]int64, workers)
	var sum int64
	for i := range deltas {
		if i%2 == 0 {
			deltas[i] = int64(i + 1)
		} else {
			deltas[i] = -int64(i)
		}
		sum += deltas[i]
	}

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for _, delta := range deltas {
		wg.Add(1)
		go func(d int64) {
			defer wg.Done()
			_, err := svc.AdjustStock(context.Background(), AdjustInput{ProductID: 1, Delta: d, Reference: ReferenceAdjustment})
			errs <- err
		}(delta)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, int64(1000)+sum, repo.stock(1))
	movements := repo.movementsFor(1)
	require.Len(t, movements, workers)

	// No two movements observed the same before value: the chain replays.
	replayed := int64(1000)
	for _, m := range movements {
		require.Equal(t, replayed, m.StockBefore)
		require.Equal(t, m.StockBefore+m.Quantity, m.StockAfter)
		replayed = m.StockAfter
	}
	require.Equal(t, repo.stock(1), replayed)
}

func TestMovementKindDerivedFromSign(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Stock: 10})
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 1, Delta: 5, Reference: ReferenceReturn})
	require.NoError(t, err)
	_, err = svc.AdjustStock(ctx, AdjustInput{ProductID: 1, Delta: -3, Reference: ReferenceSale})
	require.NoError(t, err)

	movements := repo.movementsFor(1)
	require.Equal(t, MovementIn, movements[0].Kind)
	require.Equal(t, ReferenceReturn, movements[0].Reference)
	require.Equal(t, MovementOut, movements[1].Kind)
	require.Equal(t, ReferenceSale, movements[1].Reference)
}

func TestMovementHistoryPageSizeMatchesMetadata(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Stock: 100})
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 1, Delta: 5, Reference: ReferencePurchase})
	require.NoError(t, err)

	// Omitted paging: the repository query and the metadata use the same size.
	_, pagination, err := svc.MovementHistory(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, pagination.Page)
	require.Equal(t, 20, pagination.PerPage)
	require.Equal(t, 20, repo.lastFilter.PerPage)
	require.Equal(t, 1, repo.lastFilter.Page)

	// Explicit paging flows through both unchanged.
	_, pagination, err = svc.MovementHistory(ctx, HistoryFilter{Page: 3, PerPage: 10})
	require.NoError(t, err)
	require.Equal(t, 10, pagination.PerPage)
	require.Equal(t, 10, repo.lastFilter.PerPage)
	require.Equal(t, 3, repo.lastFilter.Page)
}

func TestGetPeriodSummary(t *testing.T) {
	repo := newMemoryRepo(Product{ID: 1, Stock: 10})
	svc := NewService(repo, nil)
	ctx := context.Background()

	_, err := svc.AdjustStock(ctx, AdjustInput{ProductID: 1, Delta: 7, Reference: ReferencePurchase})
	require.NoError(t, err)
	_, err = svc.AdjustStock(ctx, AdjustInput{ProductID: 1, Delta: -2, Reference: ReferenceSale})
	require.NoError(t, err)

	summary, err := svc.GetPeriodSummary(ctx, time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Equal(t, int64(7), summary.Totals.TotalIn)
	require.Equal(t, int64(2), summary.Totals.TotalOut)
	require.Equal(t, int64(2), summary.Totals.Movements)

	_, err = svc.GetPeriodSummary(ctx, time.Now(), time.Now().Add(-time.Hour))
	require.Error(t, err)
}
