package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/customer-orders/internal/model"
)

// vanishingStore удаляет запись сразу после положительной проверки существования,
// моделируя параллельное удаление между проверкой и действием.
type vanishingStore struct {
	*MemoryStore
}

func (s *vanishingStore) Exists(ctx context.Context, id int64) (bool, error) {
	ok, err := s.MemoryStore.Exists(ctx, id)
	if ok {
		_ = s.MemoryStore.Delete(ctx, id)
	}
	return ok, err
}

// lateDeleteStore удаляет запись после чтения снимка, до фиксации изменения.
type lateDeleteStore struct {
	*MemoryStore
}

func (s *lateDeleteStore) Find(ctx context.Context, id int64) (model.Customer, error) {
	c, err := s.MemoryStore.Find(ctx, id)
	if err == nil {
		_ = s.MemoryStore.Delete(ctx, id)
	}
	return c, err
}

type failingUpdateStore struct {
	*MemoryStore
}

func (s *failingUpdateStore) Update(context.Context, model.Customer) (model.Customer, error) {
	return model.Customer{}, ErrStoreUnavailable
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) ObserveOutcome(operation, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, operation+":"+outcome)
}

func newTestRepository(store Store) *CustomerRepository {
	return NewCustomerRepository(store, zap.NewNop(), nil)
}

func sampleCustomer() model.Customer {
	return model.Customer{
		Name: model.StringPtr("JOHN DOE"),
		Orders: []model.Order{
			{OrderNumber: 999, ProductName: model.StringPtr("keyboard")},
			{ProductName: nil},
			{ProductName: model.StringPtr("mouse")},
		},
	}
}

func productNames(orders []model.Order) []*string {
	res := make([]*string, 0, len(orders))
	for _, o := range orders {
		res = append(res, o.ProductName)
	}
	return res
}

func TestCustomerRepository_AddThenGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(NewMemoryStore())
	input := sampleCustomer()

	created, err := repo.Add(ctx, input)
	require.NoError(t, err)
	require.Positive(t, created.CustomerID)

	got, err := repo.GetByID(ctx, created.CustomerID)
	require.NoError(t, err)

	assert.Equal(t, input.Name, got.Name)
	require.Len(t, got.Orders, len(input.Orders))
	assert.Equal(t, productNames(input.Orders), productNames(got.Orders))

	seen := make(map[int64]bool)
	for _, o := range got.Orders {
		assert.Positive(t, o.OrderNumber)
		assert.NotEqual(t, int64(999), o.OrderNumber, "caller-supplied order numbers are ignored")
		assert.False(t, seen[o.OrderNumber], "order numbers must be unique")
		seen[o.OrderNumber] = true
	}
}

func TestCustomerRepository_AddDoesNotAliasInput(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(NewMemoryStore())
	input := sampleCustomer()

	created, err := repo.Add(ctx, input)
	require.NoError(t, err)

	*input.Name = "changed"
	input.Orders[0].ProductName = model.StringPtr("changed")

	got, err := repo.GetByID(ctx, created.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "JOHN DOE", *got.Name)
	assert.Equal(t, "keyboard", *got.Orders[0].ProductName)
}

func TestCustomerRepository_AddWithoutOrders(t *testing.T) {
	repo := newTestRepository(NewMemoryStore())

	created, err := repo.Add(context.Background(), model.Customer{Name: model.StringPtr("JANE DOE")})
	require.NoError(t, err)
	assert.NotNil(t, created.Orders)
	assert.Empty(t, created.Orders)
}

func TestCustomerRepository_ListEmpty(t *testing.T) {
	repo := newTestRepository(NewMemoryStore())

	customers, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, customers)
	assert.Empty(t, customers)
}

func TestCustomerRepository_ListIncludesOrders(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(NewMemoryStore())

	first, err := repo.Add(ctx, sampleCustomer())
	require.NoError(t, err)
	second, err := repo.Add(ctx, model.Customer{Name: model.StringPtr("JANE DOE")})
	require.NoError(t, err)

	customers, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, customers, 2)
	assert.Equal(t, first.CustomerID, customers[0].CustomerID)
	assert.Len(t, customers[0].Orders, 3)
	assert.Equal(t, second.CustomerID, customers[1].CustomerID)
}

func TestCustomerRepository_GetByIDNotFound(t *testing.T) {
	repo := newTestRepository(NewMemoryStore())

	_, err := repo.GetByID(context.Background(), 42)
	require.ErrorIs(t, err, ErrCustomerNotFound)
	assert.Equal(t, OutcomeNotFound, OutcomeOf(err))
}

func TestCustomerRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(NewMemoryStore())

	created, err := repo.Add(ctx, sampleCustomer())
	require.NoError(t, err)

	input := model.Customer{
		CustomerID: created.CustomerID,
		Name:       model.StringPtr("JANE DOE"),
		Orders:     []model.Order{{ProductName: model.StringPtr("monitor")}},
	}

	updated, err := repo.Update(ctx, created.CustomerID, input)
	require.NoError(t, err)
	assert.Equal(t, "JANE DOE", *updated.Name)
	require.Len(t, updated.Orders, 1)
	assert.Equal(t, "monitor", *updated.Orders[0].ProductName)

	got, err := repo.GetByID(ctx, created.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, updated, got)
}

func TestCustomerRepository_UpdateNotFound(t *testing.T) {
	repo := newTestRepository(NewMemoryStore())

	_, err := repo.Update(context.Background(), 7, model.Customer{CustomerID: 7})
	require.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestCustomerRepository_UpdateIDMismatch(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(NewMemoryStore())

	created, err := repo.Add(ctx, sampleCustomer())
	require.NoError(t, err)

	_, err = repo.Update(ctx, created.CustomerID, model.Customer{CustomerID: created.CustomerID + 1})
	require.ErrorIs(t, err, ErrIDMismatch)
	assert.Equal(t, OutcomeBadRequest, OutcomeOf(err))
}

func TestCustomerRepository_UpdateNeverPartiallyApplies(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	created, err := newTestRepository(mem).Add(ctx, sampleCustomer())
	require.NoError(t, err)

	repo := newTestRepository(&failingUpdateStore{MemoryStore: mem})
	_, err = repo.Update(ctx, created.CustomerID, model.Customer{
		CustomerID: created.CustomerID,
		Name:       model.StringPtr("JANE DOE"),
	})
	require.ErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, OutcomeFailure, OutcomeOf(err))

	got, err := repo.GetByID(ctx, created.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, created, got)
}

func TestCustomerRepository_DeleteIsIdempotentInOutcome(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(NewMemoryStore())

	created, err := repo.Add(ctx, sampleCustomer())
	require.NoError(t, err)

	deleted, err := repo.Delete(ctx, created.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, created, deleted)

	_, err = repo.Delete(ctx, created.CustomerID)
	require.ErrorIs(t, err, ErrCustomerNotFound)

	exists, err := repo.Exists(ctx, created.CustomerID)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCustomerRepository_ConflictWhenRecordDisappears(t *testing.T) {
	tests := []struct {
		name  string
		store func(*MemoryStore) Store
		op    func(ctx context.Context, repo *CustomerRepository, id int64) error
	}{
		{
			name:  "update, deleted before fetch",
			store: func(m *MemoryStore) Store { return &vanishingStore{MemoryStore: m} },
			op: func(ctx context.Context, repo *CustomerRepository, id int64) error {
				_, err := repo.Update(ctx, id, model.Customer{CustomerID: id, Name: model.StringPtr("x")})
				return err
			},
		},
		{
			name:  "update, deleted before persist",
			store: func(m *MemoryStore) Store { return &lateDeleteStore{MemoryStore: m} },
			op: func(ctx context.Context, repo *CustomerRepository, id int64) error {
				_, err := repo.Update(ctx, id, model.Customer{CustomerID: id, Name: model.StringPtr("x")})
				return err
			},
		},
		{
			name:  "delete, deleted before fetch",
			store: func(m *MemoryStore) Store { return &vanishingStore{MemoryStore: m} },
			op: func(ctx context.Context, repo *CustomerRepository, id int64) error {
				_, err := repo.Delete(ctx, id)
				return err
			},
		},
		{
			name:  "delete, deleted before remove",
			store: func(m *MemoryStore) Store { return &lateDeleteStore{MemoryStore: m} },
			op: func(ctx context.Context, repo *CustomerRepository, id int64) error {
				_, err := repo.Delete(ctx, id)
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			mem := NewMemoryStore()
			created, err := mem.Insert(ctx, sampleCustomer())
			require.NoError(t, err)

			observer := &recordingObserver{}
			repo := NewCustomerRepository(tt.store(mem), zap.NewNop(), observer)

			err = tt.op(ctx, repo, created.CustomerID)
			require.ErrorIs(t, err, ErrConflict)
			assert.Equal(t, OutcomeConflict, OutcomeOf(err))
			require.Len(t, observer.outcomes, 1)
			assert.Contains(t, observer.outcomes[0], ":conflict")
		})
	}
}

func TestCustomerRepository_ConcurrentMutationsReportOutcomes(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(NewMemoryStore())

	created, err := repo.Add(ctx, sampleCustomer())
	require.NoError(t, err)
	id := created.CustomerID

	const workers = 16
	type result struct {
		delete bool
		err    error
	}
	results := make(chan result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := repo.Delete(ctx, id)
				results <- result{delete: true, err: err}
				return
			}
			_, err := repo.Update(ctx, id, model.Customer{CustomerID: id, Name: model.StringPtr("racer")})
			results <- result{err: err}
		}(i)
	}
	wg.Wait()
	close(results)

	deleted := 0
	for r := range results {
		if r.err == nil {
			if r.delete {
				deleted++
			}
			continue
		}
		if !errors.Is(r.err, ErrCustomerNotFound) && !errors.Is(r.err, ErrConflict) {
			t.Fatalf("unexpected error: %v", r.err)
		}
	}
	assert.Equal(t, 1, deleted)

	exists, err := repo.Exists(ctx, id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "not_found", OutcomeNotFound.String())
	assert.Equal(t, "conflict", OutcomeConflict.String())
	assert.Equal(t, "bad_request", OutcomeBadRequest.String())
	assert.Equal(t, "failure", OutcomeFailure.String())
}
