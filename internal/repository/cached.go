package repository

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mmeshcher/customer-orders/internal/model"
)

// CachedStore добавляет LRU-кэш чтения по идентификатору поверх другого Store.
// Все мутации обязаны проходить через CachedStore, иначе кэш устареет.
//
// Заполнение кэша при промахе сверяется с эпохой мутаций: если за время чтения
// из хранилища прошло изменение или удаление, прочитанное значение в кэш не попадает.
type CachedStore struct {
	Store
	cache *lru.Cache[int64, model.Customer]

	mu    sync.Mutex
	epoch uint64
}

// NewCachedStore оборачивает store кэшем на size записей.
func NewCachedStore(store Store, size int) (*CachedStore, error) {
	c, err := lru.New[int64, model.Customer](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &CachedStore{
		Store: store,
		cache: c,
	}, nil
}

// Find сначала ищет клиента в кэше, затем в хранилище.
func (s *CachedStore) Find(ctx context.Context, id int64) (model.Customer, error) {
	if c, ok := s.cache.Get(id); ok {
		return c.Clone(), nil
	}

	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()

	c, err := s.Store.Find(ctx, id)
	if err != nil {
		return model.Customer{}, err
	}

	s.mu.Lock()
	if s.epoch == epoch {
		s.cache.Add(id, c.Clone())
	}
	s.mu.Unlock()
	return c, nil
}

// Insert сохраняет клиента и кладёт результат в кэш.
func (s *CachedStore) Insert(ctx context.Context, c model.Customer) (model.Customer, error) {
	created, err := s.Store.Insert(ctx, c)
	if err != nil {
		return model.Customer{}, err
	}
	s.cache.Add(created.CustomerID, created.Clone())
	return created, nil
}

// Update обновляет клиента в хранилище и вытесняет его из кэша.
func (s *CachedStore) Update(ctx context.Context, c model.Customer) (model.Customer, error) {
	defer s.invalidate(c.CustomerID)
	return s.Store.Update(ctx, c)
}

// Delete удаляет клиента из хранилища и кэша.
func (s *CachedStore) Delete(ctx context.Context, id int64) error {
	defer s.invalidate(id)
	return s.Store.Delete(ctx, id)
}

// invalidate вытесняет запись и сдвигает эпоху, отбрасывая незавершённые заполнения.
func (s *CachedStore) invalidate(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.cache.Remove(id)
}

// Ping проверяет доступность нижележащего хранилища, если оно это умеет.
func (s *CachedStore) Ping(ctx context.Context) error {
	if p, ok := s.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Len возвращает число закэшированных клиентов.
func (s *CachedStore) Len() int {
	return s.cache.Len()
}

var _ Store = (*CachedStore)(nil)
