package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/mmeshcher/customer-orders/internal/model"
)

// MemoryStore — in-memory реализация Store для тестов и локального запуска.
type MemoryStore struct {
	mu              sync.RWMutex
	customers       map[int64]model.Customer
	nextCustomerID  int64
	nextOrderNumber int64
}

// NewMemoryStore создаёт пустое in-memory хранилище.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		customers: make(map[int64]model.Customer),
	}
}

// List возвращает копии всех клиентов, упорядоченных по идентификатору.
func (s *MemoryStore) List(_ context.Context) ([]model.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]model.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		res = append(res, c.Clone())
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CustomerID < res[j].CustomerID
	})
	return res, nil
}

// Find возвращает копию клиента или ErrRecordNotFound.
func (s *MemoryStore) Find(_ context.Context, id int64) (model.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[id]
	if !ok {
		return model.Customer{}, ErrRecordNotFound
	}
	return c.Clone(), nil
}

// Exists сообщает, хранится ли клиент.
func (s *MemoryStore) Exists(_ context.Context, id int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.customers[id]
	return ok, nil
}

// Insert сохраняет копию клиента с новыми идентификаторами.
func (s *MemoryStore) Insert(_ context.Context, c model.Customer) (model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextCustomerID++
	stored := c.Clone()
	stored.CustomerID = s.nextCustomerID
	s.assignOrderNumbers(&stored)

	s.customers[stored.CustomerID] = stored
	return stored.Clone(), nil
}

// Update заменяет запись клиента. Заказы получают новые номера.
func (s *MemoryStore) Update(_ context.Context, c model.Customer) (model.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[c.CustomerID]; !ok {
		return model.Customer{}, ErrRecordNotFound
	}

	stored := c.Clone()
	s.assignOrderNumbers(&stored)

	s.customers[stored.CustomerID] = stored
	return stored.Clone(), nil
}

// Delete удаляет клиента или возвращает ErrRecordNotFound.
func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.customers[id]; !ok {
		return ErrRecordNotFound
	}
	delete(s.customers, id)
	return nil
}

// Close ничего не делает.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) assignOrderNumbers(c *model.Customer) {
	if c.Orders == nil {
		c.Orders = []model.Order{}
	}
	for i := range c.Orders {
		s.nextOrderNumber++
		c.Orders[i].OrderNumber = s.nextOrderNumber
	}
}

var _ Store = (*MemoryStore)(nil)
