package repository

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mmeshcher/customer-orders/internal/model"
)

// OutcomeObserver получает исход каждой операции репозитория.
type OutcomeObserver interface {
	ObserveOutcome(operation, outcome string)
}

// CustomerRepository реализует логику мутаций агрегата клиента поверх Store.
// Собственных блокировок нет: перед изменением существование записи проверяется повторно,
// а исчезновение записи между проверкой и действием превращается в ErrConflict.
type CustomerRepository struct {
	store    Store
	logger   *zap.Logger
	observer OutcomeObserver
}

// NewCustomerRepository создаёт репозиторий клиентов. observer может быть nil.
func NewCustomerRepository(store Store, logger *zap.Logger, observer OutcomeObserver) *CustomerRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CustomerRepository{
		store:    store,
		logger:   logger,
		observer: observer,
	}
}

// Close закрывает хранилище.
func (r *CustomerRepository) Close() error {
	return r.store.Close()
}

// List возвращает всех клиентов с заказами. Пустое хранилище даёт пустой срез.
func (r *CustomerRepository) List(ctx context.Context) ([]model.Customer, error) {
	customers, err := r.store.List(ctx)
	if err != nil {
		r.observe("list", err)
		return nil, fmt.Errorf("list customers: %w", err)
	}
	if customers == nil {
		customers = []model.Customer{}
	}
	r.observe("list", nil)
	return customers, nil
}

// GetByID возвращает клиента с заказами или ErrCustomerNotFound.
func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (model.Customer, error) {
	c, err := r.store.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			err = fmt.Errorf("%w: %d", ErrCustomerNotFound, id)
		} else {
			err = fmt.Errorf("get customer %d: %w", id, err)
		}
		r.observe("get", err)
		return model.Customer{}, err
	}
	r.observe("get", nil)
	return c, nil
}

// Add сохраняет нового клиента. Заказы копируются в новые экземпляры, номера назначает хранилище.
func (r *CustomerRepository) Add(ctx context.Context, input model.Customer) (model.Customer, error) {
	c := model.Customer{
		Name:   input.Name,
		Orders: input.Orders,
	}.Clone()
	resetOrderNumbers(&c)

	created, err := r.store.Insert(ctx, c)
	if err != nil {
		err = fmt.Errorf("add customer: %w", err)
		r.observe("add", err)
		return model.Customer{}, err
	}

	r.logger.Debug("customer added",
		zap.Int64("customerID", created.CustomerID),
		zap.Int("orders", len(created.Orders)),
	)
	r.observe("add", nil)
	return created, nil
}

// Update целиком заменяет имя и список заказов клиента.
// Возвращает ErrCustomerNotFound, если клиента нет, и ErrConflict, если он исчез во время обновления.
func (r *CustomerRepository) Update(ctx context.Context, id int64, input model.Customer) (model.Customer, error) {
	updated, err := r.update(ctx, id, input)
	r.observe("update", err)
	return updated, err
}

func (r *CustomerRepository) update(ctx context.Context, id int64, input model.Customer) (model.Customer, error) {
	if input.CustomerID != id {
		return model.Customer{}, fmt.Errorf("%w: path %d, body %d", ErrIDMismatch, id, input.CustomerID)
	}

	exists, err := r.Exists(ctx, id)
	if err != nil {
		return model.Customer{}, err
	}
	if !exists {
		return model.Customer{}, fmt.Errorf("%w: %d", ErrCustomerNotFound, id)
	}

	current, err := r.store.Find(ctx, id)
	if err != nil {
		return model.Customer{}, r.lostRace(id, "update", err)
	}

	replacement := input.Clone()
	current.Name = replacement.Name
	current.Orders = replacement.Orders
	resetOrderNumbers(&current)

	updated, err := r.store.Update(ctx, current)
	if err != nil {
		return model.Customer{}, r.lostRace(id, "update", err)
	}

	return updated, nil
}

// Delete удаляет клиента и возвращает его состояние до удаления.
// Повторное удаление того же идентификатора возвращает ErrCustomerNotFound.
func (r *CustomerRepository) Delete(ctx context.Context, id int64) (model.Customer, error) {
	deleted, err := r.delete(ctx, id)
	r.observe("delete", err)
	return deleted, err
}

func (r *CustomerRepository) delete(ctx context.Context, id int64) (model.Customer, error) {
	exists, err := r.Exists(ctx, id)
	if err != nil {
		return model.Customer{}, err
	}
	if !exists {
		return model.Customer{}, fmt.Errorf("%w: %d", ErrCustomerNotFound, id)
	}

	snapshot, err := r.store.Find(ctx, id)
	if err != nil {
		return model.Customer{}, r.lostRace(id, "delete", err)
	}

	if err := r.store.Delete(ctx, id); err != nil {
		return model.Customer{}, r.lostRace(id, "delete", err)
	}

	return snapshot, nil
}

// Exists проверяет существование клиента.
func (r *CustomerRepository) Exists(ctx context.Context, id int64) (bool, error) {
	ok, err := r.store.Exists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("check customer %d exists: %w", id, err)
	}
	return ok, nil
}

// Ping проверяет доступность хранилища. Хранилище без проверки считается доступным.
func (r *CustomerRepository) Ping(ctx context.Context) error {
	p, ok := r.store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

// lostRace переводит ErrRecordNotFound после успешной проверки существования в ErrConflict.
func (r *CustomerRepository) lostRace(id int64, op string, err error) error {
	if errors.Is(err, ErrRecordNotFound) {
		r.logger.Warn("customer disappeared during mutation",
			zap.String("operation", op),
			zap.Int64("customerID", id),
		)
		return fmt.Errorf("%w: %d", ErrConflict, id)
	}
	return fmt.Errorf("%s customer %d: %w", op, id, err)
}

func (r *CustomerRepository) observe(op string, err error) {
	if r.observer == nil {
		return
	}
	r.observer.ObserveOutcome(op, OutcomeOf(err).String())
}

func resetOrderNumbers(c *model.Customer) {
	for i := range c.Orders {
		c.Orders[i].OrderNumber = 0
	}
}
