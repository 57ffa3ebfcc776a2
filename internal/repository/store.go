// Package repository содержит хранилища агрегата клиента и репозиторий с логикой мутаций.
package repository

import (
	"context"
	"errors"

	"github.com/mmeshcher/customer-orders/internal/model"
)

var (
	// ErrRecordNotFound возвращается хранилищем, если запись клиента отсутствует.
	ErrRecordNotFound = errors.New("record not found")
	// ErrStoreUnavailable оборачивает ошибки недоступности хранилища.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Store описывает хранилище агрегатов клиента. Каждая операция атомарна относительно одной записи,
// но атомарность между разными вызовами не гарантируется.
type Store interface {
	// List возвращает всех клиентов с заказами, упорядоченных по идентификатору.
	List(ctx context.Context) ([]model.Customer, error)
	// Find возвращает клиента с заказами или ErrRecordNotFound.
	Find(ctx context.Context, id int64) (model.Customer, error)
	// Exists сообщает, есть ли клиент с указанным идентификатором.
	Exists(ctx context.Context, id int64) (bool, error)
	// Insert сохраняет нового клиента, назначая CustomerID и номера заказов.
	Insert(ctx context.Context, c model.Customer) (model.Customer, error)
	// Update заменяет имя и весь список заказов клиента. Возвращает ErrRecordNotFound, если записи уже нет.
	Update(ctx context.Context, c model.Customer) (model.Customer, error)
	// Delete удаляет клиента вместе с заказами. Возвращает ErrRecordNotFound, если записи уже нет.
	Delete(ctx context.Context, id int64) error
	Close() error
}
