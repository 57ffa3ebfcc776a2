package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/customer-orders/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	connectTimeout = 10 * time.Second
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 5 * time.Second
)

// PostgresStore хранит агрегаты клиентов в PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт пул соединений и применяет миграции схемы.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", classify(err))
	}

	s := &PostgresStore{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при конфликтах сериализации, дедлоках и обрывах соединения.
func (s *PostgresStore) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.withRetryIf(ctx, isRetryable, fn)
}

// withRetryIf повторяет fn, пока retryable признаёт ошибку повторяемой.
func (s *PostgresStore) withRetryIf(ctx context.Context, retryable func(error) bool, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(retryAttempts,
		retry.WithCappedDuration(retryMaxDelay, retry.NewExponential(retryBaseDelay)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && retryable(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	return classify(err)
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgerrcode.IsConnectionException(pgErr.Code)
	}
	return isConnectionError(err)
}

// isSafeToRetry признаёт повторяемыми только ошибки, после которых запрос
// заведомо не выполнен: откат транзакции сервером или обрыв до отправки запроса.
// Обрыв после отправки мог оставить изменение зафиксированным.
func isSafeToRetry(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.SafeToRetry(err)
}

func isConnectionError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// classify помечает ошибки соединения как ErrStoreUnavailable.
func classify(err error) error {
	if err == nil || errors.Is(err, ErrRecordNotFound) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgerrcode.IsConnectionException(pgErr.Code) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if isConnectionError(err) {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return err
}

// Ping проверяет доступность базы данных.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var readOnlySnapshot = pgx.TxOptions{
	IsoLevel:   pgx.RepeatableRead,
	AccessMode: pgx.ReadOnly,
}

// List возвращает всех клиентов с заказами из одного снимка данных.
func (s *PostgresStore) List(ctx context.Context) ([]model.Customer, error) {
	var customers []model.Customer

	err := s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.BeginTx(ctx, readOnlySnapshot)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		customers, err = listCustomers(ctx, tx)
		if err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return nil, err
	}

	return customers, nil
}

func listCustomers(ctx context.Context, q querier) ([]model.Customer, error) {
	rows, err := q.Query(ctx, `SELECT customer_id, name FROM customers ORDER BY customer_id`)
	if err != nil {
		return nil, fmt.Errorf("select customers: %w", err)
	}
	defer rows.Close()

	customers := make([]model.Customer, 0)
	index := make(map[int64]int)
	for rows.Next() {
		c := model.Customer{Orders: []model.Order{}}
		if err := rows.Scan(&c.CustomerID, &c.Name); err != nil {
			return nil, fmt.Errorf("scan customer: %w", err)
		}
		index[c.CustomerID] = len(customers)
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	orderRows, err := q.Query(ctx,
		`SELECT customer_id, order_number, product_name
		 FROM orders
		 ORDER BY customer_id, position`)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer orderRows.Close()

	for orderRows.Next() {
		var (
			customerID int64
			o          model.Order
		)
		if err := orderRows.Scan(&customerID, &o.OrderNumber, &o.ProductName); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if i, ok := index[customerID]; ok {
			customers[i].Orders = append(customers[i].Orders, o)
		}
	}
	if err := orderRows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return customers, nil
}

// Find возвращает клиента с заказами или ErrRecordNotFound.
func (s *PostgresStore) Find(ctx context.Context, id int64) (model.Customer, error) {
	var c model.Customer

	err := s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.BeginTx(ctx, readOnlySnapshot)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		c, err = findCustomer(ctx, tx, id)
		if err != nil {
			return err
		}

		return tx.Commit(ctx)
	})
	if err != nil {
		return model.Customer{}, err
	}

	return c, nil
}

func findCustomer(ctx context.Context, q querier, id int64) (model.Customer, error) {
	c := model.Customer{CustomerID: id}
	err := q.QueryRow(ctx, `SELECT name FROM customers WHERE customer_id = $1`, id).Scan(&c.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Customer{}, ErrRecordNotFound
		}
		return model.Customer{}, fmt.Errorf("select customer: %w", err)
	}

	c.Orders, err = loadOrders(ctx, q, id)
	if err != nil {
		return model.Customer{}, err
	}

	return c, nil
}

func loadOrders(ctx context.Context, q querier, customerID int64) ([]model.Order, error) {
	rows, err := q.Query(ctx,
		`SELECT order_number, product_name
		 FROM orders
		 WHERE customer_id = $1
		 ORDER BY position`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	orders := make([]model.Order, 0)
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.OrderNumber, &o.ProductName); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// Exists проверяет наличие клиента.
func (s *PostgresStore) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := s.withRetry(ctx, func(ctx context.Context) error {
		return s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM customers WHERE customer_id = $1)`,
			id,
		).Scan(&exists)
	})
	if err != nil {
		return false, fmt.Errorf("check customer exists: %w", err)
	}
	return exists, nil
}

// Insert создаёт клиента и его заказы в одной транзакции.
func (s *PostgresStore) Insert(ctx context.Context, c model.Customer) (model.Customer, error) {
	var created model.Customer

	err := s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		created = model.Customer{Name: c.Name}
		err = tx.QueryRow(ctx,
			`INSERT INTO customers (name) VALUES ($1) RETURNING customer_id`,
			c.Name,
		).Scan(&created.CustomerID)
		if err != nil {
			return fmt.Errorf("insert customer: %w", err)
		}

		created.Orders, err = insertOrders(ctx, tx, created.CustomerID, c.Orders)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Customer{}, err
	}

	return created, nil
}

// Update заменяет имя и заказы клиента. Строка клиента блокируется до конца транзакции,
// поэтому имя и заказы меняются вместе или не меняются вовсе.
func (s *PostgresStore) Update(ctx context.Context, c model.Customer) (model.Customer, error) {
	var updated model.Customer

	err := s.withRetry(ctx, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		var locked int64
		err = tx.QueryRow(ctx,
			`SELECT customer_id FROM customers WHERE customer_id = $1 FOR UPDATE`,
			c.CustomerID,
		).Scan(&locked)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRecordNotFound
			}
			return fmt.Errorf("lock customer for update: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE customers SET name = $2 WHERE customer_id = $1`,
			c.CustomerID, c.Name,
		); err != nil {
			return fmt.Errorf("update customer: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE customer_id = $1`, c.CustomerID); err != nil {
			return fmt.Errorf("delete orders: %w", err)
		}

		updated = model.Customer{CustomerID: c.CustomerID, Name: c.Name}
		updated.Orders, err = insertOrders(ctx, tx, c.CustomerID, c.Orders)
		if err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.Customer{}, err
	}

	return updated, nil
}

func insertOrders(ctx context.Context, tx pgx.Tx, customerID int64, orders []model.Order) ([]model.Order, error) {
	res := make([]model.Order, 0, len(orders))
	for i, o := range orders {
		stored := model.Order{ProductName: o.ProductName}
		err := tx.QueryRow(ctx,
			`INSERT INTO orders (customer_id, position, product_name)
			 VALUES ($1, $2, $3)
			 RETURNING order_number`,
			customerID, i, o.ProductName,
		).Scan(&stored.OrderNumber)
		if err != nil {
			return nil, fmt.Errorf("insert order: %w", err)
		}
		res = append(res, stored)
	}
	return res, nil
}

// Delete удаляет клиента; заказы удаляются каскадно.
// Повторный DELETE после обрыва соединения не нашёл бы уже удалённую запись,
// поэтому повторяются только ошибки, при которых запрос точно не выполнен.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	return s.withRetryIf(ctx, isSafeToRetry, func(ctx context.Context) error {
		tag, err := s.pool.Exec(ctx, `DELETE FROM customers WHERE customer_id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete customer: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrRecordNotFound
		}
		return nil
	})
}

var _ Store = (*PostgresStore)(nil)
