// Package handler содержит HTTP-обработчики API клиентов и их заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/customer-orders/internal/metrics"
	"github.com/mmeshcher/customer-orders/internal/middleware"
	"github.com/mmeshcher/customer-orders/internal/model"
	"github.com/mmeshcher/customer-orders/internal/repository"
	"github.com/mmeshcher/customer-orders/internal/service"
)

//go:generate mockgen -destination=mocks/mock_repository.go -package=mocks . Repository

// Repository определяет операции над клиентами, используемые HTTP-обработчиками.
type Repository interface {
	List(ctx context.Context) ([]model.Customer, error)
	GetByID(ctx context.Context, id int64) (model.Customer, error)
	Add(ctx context.Context, input model.Customer) (model.Customer, error)
	Update(ctx context.Context, id int64, input model.Customer) (model.Customer, error)
	Delete(ctx context.Context, id int64) (model.Customer, error)
	Exists(ctx context.Context, id int64) (bool, error)
}

// Pinger проверяет доступность хранилища. Репозиторий без Pinger считается всегда готовым.
type Pinger interface {
	Ping(ctx context.Context) error
}

// TokenService выдаёт токены доступа по логину и паролю.
type TokenService interface {
	IssueToken(ctx context.Context, username, password string) (string, time.Time, error)
}

// Handler реализует HTTP-обработчики API клиентов.
type Handler struct {
	repo           Repository
	tokens         TokenService
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	metrics        *metrics.Metrics
}

// NewHandler создаёт обработчик. Метрики необязательны.
func NewHandler(repo Repository, tokens TokenService, logger *zap.Logger, auth *middleware.AuthMiddleware, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		repo:           repo,
		tokens:         tokens,
		logger:         logger,
		authMiddleware: auth,
		metrics:        m,
	}
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token      string `json:"token"`
	Expiration string `json:"expiration"`
}

// Token выдаёт bearer-токен для настроенной учётной записи.
func (h *Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	token, expiresAt, err := h.tokens.IssueToken(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("issue token error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, tokenResponse{
		Token:      token,
		Expiration: expiresAt.UTC().Format(time.RFC3339),
	})
}

// ListCustomers возвращает всех клиентов вместе с заказами.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.repo.List(r.Context())
	if err != nil {
		h.logger.Error("list customers error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if customers == nil {
		customers = []model.Customer{}
	}
	h.writeJSON(w, http.StatusOK, customers)
}

// GetCustomer возвращает клиента по идентификатору.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := customerID(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		h.writeOutcome(w, r, "get customer", id, err)
		return
	}

	h.writeJSON(w, http.StatusOK, c)
}

// AddCustomer создаёт клиента. Идентификаторы назначает хранилище.
func (h *Handler) AddCustomer(w http.ResponseWriter, r *http.Request) {
	var input model.Customer
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	created, err := h.repo.Add(r.Context(), input)
	if err != nil {
		h.writeOutcome(w, r, "add customer", input.CustomerID, err)
		return
	}

	w.Header().Set("Location", "/api/customers/"+strconv.FormatInt(created.CustomerID, 10))
	h.writeJSON(w, http.StatusCreated, created)
}

// UpdateCustomer заменяет имя и заказы клиента.
func (h *Handler) UpdateCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := customerID(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	var input model.Customer
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if input.CustomerID != id {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	updated, err := h.repo.Update(r.Context(), id, input)
	if err != nil {
		h.writeOutcome(w, r, "update customer", id, err)
		return
	}

	h.writeJSON(w, http.StatusOK, updated)
}

// DeleteCustomer удаляет клиента вместе с заказами.
func (h *Handler) DeleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, ok := customerID(r)
	if !ok {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if _, err := h.repo.Delete(r.Context(), id); err != nil {
		h.writeOutcome(w, r, "delete customer", id, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Ping сообщает, готово ли хранилище обслуживать запросы.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.repo.(Pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			h.logger.Error("ping storage error", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// writeOutcome переводит исход репозитория в HTTP-статус.
// Конфликт отдаётся как 404: клиент исчез в ходе операции.
func (h *Handler) writeOutcome(w http.ResponseWriter, r *http.Request, op string, id int64, err error) {
	subject, _ := middleware.GetSubjectFromContext(r.Context())

	switch repository.OutcomeOf(err) {
	case repository.OutcomeNotFound:
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case repository.OutcomeConflict:
		h.logger.Warn(op+" conflict", zap.Int64("customerID", id), zap.String("subject", subject))
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case repository.OutcomeBadRequest:
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
	default:
		h.logger.Error(op+" error", zap.Error(err), zap.Int64("customerID", id), zap.String("subject", subject))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode response error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func customerID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
