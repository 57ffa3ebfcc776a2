// Package apiclient предоставляет устойчивый к сбоям клиент API клиентов и заказов.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mmeshcher/customer-orders/internal/model"
)

const requestIDHeader = "X-Request-ID"

// Credential — bearer-токен с моментом истечения. Не обновляется.
type Credential struct {
	token *oauth2.Token
}

// NewCredential создаёт учётные данные из готового токена.
func NewCredential(token string, expiresAt time.Time) Credential {
	return Credential{token: &oauth2.Token{
		AccessToken: token,
		TokenType:   "Bearer",
		Expiry:      expiresAt,
	}}
}

// Token возвращает значение токена.
func (c Credential) Token() string {
	if c.token == nil {
		return ""
	}
	return c.token.AccessToken
}

// Expiration возвращает момент истечения токена. Нулевое время — без срока.
func (c Credential) Expiration() time.Time {
	if c.token == nil {
		return time.Time{}
	}
	return c.token.Expiry
}

// Valid сообщает, что токен задан и ещё не истёк.
func (c Credential) Valid() bool {
	return c.token.Valid()
}

func (c Credential) apply(req *http.Request) {
	if c.token != nil {
		c.token.SetAuthHeader(req)
	}
}

// Client выполняет запросы к API с повторами по политикам.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *zap.Logger

	fetch    Policy
	standard Policy
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient задаёт HTTP-клиент для отдельных попыток.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLogger задаёт журнал.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout ограничивает длительность одной попытки.
// Переданный через WithHTTPClient клиент не изменяется: таймаут применяется к его копии.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetryUnit задаёт единицу задержки для всех политик.
func WithRetryUnit(unit time.Duration) Option {
	return func(c *Client) {
		c.fetch.Unit = unit
		c.standard.Unit = unit
	}
}

// WithFetchPolicy заменяет политику чтения списка клиентов.
func WithFetchPolicy(p Policy) Option {
	return func(c *Client) {
		c.fetch = p
	}
}

// WithStandardPolicy заменяет политику для операций над одним клиентом.
func WithStandardPolicy(p Policy) Option {
	return func(c *Client) {
		c.standard = p
	}
}

// NewClient создаёт клиент API по указанному адресу.
func NewClient(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	c := &Client{
		baseURL:    base,
		httpClient: cleanhttp.DefaultPooledClient(),
		logger:     zap.NewNop(),
		fetch:      FetchPolicy(DefaultRetryUnit),
		standard:   StandardPolicy(DefaultRetryUnit),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.httpClient == nil {
		c.httpClient = cleanhttp.DefaultPooledClient()
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	return c
}

type tokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token      string `json:"token"`
	Expiration string `json:"expiration"`
}

// AcquireToken получает bearer-токен. Запрос выполняется один раз.
func (c *Client) AcquireToken(ctx context.Context, username, password string) (Credential, error) {
	resp, err := c.do(ctx, NoRetry(), http.MethodPost, "/api/token", nil, tokenRequest{
		Username: username,
		Password: password,
	})
	if err != nil {
		return Credential{}, fmt.Errorf("acquire token: %w", err)
	}

	var tr tokenResponse
	if err := decodeJSON(resp, &tr); err != nil {
		return Credential{}, fmt.Errorf("acquire token: %w", err)
	}
	if tr.Token == "" {
		return Credential{}, fmt.Errorf("acquire token: %w: token is missing", ErrMalformedResponse)
	}

	var expiresAt time.Time
	if tr.Expiration != "" {
		expiresAt, err = time.Parse(time.RFC3339, tr.Expiration)
		if err != nil {
			return Credential{}, fmt.Errorf("acquire token: %w: expiration: %w", ErrMalformedResponse, err)
		}
	}

	return NewCredential(tr.Token, expiresAt), nil
}

// FetchCustomers возвращает всех клиентов. Пустое или null тело даёт пустой список.
func (c *Client) FetchCustomers(ctx context.Context, cred Credential) ([]model.Customer, error) {
	resp, err := c.do(ctx, c.fetch, http.MethodGet, "/api/customers", &cred, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch customers: %w", err)
	}

	var customers []model.Customer
	if err := decodeJSON(resp, &customers); err != nil {
		return nil, fmt.Errorf("fetch customers: %w", err)
	}
	if customers == nil {
		customers = []model.Customer{}
	}
	return customers, nil
}

// GetCustomer возвращает клиента по идентификатору или ErrNotFound.
func (c *Client) GetCustomer(ctx context.Context, cred Credential, id int64) (model.Customer, error) {
	resp, err := c.do(ctx, c.standard, http.MethodGet, customerPath(id), &cred, nil)
	if err != nil {
		return model.Customer{}, fmt.Errorf("get customer %d: %w", id, notFound(err))
	}

	var customer model.Customer
	if err := decodeJSON(resp, &customer); err != nil {
		return model.Customer{}, fmt.Errorf("get customer %d: %w", id, err)
	}
	return customer, nil
}

// AddCustomer создаёт клиента. POST не идемпотентен и не повторяется.
func (c *Client) AddCustomer(ctx context.Context, cred Credential, customer model.Customer) (model.Customer, error) {
	resp, err := c.do(ctx, NoRetry(), http.MethodPost, "/api/customers", &cred, customer)
	if err != nil {
		return model.Customer{}, fmt.Errorf("add customer: %w", err)
	}

	var created model.Customer
	if err := decodeJSON(resp, &created); err != nil {
		return model.Customer{}, fmt.Errorf("add customer: %w", err)
	}
	return created, nil
}

// UpdateCustomer заменяет имя и заказы клиента.
func (c *Client) UpdateCustomer(ctx context.Context, cred Credential, customer model.Customer) (model.Customer, error) {
	resp, err := c.do(ctx, c.standard, http.MethodPut, customerPath(customer.CustomerID), &cred, customer)
	if err != nil {
		return model.Customer{}, fmt.Errorf("update customer %d: %w", customer.CustomerID, notFound(err))
	}

	var updated model.Customer
	if err := decodeJSON(resp, &updated); err != nil {
		return model.Customer{}, fmt.Errorf("update customer %d: %w", customer.CustomerID, err)
	}
	return updated, nil
}

// DeleteCustomer удаляет клиента.
func (c *Client) DeleteCustomer(ctx context.Context, cred Credential, id int64) error {
	resp, err := c.do(ctx, c.standard, http.MethodDelete, customerPath(id), &cred, nil)
	if err != nil {
		return fmt.Errorf("delete customer %d: %w", id, notFound(err))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// do выполняет одну логическую операцию и возвращает успешный ответ.
// Неуспешный статус превращается в *StatusError, тело ответа при этом закрыто.
func (c *Client) do(ctx context.Context, p Policy, method, path string, cred *Credential, body any) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, errors.New("api client not configured")
	}

	var payload interface{}
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		payload = raw
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(requestIDHeader, requestID)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cred != nil {
		cred.apply(req.Request)
	}

	resp, err := p.retryClient(ctx, c.httpClient, c.logger, requestID).Do(req)
	if err != nil {
		// Отмена во время паузы приходит без ErrorHandler.
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ErrCanceled) {
			return nil, canceled(ctxErr)
		}
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newStatusError(resp)
	}
	return resp, nil
}

// notFound помечает ответ 404 как ErrNotFound.
func notFound(err error) error {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}

// decodeJSON читает тело целиком и закрывает его. Пустое тело и null оставляют v нетронутым.
func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %w", ErrMalformedResponse, err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return nil
}

func customerPath(id int64) string {
	return "/api/customers/" + strconv.FormatInt(id, 10)
}
