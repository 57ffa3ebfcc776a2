package apiclient

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	// ErrTransientNetwork оборачивает сетевую ошибку, допускающую повтор.
	ErrTransientNetwork = errors.New("transient network failure")
	// ErrMalformedResponse возвращается, если тело ответа не удалось разобрать.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrRetryBudgetExhausted возвращается, когда все попытки потрачены.
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	// ErrCanceled возвращается при отмене контекста вызывающей стороной.
	ErrCanceled = errors.New("request canceled")
	// ErrNotFound возвращается на 404 для операций над одним клиентом.
	ErrNotFound = errors.New("customer not found")
)

const maxErrorBody = 64 << 10

// StatusError описывает ответ сервера с неуспешным статусом.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// newStatusError читает тело ответа и закрывает его.
func newStatusError(resp *http.Response) *StatusError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}

func canceled(err error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, err)
}
