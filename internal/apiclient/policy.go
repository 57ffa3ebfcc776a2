package apiclient

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// DefaultRetryUnit — базовая единица задержки между попытками.
const DefaultRetryUnit = time.Second

// Policy описывает, какие неудачи повторяются, сколько раз и с какой паузой.
// Пауза перед повтором n (n с единицы) равна 2^n единиц: 2, 4, 8.
type Policy struct {
	MaxRetries int
	Unit       time.Duration
	// Jitter добавляет к паузе случайную величину из [0, Jitter).
	Jitter time.Duration
	// RetryNotFound повторяет запрос и на 404.
	RetryNotFound bool
	// OnRetry вызывается перед каждой паузой.
	OnRetry func(retry int, wait time.Duration, resp *http.Response)
}

// FetchPolicy применяется к чтению списка клиентов: сетевые ошибки, 5xx, 408 и 404.
func FetchPolicy(unit time.Duration) Policy {
	return Policy{MaxRetries: 3, Unit: unit, RetryNotFound: true}
}

// StandardPolicy применяется к идемпотентным запросам: сетевые ошибки, 5xx и 408.
func StandardPolicy(unit time.Duration) Policy {
	return Policy{MaxRetries: 3, Unit: unit}
}

// NoRetry выполняет ровно одну попытку.
func NoRetry() Policy {
	return Policy{}
}

// ShouldRetry решает, повторять ли попытку. Отмена контекста никогда не повторяется.
func (p Policy) ShouldRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if p.MaxRetries <= 0 {
		return false, nil
	}

	if err != nil {
		// Ошибки редиректа, схемы и TLS повторять бессмысленно.
		return retryablehttp.DefaultRetryPolicy(ctx, nil, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return true, nil
	case resp.StatusCode == http.StatusRequestTimeout:
		return true, nil
	case resp.StatusCode == http.StatusNotFound:
		return p.RetryNotFound, nil
	default:
		return false, nil
	}
}

// Delay возвращает паузу перед повтором с номером retry (с единицы).
func (p Policy) Delay(retry int) time.Duration {
	unit := p.Unit
	if unit <= 0 {
		unit = DefaultRetryUnit
	}
	wait := unit << retry
	if p.Jitter > 0 {
		wait += rand.N(p.Jitter)
	}
	return wait
}

// retryClient собирает retryablehttp.Client, исполняющий одну логическую операцию по политике.
// ctx — контекст вызывающей стороны: только его отмена считается отменой операции.
func (p Policy) retryClient(ctx context.Context, httpClient *http.Client, logger *zap.Logger, requestID string) *retryablehttp.Client {
	return &retryablehttp.Client{
		HTTPClient: httpClient,
		Logger:     leveledLogger{s: logger.Sugar().With("request_id", requestID)},
		RetryMax:   p.MaxRetries,
		CheckRetry: p.ShouldRetry,
		Backoff: func(_, _ time.Duration, attemptNum int, resp *http.Response) time.Duration {
			retry := attemptNum + 1
			wait := p.Delay(retry)

			fields := []zap.Field{
				zap.Duration("wait", wait),
				zap.Int("retry", retry),
				zap.String("request_id", requestID),
			}
			if resp != nil {
				fields = append(fields, zap.Int("status", resp.StatusCode))
			}
			logger.Warn(fmt.Sprintf("request failed, waiting %s before retry %d", wait, retry), fields...)

			if p.OnRetry != nil {
				p.OnRetry(retry, wait, resp)
			}
			return wait
		},
		ErrorHandler: func(resp *http.Response, err error, attempts int) (*http.Response, error) {
			return p.giveUp(ctx, resp, err, attempts)
		},
	}
}

// giveUp вызывается, когда попытки прекращены с ошибкой: бюджет исчерпан,
// транспортная ошибка не повторяется или контекст отменён.
// Таймаут отдельной попытки похож на ошибку контекста, но остаётся сетевой ошибкой.
func (p Policy) giveUp(ctx context.Context, resp *http.Response, err error, attempts int) (*http.Response, error) {
	if err == nil {
		// Без ошибки сюда попадаем только после исчерпания бюджета на статусе.
		return nil, fmt.Errorf("%w after %d attempt(s): %w", ErrRetryBudgetExhausted, attempts, newStatusError(resp))
	}

	if resp != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, canceled(ctxErr)
	}
	if p.MaxRetries > 0 && attempts > p.MaxRetries {
		return nil, fmt.Errorf("%w after %d attempt(s): %w: %w", ErrRetryBudgetExhausted, attempts, ErrTransientNetwork, err)
	}
	if transient, _ := retryablehttp.DefaultRetryPolicy(context.Background(), nil, err); transient {
		return nil, fmt.Errorf("do request: %w: %w", ErrTransientNetwork, err)
	}
	return nil, fmt.Errorf("do request: %w", err)
}

// leveledLogger передаёт журнал retryablehttp в zap.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, keysAndValues...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.s.Warnw(msg, keysAndValues...)
}

var _ retryablehttp.LeveledLogger = leveledLogger{}
