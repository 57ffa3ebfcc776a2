package repository

import "errors"

var (
	// ErrCustomerNotFound возвращается, если клиент не найден.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrConflict возвращается, если запись исчезла между проверкой существования и изменением.
	ErrConflict = errors.New("customer changed concurrently")
	// ErrIDMismatch возвращается, если идентификатор в пути не совпадает с идентификатором в теле.
	ErrIDMismatch = errors.New("customer id mismatch")
)

// Outcome описывает результат операции репозитория.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNotFound
	OutcomeConflict
	OutcomeBadRequest
	// OutcomeFailure означает фатальную ошибку хранилища, не входящую в ожидаемые исходы.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeConflict:
		return "conflict"
	case OutcomeBadRequest:
		return "bad_request"
	default:
		return "failure"
	}
}

// OutcomeOf классифицирует ошибку, возвращённую репозиторием.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrCustomerNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrConflict):
		return OutcomeConflict
	case errors.Is(err, ErrIDMismatch):
		return OutcomeBadRequest
	default:
		return OutcomeFailure
	}
}
