// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bigkaa/filevault/internal/identity"
	"github.com/bigkaa/filevault/internal/repository"
)

var (
	// ErrUnauthenticated — контекст principal'а не определён.
	ErrUnauthenticated = identity.ErrUnauthenticated
	// ErrForbidden — политика запретила операцию.
	ErrForbidden = errors.New("операция запрещена")
	// ErrNotFound — файл не найден, уже удалён или находится в другом пространстве.
	ErrNotFound = errors.New("файл не найден")
	// ErrTransient — хранилище временно недоступно, запрос можно повторить.
	ErrTransient = repository.ErrTransient
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
)

// ValidationError — ошибка валидации с указанием поля.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap позволяет проверять errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// mapRepoError переводит ошибку репозитория в ошибку сервиса.
func mapRepoError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, ErrTransient):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
