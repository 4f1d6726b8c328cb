// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/validation"
)

var (
	// ErrInput — некорректный запрос (фильтр, дата, bbox, тело).
	ErrInput = errors.New("некорректный запрос")
	// ErrValidation — нарушены ограничения полей.
	ErrValidation = errors.New("ошибка валидации")
	// ErrDuplicate — запись с таким tdei_record_id уже существует.
	ErrDuplicate = errors.New("запись уже существует")
	// ErrOverlap — период действия пересекается с существующей записью.
	ErrOverlap = errors.New("пересечение периода действия")
	// ErrServiceNotFound — сервис не найден или неактивен в реестре.
	ErrServiceNotFound = errors.New("сервис не найден")
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrForbidden — у пользователя нет нужной роли в группе проектов.
	ErrForbidden = errors.New("недостаточно прав")
	// ErrStorageUnavailable — blob-хранилище не настроено или недоступно.
	ErrStorageUnavailable = errors.New("хранилище недоступно")
	// ErrDatabase — ошибка базы данных.
	ErrDatabase = errors.New("ошибка базы данных")
	// ErrUnknown — непредвиденная ошибка.
	ErrUnknown = errors.New("непредвиденная ошибка")
)

// ValidationError — список нарушений ограничений полей.
// errors.Is(err, ErrValidation) == true.
type ValidationError struct {
	Violations []validation.Violation
}

// Error возвращает все нарушения одной строкой.
func (e *ValidationError) Error() string {
	return validation.Join(e.Violations)
}

// Unwrap связывает ошибку с ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
