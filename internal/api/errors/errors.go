// Пакет errors — конструкторы ошибок HTTP API flex-datasvc.
// Единый формат: {"error": {"code": "...", "message": "..."}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors

import (
	"encoding/json"
	"net/http"
)

// Машиночитаемые коды ошибок.
const (
	CodeInputError         = "INPUT_ERROR"
	CodeValidationError    = "VALIDATION_ERROR"
	CodeDuplicate          = "DUPLICATE"
	CodeOverlap            = "OVERLAP"
	CodeServiceNotFound    = "SERVICE_NOT_FOUND"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	CodeDatabaseError      = "DATABASE_ERROR"
	CodeInternalError      = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки.
type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Error: errorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// --- Конструкторы для типичных ошибок ---

// InputError — 400 некорректный запрос (параметры, файл, тело).
func InputError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeInputError, message)
}

// ValidationError — 400 нарушения правил метаданных.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// Duplicate — 400 запись с таким идентификатором уже есть.
func Duplicate(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeDuplicate, message)
}

// Overlap — 400 пересечение периода действия.
func Overlap(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeOverlap, message)
}

// ServiceNotFound — 400 сервис не найден в реестре.
func ServiceNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeServiceNotFound, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// StorageUnavailable — 500 blob-хранилище недоступно.
func StorageUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeStorageUnavailable, message)
}

// DatabaseError — 500 ошибка базы данных.
func DatabaseError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeDatabaseError, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}
