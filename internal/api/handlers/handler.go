// handler.go — основной обработчик API flex-datasvc.
// Объединяет health и бизнес-обработчики, делегируя запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/api/errors"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/blob"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/service"
)

// FlexReader — операции с записями, нужные обработчикам.
type FlexReader interface {
	List(ctx context.Context, filter model.QueryFilter) ([]model.FlexRecordDTO, error)
	OpenFile(ctx context.Context, recordID string) (*blob.File, error)
	CreateDirect(ctx context.Context, userID string, req *model.CreateRecordRequest) (*model.FlexRecordDTO, error)
}

// Uploader — приём датасетов.
type Uploader interface {
	Upload(ctx context.Context, req *service.UploadRequest) (string, error)
}

// APIHandler — основной обработчик API flex-datasvc.
type APIHandler struct {
	health        *HealthHandler
	flex          FlexReader
	uploader      Uploader
	versions      *VersionsInfo
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// maxUploadSize — предельный размер multipart-запроса загрузки в байтах.
func NewAPIHandler(
	health *HealthHandler,
	flex FlexReader,
	uploader Uploader,
	versions *VersionsInfo,
	maxUploadSize int64,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		flex:          flex,
		uploader:      uploader,
		versions:      versions,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
// Для 5xx клиенту уходит общее сообщение, подробности — в лог.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		apierrors.ValidationError(w, verr.Error())
	case errors.Is(err, service.ErrValidation):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, service.ErrInput):
		apierrors.InputError(w, err.Error())
	case errors.Is(err, service.ErrDuplicate):
		apierrors.Duplicate(w, err.Error())
	case errors.Is(err, service.ErrOverlap):
		apierrors.Overlap(w, err.Error())
	case errors.Is(err, service.ErrServiceNotFound):
		apierrors.ServiceNotFound(w, err.Error())
	case errors.Is(err, service.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, service.ErrForbidden):
		apierrors.Forbidden(w, err.Error())
	case errors.Is(err, service.ErrStorageUnavailable):
		h.logServerError(r, err)
		apierrors.StorageUnavailable(w, "Хранилище файлов недоступно")
	case errors.Is(err, service.ErrDatabase):
		h.logServerError(r, err)
		apierrors.DatabaseError(w, "Ошибка базы данных")
	default:
		h.logServerError(r, err)
		apierrors.InternalError(w, "Внутренняя ошибка сервиса")
	}
}

func (h *APIHandler) logServerError(r *http.Request, err error) {
	h.logger.Error("Ошибка обработки запроса",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
}
