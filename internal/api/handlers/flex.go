// flex.go — обработчики записей GTFS-Flex:
// GET /api/v1/gtfsflex, GET /api/v1/gtfsflex/{id}, POST /api/v1/gtfsflex/records.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/api/errors"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/api/middleware"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
)

// maxRecordBodySize — предельный размер JSON-тела прямого создания записи.
const maxRecordBodySize = 1 << 20

// ListFlex — GET /api/v1/gtfsflex. Фильтры и пагинация из query string.
func (h *APIHandler) ListFlex(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r.URL.Query())
	if err != nil {
		apierrors.InputError(w, err.Error())
		return
	}

	items, err := h.flex.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, items)
}

// GetFlexFile — GET /api/v1/gtfsflex/{id}. Отдаёт файл датасета потоком.
func (h *APIHandler) GetFlexFile(w http.ResponseWriter, r *http.Request) {
	recordID := chi.URLParam(r, "id")
	if recordID == "" {
		apierrors.InputError(w, "Не указан идентификатор записи")
		return
	}

	f, err := h.flex.OpenFile(r.Context(), recordID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	defer f.Body.Close()

	contentType := f.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if f.Name != "" {
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	}
	if f.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(f.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, f.Body); err != nil {
		// Заголовки уже отправлены, остаётся только лог.
		h.logger.Warn("Передача файла прервана",
			slog.String("record_id", recordID),
			slog.String("error", err.Error()),
		)
	}
}

// CreateRecord — POST /api/v1/gtfsflex/records. Прямое создание записи
// для уже загруженного файла.
func (h *APIHandler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	var req model.CreateRecordRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordBodySize))
	if err := dec.Decode(&req); err != nil {
		apierrors.InputError(w, fmt.Sprintf("Некорректное тело запроса: %v", err))
		return
	}

	dto, err := h.flex.CreateDirect(r.Context(), middleware.SubjectFromContext(r.Context()), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, dto)
}

// parseListFilter разбирает query string списка. Проверка диапазонов
// (страница, количество координат bbox) выполняется компилятором запроса.
func parseListFilter(q url.Values) (model.QueryFilter, error) {
	f := model.QueryFilter{
		FlexSchemaVersion: q.Get("flex_schema_version"),
		ProjectGroupID:    q.Get("tdei_project_group_id"),
		RecordID:          q.Get("tdei_record_id"),
		ServiceID:         q.Get("tdei_service_id"),
		DateTime:          q.Get("date_time"),
	}

	var err error
	if f.PageNo, err = parseOptionalInt(q, "page_no"); err != nil {
		return f, err
	}
	if f.PageSize, err = parseOptionalInt(q, "page_size"); err != nil {
		return f, err
	}

	// bbox допускается как повторяющийся параметр и как список через запятую.
	for _, raw := range q["bbox"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			v, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return f, fmt.Errorf("bbox: некорректная координата %q", part)
			}
			f.BBox = append(f.BBox, v)
		}
	}

	return f, nil
}

// parseOptionalInt — 0, если параметр не задан; значения < 1 отклоняются.
func parseOptionalInt(q url.Values, name string) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: ожидалось целое число, получено %q", name, raw)
	}
	// 0 в фильтре означает «не задан», поэтому явный 0 отклоняется здесь.
	if v < 1 {
		return 0, fmt.Errorf("%s должен быть >= 1", name)
	}
	return v, nil
}
