// upload.go — обработчик POST /api/v1/gtfsflex (multipart: file + meta).
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apierrors "github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/api/errors"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/api/middleware"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/service"
)

// Поля multipart-формы загрузки.
const (
	formFieldFile = "file"
	formFieldMeta = "meta"
)

// multipartMemory — объём формы в памяти; остальное уходит во временные файлы.
const multipartMemory = 32 << 20

// maxMetaSize — предельный размер части meta, переданной файлом.
const maxMetaSize = 1 << 20

// UploadFlex — POST /api/v1/gtfsflex. Возвращает tdei_record_id текстом.
// Запись в БД создаётся позже, после внешней валидации.
func (h *APIHandler) UploadFlex(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.InputError(w, fmt.Sprintf("Размер запроса превышает %d байт", maxErr.Limit))
			return
		}
		apierrors.InputError(w, fmt.Sprintf("Некорректная multipart-форма: %v", err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	meta, err := readMeta(r)
	if err != nil {
		apierrors.InputError(w, err.Error())
		return
	}

	file, header, err := r.FormFile(formFieldFile)
	if err != nil {
		apierrors.InputError(w, "Не передан файл датасета (поле file)")
		return
	}
	defer file.Close()

	recordID, err := h.uploader.Upload(r.Context(), &service.UploadRequest{
		Meta:     *meta,
		FileName: header.Filename,
		Body:     file,
		Size:     header.Size,
		UserID:   middleware.SubjectFromContext(r.Context()),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, recordID)
}

// readMeta извлекает метаданные: значение поля формы или файловую часть.
func readMeta(r *http.Request) (*model.UploadMetadata, error) {
	raw := r.FormValue(formFieldMeta)
	if strings.TrimSpace(raw) == "" {
		f, _, err := r.FormFile(formFieldMeta)
		if err != nil {
			return nil, errors.New("не переданы метаданные (поле meta)")
		}
		defer f.Close()
		data, err := io.ReadAll(io.LimitReader(f, maxMetaSize))
		if err != nil {
			return nil, fmt.Errorf("чтение метаданных: %w", err)
		}
		raw = string(data)
	}

	var meta model.UploadMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("метаданные не являются корректным JSON: %w", err)
	}
	return &meta, nil
}
