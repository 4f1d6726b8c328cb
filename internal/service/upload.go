// upload.go — приём датасета: проверка метаданных, размещение файла и
// meta.json в хранилище, анонс загрузки в шину событий.
// Запись в БД создаётся позже, после внешней валидации (Relay).
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/blob"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/eventbus"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/validation"
)

// metaFileName — имя копии метаданных рядом с файлом датасета.
const metaFileName = "meta.json"

// UploadRequest — входные данные загрузки.
type UploadRequest struct {
	Meta     model.UploadMetadata
	FileName string
	Body     io.Reader
	// Size — размер файла; -1, если неизвестен.
	Size   int64
	UserID string
}

// UploadService — приём датасетов.
type UploadService struct {
	blobs     blob.Store
	publisher eventbus.Publisher
	validator *validation.Validator
	topic     string
	now       func() time.Time
	logger    *slog.Logger
}

// NewUploadService создаёт сервис загрузки.
// blobs может быть nil — загрузка вернёт ErrStorageUnavailable.
// topic — исходящий топик анонсов загрузки.
func NewUploadService(
	blobs blob.Store,
	publisher eventbus.Publisher,
	validator *validation.Validator,
	topic string,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		blobs:     blobs,
		publisher: publisher,
		validator: validator,
		topic:     topic,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "upload_service")),
	}
}

// Upload выполняет загрузку и возвращает новый tdei_record_id.
// При нарушениях метаданных ничего не сохраняется и не публикуется.
func (s *UploadService) Upload(ctx context.Context, req *UploadRequest) (string, error) {
	if !strings.EqualFold(path.Ext(req.FileName), ".zip") {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return "", fmt.Errorf("%w: допускаются только .zip файлы, получен %q", ErrInput, req.FileName)
	}
	if violations := s.validator.Metadata(&req.Meta); len(violations) > 0 {
		uploadsTotal.WithLabelValues("rejected").Inc()
		return "", &ValidationError{Violations: violations}
	}
	if s.blobs == nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: хранилище не настроено", ErrStorageUnavailable)
	}

	recordID := NewRecordID()
	folder := StorageFolder(s.now(), req.Meta.ProjectGroupID, recordID)
	logger := s.logger.With(
		slog.String("record_id", recordID),
		slog.String("project_group_id", req.Meta.ProjectGroupID),
	)

	fileName := path.Base(strings.ReplaceAll(req.FileName, "\\", "/"))
	filePath, err := s.blobs.Upload(ctx, folder+"/"+fileName, blob.ContentTypeByName(fileName), req.Body, req.Size)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: загрузка файла: %w", ErrStorageUnavailable, err)
	}

	metaJSON, err := json.Marshal(storedMetadata{UploadMetadata: req.Meta, UploadedBy: req.UserID})
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: сериализация метаданных: %w", ErrUnknown, err)
	}
	metaPath, err := s.blobs.Upload(ctx, folder+"/"+metaFileName, "application/json",
		bytes.NewReader(metaJSON), int64(len(metaJSON)))
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: загрузка метаданных: %w", ErrStorageUnavailable, err)
	}

	msg, err := eventbus.NewMessage(model.MessageTypeUpload, model.JobMessage{
		Request:      metaJSON,
		UserID:       req.UserID,
		OrgID:        req.Meta.ProjectGroupID,
		TdeiRecordID: recordID,
		Meta: model.JobMeta{
			FileUploadPath: filePath,
			MetaFilePath:   metaPath,
		},
		Response: model.JobResponse{
			Success: true,
			Message: "Файл GTFS-Flex загружен",
		},
	})
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: %w", ErrUnknown, err)
	}
	if err := s.publisher.Publish(ctx, s.topic, msg); err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: публикация анонса загрузки: %w", ErrUnknown, err)
	}

	uploadsTotal.WithLabelValues("success").Inc()
	logger.Info("Датасет загружен",
		slog.String("file_upload_path", filePath),
		slog.String("user_id", req.UserID),
	)
	return recordID, nil
}

// StorageFolder возвращает каталог датасета в хранилище:
// <год>/<месяц>/<project_group_id>/<record_id>.
func StorageFolder(now time.Time, projectGroupID, recordID string) string {
	return strings.Join([]string{
		strconv.Itoa(now.Year()),
		strconv.Itoa(int(now.Month())),
		projectGroupID,
		recordID,
	}, "/")
}

// storedMetadata — содержимое meta.json: метаданные клиента и автор загрузки.
type storedMetadata struct {
	model.UploadMetadata
	UploadedBy string `json:"uploaded_by"`
}
