// flex.go — сервис записей GTFS-Flex: создание, выборка, скачивание файла.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/blob"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/repository"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/tdeiclient"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/validation"
)

// DownloadPath — путь API, по которому отдаётся файл записи.
const DownloadPath = "/api/v1/gtfsflex/"

// FlexStore — хранилище записей. Реализуется *repository.FlexRepository.
type FlexStore interface {
	List(ctx context.Context, filter model.QueryFilter) ([]*model.FlexRecord, error)
	GetByID(ctx context.Context, recordID string) (*model.FlexRecord, error)
	WithOwnerLock(ctx context.Context, projectGroupID, serviceID string, fn func(tx repository.FlexTx) error) error
}

// ServiceRegistry — реестр сервисов TDEI. Реализуется *tdeiclient.Client.
type ServiceRegistry interface {
	LookupService(ctx context.Context, projectGroupID, serviceID string) (*tdeiclient.Service, error)
}

// Authorizer — проверка ролей пользователя. Реализуется *tdeiclient.Client.
type Authorizer interface {
	HasPermission(ctx context.Context, userID, projectGroupID string) (bool, error)
}

// FlexService — бизнес-логика записей GTFS-Flex.
type FlexService struct {
	repo      FlexStore
	registry  ServiceRegistry
	auth      Authorizer
	blobs     blob.Store
	cache     *CacheService
	validator *validation.Validator
	publicURL string
	logger    *slog.Logger
}

// NewFlexService создаёт сервис записей.
// blobs может быть nil — скачивание вернёт ErrStorageUnavailable.
// publicURL — внешний адрес сервиса для download_url.
func NewFlexService(
	repo FlexStore,
	registry ServiceRegistry,
	auth Authorizer,
	blobs blob.Store,
	cache *CacheService,
	validator *validation.Validator,
	publicURL string,
	logger *slog.Logger,
) *FlexService {
	return &FlexService{
		repo:      repo,
		registry:  registry,
		auth:      auth,
		blobs:     blobs,
		cache:     cache,
		validator: validator,
		publicURL: strings.TrimRight(publicURL, "/"),
		logger:    logger.With(slog.String("component", "flex_service")),
	}
}

// BuildRecord проверяет метаданные, собирает из них запись с полями
// конверта и проверяет итоговую запись. Нарушения возвращаются как *ValidationError.
func (s *FlexService) BuildRecord(meta *model.UploadMetadata, env model.RecordEnvelope) (*model.FlexRecord, error) {
	if violations := s.validator.Metadata(meta); len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	rec, err := model.NewFlexRecord(meta, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInput, err)
	}

	if violations := s.validator.Record(rec); len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return rec, nil
}

// Create сохраняет запись:
//  1. percent-decode file_upload_path
//  2. проверка сервиса в реестре (до открытия транзакции)
//  3. под блокировкой владельца — проверка пересечения окон и вставка
func (s *FlexService) Create(ctx context.Context, rec *model.FlexRecord) (*model.FlexRecordDTO, error) {
	candidate := *rec
	if decoded, err := url.PathUnescape(candidate.FileUploadPath); err == nil {
		candidate.FileUploadPath = decoded
	}
	candidate.ConfidenceLevel = 0

	if _, err := s.registry.LookupService(ctx, candidate.ProjectGroupID, candidate.ServiceID); err != nil {
		if errors.Is(err, tdeiclient.ErrServiceNotFound) {
			return nil, fmt.Errorf("%w: %s в группе проектов %s", ErrServiceNotFound, candidate.ServiceID, candidate.ProjectGroupID)
		}
		return nil, fmt.Errorf("%w: реестр сервисов: %w", ErrUnknown, err)
	}

	err := s.repo.WithOwnerLock(ctx, candidate.ProjectGroupID, candidate.ServiceID, func(tx repository.FlexTx) error {
		conflicts, err := tx.FindOverlaps(ctx, &candidate)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return fmt.Errorf("%w: период с %s по %s пересекается с записью %s", ErrOverlap,
				candidate.ValidFrom.Format("2006-01-02T15:04:05Z07:00"),
				candidate.ValidTo.Format("2006-01-02T15:04:05Z07:00"),
				strings.Join(conflicts, ", "))
		}
		return tx.Insert(ctx, &candidate)
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrOverlap):
			return nil, err
		case errors.Is(err, repository.ErrDuplicateKey):
			return nil, fmt.Errorf("%w: tdei_record_id %s", ErrDuplicate, candidate.RecordID)
		default:
			return nil, fmt.Errorf("%w: создание записи %s: %w", ErrDatabase, candidate.RecordID, err)
		}
	}

	recordsCreatedTotal.Inc()
	s.cache.Set(candidate.RecordID, &candidate)

	s.logger.Info("Запись создана",
		slog.String("record_id", candidate.RecordID),
		slog.String("project_group_id", candidate.ProjectGroupID),
		slog.String("service_id", candidate.ServiceID),
	)

	dto := s.toDTO(&candidate)
	return &dto, nil
}

// CreateDirect — прямое создание записи через API. Пользователь должен
// иметь одну из разрешённых ролей в группе проектов. Если tdei_record_id
// не задан, генерируется новый.
func (s *FlexService) CreateDirect(ctx context.Context, userID string, req *model.CreateRecordRequest) (*model.FlexRecordDTO, error) {
	if req.ProjectGroupID != "" {
		if err := s.checkPermission(ctx, userID, req.ProjectGroupID); err != nil {
			return nil, err
		}
	}

	recordID := req.RecordID
	if recordID == "" {
		recordID = NewRecordID()
	}

	rec, err := s.BuildRecord(&req.UploadMetadata, model.RecordEnvelope{
		RecordID:       recordID,
		UploadedBy:     userID,
		FileUploadPath: req.FileUploadPath,
	})
	if err != nil {
		return nil, err
	}

	return s.Create(ctx, rec)
}

// checkPermission проверяет роли пользователя в группе проектов.
func (s *FlexService) checkPermission(ctx context.Context, userID, projectGroupID string) error {
	allowed, err := s.auth.HasPermission(ctx, userID, projectGroupID)
	if err != nil {
		return fmt.Errorf("%w: проверка прав: %w", ErrUnknown, err)
	}
	if !allowed {
		return fmt.Errorf("%w: пользователь %s в группе проектов %s", ErrForbidden, userID, projectGroupID)
	}
	return nil
}

// List возвращает страницу записей по фильтру.
func (s *FlexService) List(ctx context.Context, filter model.QueryFilter) ([]model.FlexRecordDTO, error) {
	records, err := s.repo.List(ctx, filter)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidFilter) {
			return nil, fmt.Errorf("%w: %w", ErrInput, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrDatabase, err)
	}

	items := make([]model.FlexRecordDTO, 0, len(records))
	for _, rec := range records {
		items = append(items, s.toDTO(rec))
	}
	return items, nil
}

// Get возвращает запись по идентификатору (через кэш).
func (s *FlexService) Get(ctx context.Context, recordID string) (*model.FlexRecord, error) {
	if rec, ok := s.cache.Get(recordID); ok {
		return rec, nil
	}

	rec, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, recordID)
		}
		return nil, fmt.Errorf("%w: получение записи %s: %w", ErrDatabase, recordID, err)
	}

	s.cache.Set(recordID, rec)
	return rec, nil
}

// OpenFile открывает файл датасета записи. Хранилище не вызывается,
// если записи нет. Вызывающий код обязан закрыть File.Body.
func (s *FlexService) OpenFile(ctx context.Context, recordID string) (*blob.File, error) {
	rec, err := s.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}

	if s.blobs == nil {
		return nil, fmt.Errorf("%w: хранилище не настроено", ErrStorageUnavailable)
	}

	f, err := s.blobs.Open(ctx, rec.FileUploadPath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, fmt.Errorf("%w: файл записи %s", ErrNotFound, recordID)
		}
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return f, nil
}

// toDTO преобразует запись и добавляет download_url.
func (s *FlexService) toDTO(rec *model.FlexRecord) model.FlexRecordDTO {
	dto := model.ToDTO(rec)
	dto.DownloadURL = s.publicURL + DownloadPath + rec.RecordID
	return dto
}

// NewRecordID генерирует новый tdei_record_id (UUID без дефисов).
func NewRecordID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
