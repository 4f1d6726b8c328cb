package model

import (
	"fmt"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/geo"
)

// RecordEnvelope — поля записи, задаваемые не клиентом, а конвертом
// запроса (сообщение очереди или токен). Имеют приоритет над метаданными.
type RecordEnvelope struct {
	RecordID       string
	UploadedBy     string
	FileUploadPath string
}

// NewFlexRecord собирает FlexRecord из метаданных и конверта.
// Ожидает метаданные, уже прошедшие проверку формата дат и полигона.
func NewFlexRecord(meta *UploadMetadata, env RecordEnvelope) (*FlexRecord, error) {
	rec := &FlexRecord{
		RecordID:          env.RecordID,
		ProjectGroupID:    meta.ProjectGroupID,
		ServiceID:         meta.ServiceID,
		FileUploadPath:    env.FileUploadPath,
		UploadedBy:        env.UploadedBy,
		CollectedBy:       meta.CollectedBy,
		CollectionMethod:  meta.CollectionMethod,
		DataSource:        meta.DataSource,
		FlexSchemaVersion: meta.FlexSchemaVersion,
	}

	var err error
	if rec.CollectionDate, err = ParseISODate(meta.CollectionDate); err != nil {
		return nil, fmt.Errorf("collection_date: %w", err)
	}
	if rec.ValidFrom, err = ParseISODate(meta.ValidFrom); err != nil {
		return nil, fmt.Errorf("valid_from: %w", err)
	}
	if rec.ValidTo, err = ParseISODate(meta.ValidTo); err != nil {
		return nil, fmt.Errorf("valid_to: %w", err)
	}

	if meta.HasPolygon() {
		if rec.Polygon, err = geo.ParseFeatureCollection(meta.Polygon); err != nil {
			return nil, fmt.Errorf("polygon: %w", err)
		}
	}

	return rec, nil
}

// ToDTO копирует скалярные поля записи во внешнее представление.
// Полигон оборачивается в FeatureCollection с одной Feature.
func ToDTO(rec *FlexRecord) FlexRecordDTO {
	dto := FlexRecordDTO{
		RecordID:          rec.RecordID,
		ProjectGroupID:    rec.ProjectGroupID,
		ServiceID:         rec.ServiceID,
		CollectedBy:       rec.CollectedBy,
		CollectionDate:    rec.CollectionDate,
		CollectionMethod:  rec.CollectionMethod,
		ValidFrom:         rec.ValidFrom,
		ValidTo:           rec.ValidTo,
		DataSource:        rec.DataSource,
		FlexSchemaVersion: rec.FlexSchemaVersion,
		ConfidenceLevel:   rec.ConfidenceLevel,
		FileUploadPath:    rec.FileUploadPath,
		UploadedBy:        rec.UploadedBy,
	}
	if !rec.UploadedDate.IsZero() {
		uploaded := rec.UploadedDate
		dto.UploadedDate = &uploaded
	}
	if len(rec.Polygon) > 0 {
		dto.Polygon = geo.FeatureCollection(rec.Polygon)
	}
	return dto
}
