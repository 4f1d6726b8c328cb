// Пакет model — доменные модели flex-datasvc.
package model

import (
	"encoding/json"
	"time"

	"github.com/paulmach/orb"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/geo"
)

// Допустимые значения collection_method.
var CollectionMethods = []string{"manual", "transform", "generated", "others"}

// Допустимые значения data_source.
var DataSources = []string{"3rdParty", "TDEITools", "InHouse"}

// FlexRecord — версия GTFS-Flex датасета (строка таблицы flex_versions).
// Записи создаются один раз и не изменяются.
type FlexRecord struct {
	RecordID          string
	ProjectGroupID    string
	ServiceID         string
	FileUploadPath    string
	UploadedBy        string
	CollectedBy       string
	CollectionDate    time.Time
	CollectionMethod  string
	ValidFrom         time.Time
	ValidTo           time.Time
	DataSource        string
	FlexSchemaVersion string
	ConfidenceLevel   int
	// Polygon — внешнее кольцо полигона покрытия; nil, если полигон не задан.
	Polygon      orb.Ring
	UploadedDate time.Time
}

// UploadMetadata — метаданные, присылаемые клиентом вместе с файлом.
// Даты хранятся строками: их формат проверяется валидацией до разбора.
type UploadMetadata struct {
	ProjectGroupID    string          `json:"tdei_project_group_id"`
	ServiceID         string          `json:"tdei_service_id"`
	CollectedBy       string          `json:"collected_by"`
	CollectionDate    string          `json:"collection_date"`
	CollectionMethod  string          `json:"collection_method"`
	ValidFrom         string          `json:"valid_from"`
	ValidTo           string          `json:"valid_to"`
	DataSource        string          `json:"data_source"`
	FlexSchemaVersion string          `json:"flex_schema_version"`
	Polygon           json.RawMessage `json:"polygon,omitempty"`
}

// HasPolygon сообщает, передан ли полигон (null считается отсутствием).
func (m *UploadMetadata) HasPolygon() bool {
	return len(m.Polygon) > 0 && string(m.Polygon) != "null"
}

// CreateRecordRequest — тело запроса прямого создания записи:
// метаданные плюс идентификатор и путь уже загруженного файла.
type CreateRecordRequest struct {
	UploadMetadata
	RecordID       string `json:"tdei_record_id"`
	FileUploadPath string `json:"file_upload_path"`
}

// QueryFilter — параметры выборки списка записей.
// Пустая строка, nil-срез и 0 означают «фильтр не задан».
type QueryFilter struct {
	FlexSchemaVersion string
	ProjectGroupID    string
	RecordID          string
	ServiceID         string
	// DateTime — «активна на момент»: valid_to > DateTime.
	DateTime string
	// BBox — minX, minY, maxX, maxY.
	BBox     []float64
	PageNo   int
	PageSize int
}

// FlexRecordDTO — внешнее представление записи в API и событиях.
type FlexRecordDTO struct {
	RecordID          string          `json:"tdei_record_id"`
	ProjectGroupID    string          `json:"tdei_project_group_id"`
	ServiceID         string          `json:"tdei_service_id"`
	CollectedBy       string          `json:"collected_by"`
	CollectionDate    time.Time       `json:"collection_date"`
	CollectionMethod  string          `json:"collection_method"`
	ValidFrom         time.Time       `json:"valid_from"`
	ValidTo           time.Time       `json:"valid_to"`
	DataSource        string          `json:"data_source"`
	FlexSchemaVersion string          `json:"flex_schema_version"`
	ConfidenceLevel   int             `json:"confidence_level"`
	FileUploadPath    string          `json:"file_upload_path"`
	UploadedBy        string          `json:"uploaded_by"`
	UploadedDate      *time.Time      `json:"uploaded_date,omitempty"`
	Polygon           *geo.Collection `json:"polygon,omitempty"`
	DownloadURL       string          `json:"download_url,omitempty"`
}
