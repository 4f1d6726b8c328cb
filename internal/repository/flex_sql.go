// flex_sql.go — построение SQL записи flex_versions: вставка, проверка
// пересечения окон действия, выборка по идентификатору, блокировка владельца.
package repository

import (
	"fmt"
	"strings"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/geo"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
)

// BuildInsert строит INSERT записи. Колонка polygon включается только
// при наличии полигона и заполняется через ST_GeomFromGeoJSON.
// Запрос возвращает uploaded_date, проставленный БД.
func BuildInsert(rec *model.FlexRecord) (Query, error) {
	columns := []string{
		"tdei_record_id", "tdei_project_group_id", "tdei_service_id",
		"file_upload_path", "uploaded_by", "collected_by", "collection_date",
		"collection_method", "valid_from", "valid_to", "data_source",
		"flex_schema_version", "confidence_level",
	}
	args := []any{
		rec.RecordID, rec.ProjectGroupID, rec.ServiceID,
		rec.FileUploadPath, rec.UploadedBy, rec.CollectedBy, rec.CollectionDate,
		rec.CollectionMethod, rec.ValidFrom, rec.ValidTo, rec.DataSource,
		rec.FlexSchemaVersion, rec.ConfidenceLevel,
	}

	values := make([]string, len(columns), len(columns)+1)
	for i := range columns {
		values[i] = fmt.Sprintf("$%d", i+1)
	}

	if len(rec.Polygon) > 0 {
		geometry, err := geo.GeometryJSON(rec.Polygon)
		if err != nil {
			return Query{}, err
		}
		columns = append(columns, "polygon")
		args = append(args, geometry)
		values = append(values, fmt.Sprintf("ST_SetSRID(ST_GeomFromGeoJSON($%d), 4326)", len(args)))
	}

	sql := fmt.Sprintf(
		"INSERT INTO flex_versions (%s) VALUES (%s) RETURNING uploaded_date",
		strings.Join(columns, ", "), strings.Join(values, ", "),
	)
	return Query{SQL: sql, Args: args}, nil
}

// BuildOverlapCheck строит выборку tdei_record_id записей того же владельца
// (project group + service), чьё окно [valid_from, valid_to] пересекается
// с окном кандидата. Окна замкнутые: совпадение границ — пересечение.
func BuildOverlapCheck(rec *model.FlexRecord) Query {
	return Query{
		SQL: `SELECT tdei_record_id FROM flex_versions
WHERE tdei_project_group_id = $1 AND tdei_service_id = $2
  AND valid_from <= $4 AND valid_to >= $3
ORDER BY valid_from, tdei_record_id`,
		Args: []any{rec.ProjectGroupID, rec.ServiceID, rec.ValidFrom, rec.ValidTo},
	}
}

// BuildGetByID строит выборку записи по tdei_record_id.
func BuildGetByID(recordID string) Query {
	return Query{
		SQL:  "SELECT " + recordColumns + " FROM flex_versions WHERE tdei_record_id = $1",
		Args: []any{recordID},
	}
}

// BuildOwnerLock строит транзакционную advisory-блокировку на пару
// (project group, service). Снимается при завершении транзакции.
func BuildOwnerLock(projectGroupID, serviceID string) Query {
	return Query{
		SQL:  "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))",
		Args: []any{ownerLockKey(projectGroupID, serviceID)},
	}
}

// ownerLockKey — ключ блокировки владельца.
func ownerLockKey(projectGroupID, serviceID string) string {
	return projectGroupID + "/" + serviceID
}
