// query.go — компиляция QueryFilter в параметризованный SELECT списка записей.
// Значения фильтров передаются только через позиционные аргументы.
package repository

import (
	"fmt"
	"strings"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
)

// Параметры пагинации списка.
const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// recordColumns — колонки записи в порядке scanRecord.
// Полигон запрашивается как GeoJSON-текст под алиасом polygon2.
const recordColumns = `tdei_record_id, tdei_project_group_id, tdei_service_id,
	file_upload_path, uploaded_by, collected_by, collection_date, collection_method,
	valid_from, valid_to, data_source, flex_schema_version, confidence_level,
	uploaded_date, ST_AsGeoJSON(polygon) AS polygon2`

// BuildListQuery строит запрос списка по фильтру.
// Некорректные date_time и bbox возвращают ErrInvalidFilter до выполнения запроса.
func BuildListQuery(f model.QueryFilter) (Query, error) {
	pageNo := f.PageNo
	if pageNo == 0 {
		pageNo = 1
	}
	if pageNo < 1 {
		return Query{}, fmt.Errorf("%w: page_no должен быть >= 1", ErrInvalidFilter)
	}

	pageSize := f.PageSize
	if pageSize == 0 {
		pageSize = DefaultPageSize
	}
	if pageSize < 1 {
		return Query{}, fmt.Errorf("%w: page_size должен быть >= 1", ErrInvalidFilter)
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	where, args, err := buildListWhere(f, 1)
	if err != nil {
		return Query{}, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(recordColumns)
	sb.WriteString(" FROM flex_versions")
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}

	argIdx := len(args) + 1
	fmt.Fprintf(&sb, " ORDER BY uploaded_date DESC, id DESC OFFSET $%d LIMIT $%d", argIdx, argIdx+1)
	args = append(args, (pageNo-1)*pageSize, pageSize)

	return Query{SQL: sb.String(), Args: args}, nil
}

// buildListWhere формирует WHERE-условия (через AND) для заданных фильтров.
// startArg — номер первого позиционного параметра.
func buildListWhere(f model.QueryFilter, startArg int) (string, []any, error) {
	var conditions []string
	var args []any
	argIdx := startArg

	addEq := func(column, value string) {
		if value == "" {
			return
		}
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	addEq("flex_schema_version", f.FlexSchemaVersion)
	addEq("tdei_project_group_id", f.ProjectGroupID)
	addEq("tdei_record_id", f.RecordID)
	addEq("tdei_service_id", f.ServiceID)

	if f.DateTime != "" {
		ts, err := model.ParseFilterDate(f.DateTime)
		if err != nil {
			return "", nil, fmt.Errorf("%w: date_time: %v", ErrInvalidFilter, err)
		}
		conditions = append(conditions, fmt.Sprintf("valid_to > $%d", argIdx))
		args = append(args, ts)
		argIdx++
	}

	if len(f.BBox) > 0 {
		if len(f.BBox) != 4 {
			return "", nil, fmt.Errorf("%w: bbox должен содержать 4 числа (minX, minY, maxX, maxY), получено %d",
				ErrInvalidFilter, len(f.BBox))
		}
		conditions = append(conditions, fmt.Sprintf(
			"polygon && ST_MakeEnvelope($%d, $%d, $%d, $%d, 4326)",
			argIdx, argIdx+1, argIdx+2, argIdx+3,
		))
		args = append(args, f.BBox[0], f.BBox[1], f.BBox[2], f.BBox[3])
	}

	return strings.Join(conditions, " AND "), args, nil
}
