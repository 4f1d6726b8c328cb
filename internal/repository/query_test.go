package repository

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
)

// --- Тесты BuildListQuery ---

func TestBuildListQuery_Defaults(t *testing.T) {
	q, err := BuildListQuery(model.QueryFilter{})
	if err != nil {
		t.Fatalf("BuildListQuery: %v", err)
	}

	if strings.Contains(q.SQL, "WHERE") {
		t.Errorf("SQL = %q, WHERE не ожидался", q.SQL)
	}
	if !strings.Contains(q.SQL, "ST_AsGeoJSON(polygon) AS polygon2") {
		t.Errorf("SQL = %q, ожидался алиас polygon2", q.SQL)
	}
	if !strings.Contains(q.SQL, "ORDER BY uploaded_date DESC") {
		t.Errorf("SQL = %q, ожидалась сортировка по uploaded_date DESC", q.SQL)
	}
	if !strings.HasSuffix(q.SQL, "OFFSET $1 LIMIT $2") {
		t.Errorf("SQL = %q, ожидалось окончание OFFSET $1 LIMIT $2", q.SQL)
	}
	if len(q.Args) != 2 {
		t.Fatalf("args count = %d, ожидалось 2", len(q.Args))
	}
	if q.Args[0] != 0 {
		t.Errorf("offset = %v, ожидался 0", q.Args[0])
	}
	if q.Args[1] != DefaultPageSize {
		t.Errorf("limit = %v, ожидался %d", q.Args[1], DefaultPageSize)
	}
}

func TestBuildListQuery_PageSizeCapped(t *testing.T) {
	q, err := BuildListQuery(model.QueryFilter{PageSize: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if q.Args[len(q.Args)-1] != 50 {
		t.Errorf("limit = %v, ожидался 50", q.Args[len(q.Args)-1])
	}
	if q.Args[len(q.Args)-2] != 0 {
		t.Errorf("offset = %v, ожидался 0", q.Args[len(q.Args)-2])
	}
}

func TestBuildListQuery_Offset(t *testing.T) {
	q, err := BuildListQuery(model.QueryFilter{PageNo: 3, PageSize: 20})
	if err != nil {
		t.Fatal(err)
	}
	if q.Args[0] != 40 || q.Args[1] != 20 {
		t.Errorf("offset/limit = %v/%v, ожидалось 40/20", q.Args[0], q.Args[1])
	}
}

func TestBuildListQuery_InvalidPagination(t *testing.T) {
	for _, f := range []model.QueryFilter{{PageNo: -1}, {PageSize: -5}} {
		if _, err := BuildListQuery(f); !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("фильтр %+v: ошибка = %v, ожидалась ErrInvalidFilter", f, err)
		}
	}
}

func TestBuildListQuery_EqualityFilters(t *testing.T) {
	q, err := BuildListQuery(model.QueryFilter{
		FlexSchemaVersion: "v2.0",
		ProjectGroupID:    "pg",
		RecordID:          "rec",
		ServiceID:         "svc",
	})
	if err != nil {
		t.Fatal(err)
	}

	want := "WHERE flex_schema_version = $1 AND tdei_project_group_id = $2 AND tdei_record_id = $3 AND tdei_service_id = $4"
	if !strings.Contains(q.SQL, want) {
		t.Errorf("SQL = %q, ожидалось %q", q.SQL, want)
	}
	if !strings.Contains(q.SQL, "OFFSET $5 LIMIT $6") {
		t.Errorf("SQL = %q, ожидалось OFFSET $5 LIMIT $6", q.SQL)
	}
	for i, v := range []string{"v2.0", "pg", "rec", "svc"} {
		if q.Args[i] != v {
			t.Errorf("args[%d] = %v, ожидался %q", i, q.Args[i], v)
		}
	}
	// Значения фильтров не попадают в текст SQL
	if strings.Contains(q.SQL, "'svc'") || strings.Contains(q.SQL, "v2.0") {
		t.Errorf("значение фильтра подставлено в SQL: %q", q.SQL)
	}
}

func TestBuildListQuery_DateTime(t *testing.T) {
	q, err := BuildListQuery(model.QueryFilter{ServiceID: "svc", DateTime: "03-03-2023"})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q.SQL, "valid_to > $2") {
		t.Errorf("SQL = %q, ожидалось valid_to > $2", q.SQL)
	}
	ts, ok := q.Args[1].(time.Time)
	if !ok || !ts.Equal(time.Date(2023, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("args[1] = %v, ожидалось 2023-03-03", q.Args[1])
	}
}

func TestBuildListQuery_InvalidDateTime(t *testing.T) {
	for _, dt := range []string{"13-13-2023", "tomorrow", "2023-02-30"} {
		_, err := BuildListQuery(model.QueryFilter{DateTime: dt})
		if !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("date_time=%q: ошибка = %v, ожидалась ErrInvalidFilter", dt, err)
		}
	}
}

func TestBuildListQuery_BBox(t *testing.T) {
	q, err := BuildListQuery(model.QueryFilter{BBox: []float64{-122.5, 47.5, -122.2, 47.8}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q.SQL, "polygon && ST_MakeEnvelope($1, $2, $3, $4, 4326)") {
		t.Errorf("SQL = %q, ожидался ST_MakeEnvelope", q.SQL)
	}
	if q.Args[0] != -122.5 || q.Args[3] != 47.8 {
		t.Errorf("args = %v", q.Args)
	}
}

func TestBuildListQuery_EmptyBBoxIgnored(t *testing.T) {
	q, err := BuildListQuery(model.QueryFilter{BBox: []float64{}})
	if err != nil {
		t.Fatalf("пустой bbox: %v", err)
	}
	if strings.Contains(q.SQL, "ST_MakeEnvelope") {
		t.Errorf("SQL = %q, пустой bbox не должен давать условие", q.SQL)
	}
}

func TestBuildListQuery_InvalidBBoxLength(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8} {
		_, err := BuildListQuery(model.QueryFilter{BBox: make([]float64, n)})
		if !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("bbox длины %d: ошибка = %v, ожидалась ErrInvalidFilter", n, err)
		}
	}
}

func TestBuildListQuery_AllFiltersNumbering(t *testing.T) {
	q, err := BuildListQuery(model.QueryFilter{
		FlexSchemaVersion: "v2.0",
		ServiceID:         "svc",
		DateTime:          "2023-03-03",
		BBox:              []float64{1, 2, 3, 4},
		PageNo:            2,
		PageSize:          5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(q.SQL, "valid_to > $3") || !strings.Contains(q.SQL, "ST_MakeEnvelope($4, $5, $6, $7, 4326)") {
		t.Errorf("неверная нумерация параметров: %q", q.SQL)
	}
	if !strings.HasSuffix(q.SQL, "OFFSET $8 LIMIT $9") {
		t.Errorf("SQL = %q, ожидалось OFFSET $8 LIMIT $9", q.SQL)
	}
	if len(q.Args) != 9 || q.Args[7] != 5 || q.Args[8] != 5 {
		t.Errorf("args = %v", q.Args)
	}
}
