package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/config"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/database"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
)

// setupTestDB запускает PostGIS в Docker-контейнере через testcontainers,
// применяет миграции и возвращает пул.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("Пропуск интеграционного теста: TEST_INTEGRATION не установлена")
	}

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"docker.io/postgis/postgis:17-3.5-alpine",
		postgres.WithDatabase("flex_test"),
		postgres.WithUsername("flex"),
		postgres.WithPassword("test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("Не удалось запустить PostGIS контейнер: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Ошибка остановки контейнера: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Не удалось получить host контейнера: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Не удалось получить port контейнера: %v", err)
	}

	cfg := &config.Config{
		DBHost:     host,
		DBPort:     port.Int(),
		DBName:     "flex_test",
		DBUser:     "flex",
		DBPassword: "test-password",
		DBSSLMode:  "disable",
		DBMaxConns: 5,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := database.Migrate(cfg, logger); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

// createRecord повторяет последовательность блокировка → пересечения → вставка.
func createRecord(ctx context.Context, repo *FlexRepository, rec *model.FlexRecord) ([]string, error) {
	var conflicts []string
	err := repo.WithOwnerLock(ctx, rec.ProjectGroupID, rec.ServiceID, func(tx FlexTx) error {
		ids, err := tx.FindOverlaps(ctx, rec)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			conflicts = ids
			return nil
		}
		return tx.Insert(ctx, rec)
	})
	return conflicts, err
}

func windowRecord(id string, from, to time.Time) *model.FlexRecord {
	rec := testRecord()
	rec.RecordID = id
	rec.ValidFrom = from
	rec.ValidTo = to
	return rec
}

func day(month time.Month, d int) time.Time {
	return time.Date(2023, month, d, 0, 0, 0, 0, time.UTC)
}

func TestIntegration_OverlapWindows(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewFlexRepository(pool)
	ctx := context.Background()

	base := windowRecord("base", day(time.March, 23), day(time.April, 23))
	if conflicts, err := createRecord(ctx, repo, base); err != nil || len(conflicts) != 0 {
		t.Fatalf("базовая запись: conflicts=%v err=%v", conflicts, err)
	}
	if base.UploadedDate.IsZero() {
		t.Error("uploaded_date должен заполняться из RETURNING")
	}

	tests := []struct {
		name     string
		from, to time.Time
		conflict bool
	}{
		{"пересечение [Apr 1, Apr 26]", day(time.April, 1), day(time.April, 26), true},
		{"раньше [Mar 10, Mar 22]", day(time.March, 10), day(time.March, 22), false},
		{"касание слева [Mar 10, Mar 23]", day(time.March, 10), day(time.March, 23), true},
		{"касание справа [Apr 23, May 1]", day(time.April, 23), day(time.May, 1), true},
		{"секунда после [Apr 23 +1s, May 1]", day(time.April, 23).Add(time.Second), day(time.May, 1), false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := windowRecord("cand-"+string(rune('a'+i)), tt.from, tt.to)
			var ids []string
			err := repo.WithOwnerLock(ctx, rec.ProjectGroupID, rec.ServiceID, func(tx FlexTx) error {
				var err error
				ids, err = tx.FindOverlaps(ctx, rec)
				return err
			})
			if err != nil {
				t.Fatal(err)
			}
			if got := len(ids) > 0; got != tt.conflict {
				t.Errorf("конфликт = %v (%v), ожидался %v", got, ids, tt.conflict)
			}
		})
	}
}

func TestIntegration_DuplicateRecordID(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewFlexRepository(pool)
	ctx := context.Background()

	first := windowRecord("dup", day(time.January, 1), day(time.January, 31))
	if _, err := createRecord(ctx, repo, first); err != nil {
		t.Fatal(err)
	}

	// Другое окно и другой сервис — конфликт только по tdei_record_id
	second := windowRecord("dup", day(time.June, 1), day(time.June, 30))
	second.ServiceID = "svc-2"
	_, err := createRecord(ctx, repo, second)
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("ошибка = %v, ожидалась ErrDuplicateKey", err)
	}
}

func TestIntegration_PolygonRoundTrip(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewFlexRepository(pool)
	ctx := context.Background()

	rec := windowRecord("poly", day(time.February, 1), day(time.February, 28))
	rec.Polygon = orb.Ring{{-122.35, 47.6}, {-122.3, 47.6}, {-122.3, 47.65}, {-122.35, 47.65}, {-122.35, 47.6}}
	if _, err := createRecord(ctx, repo, rec); err != nil {
		t.Fatal(err)
	}

	list, err := repo.List(ctx, model.QueryFilter{RecordID: "poly"})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("записей = %d, ожидалась 1", len(list))
	}

	dto := model.ToDTO(list[0])
	if dto.Polygon == nil || len(dto.Polygon.Features) != 1 {
		t.Fatalf("ожидалась FeatureCollection с одной Feature")
	}
	got, ok := dto.Polygon.Features[0].Geometry.(orb.Polygon)
	if !ok || !got[0].Equal(rec.Polygon) {
		t.Errorf("кольцо = %v, ожидалось %v", dto.Polygon.Features[0].Geometry, rec.Polygon)
	}

	inBox, err := repo.List(ctx, model.QueryFilter{BBox: []float64{-122.4, 47.55, -122.32, 47.62}})
	if err != nil {
		t.Fatal(err)
	}
	if len(inBox) != 1 {
		t.Errorf("bbox: записей = %d, ожидалась 1", len(inBox))
	}

	outside, err := repo.List(ctx, model.QueryFilter{BBox: []float64{10, 10, 11, 11}})
	if err != nil {
		t.Fatal(err)
	}
	if len(outside) != 0 {
		t.Errorf("bbox вне полигона: записей = %d, ожидалось 0", len(outside))
	}

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID(missing) = %v, ожидалась ErrNotFound", err)
	}
}

// TestIntegration_ConcurrentOverlapSerialized — параллельные создания
// пересекающихся записей одного владельца: проходит ровно одна.
func TestIntegration_ConcurrentOverlapSerialized(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewFlexRepository(pool)
	ctx := context.Background()

	const workers = 5
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		inserted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := windowRecord("race-"+string(rune('a'+i)), day(time.August, 1), day(time.August, 31))
			conflicts, err := createRecord(ctx, repo, rec)
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			if len(conflicts) == 0 {
				mu.Lock()
				inserted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if inserted != 1 {
		t.Errorf("вставлено %d записей, ожидалась 1", inserted)
	}
}
