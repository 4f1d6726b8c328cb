// flex.go — репозиторий таблицы flex_versions.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/geo"
	"github.com/TaskarCenterAtUW/tdei-flex-datasvc/internal/domain/model"
)

// Pool — пул подключений: выполнение запросов и открытие транзакций.
// Реализуется *pgxpool.Pool.
type Pool interface {
	DBTX
	Beginner
}

// FlexTx — операции, выполняемые под блокировкой владельца внутри транзакции.
type FlexTx interface {
	// FindOverlaps возвращает идентификаторы записей с пересекающимся окном.
	FindOverlaps(ctx context.Context, rec *model.FlexRecord) ([]string, error)
	// Insert вставляет запись и заполняет rec.UploadedDate.
	Insert(ctx context.Context, rec *model.FlexRecord) error
}

// FlexRepository — доступ к записям GTFS-Flex.
type FlexRepository struct {
	pool Pool
	tx   *TxRunner
}

// NewFlexRepository создаёт репозиторий записей.
func NewFlexRepository(pool Pool) *FlexRepository {
	return &FlexRepository{pool: pool, tx: NewTxRunner(pool)}
}

// List возвращает страницу записей по фильтру.
func (r *FlexRepository) List(ctx context.Context, filter model.QueryFilter) ([]*model.FlexRecord, error) {
	q, err := BuildListQuery(filter)
	if err != nil {
		return nil, err
	}

	records := make([]*model.FlexRecord, 0)
	err = NewGateway(r.pool).Query(ctx, q, func(rows pgx.Rows) error {
		rec, err := scanRecord(rows)
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("выборка записей: %w", err)
	}
	return records, nil
}

// GetByID возвращает запись по tdei_record_id или ErrNotFound.
func (r *FlexRepository) GetByID(ctx context.Context, recordID string) (*model.FlexRecord, error) {
	var rec *model.FlexRecord
	err := NewGateway(r.pool).QueryRow(ctx, BuildGetByID(recordID), func(row pgx.Row) error {
		var err error
		rec, err = scanRecord(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// WithOwnerLock выполняет fn в транзакции, удерживающей advisory-блокировку
// пары (project group, service). Параллельные создания для одного владельца
// выполняются последовательно, что закрывает гонку check-then-insert.
func (r *FlexRepository) WithOwnerLock(ctx context.Context, projectGroupID, serviceID string, fn func(tx FlexTx) error) error {
	return r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		gw := NewGateway(tx)
		if _, err := gw.Exec(ctx, BuildOwnerLock(projectGroupID, serviceID)); err != nil {
			return fmt.Errorf("блокировка владельца %s/%s: %w", projectGroupID, serviceID, err)
		}
		return fn(&flexTx{gw: gw})
	})
}

// flexTx — реализация FlexTx поверх транзакции.
type flexTx struct {
	gw *Gateway
}

func (t *flexTx) FindOverlaps(ctx context.Context, rec *model.FlexRecord) ([]string, error) {
	var ids []string
	err := t.gw.Query(ctx, BuildOverlapCheck(rec), func(rows pgx.Rows) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("проверка пересечения окон: %w", err)
	}
	return ids, nil
}

func (t *flexTx) Insert(ctx context.Context, rec *model.FlexRecord) error {
	q, err := BuildInsert(rec)
	if err != nil {
		return err
	}
	var uploadedDate time.Time
	if err := t.gw.QueryRow(ctx, q, func(row pgx.Row) error {
		return row.Scan(&uploadedDate)
	}); err != nil {
		return fmt.Errorf("вставка записи %s: %w", rec.RecordID, err)
	}
	rec.UploadedDate = uploadedDate.UTC()
	return nil
}

// scanRecord сканирует строку с колонками recordColumns.
func scanRecord(row pgx.Row) (*model.FlexRecord, error) {
	rec := &model.FlexRecord{}
	var (
		uploadedDate time.Time
		polygon      *string
	)

	err := row.Scan(
		&rec.RecordID, &rec.ProjectGroupID, &rec.ServiceID,
		&rec.FileUploadPath, &rec.UploadedBy, &rec.CollectedBy, &rec.CollectionDate, &rec.CollectionMethod,
		&rec.ValidFrom, &rec.ValidTo, &rec.DataSource, &rec.FlexSchemaVersion, &rec.ConfidenceLevel,
		&uploadedDate, &polygon,
	)
	if err != nil {
		return nil, err
	}

	rec.UploadedDate = uploadedDate.UTC()
	rec.CollectionDate = rec.CollectionDate.UTC()
	rec.ValidFrom = rec.ValidFrom.UTC()
	rec.ValidTo = rec.ValidTo.UTC()

	if polygon != nil && *polygon != "" {
		ring, err := geo.ParseGeometry([]byte(*polygon))
		if err != nil {
			return nil, fmt.Errorf("полигон записи %s: %w", rec.RecordID, err)
		}
		rec.Polygon = ring
	}

	return rec, nil
}
