// Пакет repository — слой доступа к данным PostgreSQL/PostGIS.
// Все запросы — чистый SQL через pgx, без ORM. Построение SQL вынесено
// в чистые функции (query.go, flex_sql.go), выполнение — в Gateway.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrDuplicateKey — нарушение ограничения уникальности.
	ErrDuplicateKey = errors.New("нарушение уникальности")
	// ErrDatabase — прочие ошибки драйвера и сервера БД.
	ErrDatabase = errors.New("ошибка базы данных")
	// ErrInvalidFilter — фильтр списка не может быть преобразован в запрос.
	ErrInvalidFilter = errors.New("некорректный фильтр")
)

// ForeignKeyError — нарушение внешнего ключа с именем ограничения.
type ForeignKeyError struct {
	Constraint string
	Err        error
}

func (e *ForeignKeyError) Error() string {
	return fmt.Sprintf("нарушение внешнего ключа %s", e.Constraint)
}

func (e *ForeignKeyError) Unwrap() error { return e.Err }

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner — источник транзакций (*pgxpool.Pool).
type Beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	db Beginner
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(db Beginner) *TxRunner {
	return &TxRunner{db: db}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается, при успехе — коммитится.
// Соединение пула удерживается только на время fn.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return translateError(fmt.Errorf("ошибка начала транзакции: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return translateError(fmt.Errorf("ошибка коммита транзакции: %w", err))
	}
	return nil
}

// Query — параметризованный SQL-запрос с позиционными аргументами $1..$N.
type Query struct {
	SQL  string
	Args []any
}

// Gateway выполняет запросы и переводит ошибки драйвера в ошибки слоя.
// Для пула каждое обращение берёт соединение и возвращает его после
// закрытия rows, в том числе при ошибке.
type Gateway struct {
	db DBTX
}

// NewGateway создаёт Gateway поверх пула или транзакции.
func NewGateway(db DBTX) *Gateway {
	return &Gateway{db: db}
}

// Exec выполняет запрос без результата и возвращает число затронутых строк.
func (g *Gateway) Exec(ctx context.Context, q Query) (int64, error) {
	tag, err := g.db.Exec(ctx, q.SQL, q.Args...)
	if err != nil {
		return 0, translateError(err)
	}
	return tag.RowsAffected(), nil
}

// Query выполняет запрос и передаёт каждую строку в scan.
func (g *Gateway) Query(ctx context.Context, q Query, scan func(rows pgx.Rows) error) error {
	rows, err := g.db.Query(ctx, q.SQL, q.Args...)
	if err != nil {
		return translateError(err)
	}
	defer rows.Close()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return translateError(err)
		}
	}
	return translateError(rows.Err())
}

// QueryRow выполняет запрос, возвращающий одну строку.
// Отсутствие строки переводится в ErrNotFound.
func (g *Gateway) QueryRow(ctx context.Context, q Query, scan func(row pgx.Row) error) error {
	return translateError(scan(g.db.QueryRow(ctx, q.SQL, q.Args...)))
}

// translateError переводит ошибку pgx в ошибку слоя репозиториев:
// unique_violation → ErrDuplicateKey, foreign_key_violation → *ForeignKeyError,
// отсутствие строки → ErrNotFound, остальное → ErrDatabase.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrDatabase) {
		return err
	}
	var fkErr *ForeignKeyError
	if errors.As(err, &fkErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)
		case pgerrcode.ForeignKeyViolation:
			return &ForeignKeyError{Constraint: pgErr.ConstraintName, Err: err}
		}
	}

	return fmt.Errorf("%w: %w", ErrDatabase, err)
}
