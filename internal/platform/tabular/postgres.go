package tabular

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const pgUniqueViolation = "23505"

//go:embed migrations/*.sql
var migrations embed.FS

// MigratePostgres applies the embedded schema migrations.
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("tabular: goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("tabular: migrate: %w", err)
	}
	return nil
}

// PostgresStore keeps tables as rows of text arrays. Unique appends are enforced by a partial
// unique index, and updates lock the target row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps pool. Call MigratePostgres before first use.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, errors.New("tabular: postgres pool is required")
	}
	return &PostgresStore{pool: pool}, nil
}

// EnsureTable registers the header for table when it is not yet known.
func (s *PostgresStore) EnsureTable(ctx context.Context, table string, header []string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tabular_tables (name, header)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
	`, table, header)
	return WrapError("ensure", table, translatePostgresError(err))
}

// ReadAll returns the header and every row in insertion order.
func (s *PostgresStore) ReadAll(ctx context.Context, table string) (Table, error) {
	header, err := loadPostgresHeader(ctx, s.pool, table)
	if err != nil {
		return Table{}, WrapError("read", table, err)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT cells
		FROM tabular_rows
		WHERE table_name = $1
		ORDER BY position
	`, table)
	if err != nil {
		return Table{}, WrapError("read", table, translatePostgresError(err))
	}
	cells, err := pgx.CollectRows(rows, pgx.RowTo[[]string])
	if err != nil {
		return Table{}, WrapError("read", table, translatePostgresError(err))
	}

	out := Table{Name: table, Header: header, Rows: make([][]string, 0, len(cells))}
	for _, row := range cells {
		out.Rows = append(out.Rows, fitRow(row, len(header)))
	}
	return out, nil
}

// AppendRow inserts row. With UniqueOn the column value is stored in the indexed unique_key.
func (s *PostgresStore) AppendRow(ctx context.Context, table string, row []string, opts ...AppendOption) error {
	cfg := ResolveAppendOptions(opts...)
	header, err := loadPostgresHeader(ctx, s.pool, table)
	if err != nil {
		return WrapError("append", table, err)
	}
	if len(row) > len(header) {
		return WrapError("append", table, fmt.Errorf("row has %d cells, header has %d", len(row), len(header)))
	}
	cells := fitRow(row, len(header))

	var uniqueKey *string
	if cfg.UniqueColumn != "" {
		col := columnIndex(header, cfg.UniqueColumn)
		if col < 0 {
			return WrapError("append", table, fmt.Errorf("%w: %q in table %q", ErrColumnNotFound, cfg.UniqueColumn, table))
		}
		key := strings.TrimSpace(cells[col])
		uniqueKey = &key
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO tabular_rows (table_name, cells, unique_key)
		VALUES ($1, $2, $3)
	`, table, cells, uniqueKey)
	return WrapError("append", table, translatePostgresError(err))
}

// UpdateCells rewrites the first row matching key while holding its row lock.
func (s *PostgresStore) UpdateCells(ctx context.Context, table string, key RowKey, values map[string]string) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		header, err := loadPostgresHeader(ctx, tx, table)
		if err != nil {
			return err
		}
		col := columnIndex(header, key.Column)
		if col < 0 {
			return fmt.Errorf("%w: %q in table %q", ErrColumnNotFound, key.Column, table)
		}
		want := strings.TrimSpace(key.Value)
		if want == "" {
			return fmt.Errorf("%w: empty key for column %q", ErrRowNotFound, key.Column)
		}
		columns, err := resolveColumns(table, header, values)
		if err != nil {
			return err
		}

		var (
			position int64
			cells    []string
		)
		err = tx.QueryRow(ctx, `
			SELECT position, cells
			FROM tabular_rows
			WHERE table_name = $1 AND btrim(cells[$2]) = $3
			ORDER BY position
			LIMIT 1
			FOR UPDATE
		`, table, col+1, want).Scan(&position, &cells)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s in table %q", ErrRowNotFound, key, table)
		}
		if err != nil {
			return translatePostgresError(err)
		}

		cells = fitRow(cells, len(header))
		for idx, value := range columns {
			cells[idx] = value
		}
		_, err = tx.Exec(ctx, `
			UPDATE tabular_rows
			SET cells = $3
			WHERE table_name = $1 AND position = $2
		`, table, position, cells)
		return translatePostgresError(err)
	})
	return WrapError("update", table, err)
}

type pgQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadPostgresHeader(ctx context.Context, q pgQuerier, table string) ([]string, error) {
	var header []string
	err := q.QueryRow(ctx, `SELECT header FROM tabular_tables WHERE name = $1`, table).Scan(&header)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}
	if err != nil {
		return nil, translatePostgresError(err)
	}
	return header, nil
}

func translatePostgresError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.Message)
	}
	return err
}
