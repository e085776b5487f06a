// Package dbexec is the DB-agnostic query executor (spec component
// C3): a thin facade above dbpool that hides dialect differences
// behind two operations, executeQuery and executeCommand, and rewrites
// the spec's "$1, $2, ..." placeholder style to whatever the
// underlying dialect expects. Generalizes Boulder's gorp.DbMap facade
// (sa/database.go) which hid MySQL/SQLite/Postgres behind one
// gorp.Dialect selection.
package dbexec

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/iland112/pkd-ingest/dbpool"
)

// Dialect names the target database flavor so callers can branch on
// boolean/bytea encoding quirks without leaking connection details.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectOracle   Dialect = "oracle"
)

// Row is a single result row addressed by column name; callers coerce
// to the Go type they expect, matching spec section 4.3's "mapping of
// column name to string" contract loosened to any.
type Row map[string]any

// Executor runs parameterized statements against the pool, rewriting
// placeholders for the configured dialect.
type Executor struct {
	pool    *dbpool.Pool
	dialect Dialect
}

// New builds an Executor bound to pool, reporting itself as dialect.
func New(pool *dbpool.Pool, dialect Dialect) *Executor {
	return &Executor{pool: pool, dialect: dialect}
}

// Dialect reports which database type is behind this executor, so
// callers can branch on binary/boolean encoding quirks (spec section
// 4.3).
func (e *Executor) Dialect() Dialect {
	return e.dialect
}

// rewritePlaceholders translates the spec's canonical "$1, $2, ..."
// placeholder style into whatever the target dialect expects. Postgres
// already uses $N natively; Oracle uses ":1, :2, ...".
func (e *Executor) rewritePlaceholders(sql string) string {
	if e.dialect != DialectOracle {
		return sql
	}
	out := make([]byte, 0, len(sql))
	for i := 0; i < len(sql); i++ {
		if sql[i] == '$' && i+1 < len(sql) && sql[i+1] >= '0' && sql[i+1] <= '9' {
			out = append(out, ':')
			continue
		}
		out = append(out, sql[i])
	}
	return string(out)
}

// ExecuteQuery runs sql with params and returns every matching row.
// Binary parameters (certificate DER, CRL bytes, CMS blobs) must be
// passed through params as []byte so they travel the driver's bound
// parameter path rather than being inlined as text — Postgres'
// escapeBytea semantics never enter this layer (spec section 9, open
// question (b)).
func (e *Executor) ExecuteQuery(ctx context.Context, sqlText string, params ...any) ([]Row, error) {
	handle, err := e.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbexec: acquire: %w", err)
	}
	defer handle.Release()

	rewritten := e.rewritePlaceholders(sqlText)
	rows, err := handle.Conn().Query(ctx, rewritten, params...)
	if err != nil {
		return nil, fmt.Errorf("dbexec: query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var result []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("dbexec: reading row: %w", err)
		}
		row := make(Row, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dbexec: row iteration: %w", err)
	}
	return result, nil
}

// ExecuteCommand runs a statement with no result rows (INSERT/UPDATE/
// DELETE) and returns the number of affected rows.
func (e *Executor) ExecuteCommand(ctx context.Context, sqlText string, params ...any) (int64, error) {
	handle, err := e.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("dbexec: acquire: %w", err)
	}
	defer handle.Release()

	rewritten := e.rewritePlaceholders(sqlText)
	tag, err := handle.Conn().Exec(ctx, rewritten, params...)
	if err != nil {
		return 0, fmt.Errorf("dbexec: command: %w", err)
	}
	return tag.RowsAffected(), nil
}

// QueryRow is a convenience wrapper returning exactly one row, or
// pgx.ErrNoRows if none matched.
func (e *Executor) QueryRow(ctx context.Context, sqlText string, params ...any) (Row, error) {
	rows, err := e.ExecuteQuery(ctx, sqlText, params...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, pgx.ErrNoRows
	}
	return rows[0], nil
}
