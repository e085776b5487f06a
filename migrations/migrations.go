// Package migrations owns the relational schema for the ingestion
// core: Upload, Certificate, CRL, RevokedCertificate, ValidationResult,
// MasterList, DeviationList, User, AuthAudit and LdifStructure. It
// runs goose migrations over a database/sql handle backed by the pgx
// stdlib driver, the same "embed the DDL, run it at boot" discipline
// Boulder's sa package assumes its schema already exists under (this
// service instead owns its own schema lifecycle end to end).
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed sql/*.sql
var embedded embed.FS

// Open dials the database directly (bypassing the bounded pool, since
// migrations run once at startup with a short-lived connection) and
// applies every pending migration under sql/.
func Open(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("migrations: open: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(embedded)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("migrations: set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "sql"); err != nil {
		return fmt.Errorf("migrations: up: %w", err)
	}
	return nil
}
