package dbstate

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Dialect holds the driver-specific SQL used for introspection and for
// preparing a transition transaction.
type Dialect interface {
	Name() string
	TableCount() (string, []any)
	RowCount(table string) string
	ReadTxOptions() *sql.TxOptions
	PrepareTransition(ctx context.Context, tx *sql.Tx, statementTimeout time.Duration) error
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func ValidIdentifier(name string) bool { return identRe.MatchString(name) }

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver, schema string) (Dialect, error) {
	switch driver {
	case "pgx", "postgres":
		if schema == "" {
			schema = "public"
		}
		if !ValidIdentifier(schema) {
			return nil, fmt.Errorf("invalid schema %q", schema)
		}
		return postgresDialect{schema: schema}, nil
	case "sqlite":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
}

type postgresDialect struct {
	schema string
}

func (postgresDialect) Name() string { return "postgres" }

func (d postgresDialect) TableCount() (string, []any) {
	return `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'`, []any{d.schema}
}

func (d postgresDialect) RowCount(table string) string {
	return "SELECT COUNT(*) FROM " + quoteIdent(d.schema) + "." + quoteIdent(table)
}

// Introspection runs in one repeatable-read snapshot so the counts come from
// the same committed state.
func (postgresDialect) ReadTxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
}

func (postgresDialect) PrepareTransition(ctx context.Context, tx *sql.Tx, statementTimeout time.Duration) error {
	if statementTimeout <= 0 {
		return nil
	}
	_, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", statementTimeout.Milliseconds()))
	return err
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) TableCount() (string, []any) {
	return `SELECT COUNT(*) FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`, nil
}

func (sqliteDialect) RowCount(table string) string {
	return "SELECT COUNT(*) FROM " + quoteIdent(table)
}

func (sqliteDialect) ReadTxOptions() *sql.TxOptions { return nil }

// SQLite has no server-side statement timeout; the transition context bounds it.
func (sqliteDialect) PrepareTransition(context.Context, *sql.Tx, time.Duration) error {
	return nil
}
