package dbstate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// TxBeginner is satisfied by *sql.DB.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// KeyTables names the tables whose row counts classify the database.
type KeyTables struct {
	Identity string
	Fixture  string
	Extra    []string
}

func (k KeyTables) Validate() error {
	if !ValidIdentifier(k.Identity) {
		return fmt.Errorf("invalid identity table %q", k.Identity)
	}
	if !ValidIdentifier(k.Fixture) {
		return fmt.Errorf("invalid fixture table %q", k.Fixture)
	}
	for _, t := range k.Extra {
		if !ValidIdentifier(t) {
			return fmt.Errorf("invalid extra table %q", t)
		}
	}
	return nil
}

func (k KeyTables) all() []string {
	out := []string{k.Identity, k.Fixture}
	for _, t := range k.Extra {
		if t != k.Identity && t != k.Fixture {
			out = append(out, t)
		}
	}
	return out
}

// Introspection is the raw data the detector classifies.
type Introspection struct {
	TableCount int64            `json:"table_count"`
	RowCounts  map[string]int64 `json:"row_counts,omitempty"`
}

// Classify maps an introspection to a state name. First match wins:
// no tables, no identity rows, no fixture rows, otherwise full.
func Classify(in Introspection, tables KeyTables) StateName {
	if in.TableCount == 0 {
		return StateEmpty
	}
	if in.RowCounts[tables.Identity] == 0 {
		return StateSchemaOnly
	}
	if in.RowCounts[tables.Fixture] == 0 {
		return StateFramework
	}
	return StateFull
}

type Detector struct {
	db      TxBeginner
	dialect Dialect
	catalog *Catalog
	tables  KeyTables
	logger  *slog.Logger
	metrics *Metrics
}

func NewDetector(db TxBeginner, dialect Dialect, catalog *Catalog, tables KeyTables, logger *slog.Logger, metrics *Metrics) (*Detector, error) {
	if db == nil || dialect == nil || catalog == nil {
		return nil, fmt.Errorf("detector: db, dialect and catalog are required")
	}
	if err := tables.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{db: db, dialect: dialect, catalog: catalog, tables: tables, logger: logger, metrics: metrics}, nil
}

// Inspect counts user tables and, when any exist, the rows of every key table.
func (d *Detector) Inspect(ctx context.Context) (Introspection, error) {
	tx, err := d.db.BeginTx(ctx, d.dialect.ReadTxOptions())
	if err != nil {
		return Introspection{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var out Introspection
	query, args := d.dialect.TableCount()
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&out.TableCount); err != nil {
		return Introspection{}, fmt.Errorf("count tables: %w", err)
	}
	if out.TableCount == 0 {
		return out, nil
	}

	out.RowCounts = make(map[string]int64)
	for _, table := range d.tables.all() {
		var n sql.NullInt64
		if err := tx.QueryRowContext(ctx, d.dialect.RowCount(table)).Scan(&n); err != nil {
			return Introspection{}, fmt.Errorf("count %s: %w", table, err)
		}
		out.RowCounts[table] = n.Int64
	}
	return out, nil
}

// Detect never fails: any introspection error classifies as unknown.
func (d *Detector) Detect(ctx context.Context) Observed {
	observed, _ := d.DetectWithDetails(ctx)
	return observed
}

func (d *Detector) DetectWithDetails(ctx context.Context) (Observed, Introspection) {
	in, err := d.Inspect(ctx)
	if err != nil {
		d.logger.Error("state detection failed", "error", err)
		d.metrics.IncDetection("unknown")
		return Unknown(), Introspection{}
	}
	name := Classify(in, d.tables)
	desc, ok := d.catalog.Get(name)
	if !ok {
		d.metrics.IncDetection("unknown")
		return Unknown(), in
	}
	d.metrics.IncDetection(string(name))
	return Known(desc), in
}
