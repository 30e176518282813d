// Package mysql provides the MySQL/MariaDB backend driver. It registers
// itself with the driver registry on import. The engine accepts arbitrary
// SQL; remote functions are emulated through the shared dispatch table.
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/driver"
	"github.com/gestock/dbgate/internal/logging"
	"github.com/gestock/dbgate/internal/tenant"
)

func init() {
	driver.Register(&Factory{})
}

// Factory opens MySQL drivers.
type Factory struct{}

func (*Factory) Kind() dbconfig.Kind { return dbconfig.KindMySQL }

func (*Factory) Open(cfg dbconfig.Config) (driver.Driver, error) {
	return New(cfg)
}

// Driver implements driver.Driver against a MySQL engine.
type Driver struct {
	db      *sql.DB
	cfg     dbconfig.Config
	dialect Dialect
}

// New opens a pooled connection to the configured engine. The pool is
// lazy; reachability is confirmed by Probe.
func New(cfg dbconfig.Config) (*Driver, error) {
	db, err := sql.Open("mysql", BuildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening mysql pool: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	logging.Debug("mysql pool opened for %s", cfg)
	return &Driver{db: db, cfg: cfg, dialect: Dialect{}}, nil
}

func (d *Driver) Kind() dbconfig.Kind { return dbconfig.KindMySQL }

// Probe confirms the engine answers a trivial query.
func (d *Driver) Probe(ctx context.Context) error {
	return driver.WithRetry(ctx, "mysql probe", func() error {
		if err := d.db.PingContext(ctx); err != nil {
			return driver.Unavailable(err)
		}
		return nil
	})
}

// RPC emulates a remote function through the dialect dispatch table.
func (d *Driver) RPC(ctx context.Context, id tenant.ID, fn driver.Function, params driver.Params) (driver.Rows, error) {
	stmt, args, err := driver.BuildFunctionSQL(d.dialect, fn, id, params)
	if err != nil {
		return nil, err
	}
	return d.run(ctx, stmt, args...)
}

// ExecSQL runs a raw statement after asserting it references no other
// tenant's schema.
func (d *Driver) ExecSQL(ctx context.Context, id tenant.ID, stmt string) (driver.Rows, error) {
	if err := driver.GuardSchemaRefs(stmt, id); err != nil {
		return nil, err
	}
	return d.run(ctx, stmt)
}

// ListSchemas enumerates schema names from the catalog.
func (d *Driver) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := d.run(ctx, `SELECT SCHEMA_NAME AS name FROM information_schema.SCHEMATA ORDER BY SCHEMA_NAME`)
	if err != nil {
		return nil, err
	}
	return namesOf(rows), nil
}

// ListTables lists base tables in the tenant's schema.
func (d *Driver) ListTables(ctx context.Context, id tenant.ID) ([]string, error) {
	rows, err := d.run(ctx, `
		SELECT TABLE_NAME AS name
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`, id.String())
	if err != nil {
		return nil, err
	}
	return namesOf(rows), nil
}

// DescribeTable reads column metadata from information_schema.
func (d *Driver) DescribeTable(ctx context.Context, id tenant.ID, table string) (*driver.TableMeta, error) {
	if err := driver.ValidateIdentifier(table); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}
	rows, err := d.run(ctx, `
		SELECT COLUMN_NAME AS name, COLUMN_TYPE AS native_type, IS_NULLABLE AS nullable
		FROM information_schema.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`, id.String(), table)
	if err != nil {
		return nil, err
	}
	meta := &driver.TableMeta{Name: table}
	for _, r := range rows {
		meta.Columns = append(meta.Columns, driver.ColumnMeta{
			Name:       asString(r["name"]),
			NativeType: asString(r["native_type"]),
			Nullable:   strings.EqualFold(asString(r["nullable"]), "YES"),
		})
	}
	return meta, nil
}

// CountRows returns an exact COUNT(*) for one table.
func (d *Driver) CountRows(ctx context.Context, id tenant.ID, table string) (int64, error) {
	qualified, err := driver.QualifyTable(d.dialect, id, table)
	if err != nil {
		return 0, err
	}
	rows, err := d.run(ctx, "SELECT COUNT(*) AS n FROM "+qualified)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt64(rows[0]["n"]), nil
}

// Close releases the pool.
func (d *Driver) Close() error {
	return d.db.Close()
}

// run executes one statement with the single-retry policy, routing SELECT
// style statements through Query and everything else through Exec.
func (d *Driver) run(ctx context.Context, stmt string, args ...any) (driver.Rows, error) {
	var out driver.Rows
	err := driver.WithRetry(ctx, "mysql exec", func() error {
		var err error
		out, err = d.runOnce(ctx, stmt, args...)
		return err
	})
	return out, err
}

func (d *Driver) runOnce(ctx context.Context, stmt string, args ...any) (driver.Rows, error) {
	if returnsRows(stmt) {
		rows, err := d.db.QueryContext(ctx, stmt, args...)
		if err != nil {
			return nil, driver.Classify(dbconfig.KindMySQL, err)
		}
		defer rows.Close()
		return scanRows(rows)
	}

	res, err := d.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return nil, driver.Classify(dbconfig.KindMySQL, err)
	}
	n, _ := res.RowsAffected()
	return driver.Rows{{"rows_affected": n}}, nil
}

func returnsRows(stmt string) bool {
	head := strings.ToUpper(strings.TrimSpace(stmt))
	return strings.HasPrefix(head, "SELECT") ||
		strings.HasPrefix(head, "SHOW") ||
		strings.HasPrefix(head, "DESCRIBE") ||
		strings.HasPrefix(head, "WITH")
}

// scanRows converts a generic result set into Rows, decoding []byte cells
// to strings since the mysql driver returns text protocol values as bytes.
func scanRows(rows *sql.Rows) (driver.Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, driver.Classify(dbconfig.KindMySQL, err)
	}
	var out driver.Rows
	for rows.Next() {
		cells := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, driver.Classify(dbconfig.KindMySQL, err)
		}
		row := make(driver.Row, len(cols))
		for i, c := range cols {
			if b, ok := cells[i].([]byte); ok {
				row[c] = string(b)
			} else {
				row[c] = cells[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, driver.Classify(dbconfig.KindMySQL, err)
	}
	return out, nil
}

func namesOf(rows driver.Rows) []string {
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, asString(r["name"]))
	}
	return names
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case []byte:
		var out int64
		fmt.Sscan(string(n), &out)
		return out
	case string:
		var out int64
		fmt.Sscan(n, &out)
		return out
	default:
		return 0
	}
}
