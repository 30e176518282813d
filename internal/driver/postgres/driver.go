// Package postgres provides the PostgreSQL backend driver. It registers
// itself with the driver registry on import. The engine accepts arbitrary
// SQL; remote functions are emulated through the shared dispatch table.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/driver"
	"github.com/gestock/dbgate/internal/logging"
	"github.com/gestock/dbgate/internal/tenant"
)

func init() {
	driver.Register(&Factory{})
}

// Factory opens PostgreSQL drivers.
type Factory struct{}

func (*Factory) Kind() dbconfig.Kind { return dbconfig.KindPostgres }

func (*Factory) Open(cfg dbconfig.Config) (driver.Driver, error) {
	return New(cfg)
}

// Driver implements driver.Driver against a PostgreSQL engine.
type Driver struct {
	pool    *pgxpool.Pool
	cfg     dbconfig.Config
	dialect Dialect
}

// New opens a pgx pool for the configured engine. The pool connects
// lazily; reachability is confirmed by Probe.
func New(cfg dbconfig.Config) (*Driver, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	poolCfg.MaxConns = 8
	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	logging.Debug("postgres pool opened for %s", cfg)
	return &Driver{pool: pool, cfg: cfg, dialect: Dialect{}}, nil
}

func (d *Driver) Kind() dbconfig.Kind { return dbconfig.KindPostgres }

// Probe confirms the engine answers a trivial query.
func (d *Driver) Probe(ctx context.Context) error {
	return driver.WithRetry(ctx, "postgres probe", func() error {
		if err := d.pool.Ping(ctx); err != nil {
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
	rows, err := d.run(ctx, `SELECT schema_name AS name FROM information_schema.schemata ORDER BY schema_name`)
	if err != nil {
		return nil, err
	}
	return namesOf(rows), nil
}

// ListTables lists base tables in the tenant's schema.
func (d *Driver) ListTables(ctx context.Context, id tenant.ID) ([]string, error) {
	rows, err := d.run(ctx, `
		SELECT table_name AS name
		FROM information_schema.tables
		WHERE table_schema = $1 AND table_type = 'BASE TABLE'
		ORDER BY table_name`, id.String())
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
		SELECT column_name AS name, data_type AS native_type, is_nullable AS nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position`, id.String(), table)
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
	n, _ := rows[0]["n"].(int64)
	return n, nil
}

// Close releases the pool.
func (d *Driver) Close() error {
	d.pool.Close()
	return nil
}

func (d *Driver) run(ctx context.Context, stmt string, args ...any) (driver.Rows, error) {
	var out driver.Rows
	err := driver.WithRetry(ctx, "postgres exec", func() error {
		var err error
		out, err = d.runOnce(ctx, stmt, args...)
		return err
	})
	return out, err
}

func (d *Driver) runOnce(ctx context.Context, stmt string, args ...any) (driver.Rows, error) {
	rows, err := d.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, driver.Classify(dbconfig.KindPostgres, err)
	}
	defer rows.Close()

	out, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	// Row-less statements (DDL, DML) report their affected count the way
	// the other backends do.
	if out == nil && !rows.CommandTag().Select() {
		return driver.Rows{{"rows_affected": rows.CommandTag().RowsAffected()}}, nil
	}
	return out, nil
}

func scanRows(rows pgx.Rows) (driver.Rows, error) {
	fields := rows.FieldDescriptions()
	var out driver.Rows
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, driver.Classify(dbconfig.KindPostgres, err)
		}
		row := make(driver.Row, len(fields))
		for i, f := range fields {
			row[f.Name] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, driver.Classify(dbconfig.KindPostgres, err)
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
