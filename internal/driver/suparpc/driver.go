// Package suparpc provides the driver for the managed cloud backend that
// is reachable only through named remote procedures over REST. Schema
// mutations and ad hoc statements are impossible natively; the driver
// reaches them through the exec_sql escape-hatch function the application
// declares server-side. It registers itself with the driver registry on
// import.
package suparpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/driver"
	"github.com/gestock/dbgate/internal/logging"
	"github.com/gestock/dbgate/internal/tenant"
)

// Remote function names the backend declares beyond the per-entity set.
const (
	fnExecSQL       = "exec_sql"
	fnListSchemas   = "list_tenant_schemas"
	fnDescribeTable = "describe_tenant_table"
)

func init() {
	driver.Register(&Factory{})
}

// Factory opens RPC drivers.
type Factory struct{}

func (*Factory) Kind() dbconfig.Kind { return dbconfig.KindRPC }

func (*Factory) Open(cfg dbconfig.Config) (driver.Driver, error) {
	return New(cfg), nil
}

// Driver implements driver.Driver against the remote-procedure backend.
type Driver struct {
	client *resty.Client
	cfg    dbconfig.Config
}

// New builds a client for the configured endpoint. No connection is made
// until the first call; reachability is confirmed by Probe.
func New(cfg dbconfig.Config) *Driver {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.Endpoint, "/")).
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(30 * time.Second)
	logging.Debug("rpc client created for %s", cfg)
	return &Driver{client: client, cfg: cfg}
}

func (d *Driver) Kind() dbconfig.Kind { return dbconfig.KindRPC }

// Probe runs a trivial statement through the escape hatch.
func (d *Driver) Probe(ctx context.Context) error {
	_, err := d.call(ctx, fnExecSQL, map[string]any{"sql": "SELECT 1"})
	return err
}

// RPC calls the named remote function directly. The tenant always rides
// along as p_tenant; the server-side function scopes itself with it.
func (d *Driver) RPC(ctx context.Context, id tenant.ID, fn driver.Function, params driver.Params) (driver.Rows, error) {
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body[driver.ParamTenant] = id.String()
	return d.call(ctx, fn.WireName(), body)
}

// ExecSQL forwards a raw statement to the exec_sql escape-hatch function,
// the only way this backend performs ad hoc DDL/DML. The cross-schema
// guard applies here too: the escape hatch would otherwise bypass tenant
// isolation entirely.
func (d *Driver) ExecSQL(ctx context.Context, id tenant.ID, stmt string) (driver.Rows, error) {
	if err := driver.GuardSchemaRefs(stmt, id); err != nil {
		return nil, err
	}
	return d.call(ctx, fnExecSQL, map[string]any{"sql": stmt})
}

// ListSchemas goes through the discovery remote function, since direct
// catalog SQL is unavailable on this backend.
func (d *Driver) ListSchemas(ctx context.Context) ([]string, error) {
	rows, err := d.call(ctx, fnListSchemas, map[string]any{})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		names = append(names, asString(firstOf(r, "schema_name", "name")))
	}
	return names, nil
}

// ListTables asks the catalog-introspection remote function for the base
// tables of the tenant schema.
func (d *Driver) ListTables(ctx context.Context, id tenant.ID) ([]string, error) {
	rows, err := d.call(ctx, fnDescribeTable, map[string]any{
		driver.ParamTenant: id.String(),
	})
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var names []string
	for _, r := range rows {
		name := asString(firstOf(r, "table_name", "name"))
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

// DescribeTable reads column metadata through the catalog-introspection
// remote function.
func (d *Driver) DescribeTable(ctx context.Context, id tenant.ID, table string) (*driver.TableMeta, error) {
	if err := driver.ValidateIdentifier(table); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}
	rows, err := d.call(ctx, fnDescribeTable, map[string]any{
		driver.ParamTenant: id.String(),
		"p_table":          table,
	})
	if err != nil {
		return nil, err
	}
	meta := &driver.TableMeta{Name: table}
	for _, r := range rows {
		meta.Columns = append(meta.Columns, driver.ColumnMeta{
			Name:       asString(firstOf(r, "column_name", "name")),
			NativeType: asString(firstOf(r, "data_type", "native_type")),
			Nullable:   strings.EqualFold(asString(firstOf(r, "is_nullable", "nullable")), "YES"),
		})
	}
	return meta, nil
}

// CountRows counts through the escape hatch. The backend stores tenant
// schemas in a PostgreSQL engine, so identifiers quote pg-style.
func (d *Driver) CountRows(ctx context.Context, id tenant.ID, table string) (int64, error) {
	if err := driver.ValidateIdentifier(table); err != nil {
		return 0, fmt.Errorf("table name: %w", err)
	}
	stmt := fmt.Sprintf(`SELECT COUNT(*) AS n FROM %s.%s`, quotePG(id.String()), quotePG(table))
	rows, err := d.ExecSQL(ctx, id, stmt)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return asInt64(rows[0]["n"]), nil
}

// Close is a no-op; the HTTP client holds no pooled state worth draining.
func (d *Driver) Close() error { return nil }

// call posts to /rest/v1/rpc/{fn} with the single-retry policy.
func (d *Driver) call(ctx context.Context, fn string, body map[string]any) (driver.Rows, error) {
	var out driver.Rows
	err := driver.WithRetry(ctx, "rpc "+fn, func() error {
		var err error
		out, err = d.callOnce(ctx, fn, body)
		return err
	})
	return out, err
}

func (d *Driver) callOnce(ctx context.Context, fn string, body map[string]any) (driver.Rows, error) {
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/rest/v1/rpc/" + fn)
	if err != nil {
		return nil, driver.Unavailable(err)
	}
	if resp.IsError() {
		return nil, &driver.QueryError{Kind: dbconfig.KindRPC, Message: remoteMessage(resp.Body(), resp.Status())}
	}
	return decodeRows(resp.Body())
}

// remoteMessage extracts the engine's error message from an error payload,
// falling back to the HTTP status. The message is surfaced verbatim.
func remoteMessage(body []byte, status string) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if len(body) > 0 {
		return string(body)
	}
	return status
}

// decodeRows accepts the three result shapes the backend produces: an
// array of rows, a single object, or a bare scalar/null.
func decodeRows(body []byte) (driver.Rows, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var rows driver.Rows
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, &driver.QueryError{Kind: dbconfig.KindRPC, Message: "malformed result: " + err.Error()}
		}
		return rows, nil
	case '{':
		var row driver.Row
		if err := json.Unmarshal(body, &row); err != nil {
			return nil, &driver.QueryError{Kind: dbconfig.KindRPC, Message: "malformed result: " + err.Error()}
		}
		return driver.Rows{row}, nil
	default:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return nil, &driver.QueryError{Kind: dbconfig.KindRPC, Message: "malformed result: " + err.Error()}
		}
		return driver.Rows{{"result": v}}, nil
	}
}

func quotePG(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func firstOf(r driver.Row, keys ...string) any {
	for _, k := range keys {
		if v, ok := r[k]; ok {
			return v
		}
	}
	return nil
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprint(s)
	}
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case string:
		var out int64
		fmt.Sscan(n, &out)
		return out
	case json.Number:
		out, _ := n.Int64()
		return out
	default:
		return 0
	}
}
