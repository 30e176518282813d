// Package schema discovers tenant schemas, their tables and their column
// metadata on a backend. Results are produced on demand and never
// persisted; a fresh discovery reflects whatever the engine holds now.
package schema

import (
	"context"
	"fmt"
	"sort"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/driver"
	"github.com/gestock/dbgate/internal/logging"
	"github.com/gestock/dbgate/internal/tenant"
	"github.com/gestock/dbgate/internal/typemap"
)

// DefaultSampleLimit bounds how many tables a discovery counts rows for,
// keeping discovery latency flat on schemas with many tables.
const DefaultSampleLimit = 25

// Explorer runs discovery against one opened driver.
type Explorer struct {
	drv driver.Driver
}

// NewExplorer wraps a driver the caller keeps ownership of.
func NewExplorer(drv driver.Driver) *Explorer {
	return &Explorer{drv: drv}
}

// Open opens a driver for cfg and returns an explorer owning it; the
// caller closes it through Close.
func Open(cfg dbconfig.Config) (*Explorer, error) {
	drv, err := driver.Open(cfg)
	if err != nil {
		return nil, err
	}
	return &Explorer{drv: drv}, nil
}

// Close releases the underlying driver.
func (e *Explorer) Close() error { return e.drv.Close() }

// Driver exposes the wrapped driver for callers that need direct access.
func (e *Explorer) Driver() driver.Driver { return e.drv }

// ListTenants enumerates schemas and keeps only those matching the
// tenant pattern. Non-matching schemas (catalog schemas, application
// metadata) are excluded, not errored.
func (e *Explorer) ListTenants(ctx context.Context) ([]tenant.ID, error) {
	names, err := e.drv.ListSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing schemas: %w", err)
	}
	var out []tenant.ID
	for _, name := range names {
		id, err := tenant.Resolve(name)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// SchemaExists reports whether the tenant's schema is present on the
// backend.
func (e *Explorer) SchemaExists(ctx context.Context, id tenant.ID) (bool, error) {
	ids, err := e.ListTenants(ctx)
	if err != nil {
		return false, err
	}
	for _, have := range ids {
		if have == id {
			return true, nil
		}
	}
	return false, nil
}

// DescribeTable reads column metadata and fills in each column's
// canonical type. An unknown native type is coerced to Text and logged;
// discovery proceeds with degraded fidelity rather than aborting.
func (e *Explorer) DescribeTable(ctx context.Context, id tenant.ID, table string) (*driver.TableMeta, error) {
	meta, err := e.drv.DescribeTable(ctx, id, table)
	if err != nil {
		return nil, fmt.Errorf("describing %s.%s: %w", id, table, err)
	}
	for i := range meta.Columns {
		col := &meta.Columns[i]
		canonical, exact := typemap.ToCanonical(col.NativeType, e.drv.Kind())
		if !exact {
			logging.Warn("unknown native type %q on %s.%s.%s coerced to text",
				col.NativeType, id, table, col.Name)
		}
		col.CanonicalType = canonical
	}
	return meta, nil
}

// EstimateRows counts rows for up to sampleLimit tables. One
// inaccessible table does not fail the whole discovery: its entry is
// simply absent from the result and the error is logged.
func (e *Explorer) EstimateRows(ctx context.Context, id tenant.ID, tables []string, sampleLimit int) map[string]int64 {
	if sampleLimit <= 0 {
		sampleLimit = DefaultSampleLimit
	}
	counts := make(map[string]int64, len(tables))
	for i, table := range tables {
		if i >= sampleLimit {
			break
		}
		n, err := e.drv.CountRows(ctx, id, table)
		if err != nil {
			logging.Warn("row count for %s.%s unavailable: %v", id, table, err)
			continue
		}
		counts[table] = n
	}
	return counts
}

// TableSummary is the operator-facing inventory entry for one table.
type TableSummary struct {
	Name              string `json:"name"`
	ColumnCount       int    `json:"columnCount"`
	EstimatedRowCount int64  `json:"estimatedRowCount"`
}

// Inventory is the discovery result for one tenant.
type Inventory struct {
	TenantID tenant.ID      `json:"tenantId"`
	Tables   []TableSummary `json:"tables"`
}

// Inventory builds the per-tenant table summary backing the discovery
// endpoint. Row counts beyond the sample limit report -1 (unknown).
func (e *Explorer) Inventory(ctx context.Context, id tenant.ID, sampleLimit int) (*Inventory, error) {
	tables, err := e.drv.ListTables(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("listing tables for %s: %w", id, err)
	}
	counts := e.EstimateRows(ctx, id, tables, sampleLimit)

	inv := &Inventory{TenantID: id}
	for _, table := range tables {
		meta, err := e.drv.DescribeTable(ctx, id, table)
		if err != nil {
			logging.Warn("describe %s.%s failed during inventory: %v", id, table, err)
			continue
		}
		count, counted := counts[table]
		if !counted {
			count = -1
		}
		inv.Tables = append(inv.Tables, TableSummary{
			Name:              table,
			ColumnCount:       len(meta.Columns),
			EstimatedRowCount: count,
		})
	}
	return inv, nil
}
