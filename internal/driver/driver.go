// Package driver defines the two-operation backend contract and the
// factory registry through which backends are opened. Each backend family
// (RPC, MySQL, PostgreSQL) implements the same contract from opposite
// starting capabilities: the RPC engine only exposes named remote
// functions and emulates raw SQL through an escape-hatch function, while
// the SQL engines run arbitrary statements and emulate the remote
// functions through a per-dialect dispatch table.
package driver

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/tenant"
)

// Row is one result row keyed by column name.
type Row map[string]any

// Rows is an ordered result set.
type Rows []Row

// Params carries named arguments for a remote function call. Values are
// scalars or arrays of scalars.
type Params map[string]any

// Driver is the uniform contract every backend implements. All methods
// that touch the engine may block on network round-trips; callers supply
// deadlines through ctx.
type Driver interface {
	// Kind returns the backend family this driver serves.
	Kind() dbconfig.Kind

	// Probe executes a trivial call to confirm the backend is reachable.
	Probe(ctx context.Context) error

	// RPC invokes a named remote function scoped to the tenant's schema.
	RPC(ctx context.Context, id tenant.ID, fn Function, params Params) (Rows, error)

	// ExecSQL runs a raw statement scoped to the tenant's schema. SQL
	// backends first assert the statement references no other tenant's
	// schema; the RPC backend forwards through its escape-hatch function.
	ExecSQL(ctx context.Context, id tenant.ID, sql string) (Rows, error)

	// ListSchemas enumerates schema names visible on the backend,
	// unfiltered. Discovery filters them through the tenant pattern.
	ListSchemas(ctx context.Context) ([]string, error)

	// ListTables lists base tables in the tenant's schema.
	ListTables(ctx context.Context, id tenant.ID) ([]string, error)

	// DescribeTable reads column names, native types and nullability
	// from the engine's catalog.
	DescribeTable(ctx context.Context, id tenant.ID, table string) (*TableMeta, error)

	// CountRows returns the row count for one table.
	CountRows(ctx context.Context, id tenant.ID, table string) (int64, error)

	// Close releases the connection pool.
	Close() error
}

// Factory opens drivers for one backend kind.
//
// To add a new backend:
//  1. Create a package under internal/driver/<name>/
//  2. Implement Driver and Factory
//  3. Register via init(): driver.Register(&Factory{})
type Factory interface {
	Kind() dbconfig.Kind
	Open(cfg dbconfig.Config) (Driver, error)
}

var (
	regMu     sync.RWMutex
	factories = map[dbconfig.Kind]Factory{}
)

// Register adds a backend factory to the registry. Called from driver
// package init functions.
func Register(f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, dup := factories[f.Kind()]; dup {
		panic(fmt.Sprintf("driver: duplicate factory for kind %q", f.Kind()))
	}
	factories[f.Kind()] = f
}

// Open validates cfg and opens a driver for its kind.
func Open(cfg dbconfig.Config) (Driver, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no driver registered for backend kind %q (kinds: %v)", cfg.Kind, Kinds())
	}
	return f.Open(cfg)
}

// Kinds returns the registered backend kinds, sorted.
func Kinds() []dbconfig.Kind {
	regMu.RLock()
	defer regMu.RUnlock()
	kinds := make([]dbconfig.Kind, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Columns returns the sorted column set of a result, shared by callers
// that compare results across backends.
func (rs Rows) Columns() []string {
	seen := map[string]bool{}
	for _, r := range rs {
		for c := range r {
			seen[c] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for c := range seen {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}
