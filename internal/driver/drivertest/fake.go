// Package drivertest provides an in-memory driver implementing the full
// backend contract, for tests that exercise the registry, discovery, the
// migration engine and the HTTP surface without a live engine. It
// interprets the statement shapes the gateway itself generates (CREATE,
// DROP, TRUNCATE, INSERT, SELECT), which is all a backend ever receives
// from this codebase.
package drivertest

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/driver"
	"github.com/gestock/dbgate/internal/tenant"
)

// Table is one in-memory table.
type Table struct {
	Columns []driver.ColumnMeta
	Rows    []driver.Row
}

// Fake implements driver.Driver over in-memory state.
type Fake struct {
	mu sync.Mutex

	BackendKind dbconfig.Kind
	// Schemas maps schema name to table name to table. Non-tenant
	// schema names are allowed, as on a real engine.
	Schemas map[string]map[string]*Table

	// ProbeErr makes Probe fail.
	ProbeErr error
	// ExecHook, when set, runs before each ExecSQL statement and can
	// inject a failure.
	ExecHook func(stmt string) error
	// Statements records every statement handed to ExecSQL.
	Statements []string
	// Closed is set by Close.
	Closed bool
}

// New builds an empty fake of the given kind.
func New(kind dbconfig.Kind) *Fake {
	return &Fake{
		BackendKind: kind,
		Schemas:     map[string]map[string]*Table{},
	}
}

// AddSchema registers a schema name without tables.
func (f *Fake) AddSchema(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Schemas[name]; !ok {
		f.Schemas[name] = map[string]*Table{}
	}
}

// AddTable registers a table with its columns and rows.
func (f *Fake) AddTable(schema, name string, cols []driver.ColumnMeta, rows []driver.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Schemas[schema]; !ok {
		f.Schemas[schema] = map[string]*Table{}
	}
	f.Schemas[schema][name] = &Table{Columns: cols, Rows: rows}
}

// TableRows returns a copy of a table's rows.
func (f *Fake) TableRows(schema, name string) []driver.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.Schemas[schema][name]
	if t == nil {
		return nil
	}
	out := make([]driver.Row, len(t.Rows))
	copy(out, t.Rows)
	return out
}

func (f *Fake) Kind() dbconfig.Kind { return f.BackendKind }

func (f *Fake) Probe(context.Context) error { return f.ProbeErr }

// RPC serves the read functions straight from the store; everything else
// is reported as a dispatch gap, which is enough for the tests.
func (f *Fake) RPC(_ context.Context, id tenant.ID, fn driver.Function, _ driver.Params) (driver.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	table := ""
	switch fn {
	case driver.FnListArticles:
		table = "article"
	case driver.FnListClients:
		table = "client"
	case driver.FnListSuppliers:
		table = "fournisseur"
	case driver.FnListDeliveryNotes:
		table = "bl"
	case driver.FnListInvoices:
		table = "facture"
	case driver.FnListProformas:
		table = "fprof"
	default:
		return nil, &driver.UnsupportedOpError{Function: fn.String(), Kind: f.BackendKind}
	}
	t := f.Schemas[id.String()][table]
	if t == nil {
		return nil, &driver.QueryError{Kind: f.BackendKind, Message: fmt.Sprintf("relation %s.%s does not exist", id, table)}
	}
	out := make(driver.Rows, len(t.Rows))
	copy(out, t.Rows)
	return out, nil
}

var (
	selectAllRe    = regexp.MustCompile(`(?is)^SELECT\s+\*\s+FROM\s+(\S+)\s*$`)
	createRe       = regexp.MustCompile(`(?is)^CREATE\s+TABLE\s+IF\s+NOT\s+EXISTS\s+(\S+)\s*\((.*)\)\s*$`)
	dropRe         = regexp.MustCompile(`(?is)^DROP\s+TABLE\s+IF\s+EXISTS\s+(\S+)\s*$`)
	truncateRe     = regexp.MustCompile(`(?is)^TRUNCATE\s+TABLE\s+(\S+)\s*$`)
	insertRe       = regexp.MustCompile(`(?is)^INSERT\s+INTO\s+(\S+)\s*\(([^)]*)\)\s*VALUES\s*(.*)$`)
	createSchemaRe = regexp.MustCompile(`(?is)^CREATE\s+SCHEMA\s+IF\s+NOT\s+EXISTS\s+(\S+)\s*$`)
)

func (f *Fake) ExecSQL(_ context.Context, id tenant.ID, stmt string) (driver.Rows, error) {
	if err := driver.GuardSchemaRefs(stmt, id); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.Statements = append(f.Statements, stmt)
	if f.ExecHook != nil {
		if err := f.ExecHook(stmt); err != nil {
			return nil, err
		}
	}

	switch {
	case selectAllRe.MatchString(stmt):
		schema, table := splitQualified(selectAllRe.FindStringSubmatch(stmt)[1])
		t := f.Schemas[schema][table]
		if t == nil {
			return nil, &driver.QueryError{Kind: f.BackendKind, Message: fmt.Sprintf("relation %s.%s does not exist", schema, table)}
		}
		out := make(driver.Rows, len(t.Rows))
		copy(out, t.Rows)
		return out, nil

	case createSchemaRe.MatchString(stmt):
		schema := unquote(createSchemaRe.FindStringSubmatch(stmt)[1])
		if _, ok := f.Schemas[schema]; !ok {
			f.Schemas[schema] = map[string]*Table{}
		}
		return driver.Rows{{"rows_affected": int64(0)}}, nil

	case createRe.MatchString(stmt):
		m := createRe.FindStringSubmatch(stmt)
		schema, table := splitQualified(m[1])
		if _, ok := f.Schemas[schema]; !ok {
			f.Schemas[schema] = map[string]*Table{}
		}
		if _, exists := f.Schemas[schema][table]; !exists {
			f.Schemas[schema][table] = &Table{Columns: parseDDLColumns(m[2])}
		}
		return driver.Rows{{"rows_affected": int64(0)}}, nil

	case dropRe.MatchString(stmt):
		schema, table := splitQualified(dropRe.FindStringSubmatch(stmt)[1])
		delete(f.Schemas[schema], table)
		return driver.Rows{{"rows_affected": int64(0)}}, nil

	case truncateRe.MatchString(stmt):
		schema, table := splitQualified(truncateRe.FindStringSubmatch(stmt)[1])
		if t := f.Schemas[schema][table]; t != nil {
			t.Rows = nil
		}
		return driver.Rows{{"rows_affected": int64(0)}}, nil

	case insertRe.MatchString(stmt):
		m := insertRe.FindStringSubmatch(stmt)
		schema, table := splitQualified(m[1])
		t := f.Schemas[schema][table]
		if t == nil {
			return nil, &driver.QueryError{Kind: f.BackendKind, Message: fmt.Sprintf("relation %s.%s does not exist", schema, table)}
		}
		cols := splitColumns(m[2])
		groups, err := splitValueGroups(m[3])
		if err != nil {
			return nil, &driver.QueryError{Kind: f.BackendKind, Message: err.Error()}
		}
		n := int64(0)
		for _, g := range groups {
			values, err := splitLiterals(g)
			if err != nil {
				return nil, &driver.QueryError{Kind: f.BackendKind, Message: err.Error()}
			}
			if len(values) != len(cols) {
				return nil, &driver.QueryError{Kind: f.BackendKind, Message: "column count mismatch"}
			}
			row := make(driver.Row, len(cols))
			for i, c := range cols {
				row[c] = values[i]
			}
			t.Rows = append(t.Rows, row)
			n++
		}
		return driver.Rows{{"rows_affected": n}}, nil
	}

	return nil, &driver.QueryError{Kind: f.BackendKind, Message: "unrecognized statement: " + stmt}
}

func (f *Fake) ListSchemas(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.Schemas))
	for s := range f.Schemas {
		names = append(names, s)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) ListTables(_ context.Context, id tenant.ID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tables := f.Schemas[id.String()]
	names := make([]string, 0, len(tables))
	for t := range tables {
		names = append(names, t)
	}
	sort.Strings(names)
	return names, nil
}

func (f *Fake) DescribeTable(_ context.Context, id tenant.ID, table string) (*driver.TableMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.Schemas[id.String()][table]
	if t == nil {
		return nil, &driver.QueryError{Kind: f.BackendKind, Message: fmt.Sprintf("relation %s.%s does not exist", id, table)}
	}
	return &driver.TableMeta{Name: table, Columns: t.Columns, EstimatedRowCount: int64(len(t.Rows))}, nil
}

func (f *Fake) CountRows(_ context.Context, id tenant.ID, table string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.Schemas[id.String()][table]
	if t == nil {
		return 0, &driver.QueryError{Kind: f.BackendKind, Message: fmt.Sprintf("relation %s.%s does not exist", id, table)}
	}
	return int64(len(t.Rows)), nil
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "`\"")
	return s
}

func splitQualified(q string) (schema, table string) {
	parts := strings.SplitN(q, ".", 2)
	if len(parts) == 1 {
		return "", unquote(parts[0])
	}
	return unquote(parts[0]), unquote(parts[1])
}

func splitColumns(list string) []string {
	var cols []string
	for _, c := range strings.Split(list, ",") {
		cols = append(cols, unquote(c))
	}
	return cols
}

func parseDDLColumns(body string) []driver.ColumnMeta {
	var cols []driver.ColumnMeta
	depth := 0
	start := 0
	flush := func(def string) {
		def = strings.TrimSpace(def)
		if def == "" {
			return
		}
		fields := strings.Fields(def)
		if len(fields) < 2 {
			return
		}
		cols = append(cols, driver.ColumnMeta{
			Name:       unquote(fields[0]),
			NativeType: fields[1],
			Nullable:   !strings.Contains(strings.ToUpper(def), "NOT NULL"),
		})
	}
	for i, r := range body {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				flush(body[start:i])
				start = i + 1
			}
		}
	}
	flush(body[start:])
	return cols
}

// splitValueGroups splits "(a, b), (c, d)" into its top-level groups,
// respecting quoted strings.
func splitValueGroups(s string) ([]string, error) {
	var groups []string
	depth := 0
	inString := false
	start := -1
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inString {
			if r == '\'' {
				// Doubled quote is an escaped quote.
				if i+1 < len(runes) && runes[i+1] == '\'' {
					i++
					continue
				}
				inString = false
			}
			continue
		}
		switch r {
		case '\'':
			inString = true
		case '(':
			if depth == 0 {
				start = i + 1
			}
			depth++
		case ')':
			depth--
			if depth == 0 && start >= 0 {
				groups = append(groups, string(runes[start:i]))
				start = -1
			}
		}
	}
	if depth != 0 || inString {
		return nil, fmt.Errorf("unbalanced value list: %s", s)
	}
	return groups, nil
}

// splitLiterals splits one value group into rendered literals, undoing
// string quoting so tests can compare values.
func splitLiterals(group string) ([]any, error) {
	var out []any
	var cur strings.Builder
	inString := false
	flush := func() {
		lit := strings.TrimSpace(cur.String())
		cur.Reset()
		if lit == "" {
			return
		}
		out = append(out, decodeLiteral(lit))
	}
	runes := []rune(group)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if inString {
			if r == '\'' {
				if i+1 < len(runes) && runes[i+1] == '\'' {
					cur.WriteRune('\'')
					i++
					continue
				}
				inString = false
				cur.WriteRune(r)
				continue
			}
			cur.WriteRune(r)
			continue
		}
		switch r {
		case '\'':
			inString = true
			cur.WriteRune(r)
		case ',':
			flush()
		default:
			cur.WriteRune(r)
		}
	}
	if inString {
		return nil, fmt.Errorf("unterminated string in value group: %s", group)
	}
	flush()
	return out, nil
}

func decodeLiteral(lit string) any {
	if strings.HasPrefix(lit, "'") && strings.HasSuffix(lit, "'") && len(lit) >= 2 {
		return strings.ReplaceAll(lit[1:len(lit)-1], "''", "'")
	}
	if strings.EqualFold(lit, "NULL") {
		return nil
	}
	if strings.EqualFold(lit, "TRUE") {
		return true
	}
	if strings.EqualFold(lit, "FALSE") {
		return false
	}
	var n float64
	if _, err := fmt.Sscan(lit, &n); err == nil {
		return n
	}
	return lit
}
