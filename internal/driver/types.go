package driver

import (
	"fmt"

	"github.com/gestock/dbgate/internal/typemap"
)

// TableMeta describes a table discovered in a tenant schema. It is
// recomputed on demand and never persisted across runs.
type TableMeta struct {
	Name              string       `json:"name"`
	Columns           []ColumnMeta `json:"columns"`
	EstimatedRowCount int64        `json:"estimated_row_count"`
}

// ColumnMeta describes one column: the engine's native type plus the
// canonical type it pivots through during migration.
type ColumnMeta struct {
	Name          string            `json:"name"`
	NativeType    string            `json:"native_type"`
	CanonicalType typemap.Canonical `json:"canonical_type"`
	Nullable      bool              `json:"nullable"`
}

// ColumnNames returns the column names in catalog order.
func (t *TableMeta) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// ValidateIdentifier checks that a table or column name read from a
// catalog is safe to splice into SQL. Tenant schema names have their own
// stricter pattern; this covers the identifiers discovered inside them.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier cannot be empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("identifier too long: %d characters (max 64)", len(name))
	}
	if !isIdentStart(rune(name[0])) {
		return fmt.Errorf("identifier must start with letter or underscore: %q", name)
	}
	for i, r := range name {
		if i == 0 {
			continue
		}
		if !isIdentChar(r) {
			return fmt.Errorf("identifier contains invalid character %q at position %d: %q", r, i, name)
		}
	}
	return nil
}

func isIdentStart(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '_'
}

func isIdentChar(r rune) bool {
	return isIdentStart(r) || (r >= '0' && r <= '9') || r == '$'
}
