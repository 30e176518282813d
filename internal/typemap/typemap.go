// Package typemap translates column types between the supported engines
// through a canonical pivot type, so a column discovered on any source
// dialect can be rendered as DDL for any target dialect.
package typemap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gestock/dbgate/internal/dbconfig"
)

// Kind is a canonical, engine-neutral column type.
type Kind int

const (
	Text Kind = iota
	Integer
	Decimal
	Boolean
	Timestamp
	Binary
)

// String returns the canonical type name.
func (k Kind) String() string {
	switch k {
	case Integer:
		return "integer"
	case Decimal:
		return "decimal"
	case Boolean:
		return "boolean"
	case Timestamp:
		return "timestamp"
	case Binary:
		return "binary"
	default:
		return "text"
	}
}

// Canonical is a canonical type with optional decimal precision and scale.
type Canonical struct {
	Kind      Kind
	Precision int
	Scale     int
}

// String renders the canonical type, including precision for decimals.
func (c Canonical) String() string {
	if c.Kind == Decimal && c.Precision > 0 {
		return fmt.Sprintf("decimal(%d,%d)", c.Precision, c.Scale)
	}
	return c.Kind.String()
}

// ToCanonical maps a native column type from the given dialect to its
// canonical type. The second return value reports whether the mapping was
// exact; unknown types coerce to Text so discovery can proceed with
// degraded fidelity instead of aborting, and the caller logs the loss.
func ToCanonical(native string, dialect dbconfig.Kind) (Canonical, bool) {
	base, precision, scale := splitNativeType(native)

	switch base {
	// Integer family, shared spelling across both engines.
	case "int", "integer", "bigint", "smallint", "mediumint", "tinyint",
		"int2", "int4", "int8", "serial", "bigserial", "smallserial", "year":
		// MySQL's tinyint(1) is the conventional boolean encoding.
		if dialect == dbconfig.KindMySQL && base == "tinyint" && precision == 1 {
			return Canonical{Kind: Boolean}, true
		}
		return Canonical{Kind: Integer}, true

	case "decimal", "numeric", "money":
		return Canonical{Kind: Decimal, Precision: precision, Scale: scale}, true
	case "float", "double", "real", "double precision", "float4", "float8":
		// Floats ride the decimal pivot; precision is left unset so the
		// target renders its widest form.
		return Canonical{Kind: Decimal}, true

	case "bool", "boolean", "bit":
		return Canonical{Kind: Boolean}, true

	case "date", "time", "datetime", "timestamp", "timestamptz",
		"timestamp with time zone", "timestamp without time zone":
		return Canonical{Kind: Timestamp}, true

	case "binary", "varbinary", "blob", "tinyblob", "mediumblob", "longblob", "bytea":
		return Canonical{Kind: Binary}, true

	case "char", "varchar", "character", "character varying", "text",
		"tinytext", "mediumtext", "longtext", "json", "jsonb", "uuid",
		"enum", "set", "name", "citext", "xml":
		return Canonical{Kind: Text}, true
	}

	return Canonical{Kind: Text}, false
}

// ToDDL renders a canonical type as a column type for the target dialect.
// The RPC backend stores tenant schemas in a PostgreSQL engine, so it
// shares the postgres rendering.
func ToDDL(c Canonical, target dbconfig.Kind) string {
	pg := target == dbconfig.KindPostgres || target == dbconfig.KindRPC

	switch c.Kind {
	case Integer:
		return "bigint"
	case Decimal:
		if c.Precision > 0 {
			return fmt.Sprintf("numeric(%d,%d)", c.Precision, c.Scale)
		}
		if pg {
			return "double precision"
		}
		return "double"
	case Boolean:
		if pg {
			return "boolean"
		}
		return "tinyint(1)"
	case Timestamp:
		if pg {
			return "timestamp"
		}
		return "datetime"
	case Binary:
		if pg {
			return "bytea"
		}
		return "longblob"
	default:
		return "text"
	}
}

// splitNativeType splits a catalog type like "decimal(10,2)" or
// "varchar(255)" into its base name and numeric arguments.
func splitNativeType(native string) (base string, precision, scale int) {
	s := strings.ToLower(strings.TrimSpace(native))
	open := strings.IndexByte(s, '(')
	if open < 0 {
		return s, 0, 0
	}
	base = strings.TrimSpace(s[:open])
	close := strings.IndexByte(s, ')')
	if close < open {
		return base, 0, 0
	}
	args := strings.Split(s[open+1:close], ",")
	if len(args) > 0 {
		precision, _ = strconv.Atoi(strings.TrimSpace(args[0]))
	}
	if len(args) > 1 {
		scale, _ = strconv.Atoi(strings.TrimSpace(args[1]))
	}
	return base, precision, scale
}
