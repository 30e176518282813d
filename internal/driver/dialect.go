package driver

import (
	"fmt"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/tenant"
)

// Dialect abstracts the identifier quoting and bind-placeholder style of
// one SQL engine. Identifier concatenation happens only through these
// methods so the splice points stay auditable in one place.
type Dialect interface {
	Kind() dbconfig.Kind

	// QuoteIdent quotes a single identifier, doubling any embedded
	// quote character.
	QuoteIdent(name string) string

	// Placeholder returns the bind placeholder for 1-based position n.
	Placeholder(n int) string
}

// QualifyTable renders schema.table with both parts quoted. The tenant ID
// has already passed the tenant pattern; the table name is validated here
// because it may come from a catalog or a caller.
func QualifyTable(d Dialect, id tenant.ID, table string) (string, error) {
	if err := ValidateIdentifier(table); err != nil {
		return "", fmt.Errorf("table name: %w", err)
	}
	return d.QuoteIdent(id.String()) + "." + d.QuoteIdent(table), nil
}
