// Package tenant validates inbound tenant identifiers. Tenant schemas are
// named {year}_bu{unit} (e.g. 2025_bu01) and the identifier is spliced into
// SQL as a schema name, not bound as a value, so this package is the single
// chokepoint every identifier must pass before any SQL is built from it.
package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalid is returned for any identifier that does not match the tenant
// schema naming pattern.
var ErrInvalid = errors.New("invalid tenant")

var pattern = regexp.MustCompile(`^\d{4}_bu\d{2}$`)

// ID is a validated tenant schema identifier. The zero value is invalid;
// obtain one through Resolve or SchemaName.
type ID string

// Resolve trims and validates a raw header value into a tenant ID.
func Resolve(raw string) (ID, error) {
	s := strings.TrimSpace(raw)
	if !pattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalid, raw)
	}
	return ID(s), nil
}

// SchemaName builds the tenant ID for a business unit and year.
func SchemaName(year int, unit int) (ID, error) {
	return Resolve(fmt.Sprintf("%04d_bu%02d", year, unit))
}

// String returns the schema identifier.
func (id ID) String() string {
	return string(id)
}
