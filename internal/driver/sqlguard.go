package driver

import (
	"regexp"

	"github.com/gestock/dbgate/internal/tenant"
)

// schemaRef matches anything shaped like a tenant schema name inside a
// statement. Word boundaries keep longer identifiers such as
// "t2025_bu01x" from matching.
var schemaRef = regexp.MustCompile(`\b\d{4}_bu\d{2}\b`)

// GuardSchemaRefs asserts that a raw statement references no tenant
// schema other than the one the call is scoped to. SQL drivers run this
// before executing any statement handed to ExecSQL; it is the defense
// against cross-tenant leakage through a raw statement.
func GuardSchemaRefs(sql string, id tenant.ID) error {
	for _, ref := range schemaRef.FindAllString(sql, -1) {
		if ref != id.String() {
			return &CrossTenantError{Scoped: id.String(), Referenced: ref}
		}
	}
	return nil
}
