package driver

import (
	"errors"
	"fmt"

	"github.com/gestock/dbgate/internal/dbconfig"
)

// ErrBackendUnavailable marks connection-level failures: the engine could
// not be reached, or the call timed out. A timed-out call is never inferred
// to have partially succeeded.
var ErrBackendUnavailable = errors.New("backend unavailable")

// QueryError wraps an error the engine itself returned for a statement or
// remote call. The engine's message is carried verbatim, never swallowed.
type QueryError struct {
	Kind    dbconfig.Kind
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed on %s: %s", e.Kind, e.Message)
}

// UnsupportedOpError is returned when a remote function name has no mapping
// in the active SQL dialect's dispatch table. It names the function so the
// dispatch gap is traceable to the code that must be fixed.
type UnsupportedOpError struct {
	Function string
	Kind     dbconfig.Kind
}

func (e *UnsupportedOpError) Error() string {
	return fmt.Sprintf("unsupported operation %q on %s backend", e.Function, e.Kind)
}

// CrossTenantError is returned when a raw SQL statement references a tenant
// schema other than the one the call is scoped to.
type CrossTenantError struct {
	Scoped     string
	Referenced string
}

func (e *CrossTenantError) Error() string {
	return fmt.Sprintf("statement scoped to tenant %s references schema %s", e.Scoped, e.Referenced)
}

// Unavailable wraps err as a backend-unavailable failure.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// IsUnavailable reports whether err is a connection-level failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}
