package driver

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/gestock/dbgate/internal/dbconfig"
)

// Classify sorts an engine error into the taxonomy: connection-level
// failures and timeouts become ErrBackendUnavailable, everything the
// engine rejected becomes a QueryError carrying the engine's message.
func Classify(kind dbconfig.Kind, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Unavailable(err)
	}
	if errors.Is(err, driver.ErrBadConn) {
		return Unavailable(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Unavailable(err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return Unavailable(err)
	}
	return &QueryError{Kind: kind, Message: err.Error()}
}
