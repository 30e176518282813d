// Package registry holds the process-wide active backend and dispatches
// the uniform rpc/execSql surface to whichever driver is currently live.
// The Registry is injectable (constructor injection, no package-level
// singleton) so tests can run several registries in isolation.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/driver"
	"github.com/gestock/dbgate/internal/logging"
	"github.com/gestock/dbgate/internal/tenant"
)

// Opener opens a driver for a config. Production use is driver.Open;
// tests substitute fakes.
type Opener func(dbconfig.Config) (driver.Driver, error)

// Registry is the backend router. Switch is the only writer of the
// active state; readers take a consistent snapshot per call so a switch
// mid-call cannot make one request straddle two backends.
type Registry struct {
	opener Opener

	// switchMu serializes Switch with itself. It is never held while
	// waiting on driver I/O belonging to a reader.
	switchMu sync.Mutex

	// mu guards cfg and drv.
	mu  sync.RWMutex
	cfg dbconfig.Config
	drv driver.Driver
}

// New opens and probes the default backend and returns a registry bound
// to it.
func New(ctx context.Context, cfg dbconfig.Config) (*Registry, error) {
	return NewWithOpener(ctx, cfg, driver.Open)
}

// NewWithOpener is New with a custom driver opener.
func NewWithOpener(ctx context.Context, cfg dbconfig.Config, opener Opener) (*Registry, error) {
	cfg = cfg.Normalize()
	drv, err := opener(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening default backend: %w", err)
	}
	if err := drv.Probe(ctx); err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("probing default backend %s: %w", cfg, err)
	}
	logging.Info("active backend: %s", cfg)
	return &Registry{opener: opener, cfg: cfg, drv: drv}, nil
}

// Active returns the current backend config. Side-effect-free.
func (r *Registry) Active() dbconfig.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// Switch adopts a new backend config. The candidate is opened and probed
// first; only once it is confirmed live is the active state replaced and
// the previous pool closed, so there is never a window with no usable
// backend. A probe failure leaves the current backend untouched.
func (r *Registry) Switch(ctx context.Context, cfg dbconfig.Config) error {
	r.switchMu.Lock()
	defer r.switchMu.Unlock()

	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Equal(r.Active()) {
		logging.Debug("switch to identical config ignored: %s", cfg)
		return nil
	}

	next, err := r.opener(cfg)
	if err != nil {
		return fmt.Errorf("opening backend %s: %w", cfg, err)
	}
	if err := next.Probe(ctx); err != nil {
		_ = next.Close()
		return fmt.Errorf("probing backend %s: %w", cfg, err)
	}

	r.mu.Lock()
	prev := r.drv
	r.cfg = cfg
	r.drv = next
	r.mu.Unlock()

	// In-flight calls hold their own snapshot of prev; its pool drains
	// as they finish.
	if prev != nil {
		_ = prev.Close()
	}
	logging.Info("active backend switched to %s", cfg)
	return nil
}

// RPC forwards a remote function call to the active driver.
func (r *Registry) RPC(ctx context.Context, id tenant.ID, fn driver.Function, params driver.Params) (driver.Rows, error) {
	drv, _ := r.snapshot()
	return drv.RPC(ctx, id, fn, params)
}

// RPCByName resolves an inbound function name, including historical
// aliases, then forwards. Unknown names fail with UnsupportedOpError so
// the dispatch gap is traceable.
func (r *Registry) RPCByName(ctx context.Context, id tenant.ID, name string, params driver.Params) (driver.Rows, error) {
	drv, cfg := r.snapshot()
	fn, ok := driver.ParseFunction(name)
	if !ok {
		return nil, &driver.UnsupportedOpError{Function: name, Kind: cfg.Kind}
	}
	return drv.RPC(ctx, id, fn, params)
}

// ExecSQL forwards a raw statement to the active driver.
func (r *Registry) ExecSQL(ctx context.Context, id tenant.ID, sql string) (driver.Rows, error) {
	drv, _ := r.snapshot()
	return drv.ExecSQL(ctx, id, sql)
}

// Driver returns the active driver snapshot, for discovery callers that
// need the full contract.
func (r *Registry) Driver() driver.Driver {
	drv, _ := r.snapshot()
	return drv
}

// Close releases the active driver's pool.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.drv == nil {
		return nil
	}
	err := r.drv.Close()
	r.drv = nil
	return err
}

// snapshot returns the active pair under the read lock; the caller then
// performs blocking I/O without holding any lock.
func (r *Registry) snapshot() (driver.Driver, dbconfig.Config) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.drv, r.cfg
}
