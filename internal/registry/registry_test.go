package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/driver"
	"github.com/gestock/dbgate/internal/driver/drivertest"
	"github.com/gestock/dbgate/internal/tenant"
)

var (
	rpcCfg   = dbconfig.Config{Kind: dbconfig.KindRPC, Endpoint: "https://db.example.test", APIKey: "k"}
	mysqlCfg = dbconfig.Config{Kind: dbconfig.KindMySQL, Host: "localhost", User: "root"}
)

// fakeOpener hands out pre-built fakes keyed by kind.
type fakeOpener struct {
	mu      sync.Mutex
	drivers map[dbconfig.Kind]*drivertest.Fake
	opened  []dbconfig.Kind
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{drivers: map[dbconfig.Kind]*drivertest.Fake{}}
}

func (o *fakeOpener) add(f *drivertest.Fake) { o.drivers[f.BackendKind] = f }

func (o *fakeOpener) open(cfg dbconfig.Config) (driver.Driver, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f, ok := o.drivers[cfg.Kind]
	if !ok {
		return nil, errors.New("no fake for kind " + string(cfg.Kind))
	}
	o.opened = append(o.opened, cfg.Kind)
	return f, nil
}

func seededFake(kind dbconfig.Kind) *drivertest.Fake {
	f := drivertest.New(kind)
	f.AddTable("2025_bu01", "article", []driver.ColumnMeta{{Name: "narticle", NativeType: "text"}},
		[]driver.Row{{"narticle": "112"}, {"narticle": "121"}, {"narticle": "122"}})
	return f
}

func TestNewProbesDefaultBackend(t *testing.T) {
	opener := newFakeOpener()
	bad := drivertest.New(dbconfig.KindRPC)
	bad.ProbeErr = driver.Unavailable(errors.New("refused"))
	opener.add(bad)

	if _, err := NewWithOpener(context.Background(), rpcCfg, opener.open); err == nil {
		t.Fatal("expected probe failure")
	}
	if !bad.Closed {
		t.Error("failed default driver should be closed")
	}
}

func TestSwitchAdoptsLiveBackend(t *testing.T) {
	opener := newFakeOpener()
	opener.add(seededFake(dbconfig.KindRPC))
	opener.add(seededFake(dbconfig.KindMySQL))

	reg, err := NewWithOpener(context.Background(), rpcCfg, opener.open)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Switch(context.Background(), mysqlCfg); err != nil {
		t.Fatal(err)
	}
	if got := reg.Active().Kind; got != dbconfig.KindMySQL {
		t.Errorf("active kind = %s, want mysql", got)
	}
	if !opener.drivers[dbconfig.KindRPC].Closed {
		t.Error("superseded driver's pool was not closed")
	}
}

func TestSwitchProbeFailureKeepsCurrent(t *testing.T) {
	opener := newFakeOpener()
	opener.add(seededFake(dbconfig.KindRPC))
	bad := drivertest.New(dbconfig.KindMySQL)
	bad.ProbeErr = driver.Unavailable(errors.New("connection refused"))
	opener.add(bad)

	reg, err := NewWithOpener(context.Background(), rpcCfg, opener.open)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Switch(context.Background(), mysqlCfg); err == nil {
		t.Fatal("expected switch to fail")
	}
	if got := reg.Active(); !got.Equal(rpcCfg.Normalize()) {
		t.Errorf("active config changed after failed switch: %v", got)
	}
	if opener.drivers[dbconfig.KindRPC].Closed {
		t.Error("working driver was closed after failed switch")
	}
	if !bad.Closed {
		t.Error("failed candidate driver was not closed")
	}

	// The registry still serves calls.
	id := tenant.ID("2025_bu01")
	rows, err := reg.RPC(context.Background(), id, driver.FnListArticles, driver.Params{})
	if err != nil || len(rows) != 3 {
		t.Errorf("rpc after failed switch: rows=%v err=%v", rows, err)
	}
}

func TestSwitchNoOpOnEqualConfig(t *testing.T) {
	opener := newFakeOpener()
	opener.add(seededFake(dbconfig.KindRPC))

	reg, err := NewWithOpener(context.Background(), rpcCfg, opener.open)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.Switch(context.Background(), rpcCfg); err != nil {
		t.Fatal(err)
	}
	if len(opener.opened) != 1 {
		t.Errorf("no-op switch opened a new driver: %v", opener.opened)
	}
}

func TestRPCByNameUnknownFunction(t *testing.T) {
	opener := newFakeOpener()
	opener.add(seededFake(dbconfig.KindRPC))

	reg, err := NewWithOpener(context.Background(), rpcCfg, opener.open)
	if err != nil {
		t.Fatal(err)
	}
	_, err = reg.RPCByName(context.Background(), tenant.ID("2025_bu01"), "no_such_function", nil)
	var uo *driver.UnsupportedOpError
	if !errors.As(err, &uo) {
		t.Fatalf("error = %v, want UnsupportedOpError", err)
	}
	if uo.Function != "no_such_function" {
		t.Errorf("error does not carry the function name: %v", uo)
	}
}

func TestRouterConsistencyAcrossKinds(t *testing.T) {
	// Pre-seeded with equivalent data, each backend kind returns the
	// same column set and values for the same call.
	id := tenant.ID("2025_bu01")
	var results []driver.Rows

	for _, kind := range []dbconfig.Kind{dbconfig.KindRPC, dbconfig.KindMySQL, dbconfig.KindPostgres} {
		opener := newFakeOpener()
		opener.add(seededFake(kind))
		cfg := dbconfig.Config{Kind: kind, Host: "h", User: "u", Endpoint: "e", APIKey: "k"}
		reg, err := NewWithOpener(context.Background(), cfg, opener.open)
		if err != nil {
			t.Fatal(err)
		}
		rows, err := reg.RPC(context.Background(), id, driver.FnListArticles, driver.Params{})
		if err != nil {
			t.Fatalf("%s: %v", kind, err)
		}
		results = append(results, rows)
	}

	want := results[0].Columns()
	for i, rows := range results {
		got := rows.Columns()
		if len(got) != len(want) {
			t.Fatalf("backend %d column set = %v, want %v", i, got, want)
		}
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("backend %d column[%d] = %q, want %q", i, j, got[j], want[j])
			}
		}
		if len(rows) != 3 {
			t.Errorf("backend %d returned %d rows, want 3", i, len(rows))
		}
	}
}

func TestConcurrentSwitchAndCalls(t *testing.T) {
	opener := newFakeOpener()
	opener.add(seededFake(dbconfig.KindRPC))
	opener.add(seededFake(dbconfig.KindMySQL))

	reg, err := NewWithOpener(context.Background(), rpcCfg, opener.open)
	if err != nil {
		t.Fatal(err)
	}
	id := tenant.ID("2025_bu01")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rows, err := reg.RPC(context.Background(), id, driver.FnListArticles, driver.Params{})
			// Every call lands wholly on one live backend: it either
			// succeeds with the full seeded result or not at all.
			if err == nil && len(rows) != 3 {
				t.Errorf("torn read: %d rows", len(rows))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = reg.Switch(context.Background(), mysqlCfg)
	}()
	wg.Wait()

	if got := reg.Active().Kind; got != dbconfig.KindMySQL {
		t.Errorf("active kind after concurrent switch = %s", got)
	}
}
