package migrate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/driver"
	"github.com/gestock/dbgate/internal/driver/drivertest"
	"github.com/gestock/dbgate/internal/tenant"
)

func articleColumns() []driver.ColumnMeta {
	return []driver.ColumnMeta{
		{Name: "narticle", NativeType: "varchar(50)", Nullable: false},
		{Name: "designation", NativeType: "text", Nullable: true},
		{Name: "prix", NativeType: "decimal(10,2)", Nullable: true},
	}
}

func articleRows() []driver.Row {
	return []driver.Row{
		{"narticle": "112", "designation": "Clavier mécanique", "prix": 45.5},
		{"narticle": "121", "designation": "Ecran 24\"", "prix": 129.99},
		{"narticle": "122AI", "designation": "Souris d'atelier", "prix": 12.0},
	}
}

func newSource() *drivertest.Fake {
	src := drivertest.New(dbconfig.KindMySQL)
	src.AddSchema("information_schema")
	src.AddTable("2025_bu01", "article", articleColumns(), articleRows())
	return src
}

func findEntries(log *Log, table string, phase Phase) []Entry {
	var out []Entry
	for _, e := range log.Entries {
		if e.Table == table && e.Phase == phase {
			out = append(out, e)
		}
	}
	return out
}

func TestRunCopiesSchemaAndData(t *testing.T) {
	src := newSource()
	dst := drivertest.New(dbconfig.KindPostgres)

	eng := New(src, dst)
	log, err := eng.Run(context.Background(), Job{
		Tenants: []tenant.ID{"2025_bu01"},
		Options: Options{IncludeSchema: true, IncludeData: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if log.Status != RunDone {
		t.Fatalf("status = %s, want %s", log.Status, RunDone)
	}
	if log.RunID == "" || log.FinishedAt.Before(log.StartedAt) {
		t.Fatalf("log bookkeeping incomplete: %+v", log)
	}

	schema := findEntries(log, "article", PhaseSchema)
	if len(schema) != 1 || schema[0].Status != StatusOK {
		t.Fatalf("schema entries = %+v", schema)
	}
	data := findEntries(log, "article", PhaseData)
	if len(data) != 1 || data[0].Status != StatusOK || data[0].RowsAttempted != 3 || data[0].RowsSucceeded != 3 {
		t.Fatalf("data entries = %+v", data)
	}
	verify := findEntries(log, "article", PhaseVerify)
	if len(verify) != 1 || verify[0].Status != StatusOK || verify[0].RowsSucceeded != 3 {
		t.Fatalf("verify entries = %+v", verify)
	}

	rows := dst.TableRows("2025_bu01", "article")
	if len(rows) != 3 {
		t.Fatalf("target rows = %d, want 3", len(rows))
	}
	seen := map[string]bool{}
	for _, r := range rows {
		s, _ := r["narticle"].(string)
		seen[s] = true
	}
	for _, want := range []string{"112", "121", "122AI"} {
		if !seen[want] {
			t.Errorf("article %q missing on target", want)
		}
	}

	// The copied tenant serves through the uniform contract afterwards.
	listed, err := dst.RPC(context.Background(), "2025_bu01", driver.FnListArticles, nil)
	if err != nil {
		t.Fatalf("RPC after migration: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("list_articles rows = %d, want 3", len(listed))
	}
}

func TestBatchFailureDoesNotAbortTable(t *testing.T) {
	src := newSource()
	src.AddTable("2025_bu01", "article", articleColumns(), []driver.Row{
		{"narticle": "1", "designation": "a", "prix": 1.0},
		{"narticle": "2", "designation": "b", "prix": 2.0},
		{"narticle": "3", "designation": "poison", "prix": 3.0},
		{"narticle": "4", "designation": "d", "prix": 4.0},
		{"narticle": "5", "designation": "e", "prix": 5.0},
	})
	dst := drivertest.New(dbconfig.KindPostgres)
	dst.ExecHook = func(stmt string) error {
		if strings.Contains(stmt, "poison") {
			return errors.New("value out of range")
		}
		return nil
	}

	eng := New(src, dst)
	log, err := eng.Run(context.Background(), Job{
		Tenants: []tenant.ID{"2025_bu01"},
		Options: Options{IncludeSchema: true, IncludeData: true, BatchSize: 1},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	data := findEntries(log, "article", PhaseData)
	var failed, summary []Entry
	for _, e := range data {
		if e.Status == StatusFailed {
			failed = append(failed, e)
		} else {
			summary = append(summary, e)
		}
	}
	if len(failed) != 1 || failed[0].RowsAttempted != 1 {
		t.Fatalf("failed entries = %+v", failed)
	}
	if len(summary) != 1 || summary[0].Status != StatusOK || summary[0].RowsAttempted != 5 || summary[0].RowsSucceeded != 4 {
		t.Fatalf("summary entries = %+v", summary)
	}

	verify := findEntries(log, "article", PhaseVerify)
	if len(verify) != 1 || verify[0].Status != StatusWarning {
		t.Fatalf("verify entries = %+v, want count mismatch warning", verify)
	}
	if got := len(dst.TableRows("2025_bu01", "article")); got != 4 {
		t.Fatalf("target rows = %d, want 4", got)
	}
}

func TestSkipNonEmptyTargetWithoutOverwrite(t *testing.T) {
	src := newSource()
	dst := drivertest.New(dbconfig.KindPostgres)
	dst.AddTable("2025_bu01", "article", articleColumns(), []driver.Row{
		{"narticle": "999", "designation": "existing", "prix": 1.0},
	})

	eng := New(src, dst)
	log, err := eng.Run(context.Background(), Job{
		Tenants: []tenant.ID{"2025_bu01"},
		Options: Options{IncludeSchema: true, IncludeData: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	data := findEntries(log, "article", PhaseData)
	if len(data) != 1 || data[0].Status != StatusSkipped {
		t.Fatalf("data entries = %+v, want SKIPPED", data)
	}
	rows := dst.TableRows("2025_bu01", "article")
	if len(rows) != 1 || rows[0]["narticle"] != "999" {
		t.Fatalf("target rows changed: %+v", rows)
	}
}

func TestOverwriteExistingIsIdempotent(t *testing.T) {
	src := newSource()
	dst := drivertest.New(dbconfig.KindPostgres)

	job := Job{
		Tenants: []tenant.ID{"2025_bu01"},
		Options: Options{IncludeSchema: true, IncludeData: true, OverwriteExisting: true},
	}
	eng := New(src, dst)
	for run := 0; run < 2; run++ {
		log, err := eng.Run(context.Background(), job)
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if log.Failed() {
			t.Fatalf("run %d has failures: %+v", run, log.Entries)
		}
	}
	if got := len(dst.TableRows("2025_bu01", "article")); got != 3 {
		t.Fatalf("target rows after rerun = %d, want 3", got)
	}
}

func TestCancellationStopsBetweenTables(t *testing.T) {
	src := newSource()
	src.AddTable("2025_bu01", "client", []driver.ColumnMeta{
		{Name: "nclient", NativeType: "varchar(50)"},
	}, []driver.Row{{"nclient": "C1"}})
	dst := drivertest.New(dbconfig.KindPostgres)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := New(src, dst)
	eng.Progress = func(e Entry) {
		// Tables run in sorted order, so article finishes first.
		if e.Table == "article" && e.Phase == PhaseVerify {
			cancel()
		}
	}
	log, err := eng.Run(ctx, Job{
		Tenants: []tenant.ID{"2025_bu01"},
		Options: Options{IncludeSchema: true, IncludeData: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if log.Status != RunCancelled {
		t.Fatalf("status = %s, want %s", log.Status, RunCancelled)
	}
	if entries := findEntries(log, "client", PhaseSchema); len(entries) != 0 {
		t.Fatalf("client was processed after cancellation: %+v", entries)
	}
	if got := len(dst.TableRows("2025_bu01", "article")); got != 3 {
		t.Fatalf("in-flight table not finished, rows = %d", got)
	}
}

// ctxStrictDriver fails any call whose context is already done, the way
// the real pooled drivers do.
type ctxStrictDriver struct {
	*drivertest.Fake
}

func (d *ctxStrictDriver) ExecSQL(ctx context.Context, id tenant.ID, stmt string) (driver.Rows, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.Fake.ExecSQL(ctx, id, stmt)
}

func (d *ctxStrictDriver) CountRows(ctx context.Context, id tenant.ID, table string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return d.Fake.CountRows(ctx, id, table)
}

func TestCancelMidTableFinishesInFlightTable(t *testing.T) {
	src := newSource()
	target := drivertest.New(dbconfig.KindPostgres)
	target.AddTable("2025_bu01", "article", articleColumns(), []driver.Row{
		{"narticle": "999", "designation": "stale", "prix": 1.0},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	// Cancellation lands right after the target table is truncated, the
	// worst moment to stop: the inserts must still run.
	target.ExecHook = func(stmt string) error {
		if strings.HasPrefix(stmt, "TRUNCATE") {
			cancel()
		}
		return nil
	}

	eng := New(&ctxStrictDriver{src}, &ctxStrictDriver{target})
	log, err := eng.Run(ctx, Job{
		Tenants: []tenant.ID{"2025_bu01"},
		Options: Options{IncludeData: true, OverwriteExisting: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if log.Status != RunCancelled {
		t.Fatalf("status = %s, want %s", log.Status, RunCancelled)
	}
	if log.Failed() {
		t.Fatalf("in-flight table failed after cancel: %+v", log.Entries)
	}
	if got := len(target.TableRows("2025_bu01", "article")); got != 3 {
		t.Fatalf("target rows = %d, want 3 (truncated table must be refilled)", got)
	}
	verify := findEntries(log, "article", PhaseVerify)
	if len(verify) != 1 || verify[0].Status != StatusOK {
		t.Fatalf("verify entries = %+v, want OK", verify)
	}
}

func TestUnknownTenantRejected(t *testing.T) {
	eng := New(newSource(), drivertest.New(dbconfig.KindPostgres))
	_, err := eng.Run(context.Background(), Job{
		Tenants: []tenant.ID{"2030_bu09"},
		Options: Options{IncludeSchema: true},
	})
	if err == nil || !strings.Contains(err.Error(), "not found on source") {
		t.Fatalf("err = %v, want unknown tenant rejection", err)
	}

	_, err = eng.Run(context.Background(), Job{Tenants: []tenant.ID{"drop table"}})
	if !errors.Is(err, tenant.ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}
}

func TestZeroColumnTableSkipped(t *testing.T) {
	src := newSource()
	src.AddTable("2025_bu01", "degenerate", nil, nil)
	dst := drivertest.New(dbconfig.KindPostgres)

	eng := New(src, dst)
	log, err := eng.Run(context.Background(), Job{
		Tenants: []tenant.ID{"2025_bu01"},
		Options: Options{IncludeSchema: true, IncludeData: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	entries := findEntries(log, "degenerate", PhaseSchema)
	if len(entries) != 1 || entries[0].Status != StatusSkipped {
		t.Fatalf("entries = %+v, want SKIPPED", entries)
	}
	if dst.Schemas["2025_bu01"]["degenerate"] != nil {
		t.Fatal("degenerate table created on target")
	}
}

func TestLossyTypeCoercedToTextWithWarning(t *testing.T) {
	src := newSource()
	src.AddTable("2025_bu01", "zone", []driver.ColumnMeta{
		{Name: "id", NativeType: "int"},
		{Name: "outline", NativeType: "geometry", Nullable: true},
	}, []driver.Row{{"id": 1.0, "outline": "POLYGON((0 0,1 1))"}})
	dst := drivertest.New(dbconfig.KindPostgres)

	eng := New(src, dst)
	log, err := eng.Run(context.Background(), Job{
		Tenants: []tenant.ID{"2025_bu01"},
		Options: Options{IncludeSchema: true, IncludeData: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var warned bool
	for _, e := range findEntries(log, "zone", PhaseSchema) {
		if e.Status == StatusWarning && strings.Contains(e.Error, "geometry") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("no lossy mapping warning in %+v", log.Entries)
	}

	cols := dst.Schemas["2025_bu01"]["zone"].Columns
	var outline *driver.ColumnMeta
	for i := range cols {
		if cols[i].Name == "outline" {
			outline = &cols[i]
		}
	}
	if outline == nil || outline.NativeType != "text" {
		t.Fatalf("outline column = %+v, want text", outline)
	}
}

func TestPlanDiscoversAllTenants(t *testing.T) {
	src := newSource()
	src.AddTable("2024_bu02", "client", []driver.ColumnMeta{
		{Name: "nclient", NativeType: "varchar(50)"},
	}, []driver.Row{{"nclient": "C1"}})
	src.AddSchema("stock_management")
	dst := drivertest.New(dbconfig.KindPostgres)

	eng := New(src, dst)
	log, err := eng.Run(context.Background(), Job{
		Options: Options{IncludeSchema: true, IncludeData: true},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if log.Failed() {
		t.Fatalf("failures: %+v", log.Entries)
	}
	if _, ok := dst.Schemas["2024_bu02"]; !ok {
		t.Fatal("2024_bu02 not migrated")
	}
	if _, ok := dst.Schemas["2025_bu01"]; !ok {
		t.Fatal("2025_bu01 not migrated")
	}
	if _, ok := dst.Schemas["stock_management"]; ok {
		t.Fatal("non-tenant schema migrated")
	}
}
