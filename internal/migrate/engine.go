package migrate

import (
	"context"
	"fmt"
	"strings"

	"github.com/gestock/dbgate/internal/driver"
	"github.com/gestock/dbgate/internal/logging"
	"github.com/gestock/dbgate/internal/tenant"
	"github.com/gestock/dbgate/internal/typemap"
)

// Engine copies tenant schemas between two opened drivers. Tables are
// processed sequentially; the engine favors a readable audit trail over
// throughput, which matches the data volumes involved.
type Engine struct {
	Source driver.Driver
	Target driver.Driver

	// Progress, when set, receives each entry as it is appended.
	Progress func(Entry)
}

// New builds an engine over two opened drivers.
func New(source, target driver.Driver) *Engine {
	return &Engine{Source: source, Target: target}
}

// Execute opens drivers for the job's source and target configurations,
// probes both, runs the job and closes the drivers.
func Execute(ctx context.Context, job Job, progress func(Entry)) (*Log, error) {
	src, err := driver.Open(job.Source)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer src.Close()
	dst, err := driver.Open(job.Target)
	if err != nil {
		return nil, fmt.Errorf("open target: %w", err)
	}
	defer dst.Close()

	if err := src.Probe(ctx); err != nil {
		return nil, fmt.Errorf("probe source: %w", err)
	}
	if err := dst.Probe(ctx); err != nil {
		return nil, fmt.Errorf("probe target: %w", err)
	}

	eng := New(src, dst)
	eng.Progress = progress
	return eng.Run(ctx, job)
}

// Run executes the job and returns its log. A run that contains FAILED
// entries still returns a nil error; only planning problems (unreachable
// backends, unknown tenants) abort before work starts. Cancellation is
// honored between tables: the table in flight finishes, the log is
// marked CANCELLED and returned.
func (e *Engine) Run(ctx context.Context, job Job) (*Log, error) {
	if job.Options.BatchSize <= 0 {
		job.Options.BatchSize = DefaultBatchSize
	}

	ids, err := e.plan(ctx, job)
	if err != nil {
		return nil, err
	}

	log := newLog()
	logging.Info("migration %s starting: %d tenant(s), batch size %d", log.RunID, len(ids), job.Options.BatchSize)

tenants:
	for _, id := range ids {
		tables, err := e.Source.ListTables(ctx, id)
		if err != nil {
			e.append(log, Entry{Tenant: id, Phase: PhaseSchema, Status: StatusFailed, Error: fmt.Sprintf("list tables: %v", err)})
			continue
		}
		if job.Options.IncludeSchema {
			stmt := "CREATE SCHEMA IF NOT EXISTS " + quoteIdent(e.Target.Kind(), id.String())
			if _, err := e.Target.ExecSQL(ctx, id, stmt); err != nil {
				e.append(log, Entry{Tenant: id, Phase: PhaseSchema, Status: StatusFailed, Error: fmt.Sprintf("create schema: %v", err)})
				continue
			}
		}
		for _, table := range tables {
			if ctx.Err() != nil {
				log.Status = RunCancelled
				break tenants
			}
			// Once a table starts, its truncate and insert sequence runs
			// to completion even if cancellation arrives mid-copy; the
			// signal is only consulted again at the next checkpoint.
			e.copyTable(context.WithoutCancel(ctx), log, job.Options, id, table)
		}
	}
	if log.Status != RunCancelled && ctx.Err() != nil {
		log.Status = RunCancelled
	}

	log.FinishedAt = nowUTC()
	counts := log.Counts()
	logging.Info("migration %s finished %s: %d ok, %d skipped, %d failed, %d warnings",
		log.RunID, log.Status, counts[StatusOK], counts[StatusSkipped], counts[StatusFailed], counts[StatusWarning])
	return log, nil
}

// plan resolves the tenant list. An empty list means every tenant schema
// visible on the source; named tenants must match the pattern and exist
// there, otherwise the run is rejected before any work happens.
func (e *Engine) plan(ctx context.Context, job Job) ([]tenant.ID, error) {
	schemas, err := e.Source.ListSchemas(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source schemas: %w", err)
	}
	present := make(map[tenant.ID]bool, len(schemas))
	var all []tenant.ID
	for _, s := range schemas {
		id, err := tenant.Resolve(s)
		if err != nil {
			continue
		}
		present[id] = true
		all = append(all, id)
	}

	if len(job.Tenants) == 0 {
		return all, nil
	}
	ids := make([]tenant.ID, 0, len(job.Tenants))
	for _, raw := range job.Tenants {
		id, err := tenant.Resolve(string(raw))
		if err != nil {
			return nil, err
		}
		if !present[id] {
			return nil, fmt.Errorf("tenant %s not found on source backend", id)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *Engine) copyTable(ctx context.Context, log *Log, opts Options, id tenant.ID, table string) {
	meta, err := e.Source.DescribeTable(ctx, id, table)
	if err != nil {
		e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseSchema, Status: StatusFailed, Error: fmt.Sprintf("describe: %v", err)})
		return
	}
	if len(meta.Columns) == 0 {
		e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseSchema, Status: StatusSkipped, Error: "no columns"})
		return
	}

	cols := make([]driver.ColumnMeta, len(meta.Columns))
	copy(cols, meta.Columns)
	for i := range cols {
		canonical, exact := typemap.ToCanonical(cols[i].NativeType, e.Source.Kind())
		cols[i].CanonicalType = canonical
		if !exact {
			e.append(log, Entry{
				Tenant: id, Table: table, Phase: PhaseSchema, Status: StatusWarning,
				Error: fmt.Sprintf("column %s: type %q has no canonical mapping, coerced to text", cols[i].Name, cols[i].NativeType),
			})
		}
	}

	if opts.IncludeSchema {
		if !e.createTable(ctx, log, opts, id, table, cols) {
			return
		}
	}
	if !opts.IncludeData {
		return
	}
	copied := e.copyRows(ctx, log, opts, id, table, cols)
	if copied {
		e.verify(ctx, log, id, table)
	}
}

// createTable renders and applies DDL on the target. Returns false when
// the table cannot be created, which also skips the data phase.
func (e *Engine) createTable(ctx context.Context, log *Log, opts Options, id tenant.ID, table string, cols []driver.ColumnMeta) bool {
	target := e.Target.Kind()
	qualified := qualify(target, id.String(), table)

	if opts.OverwriteExisting {
		if _, err := e.Target.ExecSQL(ctx, id, "DROP TABLE IF EXISTS "+qualified); err != nil {
			e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseSchema, Status: StatusFailed, Error: fmt.Sprintf("drop: %v", err)})
			return false
		}
	}

	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		def := quoteIdent(target, c.Name) + " " + typemap.ToDDL(c.CanonicalType, target)
		if !c.Nullable {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	stmt := "CREATE TABLE IF NOT EXISTS " + qualified + " (" + strings.Join(defs, ", ") + ")"
	if _, err := e.Target.ExecSQL(ctx, id, stmt); err != nil {
		e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseSchema, Status: StatusFailed, Error: err.Error()})
		return false
	}
	e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseSchema, Status: StatusOK})
	return true
}

// copyRows streams the source table into the target in batches. Returns
// true when a copy was attempted, so the caller knows to verify counts.
func (e *Engine) copyRows(ctx context.Context, log *Log, opts Options, id tenant.ID, table string, cols []driver.ColumnMeta) bool {
	target := e.Target.Kind()
	qualified := qualify(target, id.String(), table)

	existing, err := e.Target.CountRows(ctx, id, table)
	if err != nil {
		e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseData, Status: StatusFailed, Error: fmt.Sprintf("count target: %v", err)})
		return false
	}
	if opts.OverwriteExisting {
		if existing > 0 {
			if _, err := e.Target.ExecSQL(ctx, id, "TRUNCATE TABLE "+qualified); err != nil {
				e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseData, Status: StatusFailed, Error: fmt.Sprintf("truncate: %v", err)})
				return false
			}
		}
	} else if existing > 0 {
		e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseData, Status: StatusSkipped,
			Error: fmt.Sprintf("target has %d existing row(s)", existing)})
		return false
	}

	selectStmt := "SELECT * FROM " + qualify(e.Source.Kind(), id.String(), table)
	rows, err := e.Source.ExecSQL(ctx, id, selectStmt)
	if err != nil {
		e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseData, Status: StatusFailed, Error: fmt.Sprintf("read source: %v", err)})
		return false
	}

	names := make([]string, len(cols))
	quoted := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
		quoted[i] = quoteIdent(target, c.Name)
	}
	prefix := "INSERT INTO " + qualified + " (" + strings.Join(quoted, ", ") + ") VALUES "

	total := int64(len(rows))
	succeeded := int64(0)
	for start := 0; start < len(rows); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]
		groups := make([]string, 0, len(batch))
		for _, row := range batch {
			vals := make([]string, len(names))
			for i, name := range names {
				vals[i] = renderLiteral(target, row[name])
			}
			groups = append(groups, "("+strings.Join(vals, ", ")+")")
		}
		if _, err := e.Target.ExecSQL(ctx, id, prefix+strings.Join(groups, ", ")); err != nil {
			e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseData, Status: StatusFailed,
				RowsAttempted: int64(len(batch)), Error: err.Error()})
			continue
		}
		succeeded += int64(len(batch))
	}

	status := StatusOK
	if total > 0 && succeeded == 0 {
		status = StatusFailed
	}
	e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseData, Status: status,
		RowsAttempted: total, RowsSucceeded: succeeded})
	return true
}

// verify compares row counts. A mismatch is recorded with both counts
// but never blocks the run.
func (e *Engine) verify(ctx context.Context, log *Log, id tenant.ID, table string) {
	srcCount, err := e.Source.CountRows(ctx, id, table)
	if err != nil {
		e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseVerify, Status: StatusWarning, Error: fmt.Sprintf("count source: %v", err)})
		return
	}
	dstCount, err := e.Target.CountRows(ctx, id, table)
	if err != nil {
		e.append(log, Entry{Tenant: id, Table: table, Phase: PhaseVerify, Status: StatusWarning, Error: fmt.Sprintf("count target: %v", err)})
		return
	}
	entry := Entry{Tenant: id, Table: table, Phase: PhaseVerify, RowsAttempted: srcCount, RowsSucceeded: dstCount}
	if srcCount == dstCount {
		entry.Status = StatusOK
	} else {
		entry.Status = StatusWarning
		entry.Error = fmt.Sprintf("row count mismatch: source %d, target %d", srcCount, dstCount)
	}
	e.append(log, entry)
}

func (e *Engine) append(log *Log, entry Entry) {
	log.Entries = append(log.Entries, entry)
	switch entry.Status {
	case StatusFailed:
		logging.Error("migration %s/%s %s: %s", entry.Tenant, entry.Table, entry.Phase, entry.Error)
	case StatusWarning:
		logging.Warn("migration %s/%s %s: %s", entry.Tenant, entry.Table, entry.Phase, entry.Error)
	default:
		logging.Debug("migration %s/%s %s: %s", entry.Tenant, entry.Table, entry.Phase, entry.Status)
	}
	if e.Progress != nil {
		e.Progress(entry)
	}
}
