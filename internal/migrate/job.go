// Package migrate copies tenant schemas and their data from one backend
// configuration to another, reconciling the engines' type systems through
// the canonical type mapper. There is no shared transaction boundary
// between source and target; each batch is its own unit of work, and
// re-running with OverwriteExisting is the supported recovery path after
// a partial run.
package migrate

import (
	"time"

	"github.com/google/uuid"

	"github.com/gestock/dbgate/internal/dbconfig"
	"github.com/gestock/dbgate/internal/tenant"
)

// DefaultBatchSize is the multi-row insert chunk size when the job does
// not specify one.
const DefaultBatchSize = 500

// Options controls which phases a job runs and how it treats existing
// target tables.
type Options struct {
	IncludeSchema     bool `yaml:"include_schema" json:"includeSchema"`
	IncludeData       bool `yaml:"include_data" json:"includeData"`
	OverwriteExisting bool `yaml:"overwrite_existing" json:"overwriteExisting"`
	BatchSize         int  `yaml:"batch_size" json:"batchSize"`
}

// Job describes one migration invocation. It is created per run and
// never persisted; executing it produces a Log.
type Job struct {
	Source  dbconfig.Config `yaml:"source" json:"source"`
	Target  dbconfig.Config `yaml:"target" json:"target"`
	Tenants []tenant.ID     `yaml:"tenants" json:"tenants"`
	Options Options         `yaml:"options" json:"options"`
}

// Phase tags which stage of the pipeline produced a log entry.
type Phase string

const (
	PhaseSchema Phase = "SCHEMA"
	PhaseData   Phase = "DATA"
	PhaseVerify Phase = "VERIFY"
)

// Status is the outcome of one log entry.
type Status string

const (
	StatusOK      Status = "OK"
	StatusSkipped Status = "SKIPPED"
	StatusFailed  Status = "FAILED"
	StatusWarning Status = "WARNING"
)

// Entry is one append-only migration log record. For VERIFY entries,
// RowsAttempted carries the source count and RowsSucceeded the target
// count.
type Entry struct {
	Tenant        tenant.ID `json:"tenantId"`
	Table         string    `json:"table"`
	Phase         Phase     `json:"phase"`
	Status        Status    `json:"status"`
	RowsAttempted int64     `json:"rowsAttempted"`
	RowsSucceeded int64     `json:"rowsSucceeded"`
	Error         string    `json:"error,omitempty"`
}

// Job-level terminal states.
const (
	RunDone      = "DONE"
	RunCancelled = "CANCELLED"
)

// Log is the ordered record of one run. It is returned to the caller in
// full; the caller decides whether a run containing FAILED entries is
// acceptable.
type Log struct {
	RunID      string    `json:"runId"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Entries    []Entry   `json:"entries"`
}

func newLog() *Log {
	return &Log{
		RunID:     uuid.NewString(),
		Status:    RunDone,
		StartedAt: nowUTC(),
	}
}

func nowUTC() time.Time { return time.Now().UTC() }

// Failed reports whether any entry failed.
func (l *Log) Failed() bool {
	for _, e := range l.Entries {
		if e.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Counts returns totals per status, for summaries.
func (l *Log) Counts() map[Status]int {
	out := map[Status]int{}
	for _, e := range l.Entries {
		out[e.Status]++
	}
	return out
}
