// Package state owns every file under the configured state directory:
// state.json (current ExecutionState), events.jsonl (append-only event
// log), receipt.json (terminal snapshot), and lock (cross-process
// exclusion). Nothing outside this package writes to those files
// (spec.md §3 Ownership).
package state

import (
	"time"

	"github.com/EffortlessMetrics/shipper/internal/pkgmeta"
)

// SchemaVersion is the current major.minor schema of state.json and
// receipt.json. Readers refuse an unknown major version (spec.md §4.7).
const SchemaVersion = "2.0"

// Status is a package's position in the per-package state machine
// (spec.md §3).
type Status string

const (
	Pending  Status = "pending"
	InFlight Status = "in_flight"
	Uploaded Status = "uploaded"
	Published Status = "published"
	Skipped  Status = "skipped"
	Failed   Status = "failed"
)

// transitions enumerates every edge in the state machine diagram in
// spec.md §3. ValidTransition uses this table directly so the
// state-machine-soundness property (spec.md §8) is checkable by
// construction rather than by convention.
var transitions = map[Status][]Status{
	Pending:  {InFlight, Skipped},
	InFlight: {Uploaded, InFlight, Failed}, // self-loop: retry
	Uploaded: {Published, Failed},
	Failed:   {InFlight}, // resume re-enters the attempt loop (spec.md §4.7)
	// Published, Skipped are terminal.
}

// ValidTransition reports whether moving a package from `from` to `to` is
// one of the edges spec.md §3 allows.
func ValidTransition(from, to Status) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Evidence captures one subprocess attempt (spec.md §3 Evidence).
type Evidence struct {
	Command   []string      `json:"command"`
	ExitCode  int           `json:"exit_code"`
	StdoutTail string       `json:"stdout_tail"`
	StderrTail string       `json:"stderr_tail"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// ReadinessProbe captures one registry visibility poll (spec.md §3 Evidence).
type ReadinessProbe struct {
	Attempt     int           `json:"attempt"`
	DelayBefore time.Duration `json:"delay_before"`
	Visible     bool          `json:"visible"`
	Timestamp   time.Time     `json:"timestamp"`
}

// PackageState is the per-package record within an ExecutionState
// (spec.md §3).
type PackageState struct {
	ID         pkgmeta.ID       `json:"id"`
	Status     Status           `json:"status"`
	Attempt    int              `json:"attempt"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Evidence   []Evidence       `json:"evidence,omitempty"`
	Readiness  []ReadinessProbe `json:"readiness,omitempty"`
	SkipReason string           `json:"skip_reason,omitempty"`
	FailReason string           `json:"fail_reason,omitempty"`
}

// ExecutionState is the full persisted run state (spec.md §3).
type ExecutionState struct {
	SchemaVersion string                          `json:"schema_version"`
	PlanID        string                          `json:"plan_id"`
	Order         []pkgmeta.ID                    `json:"order"`
	Packages      map[pkgmeta.ID]*PackageState     `json:"packages"`
	StartedAt     time.Time                        `json:"started_at"`
	UpdatedAt     time.Time                        `json:"updated_at"`
}

// NewExecutionState seeds a fresh state with every package Pending, in
// plan order.
func NewExecutionState(planID string, order []pkgmeta.ID, now time.Time) *ExecutionState {
	packages := make(map[pkgmeta.ID]*PackageState, len(order))
	for _, id := range order {
		packages[id] = &PackageState{ID: id, Status: Pending}
	}
	return &ExecutionState{
		SchemaVersion: SchemaVersion,
		PlanID:        planID,
		Order:         order,
		Packages:      packages,
		StartedAt:     now,
		UpdatedAt:     now,
	}
}

// OrderedPackages returns the per-package states in plan order, the shape
// every reader (receipt writer, reporter) wants instead of ranging over
// the map.
func (s *ExecutionState) OrderedPackages() []*PackageState {
	out := make([]*PackageState, 0, len(s.Order))
	for _, id := range s.Order {
		out = append(out, s.Packages[id])
	}
	return out
}

// Done reports whether every package reached a terminal status. The exit
// code is decided by AllSucceeded, not by Done.
func (s *ExecutionState) Done() bool {
	for _, p := range s.Packages {
		switch p.Status {
		case Published, Skipped, Failed:
		default:
			return false
		}
	}
	return true
}

// AllSucceeded reports whether every package is Published or Skipped —
// the condition for engine exit code 0 (spec.md §4.5).
func (s *ExecutionState) AllSucceeded() bool {
	for _, p := range s.Packages {
		if p.Status != Published && p.Status != Skipped {
			return false
		}
	}
	return true
}
