package state

import "time"

// ReceiptSchemaV2 is the current receipt schema (spec.md §4.7, §6:
// "receipt.v2").
const ReceiptSchemaV2 = "2.0"

// RegistryIdentity names the registry a receipt was produced against
// (spec.md §6 receipt.v2 shape).
type RegistryIdentity struct {
	Name      string `json:"name"`
	APIBase   string `json:"api_base"`
	IndexBase string `json:"index_base,omitempty"`
}

// GitContext mirrors internal/vcs.Context without importing it, keeping
// the state package free of a dependency on git tooling.
type GitContext struct {
	Commit string `json:"commit"`
	Branch string `json:"branch"`
	Tag    string `json:"tag,omitempty"`
	Dirty  bool   `json:"dirty"`
}

// Environment is the engine/tool/runtime/OS/arch fingerprint named in
// spec.md §3 Receipt but not separately specified (SPEC_FULL.md §7).
type Environment struct {
	EngineVersion  string `json:"engine_version"`
	ToolVersion    string `json:"tool_version,omitempty"`
	GoVersion      string `json:"go_version"`
	OS             string `json:"os"`
	Arch           string `json:"arch"`
}

// Receipt is the terminal, immutable snapshot of a completed run
// (spec.md §3, §6). Readers MUST refuse unknown major versions
// (validateMajorVersion enforces this in ReadReceipt).
type Receipt struct {
	SchemaVersion string           `json:"schema_version"`
	PlanID        string           `json:"plan_id"`
	RunID         string           `json:"run_id"`
	Registry      RegistryIdentity `json:"registry"`
	StartedAt     time.Time        `json:"started_at"`
	FinishedAt    time.Time        `json:"finished_at"`
	Packages      []*PackageState  `json:"packages"`
	EventLogPath  string           `json:"event_log_path"`
	GitContext    *GitContext      `json:"git_context,omitempty"`
	Environment   Environment      `json:"environment"`
	Succeeded     bool             `json:"succeeded"`
}

// BuildReceipt assembles a Receipt from final run state. Called
// unconditionally on engine exit, success or failure (spec.md §7).
func BuildReceipt(es *ExecutionState, runID string, registry RegistryIdentity, eventLogPath string, git *GitContext, env Environment, finishedAt time.Time) Receipt {
	return Receipt{
		SchemaVersion: ReceiptSchemaV2,
		PlanID:        es.PlanID,
		RunID:         runID,
		Registry:      registry,
		StartedAt:     es.StartedAt,
		FinishedAt:    finishedAt,
		Packages:      es.OrderedPackages(),
		EventLogPath:  eventLogPath,
		GitContext:    git,
		Environment:   env,
		Succeeded:     es.AllSucceeded(),
	}
}
