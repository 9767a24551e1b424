// Package shiperr defines the sentinel and typed errors shared across the
// publish engine. Using sentinels instead of ad-hoc fmt.Errorf allows
// callers to match with errors.Is/errors.As for reliable error handling.
package shiperr

import "errors"

// Sentinel errors for conditions with no further structured data.
var (
	// ErrCycleDetected is returned when the workspace dependency graph
	// restricted to publishable, selected packages is not a DAG.
	ErrCycleDetected = errors.New("cycle detected in workspace dependency graph")

	// ErrLockHeld is returned when the workspace lock is held by another
	// run and is not stale enough to break.
	ErrLockHeld = errors.New("publish lock held by another run")

	// ErrPlanMismatch is returned on resume when the recomputed plan ID
	// differs from the persisted one.
	ErrPlanMismatch = errors.New("recomputed plan ID does not match persisted state")

	// ErrReadinessTimeout is returned when a package never becomes visible
	// within max_total_wait.
	ErrReadinessTimeout = errors.New("registry readiness probe timed out")

	// ErrRegistryUnreachable is returned when a registry probe exhausts its
	// retry budget with only transient errors.
	ErrRegistryUnreachable = errors.New("registry unreachable")

	// ErrStateCorrupt is returned when state.json fails to parse after the
	// single retry-on-parse-failure allowance.
	ErrStateCorrupt = errors.New("state file is corrupt")

	// ErrSchemaUnsupported is returned when a persisted file's schema_version
	// has an unknown major version.
	ErrSchemaUnsupported = errors.New("unsupported schema version")

	// ErrCancelled is returned when a run is cancelled at a suspension point.
	ErrCancelled = errors.New("run cancelled")

	// ErrNoToken is returned when a token is required but none was resolved.
	ErrNoToken = errors.New("no registry token resolved")
)

// PreflightFailed carries the reason a plan failed preflight (spec.md §4.4).
type PreflightFailed struct {
	Reason string
}

func (e *PreflightFailed) Error() string {
	return "preflight failed: " + e.Reason
}

// ErrorClass classifies an upload failure for retry policy purposes
// (spec.md §4.6).
type ErrorClass int

const (
	// ClassRetryable covers HTTP 429/5xx, connect/read timeouts, disconnects.
	ClassRetryable ErrorClass = iota
	// ClassPermanent covers HTTP 401/403/400/422, already-exists, cycles,
	// invalid manifests.
	ClassPermanent
	// ClassAmbiguous covers unclear non-zero exits and
	// write-then-disconnect patterns; resolved by a registry probe.
	ClassAmbiguous
	// ClassTimeout covers a per-package deadline expiry in parallel mode;
	// treated as retryable.
	ClassTimeout
)

func (c ErrorClass) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassPermanent:
		return "permanent"
	case ClassAmbiguous:
		return "ambiguous"
	case ClassTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// UploadFailed carries the classified evidence of a failed upload attempt.
type UploadFailed struct {
	Class ErrorClass
	// Evidence is a short, redacted description of the failure (stderr tail,
	// exit code) suitable for inclusion in a receipt.
	Evidence string
}

func (e *UploadFailed) Error() string {
	return "upload failed (" + e.Class.String() + "): " + e.Evidence
}
