package state

import "github.com/EffortlessMetrics/shipper/internal/shiperr"

// Package-internal aliases of the shared taxonomy; the exported values
// below let callers that only import state match with errors.Is.
var (
	errStateCorrupt      = shiperr.ErrStateCorrupt
	errSchemaUnsupported = shiperr.ErrSchemaUnsupported
	errLockHeld          = shiperr.ErrLockHeld
)

// ErrLockHeld is returned when AcquireLock finds a live, non-stale lock
// (spec.md §4.5 step 1, §7).
var ErrLockHeld = shiperr.ErrLockHeld

// ErrStateCorrupt is returned when state.json fails to parse after the
// single retry-on-parse-failure allowance, or when receipt.json fails to
// parse (read once, without a retry) (spec.md §7).
var ErrStateCorrupt = shiperr.ErrStateCorrupt

// ErrSchemaUnsupported is returned when a persisted file's schema_version
// major component exceeds what this build understands (spec.md §4.7, §7).
var ErrSchemaUnsupported = shiperr.ErrSchemaUnsupported
