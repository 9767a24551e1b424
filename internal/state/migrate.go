package state

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReceiptV1 is the legacy receipt shape, kept only as a migration source
// (spec.md §4.7 "a migration helper rewrites a v1 receipt to v2 by
// filling absent fields with safe defaults").
type ReceiptV1 struct {
	SchemaVersion string          `json:"schema_version"`
	PlanID        string          `json:"plan_id"`
	Registry      string          `json:"registry"` // v1 carried only a name, not the full identity
	StartedAt     json.RawMessage `json:"started_at"`
	FinishedAt    json.RawMessage `json:"finished_at"`
	Packages      []*PackageState `json:"packages"`
	EventLogPath  string          `json:"event_log_path"`
}

// MigrateReceiptV1ToV2 rewrites a v1 receipt to v2, filling every field
// v1 never had with a safe zero value. Migration is explicit and never
// automatic — readers refuse unrecognized major versions rather than
// upgrading them in place (spec.md §4.7, §7).
func MigrateReceiptV1ToV2(data []byte) (Receipt, error) {
	var v1 ReceiptV1
	if err := json.Unmarshal(data, &v1); err != nil {
		return Receipt{}, fmt.Errorf("parse v1 receipt: %w", err)
	}

	var startedAt, finishedAt time.Time
	if err := json.Unmarshal(v1.StartedAt, &startedAt); err != nil {
		return Receipt{}, fmt.Errorf("parse v1 started_at: %w", err)
	}
	if len(v1.FinishedAt) > 0 {
		if err := json.Unmarshal(v1.FinishedAt, &finishedAt); err != nil {
			return Receipt{}, fmt.Errorf("parse v1 finished_at: %w", err)
		}
	}

	succeeded := true
	for _, p := range v1.Packages {
		if p.Status != Published && p.Status != Skipped {
			succeeded = false
			break
		}
	}

	return Receipt{
		SchemaVersion: ReceiptSchemaV2,
		PlanID:        v1.PlanID,
		Registry:      RegistryIdentity{Name: v1.Registry},
		StartedAt:     startedAt,
		FinishedAt:    finishedAt,
		Packages:      v1.Packages,
		EventLogPath:  v1.EventLogPath,
		Environment:   Environment{}, // absent in v1; left zero per spec.md's "safe defaults"
		Succeeded:     succeeded,
	}, nil
}
