package engine

import (
	"fmt"

	"github.com/EffortlessMetrics/shipper/internal/planner"
	"github.com/EffortlessMetrics/shipper/internal/shiperr"
	"github.com/EffortlessMetrics/shipper/internal/state"
)

// StateLoader is the narrow capability Resume needs: load a prior run's
// persisted state. Satisfied by *state.Store.
type StateLoader interface {
	StateExists() bool
	LoadState() (*state.ExecutionState, error)
}

// Resume loads a prior run's ExecutionState and checks it against a freshly
// recomputed Plan, per the resume contract in spec.md §4.7: the plan ID
// must match exactly, or resuming is refused rather than silently
// re-planning a workspace that changed underneath it.
//
// A nil *state.ExecutionState with a nil error means no prior run exists —
// the caller should start fresh with state.NewExecutionState.
func Resume(store StateLoader, plan planner.Plan) (*state.ExecutionState, error) {
	if !store.StateExists() {
		return nil, nil
	}

	es, err := store.LoadState()
	if err != nil {
		return nil, fmt.Errorf("load prior state: %w", err)
	}
	if es.PlanID != plan.PlanID {
		return nil, fmt.Errorf("%w: prior plan_id %s, recomputed %s", shiperr.ErrPlanMismatch, es.PlanID, plan.PlanID)
	}
	return es, nil
}
