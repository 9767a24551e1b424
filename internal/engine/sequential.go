package engine

import (
	"context"

	"github.com/EffortlessMetrics/shipper/internal/planner"
	"github.com/EffortlessMetrics/shipper/internal/state"
)

// Run executes a Plan one package at a time in topological order
// (spec.md §4.5). A package already Published or Skipped from a prior,
// interrupted run sharing this ExecutionState is left untouched; one
// already Uploaded re-enters at the readiness step only, never
// re-invoking the upload (spec.md §4.7). Any other status (Pending,
// InFlight, or a resumed Failed re-entering the attempt loop) goes
// through the full per-package attempt sequence.
//
// A package ending Failed aborts the run: no further package in plan
// order is attempted, matching spec.md §4.5 step 4c/5 ("transition →
// Failed; persist; abort the run"). Packages not yet reached are left in
// whatever status they already had, to be picked up on a future resume.
func (e *Engine) Run(ctx context.Context, plan planner.Plan, es *state.ExecutionState) error {
	e.Prepare(plan)

	for _, id := range plan.Order {
		ps := es.Packages[id]
		if ps.Status == state.Published || ps.Status == state.Skipped {
			continue
		}

		pkg := e.byID[id]

		var err error
		if ps.Status == state.Uploaded {
			err = e.awaitReadiness(ctx, pkg, ps, es)
		} else {
			err = e.publishPackage(ctx, pkg, es)
		}
		if err != nil {
			return err
		}
		if ps.Status == state.Failed {
			break
		}
	}

	return e.persist(es, state.EventPlanComplete, "", map[string]interface{}{"succeeded": es.AllSucceeded()})
}
