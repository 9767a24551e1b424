package engine

import (
	"context"

	"github.com/EffortlessMetrics/shipper/internal/pkgmeta"
	"github.com/EffortlessMetrics/shipper/internal/planner"
	"github.com/EffortlessMetrics/shipper/internal/state"
	"github.com/EffortlessMetrics/shipper/internal/worker"
)

// RunParallel executes a Plan wave by wave: every package within a wave has
// no in-plan dependency on another package in the same wave, so they run
// concurrently, bounded by Config.Concurrency; the engine waits for an
// entire wave to finish before starting the next (spec.md §4.5p). Within a
// wave, each package still goes through its own full retry/readiness
// sequence exactly as in sequential mode — a package already Uploaded goes
// straight to awaitReadiness instead of re-invoking upload (spec.md §4.7) —
// only the cross-package concurrency differs.
//
// A single Failed within a wave prevents the next wave from starting;
// packages already launched in that wave are allowed to finish first
// (spec.md §4.5p).
//
// Generalizes the teacher's internal/worker.Pool (originally fan-out over
// file paths) into a fan-out over one plan wave at a time.
func (e *Engine) RunParallel(ctx context.Context, plan planner.Plan, es *state.ExecutionState) error {
	e.Prepare(plan)

	for _, wave := range plan.Waves {
		var runnable []pkgmeta.ID
		for _, id := range wave {
			ps := es.Packages[id]
			if ps.Status == state.Published || ps.Status == state.Skipped {
				continue
			}
			runnable = append(runnable, id)
		}
		if len(runnable) == 0 {
			continue
		}
		e.Metrics.observeWave(len(runnable))

		pool := worker.NewPool[pkgmeta.ID, struct{}](e.Config.Concurrency)
		results := pool.Process(runnable, func(id pkgmeta.ID) (struct{}, error) {
			pkg := e.byID[id]
			ps := es.Packages[id]
			var err error
			if ps.Status == state.Uploaded {
				err = e.awaitReadiness(ctx, pkg, ps, es)
			} else {
				err = e.publishPackage(ctx, pkg, es)
			}
			return struct{}{}, err
		})

		waveFailed := false
		for i, r := range results {
			if r.Err != nil {
				return r.Err
			}
			id := runnable[i]
			if es.Packages[id].Status == state.Failed {
				waveFailed = true
			}
		}
		if waveFailed {
			break
		}
	}

	return e.persist(es, state.EventPlanComplete, "", map[string]interface{}{"succeeded": es.AllSucceeded()})
}
