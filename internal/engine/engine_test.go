package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/EffortlessMetrics/shipper/internal/pkgmeta"
	"github.com/EffortlessMetrics/shipper/internal/planner"
	"github.com/EffortlessMetrics/shipper/internal/runner"
	"github.com/EffortlessMetrics/shipper/internal/state"
)

// fakeStore is a minimal StateStore double; production persistence is
// covered by internal/state's own tests.
type fakeStore struct {
	mu     sync.Mutex
	saves  int
	events []state.Event
}

func (f *fakeStore) SaveState(es *state.ExecutionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	return nil
}

func (f *fakeStore) AppendEvent(e state.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

// fakeRegistry answers VersionExists NotFound on the first query for a given
// name@version (the pre-upload pre-check, spec.md §4.5 step 2) unless the
// name is listed in alreadyPublished, and versionStatus on every later
// query for the same name@version (ambiguous-failure resolution, spec.md
// §4.5 step 4b). IndexLookup always answers indexStatus.
type fakeRegistry struct {
	mu               sync.Mutex
	seen             map[string]bool
	alreadyPublished map[string]bool
	versionStatus    ProbeStatus
	indexStatus      ProbeStatus
}

func (f *fakeRegistry) VersionExists(ctx context.Context, name, version string) (ProbeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := name + "@" + version
	first := !f.seen[key]
	f.seen[key] = true
	if first {
		if f.alreadyPublished[name] {
			return ProbeFound, nil
		}
		return ProbeNotFound, nil
	}
	return f.versionStatus, nil
}

func (f *fakeRegistry) IndexLookup(ctx context.Context, name, version string) (ProbeStatus, error) {
	return f.indexStatus, nil
}

func alwaysFoundRegistry() *fakeRegistry {
	return &fakeRegistry{versionStatus: ProbeFound, indexStatus: ProbeFound}
}

func pkgID(name string) pkgmeta.ID { return pkgmeta.ID{Name: name, Version: "1.0.0"} }

func buildCommand(pkg pkgmeta.Package) runner.Options {
	return runner.Options{Command: "cargo", Args: []string{"publish", "--package", pkg.ID.Name}}
}

func noopSleep(ctx context.Context, d time.Duration) error { return nil }

func newTestEngine(run func(ctx context.Context, opts runner.Options) (runner.Result, error), reg RegistryProbe, store StateStore) *Engine {
	return &Engine{
		Runner:       RunnerFunc(run),
		Registry:     reg,
		Store:        store,
		BuildCommand: buildCommand,
		Config:       Config{MaxAttempts: 3},
		Sleep:        noopSleep,
	}
}

func TestRunSequentialAllPublish(t *testing.T) {
	ws := pkgmeta.Workspace{Packages: []pkgmeta.Package{
		{ID: pkgID("a"), Publishable: true},
		{ID: pkgID("b"), DependsOn: []pkgmeta.ID{pkgID("a")}, Publishable: true},
	}}
	plan, err := planner.Build(ws, planner.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	store := &fakeStore{}
	e := newTestEngine(func(ctx context.Context, opts runner.Options) (runner.Result, error) {
		return runner.Result{ExitCode: 0}, nil
	}, alwaysFoundRegistry(), store)

	es := state.NewExecutionState(plan.PlanID, plan.Order, time.Now())
	if err := e.Run(context.Background(), plan, es); err != nil {
		t.Fatalf("Run: %v", err)
	}

	for _, id := range plan.Order {
		if got := es.Packages[id].Status; got != state.Published {
			t.Errorf("package %s status = %s, want published", id, got)
		}
	}
	if !es.AllSucceeded() {
		t.Error("AllSucceeded() = false, want true")
	}
}

// TestRunSequentialPermanentFailureAbortsRun exercises spec.md §4.5 step 4c/5:
// a permanent failure transitions the package to Failed, persists, and
// aborts the run outright — it does not merely skip the failed package's
// dependents while letting unrelated packages continue. b (a dependent) and
// c (wholly independent of a) are both still first in plan order after a,
// so neither is ever attempted; they remain Pending for a future resume.
func TestRunSequentialPermanentFailureAbortsRun(t *testing.T) {
	ws := pkgmeta.Workspace{Packages: []pkgmeta.Package{
		{ID: pkgID("a"), Publishable: true},
		{ID: pkgID("b"), DependsOn: []pkgmeta.ID{pkgID("a")}, Publishable: true},
		{ID: pkgID("c"), Publishable: true},
	}}
	plan, err := planner.Build(ws, planner.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	store := &fakeStore{}
	e := newTestEngine(func(ctx context.Context, opts runner.Options) (runner.Result, error) {
		if opts.Args[2] == "a" {
			return runner.Result{ExitCode: 1, Stderr: "error: invalid manifest"}, nil
		}
		return runner.Result{ExitCode: 0}, nil
	}, alwaysFoundRegistry(), store)

	es := state.NewExecutionState(plan.PlanID, plan.Order, time.Now())
	if err := e.Run(context.Background(), plan, es); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := es.Packages[pkgID("a")].Status; got != state.Failed {
		t.Errorf("a status = %s, want failed", got)
	}
	if got := es.Packages[pkgID("b")].Status; got != state.Pending {
		t.Errorf("b status = %s, want pending (run aborted before b was reached)", got)
	}
	if got := es.Packages[pkgID("c")].Status; got != state.Pending {
		t.Errorf("c status = %s, want pending (run aborted, independent package never attempted)", got)
	}
	if es.AllSucceeded() {
		t.Error("AllSucceeded() = true, want false")
	}
}

func TestRunSequentialRetriesThenSucceeds(t *testing.T) {
	ws := pkgmeta.Workspace{Packages: []pkgmeta.Package{{ID: pkgID("a"), Publishable: true}}}
	plan, err := planner.Build(ws, planner.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	attempts := 0
	store := &fakeStore{}
	e := newTestEngine(func(ctx context.Context, opts runner.Options) (runner.Result, error) {
		attempts++
		if attempts < 3 {
			return runner.Result{ExitCode: 1, Stderr: "connection reset by peer"}, nil
		}
		return runner.Result{ExitCode: 0}, nil
	}, alwaysFoundRegistry(), store)

	es := state.NewExecutionState(plan.PlanID, plan.Order, time.Now())
	if err := e.Run(context.Background(), plan, es); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if got := es.Packages[pkgID("a")].Status; got != state.Published {
		t.Errorf("status = %s, want published", got)
	}
}

func TestRunSequentialAmbiguousResolvedByProbe(t *testing.T) {
	ws := pkgmeta.Workspace{Packages: []pkgmeta.Package{{ID: pkgID("a"), Publishable: true}}}
	plan, err := planner.Build(ws, planner.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	store := &fakeStore{}
	e := newTestEngine(func(ctx context.Context, opts runner.Options) (runner.Result, error) {
		return runner.Result{ExitCode: 1, Stderr: "error: upload timed out"}, nil
	}, alwaysFoundRegistry(), store)

	es := state.NewExecutionState(plan.PlanID, plan.Order, time.Now())
	if err := e.Run(context.Background(), plan, es); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ps := es.Packages[pkgID("a")]
	if ps.Status != state.Published {
		t.Errorf("status = %s, want published (ambiguous resolved true by registry probe)", ps.Status)
	}
	if ps.Attempt != 1 {
		t.Errorf("attempt = %d, want 1 (resolved on first attempt, no retry needed)", ps.Attempt)
	}
}

// TestRunSequentialAlreadyPublishedSkip exercises spec.md §8 Scenario 2: a
// Pending package whose version the registry already reports Found is
// skipped before the packaging tool is ever invoked.
func TestRunSequentialAlreadyPublishedSkip(t *testing.T) {
	ws := pkgmeta.Workspace{Packages: []pkgmeta.Package{{ID: pkgID("a"), Publishable: true}}}
	plan, err := planner.Build(ws, planner.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	store := &fakeStore{}
	reg := &fakeRegistry{alreadyPublished: map[string]bool{"a": true}, indexStatus: ProbeFound}
	e := newTestEngine(func(ctx context.Context, opts runner.Options) (runner.Result, error) {
		t.Fatal("packaging tool invoked for an already-published package")
		return runner.Result{}, nil
	}, reg, store)

	es := state.NewExecutionState(plan.PlanID, plan.Order, time.Now())
	if err := e.Run(context.Background(), plan, es); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ps := es.Packages[pkgID("a")]
	if ps.Status != state.Skipped {
		t.Errorf("status = %s, want skipped", ps.Status)
	}
	if ps.SkipReason != "already published" {
		t.Errorf("SkipReason = %q, want %q", ps.SkipReason, "already published")
	}
	if ps.Attempt != 0 {
		t.Errorf("attempt = %d, want 0 (no attempt spent on a pre-check skip)", ps.Attempt)
	}
	if !es.AllSucceeded() {
		t.Error("AllSucceeded() = false, want true")
	}
}

// TestResumeFromUploadedGoesStraightToReadiness exercises spec.md §8
// Scenario 3: a package persisted as Uploaded from an interrupted prior run
// re-enters at the readiness step only, never re-invoking the packaging
// tool (spec.md §4.7).
func TestResumeFromUploadedGoesStraightToReadiness(t *testing.T) {
	ws := pkgmeta.Workspace{Packages: []pkgmeta.Package{{ID: pkgID("a"), Publishable: true}}}
	plan, err := planner.Build(ws, planner.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	store := &fakeStore{}
	e := newTestEngine(func(ctx context.Context, opts runner.Options) (runner.Result, error) {
		t.Fatal("packaging tool re-invoked for a package already Uploaded")
		return runner.Result{}, nil
	}, alwaysFoundRegistry(), store)

	es := state.NewExecutionState(plan.PlanID, plan.Order, time.Now())
	es.Packages[pkgID("a")].Status = state.Uploaded
	es.Packages[pkgID("a")].Attempt = 1

	if err := e.Run(context.Background(), plan, es); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ps := es.Packages[pkgID("a")]
	if ps.Status != state.Published {
		t.Errorf("status = %s, want published", ps.Status)
	}
	if len(ps.Readiness) == 0 {
		t.Error("expected at least one readiness probe recorded")
	}
}

// TestResumeFailedRetriesWithContinuingAttemptCounter exercises spec.md
// §4.7: a package persisted as Failed re-enters the full attempt loop on
// resume, continuing its attempt counter rather than starting over.
func TestResumeFailedRetriesWithContinuingAttemptCounter(t *testing.T) {
	ws := pkgmeta.Workspace{Packages: []pkgmeta.Package{{ID: pkgID("a"), Publishable: true}}}
	plan, err := planner.Build(ws, planner.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	calls := 0
	store := &fakeStore{}
	e := newTestEngine(func(ctx context.Context, opts runner.Options) (runner.Result, error) {
		calls++
		return runner.Result{ExitCode: 0}, nil
	}, alwaysFoundRegistry(), store)

	es := state.NewExecutionState(plan.PlanID, plan.Order, time.Now())
	ps := es.Packages[pkgID("a")]
	ps.Status = state.Failed
	ps.Attempt = 2
	ps.FailReason = "exhausted retries: connection reset by peer"

	if err := e.Run(context.Background(), plan, es); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if calls != 1 {
		t.Errorf("packaging tool invoked %d times, want 1", calls)
	}
	if ps.Attempt != 3 {
		t.Errorf("attempt = %d, want 3 (continuing from 2, not restarted at 1)", ps.Attempt)
	}
	if ps.FailReason != "" {
		t.Errorf("FailReason = %q, want cleared on successful retry", ps.FailReason)
	}
	if ps.Status != state.Published {
		t.Errorf("status = %s, want published", ps.Status)
	}
}

func TestRunParallelWavesRespectDependencies(t *testing.T) {
	ws := pkgmeta.Workspace{Packages: []pkgmeta.Package{
		{ID: pkgID("a"), Publishable: true},
		{ID: pkgID("b"), Publishable: true},
		{ID: pkgID("c"), DependsOn: []pkgmeta.ID{pkgID("a"), pkgID("b")}, Publishable: true},
	}}
	plan, err := planner.Build(ws, planner.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Waves) != 2 {
		t.Fatalf("expected 2 waves, got %d", len(plan.Waves))
	}

	store := &fakeStore{}
	e := newTestEngine(func(ctx context.Context, opts runner.Options) (runner.Result, error) {
		return runner.Result{ExitCode: 0}, nil
	}, alwaysFoundRegistry(), store)
	e.Config.Concurrency = 2

	es := state.NewExecutionState(plan.PlanID, plan.Order, time.Now())
	if err := e.RunParallel(context.Background(), plan, es); err != nil {
		t.Fatalf("RunParallel: %v", err)
	}
	if !es.AllSucceeded() {
		t.Error("AllSucceeded() = false, want true")
	}
}

// TestRunParallelWaveFailureBlocksNextWave exercises spec.md §4.5p: a
// Failed package in one wave prevents the next wave from starting, while
// the rest of that wave's already-launched packages are allowed to finish.
// c depends only on b, not on the failing a, so the old per-dependent
// cascade-skip would have let c's wave run anyway; the wave barrier must
// stop it regardless of which package in the prior wave it depends on.
func TestRunParallelWaveFailureBlocksNextWave(t *testing.T) {
	ws := pkgmeta.Workspace{Packages: []pkgmeta.Package{
		{ID: pkgID("a"), Publishable: true},
		{ID: pkgID("b"), Publishable: true},
		{ID: pkgID("c"), DependsOn: []pkgmeta.ID{pkgID("b")}, Publishable: true},
	}}
	plan, err := planner.Build(ws, planner.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Waves) != 2 {
		t.Fatalf("expected 2 waves, got %d", len(plan.Waves))
	}

	store := &fakeStore{}
	e := newTestEngine(func(ctx context.Context, opts runner.Options) (runner.Result, error) {
		if opts.Args[2] == "a" {
			return runner.Result{ExitCode: 1, Stderr: "error: invalid manifest"}, nil
		}
		return runner.Result{ExitCode: 0}, nil
	}, alwaysFoundRegistry(), store)
	e.Config.Concurrency = 2

	es := state.NewExecutionState(plan.PlanID, plan.Order, time.Now())
	if err := e.RunParallel(context.Background(), plan, es); err != nil {
		t.Fatalf("RunParallel: %v", err)
	}

	if got := es.Packages[pkgID("a")].Status; got != state.Failed {
		t.Errorf("a status = %s, want failed", got)
	}
	if got := es.Packages[pkgID("b")].Status; got != state.Published {
		t.Errorf("b status = %s, want published (already launched in the failed wave)", got)
	}
	if got := es.Packages[pkgID("c")].Status; got != state.Pending {
		t.Errorf("c status = %s, want pending (next wave never started)", got)
	}
	if es.AllSucceeded() {
		t.Error("AllSucceeded() = true, want false")
	}
}
