package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/EffortlessMetrics/shipper/internal/pkgmeta"
	"github.com/EffortlessMetrics/shipper/internal/planner"
	"github.com/EffortlessMetrics/shipper/internal/reporter"
	"github.com/EffortlessMetrics/shipper/internal/runner"
	"github.com/EffortlessMetrics/shipper/internal/shiperr"
	"github.com/EffortlessMetrics/shipper/internal/state"
)

// CommandBuilder constructs the subprocess invocation for one package
// (spec.md §4.2); the CLI frontend supplies the actual packaging-tool
// command line, out of scope here (spec.md §1).
type CommandBuilder func(pkgmeta.Package) runner.Options

// Config tunes retry, backoff, and readiness behavior (spec.md §4.5, §4.6).
type Config struct {
	MaxAttempts int

	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    float64

	ReadinessPollInterval time.Duration
	ReadinessMaxWait      time.Duration

	// Concurrency bounds parallel workers within a single wave; 0 means
	// runtime.NumCPU (spec.md §4.5p).
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Minute
	}
	if c.Jitter <= 0 {
		c.Jitter = DefaultJitter
	}
	if c.ReadinessPollInterval <= 0 {
		c.ReadinessPollInterval = 2 * time.Second
	}
	if c.ReadinessMaxWait <= 0 {
		c.ReadinessMaxWait = 2 * time.Minute
	}
	return c
}

// Engine drives a Plan through its per-package state machine (spec.md §4.5,
// §4.5p). Every collaborator is a narrow capability interface so tests
// install doubles (spec.md §9).
type Engine struct {
	Runner       SubprocessRunner
	Registry     RegistryProbe
	Store        StateStore
	Reporter     reporter.Reporter
	BuildCommand CommandBuilder
	Config       Config
	// Metrics is optional; a nil Metrics makes every observe call a no-op.
	Metrics *Metrics

	// Now and Sleep are overridable for deterministic tests; production
	// callers leave them nil and get wall-clock behavior.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	byID    map[pkgmeta.ID]pkgmeta.Package
	stateMu sync.Mutex
}

// Prepare must be called once before Run/RunParallel to index the plan's
// packages and fill in defaulted config.
func (e *Engine) Prepare(plan planner.Plan) {
	e.Config = e.Config.withDefaults()
	if e.Now == nil {
		e.Now = time.Now
	}
	if e.Sleep == nil {
		e.Sleep = sleepCtx
	}
	if e.Reporter == nil {
		e.Reporter = reporter.Nop
	}
	e.byID = make(map[pkgmeta.ID]pkgmeta.Package, len(plan.Packages))
	for _, p := range plan.Packages {
		e.byID[p.ID] = p
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publishPackage drives one package from Pending (or a resumed InFlight/
// Failed) through every attempt to a terminal status (Published, Skipped,
// or Failed), persisting state and an event after every transition
// (spec.md §4.5, §4.7). It returns a non-nil error only for infrastructure
// failures (I/O, context cancellation) — ordinary upload failures end in a
// Failed status and a nil error. Callers must route a `Uploaded` package to
// awaitReadiness directly instead (spec.md §4.7: never re-invoke upload).
func (e *Engine) publishPackage(ctx context.Context, pkg pkgmeta.Package, es *state.ExecutionState) error {
	ps := es.Packages[pkg.ID]

	if ps.Status == state.Pending {
		found, err := e.precheckAlreadyPublished(ctx, pkg.ID)
		if err != nil {
			return err
		}
		if found {
			return e.skip(es, ps, pkg.ID, "already published")
		}
	}

	resumedFailed := ps.Status == state.Failed
	startedAt := e.Now()
	if err := e.transition(ps, state.InFlight, startedAt); err != nil {
		return err
	}
	if resumedFailed {
		ps.FailReason = ""
	}
	if ps.StartedAt == nil {
		ps.StartedAt = &startedAt
	}
	if err := e.persist(es, state.EventPackageStarted, pkg.ID.String(), nil); err != nil {
		return err
	}

	uploaded := false
	for !uploaded {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", shiperr.ErrCancelled, err)
		}

		ps.Attempt++
		opts := e.BuildCommand(pkg)
		result, err := e.Runner.Run(ctx, opts)
		if err != nil {
			return fmt.Errorf("run %s: %w", pkg.ID, err)
		}

		ps.Evidence = append(ps.Evidence, evidenceFrom(opts, result, e.Now()))
		if err := e.persist(es, state.EventPackageAttempted, pkg.ID.String(), map[string]interface{}{
			"attempt":   ps.Attempt,
			"exit_code": result.ExitCode,
		}); err != nil {
			return err
		}

		if result.ExitCode == 0 {
			e.Metrics.observeAttempt("success", result.Duration.Seconds())
			uploaded = true
			break
		}

		class := Classify(result)
		e.Metrics.observeAttempt(class.String(), result.Duration.Seconds())
		if class == shiperr.ClassPermanent {
			return e.fail(es, ps, pkg.ID, "permanent: "+result.Stderr)
		}

		if class == shiperr.ClassAmbiguous {
			resolved, rerr := e.resolveAmbiguous(ctx, pkg.ID)
			if rerr != nil {
				return rerr
			}
			if resolved {
				uploaded = true
				break
			}
		}

		if ps.Attempt >= e.Config.MaxAttempts {
			return e.fail(es, ps, pkg.ID, "exhausted retries: "+result.Stderr)
		}

		delay := jitteredDelay(e.Config.BaseDelay, e.Config.MaxDelay, ps.Attempt, e.Config.Jitter)
		if err := e.Sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %v", shiperr.ErrCancelled, err)
		}
	}

	if err := e.transition(ps, state.Uploaded, e.Now()); err != nil {
		return err
	}
	if err := e.persist(es, state.EventPackageUploaded, pkg.ID.String(), nil); err != nil {
		return err
	}

	return e.awaitReadiness(ctx, pkg, ps, es)
}

// precheckAlreadyPublished implements spec.md §4.5 step 2: before ever
// invoking the packaging tool for a fresh (Pending) package, ask the
// registry whether this exact version already exists. A Found result means
// the package should transition straight to Skipped without spending an
// attempt (spec.md §8 Scenario 2 "already published skip").
func (e *Engine) precheckAlreadyPublished(ctx context.Context, id pkgmeta.ID) (bool, error) {
	if e.Registry == nil {
		return false, nil
	}
	status, err := e.Registry.VersionExists(ctx, id.Name, id.Version)
	if err != nil {
		return false, nil // infrastructure hiccup: don't block the attempt loop on a failed pre-check probe
	}
	return status == ProbeFound, nil
}

// resolveAmbiguous probes the registry to decide whether an ambiguous
// upload attempt actually landed (spec.md §4.5 step 4b, §4.6).
func (e *Engine) resolveAmbiguous(ctx context.Context, id pkgmeta.ID) (bool, error) {
	if e.Registry == nil {
		return false, nil
	}
	status, err := e.Registry.VersionExists(ctx, id.Name, id.Version)
	if err != nil {
		return false, nil // infrastructure hiccup: treat as unresolved, keep retrying
	}
	return status == ProbeFound, nil
}

// awaitReadiness polls the index until the package becomes visible or
// ReadinessMaxWait elapses (spec.md §4.5 step 5, §4.6 ErrReadinessTimeout).
func (e *Engine) awaitReadiness(ctx context.Context, pkg pkgmeta.Package, ps *state.PackageState, es *state.ExecutionState) error {
	if e.Registry == nil {
		return e.publish(es, ps, pkg.ID)
	}

	deadline := e.Now().Add(e.Config.ReadinessMaxWait)
	attempt := 0
	for {
		attempt++
		var delayBefore time.Duration
		if attempt > 1 {
			delayBefore = e.Config.ReadinessPollInterval
			if err := e.Sleep(ctx, delayBefore); err != nil {
				return fmt.Errorf("%w: %v", shiperr.ErrCancelled, err)
			}
		}

		status, err := e.Registry.IndexLookup(ctx, pkg.ID.Name, pkg.ID.Version)
		visible := err == nil && status == ProbeFound
		now := e.Now()
		ps.Readiness = append(ps.Readiness, state.ReadinessProbe{
			Attempt:     attempt,
			DelayBefore: delayBefore,
			Visible:     visible,
			Timestamp:   now,
		})
		if err := e.persist(es, state.EventReadinessProbed, pkg.ID.String(), map[string]interface{}{
			"attempt": attempt,
			"visible": visible,
		}); err != nil {
			return err
		}

		if visible {
			return e.publish(es, ps, pkg.ID)
		}
		if now.After(deadline) {
			return e.fail(es, ps, pkg.ID, shiperr.ErrReadinessTimeout.Error())
		}
	}
}

func (e *Engine) publish(es *state.ExecutionState, ps *state.PackageState, id pkgmeta.ID) error {
	if err := e.transition(ps, state.Published, e.Now()); err != nil {
		return err
	}
	e.Metrics.observeOutcome(string(state.Published))
	return e.persist(es, state.EventPackagePublished, id.String(), nil)
}

func (e *Engine) fail(es *state.ExecutionState, ps *state.PackageState, id pkgmeta.ID, reason string) error {
	if err := e.transition(ps, state.Failed, e.Now()); err != nil {
		return err
	}
	ps.FailReason = reason
	e.Metrics.observeOutcome(string(state.Failed))
	return e.persist(es, state.EventPackageFailed, id.String(), map[string]interface{}{"reason": reason})
}

func (e *Engine) skip(es *state.ExecutionState, ps *state.PackageState, id pkgmeta.ID, reason string) error {
	if err := e.transition(ps, state.Skipped, e.Now()); err != nil {
		return err
	}
	ps.SkipReason = reason
	e.Metrics.observeOutcome(string(state.Skipped))
	return e.persist(es, state.EventPackageSkipped, id.String(), map[string]interface{}{"reason": reason})
}

// transition validates and applies a state machine edge (spec.md §3),
// stamping FinishedAt when the destination is terminal.
func (e *Engine) transition(ps *state.PackageState, to state.Status, now time.Time) error {
	if !state.ValidTransition(ps.Status, to) {
		return fmt.Errorf("invalid transition %s -> %s for %s", ps.Status, to, ps.ID)
	}
	ps.Status = to
	switch to {
	case state.Published, state.Skipped, state.Failed:
		finished := now
		ps.FinishedAt = &finished
	}
	return nil
}

// persist saves the full state and appends one event, serialized across
// whatever goroutine called it — wave-parallel execution shares one
// ExecutionState and one Store (spec.md §4.5p).
func (e *Engine) persist(es *state.ExecutionState, typ state.EventType, pkg string, details map[string]interface{}) error {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	es.UpdatedAt = e.Now()
	if err := e.Store.SaveState(es); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return e.Store.AppendEvent(state.NewEvent(e.Now(), typ, pkg, details))
}

func evidenceFrom(opts runner.Options, result runner.Result, now time.Time) state.Evidence {
	// result.Command is the runner's redacted copy of the command line.
	command := result.Command
	if len(command) == 0 {
		command = append([]string{opts.Command}, opts.Args...)
	}
	return state.Evidence{
		Command:    command,
		ExitCode:   result.ExitCode,
		StdoutTail: result.Stdout,
		StderrTail: result.Stderr,
		Duration:   result.Duration,
		Timestamp:  now,
	}
}
