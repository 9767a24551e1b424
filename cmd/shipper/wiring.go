package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/EffortlessMetrics/shipper/internal/config"
	"github.com/EffortlessMetrics/shipper/internal/engine"
	"github.com/EffortlessMetrics/shipper/internal/pkgmeta"
	"github.com/EffortlessMetrics/shipper/internal/planner"
	"github.com/EffortlessMetrics/shipper/internal/preflight"
	"github.com/EffortlessMetrics/shipper/internal/registry"
	"github.com/EffortlessMetrics/shipper/internal/reporter"
	"github.com/EffortlessMetrics/shipper/internal/runner"
	"github.com/EffortlessMetrics/shipper/internal/state"
	"github.com/EffortlessMetrics/shipper/internal/token"
	"github.com/EffortlessMetrics/shipper/internal/vcs"
)

// core bundles every wired collaborator a publish or resume run needs.
type core struct {
	cfg    *config.Config
	rep    reporter.Reporter
	store  *state.Store
	client *registry.Client
	tok    string
	plan   planner.Plan
	lock   *state.Lock
	runID  string
}

func wireCore(ctx context.Context) (*core, error) {
	cfg, err := config.Load(flagConfigPath, nil)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Verbose {
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	rep := reporter.New(logger)

	store, err := state.New(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	lock, err := store.AcquireLock(state.AcquireOptions{
		StaleAfter: 2 * time.Hour,
		Force:      cfg.Force,
	})
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	ws, err := loadWorkspace(flagWorkspace)
	if err != nil {
		return nil, err
	}

	selectIDs, err := parseSelect(flagSelect)
	if err != nil {
		return nil, err
	}

	plan, err := planner.Build(ws, planner.Options{Select: selectIDs})
	if err != nil {
		return nil, fmt.Errorf("build plan: %w", err)
	}

	tok, err := token.Resolve(token.ResolveOptions{Registry: cfg.Registry.Name})
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}

	client := registry.New(registry.Config{
		Name:      cfg.Registry.Name,
		APIBase:   cfg.Registry.APIBase,
		IndexBase: cfg.Registry.IndexBase,
	}, registry.WithToken(tok), registry.WithTimeout(cfg.Registry.Timeout()), registry.WithLogger(logger))

	rep.Info("plan built", reporter.String("plan_id", plan.PlanID), reporter.Int("packages", len(plan.Packages)))

	return &core{cfg: cfg, rep: rep, store: store, client: client, tok: tok, plan: plan, lock: lock, runID: uuid.NewString()}, nil
}

func parseSelect(refs []string) ([]pkgmeta.ID, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	ids := make([]pkgmeta.ID, 0, len(refs))
	for _, ref := range refs {
		id, err := parseDepID(ref)
		if err != nil {
			return nil, fmt.Errorf("--select: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func runPreflight(ctx context.Context, c *core) (preflight.Report, error) {
	timeoutSeconds := int(c.cfg.Registry.Timeout().Seconds())
	return preflight.Run(ctx, preflight.Options{
		Plan:              c.plan,
		Dir:               flagDir,
		AllowDirty:        c.cfg.AllowDirty,
		StrictOwnership:   c.cfg.StrictOwnership,
		Token:             c.tok,
		Registry:          c.client,
		GitTimeoutSeconds: timeoutSeconds,
	})
}

func newEngine(c *core) *engine.Engine {
	return &engine.Engine{
		Runner: engine.RunnerFunc(func(ctx context.Context, opts runner.Options) (runner.Result, error) {
			return runner.Run(ctx, opts)
		}),
		Registry:     engine.RegistryAdapter{Client: c.client},
		Store:        c.store,
		Reporter:     c.rep,
		BuildCommand: c.buildCommand,
		Config: engine.Config{
			MaxAttempts:           c.cfg.Retry.MaxAttempts,
			BaseDelay:             c.cfg.Retry.BaseDelay(),
			MaxDelay:              c.cfg.Retry.MaxDelay(),
			Jitter:                c.cfg.Retry.Jitter,
			ReadinessPollInterval: c.cfg.Readiness.PollInterval(),
			ReadinessMaxWait:      c.cfg.Readiness.MaxWait(),
			Concurrency:           c.cfg.Concurrency,
		},
	}
}

// buildCommand is the one piece of genuine packaging-tool knowledge this
// binary carries: the actual command line is still a CLI-frontend concern
// (spec.md §1), but some invocation has to flow through for this binary to
// be runnable standalone. It's a method (not a free function) so the
// resolved registry token is in scope to redact: the token appears on the
// command line and in subprocess output alike, and both must be scrubbed
// before anything reaches persisted state or a receipt (spec.md §8 "no
// persisted byte-string ... equals the resolved token").
func (c *core) buildCommand(pkg pkgmeta.Package) runner.Options {
	return runner.Options{
		Command: "cargo",
		Args:    []string{"publish", "--package", pkg.ID.Name},
		Dir:     pkg.Path,
		Timeout: 5 * time.Minute,
		Redact:  []string{c.tok},
	}
}

func gitContext(ctx context.Context) *state.GitContext {
	gctx, err := vcs.Probe(ctx, flagDir, 10*time.Second)
	if err != nil {
		return nil
	}
	return &state.GitContext{Commit: gctx.Commit, Branch: gctx.Branch, Tag: gctx.Tag, Dirty: gctx.Dirty}
}

func writeReceiptAndRelease(ctx context.Context, c *core, es *state.ExecutionState) error {
	env := state.Environment{
		EngineVersion: "dev",
		GoVersion:     goVersionString(),
		OS:            osName(),
		Arch:          archName(),
	}
	receipt := state.BuildReceipt(es, c.runID, state.RegistryIdentity{
		Name:      c.cfg.Registry.Name,
		APIBase:   c.cfg.Registry.APIBase,
		IndexBase: c.cfg.Registry.IndexBase,
	}, c.store.EventLogPath(), gitContext(ctx), env, time.Now())

	if err := c.store.WriteReceipt(receipt); err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}
	return c.lock.Release()
}

func goVersionString() string { return runtime.Version() }

func osName() string   { return runtime.GOOS }
func archName() string { return runtime.GOARCH }
