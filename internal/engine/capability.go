// Package engine drives a Plan through its per-package state machine,
// sequentially or per-wave in parallel, classifying failures and
// persisting state after every transition (spec.md §4.5, §4.5p, §4.6).
//
// Every collaborator is a narrow capability interface rather than a
// concrete type (spec.md §9: "Dynamic dispatch ... preferred over
// inheritance; each is a narrow capability set"), so tests can install
// doubles for the registry, the subprocess runner, and the state store
// independently.
package engine

import (
	"context"

	"github.com/EffortlessMetrics/shipper/internal/runner"
	"github.com/EffortlessMetrics/shipper/internal/state"
)

// SubprocessRunner invokes the packaging tool for one package
// (spec.md §4.2).
type SubprocessRunner interface {
	Run(ctx context.Context, opts runner.Options) (runner.Result, error)
}

// RunnerFunc adapts a plain function to SubprocessRunner.
type RunnerFunc func(ctx context.Context, opts runner.Options) (runner.Result, error)

func (f RunnerFunc) Run(ctx context.Context, opts runner.Options) (runner.Result, error) {
	return f(ctx, opts)
}

// ProbeStatus mirrors registry.Status without importing the registry
// package's HTTP-specific Result shape, so a test double never needs an
// http.Client.
type ProbeStatus int

const (
	ProbeFound ProbeStatus = iota
	ProbeNotFound
	ProbeTransient
	ProbePermanent
)

// RegistryProbe is the subset of the Registry Client the engine calls
// during execution: the pre-check, ambiguous-failure resolution, and
// readiness polling (spec.md §4.3 operation 1, §4.5 steps 2 & 5).
type RegistryProbe interface {
	VersionExists(ctx context.Context, name, version string) (ProbeStatus, error)
	IndexLookup(ctx context.Context, name, version string) (ProbeStatus, error)
}

// StateStore is the subset of internal/state.Store the engine mutates
// during a run.
type StateStore interface {
	SaveState(es *state.ExecutionState) error
	AppendEvent(e state.Event) error
}
