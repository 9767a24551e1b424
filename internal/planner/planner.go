// Package planner builds a deterministic, dependency-first publish plan
// from workspace metadata: a topological order, a wave partition for
// level-parallel execution, and a content-addressed plan ID (spec.md §4.1).
package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/EffortlessMetrics/shipper/internal/pkgmeta"
	"github.com/EffortlessMetrics/shipper/internal/shiperr"
)

// SchemaVersion is the plan schema version persisted alongside state.
const SchemaVersion = 1

// Plan is an ordered, wave-partitioned publish plan plus its content
// address (spec.md §3).
type Plan struct {
	SchemaVersion int
	Packages      []pkgmeta.Package
	Order         []pkgmeta.ID
	Waves         [][]pkgmeta.ID
	Skipped       []pkgmeta.ID // excluded as non-publishable (invariant P3)
	PlanID        string
}

// Level returns the wave index of id, or -1 if absent.
func (p Plan) Level(id pkgmeta.ID) int {
	for level, wave := range p.Waves {
		for _, w := range wave {
			if w == id {
				return level
			}
		}
	}
	return -1
}

// Options selects a subset of the workspace to plan, as passed by the CLI
// frontend (out of scope per spec.md §1) and handed to Build as a plain
// value.
type Options struct {
	// Select restricts the plan to these IDs. Empty means "all publishable
	// packages".
	Select []pkgmeta.ID
}

// Build computes a Plan from workspace metadata. It restricts the
// dependency graph to publishable, selected packages, runs Kahn's
// algorithm with an ordered ready-set keyed by (name, version) for
// determinism (invariant P2), and assigns wave levels as
// 1 + max(level(dep)) over in-plan dependencies.
func Build(ws pkgmeta.Workspace, opts Options) (Plan, error) {
	if err := ws.Validate(); err != nil {
		return Plan{}, err
	}

	selected := selectedSet(ws, opts.Select)

	var skipped []pkgmeta.ID
	nodes := make(map[pkgmeta.ID]pkgmeta.Package)
	for _, p := range ws.Packages {
		if !selected[p.ID] {
			continue
		}
		if !p.Publishable {
			skipped = append(skipped, p.ID)
			continue
		}
		nodes[p.ID] = p
	}

	// Restrict dependency edges to in-plan nodes only; deps that fell out
	// (non-publishable or unselected) impose no ordering constraint.
	indegree := make(map[pkgmeta.ID]int, len(nodes))
	dependents := make(map[pkgmeta.ID][]pkgmeta.ID, len(nodes)) // dep -> packages depending on it
	for id, p := range nodes {
		count := 0
		for _, dep := range p.DependsOn {
			if _, ok := nodes[dep]; ok {
				count++
				dependents[dep] = append(dependents[dep], id)
			}
		}
		indegree[id] = count
	}

	order, err := kahn(nodes, indegree, dependents)
	if err != nil {
		return Plan{}, err
	}

	waves, levels := assignWaves(nodes, order)

	sortIDs(skipped)

	packages := make([]pkgmeta.Package, 0, len(order))
	for _, id := range order {
		packages = append(packages, nodes[id])
	}

	plan := Plan{
		SchemaVersion: SchemaVersion,
		Packages:      packages,
		Order:         order,
		Waves:         waves,
		Skipped:       skipped,
	}
	plan.PlanID = computePlanID(order)
	_ = levels // levels is folded into Waves; kept for clarity at call sites
	return plan, nil
}

func selectedSet(ws pkgmeta.Workspace, sel []pkgmeta.ID) map[pkgmeta.ID]bool {
	set := make(map[pkgmeta.ID]bool, len(ws.Packages))
	if len(sel) == 0 {
		for _, p := range ws.Packages {
			set[p.ID] = true
		}
		return set
	}
	for _, id := range sel {
		set[id] = true
	}
	return set
}

// kahn runs Kahn's algorithm with an ordered ready-set: at every step the
// ready set is sorted by (name, version) before the next node is popped,
// so ties break by name regardless of map iteration order (invariant P2).
func kahn(nodes map[pkgmeta.ID]pkgmeta.Package, indegree map[pkgmeta.ID]int, dependents map[pkgmeta.ID][]pkgmeta.ID) ([]pkgmeta.ID, error) {
	indegree = cloneIndegree(indegree)

	var ready []pkgmeta.ID
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sortIDs(ready)

	order := make([]pkgmeta.ID, 0, len(nodes))
	for len(ready) > 0 {
		sortIDs(ready)
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dependent := range dependents[next] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, shiperr.ErrCycleDetected
	}
	return order, nil
}

func cloneIndegree(src map[pkgmeta.ID]int) map[pkgmeta.ID]int {
	dst := make(map[pkgmeta.ID]int, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func sortIDs(ids []pkgmeta.ID) {
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].Name != ids[j].Name {
			return ids[i].Name < ids[j].Name
		}
		return ids[i].Version < ids[j].Version
	})
}

// assignWaves levels each package as 1 + max(level(dep)) over its in-plan
// dependencies (leaves at level 0), then groups by level (spec.md §4.1).
func assignWaves(nodes map[pkgmeta.ID]pkgmeta.Package, order []pkgmeta.ID) ([][]pkgmeta.ID, map[pkgmeta.ID]int) {
	levels := make(map[pkgmeta.ID]int, len(order))
	for _, id := range order {
		level := 0
		for _, dep := range nodes[id].DependsOn {
			if depLevel, ok := levels[dep]; ok && depLevel+1 > level {
				level = depLevel + 1
			}
		}
		levels[id] = level
	}

	maxLevel := -1
	for _, level := range levels {
		if level > maxLevel {
			maxLevel = level
		}
	}

	waves := make([][]pkgmeta.ID, maxLevel+1)
	for _, id := range order {
		level := levels[id]
		waves[level] = append(waves[level], id)
	}
	for _, wave := range waves {
		sortIDs(wave)
	}
	return waves, levels
}

// computePlanID is sha256(concat("name@version\n" for each package in
// order)) rendered as hex (spec.md §4.1).
func computePlanID(order []pkgmeta.ID) string {
	h := sha256.New()
	for _, id := range order {
		h.Write([]byte(id.String()))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
