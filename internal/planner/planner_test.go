package planner

import (
	"math/rand"
	"testing"

	"github.com/EffortlessMetrics/shipper/internal/pkgmeta"
)

func id(name, version string) pkgmeta.ID {
	return pkgmeta.ID{Name: name, Version: version}
}

func workspace() pkgmeta.Workspace {
	return pkgmeta.Workspace{
		Packages: []pkgmeta.Package{
			{ID: id("core", "0.1.0"), Publishable: true},
			{ID: id("app", "0.1.0"), Publishable: true, DependsOn: []pkgmeta.ID{id("core", "0.1.0")}},
		},
	}
}

func TestBuildOrdersDependenciesFirst(t *testing.T) {
	plan, err := Build(workspace(), Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Order) != 2 {
		t.Fatalf("expected 2 packages in order, got %d", len(plan.Order))
	}
	if plan.Order[0] != id("core", "0.1.0") || plan.Order[1] != id("app", "0.1.0") {
		t.Errorf("expected [core, app], got %v", plan.Order)
	}
	if plan.Level(id("core", "0.1.0")) >= plan.Level(id("app", "0.1.0")) {
		t.Errorf("expected core's wave before app's wave")
	}
}

func TestBuildDeterministicAcrossPermutations(t *testing.T) {
	base := workspace()
	firstPlan, err := Build(base, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	for i := 0; i < 5; i++ {
		shuffled := pkgmeta.Workspace{Packages: append([]pkgmeta.Package(nil), base.Packages...)}
		rand.Shuffle(len(shuffled.Packages), func(a, b int) {
			shuffled.Packages[a], shuffled.Packages[b] = shuffled.Packages[b], shuffled.Packages[a]
		})

		plan, err := Build(shuffled, Options{})
		if err != nil {
			t.Fatalf("Build (permutation %d): %v", i, err)
		}
		if plan.PlanID != firstPlan.PlanID {
			t.Errorf("permutation %d: plan ID %s != %s", i, plan.PlanID, firstPlan.PlanID)
		}
		for j := range plan.Order {
			if plan.Order[j] != firstPlan.Order[j] {
				t.Errorf("permutation %d: order[%d] = %v, want %v", i, j, plan.Order[j], firstPlan.Order[j])
			}
		}
	}
}

func TestBuildExcludesNonPublishable(t *testing.T) {
	ws := pkgmeta.Workspace{
		Packages: []pkgmeta.Package{
			{ID: id("core", "0.1.0"), Publishable: true},
			{ID: id("internal-only", "0.1.0"), Publishable: false},
		},
	}
	plan, err := Build(ws, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Order) != 1 {
		t.Fatalf("expected 1 publishable package, got %d", len(plan.Order))
	}
	if len(plan.Skipped) != 1 || plan.Skipped[0] != id("internal-only", "0.1.0") {
		t.Errorf("expected internal-only reported as skipped, got %v", plan.Skipped)
	}
}

func TestBuildDetectsCycle(t *testing.T) {
	ws := pkgmeta.Workspace{
		Packages: []pkgmeta.Package{
			{ID: id("a", "1.0.0"), Publishable: true, DependsOn: []pkgmeta.ID{id("b", "1.0.0")}},
			{ID: id("b", "1.0.0"), Publishable: true, DependsOn: []pkgmeta.ID{id("a", "1.0.0")}},
		},
	}
	if _, err := Build(ws, Options{}); err == nil {
		t.Fatal("expected cycle detection error, got nil")
	}
}

func TestBuildSelectSubset(t *testing.T) {
	ws := workspace()
	plan, err := Build(ws, Options{Select: []pkgmeta.ID{id("core", "0.1.0")}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(plan.Order) != 1 || plan.Order[0] != id("core", "0.1.0") {
		t.Errorf("expected only core selected, got %v", plan.Order)
	}
}

func TestTopologicalCorrectness(t *testing.T) {
	ws := pkgmeta.Workspace{
		Packages: []pkgmeta.Package{
			{ID: id("leaf-a", "1.0.0"), Publishable: true},
			{ID: id("leaf-b", "1.0.0"), Publishable: true},
			{ID: id("mid", "1.0.0"), Publishable: true, DependsOn: []pkgmeta.ID{id("leaf-a", "1.0.0"), id("leaf-b", "1.0.0")}},
			{ID: id("top", "1.0.0"), Publishable: true, DependsOn: []pkgmeta.ID{id("mid", "1.0.0")}},
		},
	}
	plan, err := Build(ws, Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	index := make(map[pkgmeta.ID]int, len(plan.Order))
	for i, pid := range plan.Order {
		index[pid] = i
	}
	for _, p := range plan.Packages {
		for _, dep := range p.DependsOn {
			if index[dep] >= index[p.ID] {
				t.Errorf("dependency %s must precede %s in order", dep, p.ID)
			}
			if plan.Level(dep) >= plan.Level(p.ID) {
				t.Errorf("dependency %s must have a lower wave level than %s", dep, p.ID)
			}
		}
	}
}
