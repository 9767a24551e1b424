// Package pkgmeta holds the workspace data model consumed by the planner:
// packages, their intra-workspace dependency edges, and publishability.
// Parsing the workspace-metadata file itself is out of scope (spec.md §1) —
// this package only describes the validated shape a reader produces.
package pkgmeta

import "fmt"

// ID identifies a package by name and version. Packages are immutable once
// planned (spec.md §3).
type ID struct {
	Name    string
	Version string
}

// String renders the ID in "name@version" form, the exact input to the
// plan-ID hash (spec.md §4.1).
func (id ID) String() string {
	return fmt.Sprintf("%s@%s", id.Name, id.Version)
}

// Package is a single workspace member.
type Package struct {
	ID ID

	// Path is the filesystem location of the package, passed to the
	// packaging tool as --package context.
	Path string

	// DependsOn lists intra-workspace dependency IDs. Edges to packages
	// outside the workspace (external crates/modules) are not represented
	// here — only in-workspace edges affect ordering.
	DependsOn []ID

	// Publishable is false when the workspace metadata opts a package out
	// of publishing (spec.md §3 invariant P3). Such packages are excluded
	// from the plan but reported as skipped.
	Publishable bool
}

// Workspace is the full set of packages under consideration, before
// planner filtering.
type Workspace struct {
	Packages []Package
}

// ByID returns the package with the given ID, if present.
func (w Workspace) ByID(id ID) (Package, bool) {
	for _, p := range w.Packages {
		if p.ID == id {
			return p, true
		}
	}
	return Package{}, false
}

// Validate checks structural invariants: unique IDs, and dependency edges
// that resolve to a package present in the workspace (external deps are
// the caller's concern, not validated here since pkgmeta only models
// intra-workspace edges by construction).
func (w Workspace) Validate() error {
	seen := make(map[ID]struct{}, len(w.Packages))
	for _, p := range w.Packages {
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate package %s", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	for _, p := range w.Packages {
		for _, dep := range p.DependsOn {
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("package %s depends on unknown package %s", p.ID, dep)
			}
		}
	}
	return nil
}
