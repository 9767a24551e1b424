package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/EffortlessMetrics/shipper/internal/pkgmeta"
)

// workspaceDoc is the thin JSON bridge format this CLI accepts in place of
// actually parsing a packaging tool's native workspace manifest, which is
// out of scope (spec.md §1). Real frontends (a Cargo.toml walker, a
// package.json workspace reader) would produce this shape and invoke the
// library packages directly instead of going through this binary.
type workspaceDoc struct {
	Packages []struct {
		Name        string   `json:"name"`
		Version     string   `json:"version"`
		Path        string   `json:"path"`
		DependsOn   []string `json:"depends_on"`
		Publishable bool     `json:"publishable"`
	} `json:"packages"`
}

func loadWorkspace(path string) (pkgmeta.Workspace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pkgmeta.Workspace{}, fmt.Errorf("read workspace descriptor: %w", err)
	}
	var doc workspaceDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return pkgmeta.Workspace{}, fmt.Errorf("parse workspace descriptor: %w", err)
	}

	ws := pkgmeta.Workspace{Packages: make([]pkgmeta.Package, 0, len(doc.Packages))}
	for _, p := range doc.Packages {
		pkg := pkgmeta.Package{
			ID:          pkgmeta.ID{Name: p.Name, Version: p.Version},
			Path:        p.Path,
			Publishable: p.Publishable,
		}
		for _, dep := range p.DependsOn {
			id, err := parseDepID(dep)
			if err != nil {
				return pkgmeta.Workspace{}, fmt.Errorf("package %s: %w", p.Name, err)
			}
			pkg.DependsOn = append(pkg.DependsOn, id)
		}
		ws.Packages = append(ws.Packages, pkg)
	}
	return ws, nil
}

// parseDepID splits a "name@version" dependency reference into a
// pkgmeta.ID (the same format the plan ID hash uses, spec.md §4.1).
func parseDepID(ref string) (pkgmeta.ID, error) {
	for i := len(ref) - 1; i >= 0; i-- {
		if ref[i] == '@' {
			return pkgmeta.ID{Name: ref[:i], Version: ref[i+1:]}, nil
		}
	}
	return pkgmeta.ID{}, fmt.Errorf("malformed dependency reference %q, want name@version", ref)
}
