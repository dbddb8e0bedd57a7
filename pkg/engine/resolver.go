package engine

import (
	"fmt"
	"sort"
	"strings"
)

// Resolver computes a safe execution order for a set of deployment units.
// It validates the dependency relation, detects cycles, and groups units into
// levels whose members have no path-dependency on each other and are safe to
// execute concurrently.
type Resolver struct {
	// units maps unit names to their definitions
	units map[string]*DeploymentUnit

	// levels memoizes each unit's computed dependency level
	levels map[string]int
}

// visit markers for cycle detection.
type visitState int

const (
	unvisited visitState = iota
	visiting
	resolved
)

// NewResolver creates a new dependency resolver.
func NewResolver() *Resolver {
	return &Resolver{
		units:  make(map[string]*DeploymentUnit),
		levels: make(map[string]int),
	}
}

// Resolve orders units into concurrency-safe groups by ascending dependency
// level. It fails with DuplicateUnitError, MissingDependencyError, or
// CycleError; no partial grouping is ever returned.
func (r *Resolver) Resolve(units []DeploymentUnit) ([][]DeploymentUnit, error) {
	if len(units) == 0 {
		return [][]DeploymentUnit{}, nil
	}

	if err := r.index(units); err != nil {
		return nil, err
	}

	if err := r.detectCycles(); err != nil {
		return nil, err
	}

	maxLevel := 0
	for name := range r.units {
		level := r.levelOf(name)
		if level > maxLevel {
			maxLevel = level
		}
	}

	groups := make([][]DeploymentUnit, maxLevel+1)
	// Iterate in input order so grouping is deterministic for a given list.
	for i := range units {
		level := r.levels[units[i].Name]
		groups[level] = append(groups[level], units[i])
	}

	return groups, nil
}

// index builds the name lookup and fails fast on duplicate names and
// dependencies that reference units outside the set.
func (r *Resolver) index(units []DeploymentUnit) error {
	r.units = make(map[string]*DeploymentUnit, len(units))
	r.levels = make(map[string]int, len(units))

	for i := range units {
		unit := &units[i]
		if unit.Name == "" {
			return NewPermanentError("deployment unit has empty name", nil).
				WithCode(ErrCodeValidation)
		}
		if _, exists := r.units[unit.Name]; exists {
			return &DuplicateUnitError{Name: unit.Name}
		}
		r.units[unit.Name] = unit
	}

	for _, unit := range r.units {
		for _, dep := range unit.Dependencies {
			if _, exists := r.units[dep]; !exists {
				return &MissingDependencyError{Unit: unit.Name, Dependency: dep}
			}
		}
	}

	return nil
}

// detectCycles walks the dependency relation depth-first. A node encountered
// while still marked visiting is on a cycle.
func (r *Resolver) detectCycles() error {
	state := make(map[string]visitState, len(r.units))

	// Deterministic traversal order so the reported cycle is stable.
	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if state[name] == unvisited {
			if cycle := r.walk(name, state, nil); cycle != nil {
				return &CycleError{Units: cycle}
			}
		}
	}

	return nil
}

func (r *Resolver) walk(name string, state map[string]visitState, path []string) []string {
	state[name] = visiting
	path = append(path, name)

	for _, dep := range r.units[name].Dependencies {
		switch state[dep] {
		case visiting:
			// Close the cycle at the first reoccurrence on the path.
			start := 0
			for i, n := range path {
				if n == dep {
					start = i
					break
				}
			}
			return append(path[start:len(path):len(path)], dep)
		case unvisited:
			if cycle := r.walk(dep, state, path); cycle != nil {
				return cycle
			}
		}
	}

	state[name] = resolved
	return nil
}

// levelOf computes a unit's dependency level by memoized recursion:
// 0 for units with no dependencies, otherwise one more than the maximum
// level among its direct dependencies. The maximum, not the minimum, is
// required: a unit must wait for all of its dependencies regardless of how
// deep any single chain is.
func (r *Resolver) levelOf(name string) int {
	if level, ok := r.levels[name]; ok {
		return level
	}

	level := 0
	for _, dep := range r.units[name].Dependencies {
		if depLevel := r.levelOf(dep) + 1; depLevel > level {
			level = depLevel
		}
	}

	r.levels[name] = level
	return level
}

// ToDOT renders the resolved groups in DOT format for Graphviz tooling.
// Resolve must have succeeded first.
func (r *Resolver) ToDOT(groups [][]DeploymentUnit) string {
	var sb strings.Builder

	sb.WriteString("digraph deployment {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, group := range groups {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Group %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, unit := range group {
			sb.WriteString(fmt.Sprintf("    %q [label=%q];\n", unit.Name, unit.Name))
		}
		sb.WriteString("  }\n\n")
	}

	for _, group := range groups {
		for _, unit := range group {
			for _, dep := range unit.Dependencies {
				sb.WriteString(fmt.Sprintf("  %q -> %q;\n", dep, unit.Name))
			}
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
