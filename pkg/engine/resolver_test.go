package engine

import (
	"errors"
	"strings"
	"testing"
)

func unit(name string, deps ...string) DeploymentUnit {
	return DeploymentUnit{
		Name:         name,
		Location:     "stacks/" + name,
		Dependencies: deps,
	}
}

func groupNames(group []DeploymentUnit) map[string]bool {
	names := make(map[string]bool, len(group))
	for _, u := range group {
		names[u.Name] = true
	}
	return names
}

func TestResolver_Resolve_EmptyUnits(t *testing.T) {
	groups, err := NewResolver().Resolve([]DeploymentUnit{})
	if err != nil {
		t.Fatalf("Expected no error for empty units, got: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("Expected 0 groups, got %d", len(groups))
	}
}

func TestResolver_Resolve_Diamond(t *testing.T) {
	units := []DeploymentUnit{
		unit("A"),
		unit("B", "A"),
		unit("C", "A"),
		unit("D", "B", "C"),
	}

	groups, err := NewResolver().Resolve(units)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(groups) != 3 {
		t.Fatalf("Expected 3 groups, got %d", len(groups))
	}
	if !groupNames(groups[0])["A"] || len(groups[0]) != 1 {
		t.Errorf("Expected group 0 to be [A], got %v", groups[0])
	}
	g1 := groupNames(groups[1])
	if !g1["B"] || !g1["C"] || len(groups[1]) != 2 {
		t.Errorf("Expected group 1 to be [B C], got %v", groups[1])
	}
	if !groupNames(groups[2])["D"] || len(groups[2]) != 1 {
		t.Errorf("Expected group 2 to be [D], got %v", groups[2])
	}
}

func TestResolver_Resolve_LongestPathWins(t *testing.T) {
	// C depends on both A (level 0) and B (level 1); its level must be one
	// greater than the deepest dependency, not the shallowest.
	units := []DeploymentUnit{
		unit("A"),
		unit("B", "A"),
		unit("C", "A", "B"),
	}

	groups, err := NewResolver().Resolve(units)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(groups) != 3 {
		t.Fatalf("Expected 3 groups, got %d", len(groups))
	}
	if !groupNames(groups[2])["C"] {
		t.Errorf("Expected C at level 2, groups: %v", groups)
	}
}

func TestResolver_Resolve_Cycle(t *testing.T) {
	units := []DeploymentUnit{
		unit("A", "B"),
		unit("B", "A"),
	}

	_, err := NewResolver().Resolve(units)
	if err == nil {
		t.Fatal("Expected cycle error, got nil")
	}

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CycleError, got %T: %v", err, err)
	}
	onCycle := false
	for _, name := range cycleErr.Units {
		if name == "A" || name == "B" {
			onCycle = true
		}
	}
	if !onCycle {
		t.Errorf("Expected cycle to name A or B, got %v", cycleErr.Units)
	}
}

func TestResolver_Resolve_SelfCycle(t *testing.T) {
	_, err := NewResolver().Resolve([]DeploymentUnit{unit("A", "A")})

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CycleError, got %T: %v", err, err)
	}
}

func TestResolver_Resolve_IndirectCycle(t *testing.T) {
	units := []DeploymentUnit{
		unit("A", "C"),
		unit("B", "A"),
		unit("C", "B"),
	}

	_, err := NewResolver().Resolve(units)

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Expected CycleError, got %T: %v", err, err)
	}
	if len(cycleErr.Units) < 2 {
		t.Errorf("Expected cycle path with at least 2 units, got %v", cycleErr.Units)
	}
}

func TestResolver_Resolve_MissingDependency(t *testing.T) {
	_, err := NewResolver().Resolve([]DeploymentUnit{unit("A", "Z")})
	if err == nil {
		t.Fatal("Expected missing dependency error, got nil")
	}

	var missing *MissingDependencyError
	if !errors.As(err, &missing) {
		t.Fatalf("Expected MissingDependencyError, got %T: %v", err, err)
	}
	if missing.Unit != "A" {
		t.Errorf("Expected dependent unit A, got %q", missing.Unit)
	}
	if missing.Dependency != "Z" {
		t.Errorf("Expected missing dependency Z, got %q", missing.Dependency)
	}
}

func TestResolver_Resolve_DuplicateName(t *testing.T) {
	_, err := NewResolver().Resolve([]DeploymentUnit{unit("A"), unit("A")})

	var dup *DuplicateUnitError
	if !errors.As(err, &dup) {
		t.Fatalf("Expected DuplicateUnitError, got %T: %v", err, err)
	}
	if dup.Name != "A" {
		t.Errorf("Expected duplicate name A, got %q", dup.Name)
	}
}

func TestResolver_Resolve_EmptyName(t *testing.T) {
	_, err := NewResolver().Resolve([]DeploymentUnit{{Location: "stacks/x"}})
	if err == nil {
		t.Fatal("Expected error for empty unit name, got nil")
	}
}

func TestResolver_Resolve_EveryUnitExactlyOnce(t *testing.T) {
	units := []DeploymentUnit{
		unit("net"),
		unit("dns"),
		unit("registry", "net"),
		unit("certs", "dns"),
		unit("db", "net"),
		unit("app", "registry", "certs", "db"),
		unit("monitor", "app"),
	}

	groups, err := NewResolver().Resolve(units)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	seen := make(map[string]int)
	level := make(map[string]int)
	for i, group := range groups {
		for _, u := range group {
			seen[u.Name]++
			level[u.Name] = i
		}
	}

	if len(seen) != len(units) {
		t.Fatalf("Expected %d units across groups, got %d", len(units), len(seen))
	}
	for name, count := range seen {
		if count != 1 {
			t.Errorf("Unit %s appears %d times, expected exactly once", name, count)
		}
	}

	// Every dependency must land in a strictly lower-numbered group.
	for _, u := range units {
		for _, dep := range u.Dependencies {
			if level[dep] >= level[u.Name] {
				t.Errorf("Dependency %s (level %d) not strictly below %s (level %d)",
					dep, level[dep], u.Name, level[u.Name])
			}
		}
	}
}

func TestResolver_Resolve_Idempotent(t *testing.T) {
	units := []DeploymentUnit{
		unit("A"),
		unit("B", "A"),
		unit("C", "A"),
		unit("D", "B", "C"),
	}

	first, err := NewResolver().Resolve(units)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	second, err := NewResolver().Resolve(units)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("Expected identical group counts, got %d and %d", len(first), len(second))
	}
	for i := range first {
		a, b := groupNames(first[i]), groupNames(second[i])
		if len(a) != len(b) {
			t.Errorf("Group %d membership differs: %v vs %v", i, a, b)
			continue
		}
		for name := range a {
			if !b[name] {
				t.Errorf("Group %d membership differs: %s missing", i, name)
			}
		}
	}
}

func TestResolver_ToDOT(t *testing.T) {
	resolver := NewResolver()
	groups, err := resolver.Resolve([]DeploymentUnit{
		unit("A"),
		unit("B", "A"),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := resolver.ToDOT(groups)
	if !strings.Contains(dot, "digraph deployment") {
		t.Error("Expected DOT header in output")
	}
	if !strings.Contains(dot, `"A" -> "B"`) {
		t.Errorf("Expected edge A -> B in DOT output, got:\n%s", dot)
	}
	if !strings.Contains(dot, "cluster_level_1") {
		t.Error("Expected level 1 cluster in DOT output")
	}
}
