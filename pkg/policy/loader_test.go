package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testRegoPolicy = `# Blocks units deployed outside approved regions
package custom.policies.regions

import rego.v1

deny contains violation if {
	input.unit
	some spec in input.unit.resource_specs
	spec.region == "us-west-1"
	violation := {
		"message": "Region us-west-1 is not approved",
		"severity": "error",
		"unit": input.unit.name,
	}
}`

func testLoader(t *testing.T) *Loader {
	t.Helper()
	return NewLoader(zerolog.New(nil).Level(zerolog.Disabled))
}

func TestLoader_LoadFromPaths_RegoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "region-allowlist.rego")
	if err := os.WriteFile(path, []byte(testRegoPolicy), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	loader := testLoader(t)
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "region-allowlist" {
		t.Errorf("Expected name from filename, got %q", p.Name)
	}
	if p.Description != "Blocks units deployed outside approved regions" {
		t.Errorf("Expected description from comments, got %q", p.Description)
	}
	if p.Severity != SeverityWarning {
		t.Errorf("Expected default warning severity, got %s", p.Severity)
	}
	if !p.Enabled {
		t.Error("Expected loaded policy to be enabled")
	}
}

func TestLoader_LoadFromPaths_Directory(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"first.rego":  testRegoPolicy,
		"second.rego": testRegoPolicy,
		"notes.txt":   "ignored",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}

	loader := testLoader(t)
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	if len(policies) != 2 {
		t.Fatalf("Expected 2 policies, got %d", len(policies))
	}
}

func TestLoader_LoadFromPaths_JSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.json")
	content := `{
		"name": "custom-policy",
		"description": "A custom JSON policy",
		"rego": "package custom.test\n\nimport rego.v1\n\ndeny contains msg if { input.unit.name == \"bad\"; msg := \"bad unit\" }",
		"severity": "error",
		"enabled": true
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	loader := testLoader(t)
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	if policies[0].Name != "custom-policy" {
		t.Errorf("Expected name 'custom-policy', got %q", policies[0].Name)
	}
	if policies[0].Severity != SeverityError {
		t.Errorf("Expected error severity, got %s", policies[0].Severity)
	}
}

func TestLoader_LoadFromPaths_MissingPath(t *testing.T) {
	loader := testLoader(t)
	_, err := loader.LoadFromPaths(context.Background(), []string{"/nonexistent/policies"})
	if err == nil {
		t.Fatal("Expected error for missing path")
	}
}

func TestLoader_CacheAndClear(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cached.rego")
	if err := os.WriteFile(path, []byte(testRegoPolicy), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	loader := testLoader(t)
	first, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	// A rewrite is invisible until the cache is cleared
	updated := "# Updated description\npackage custom.policies.regions\n\nimport rego.v1\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("Failed to rewrite policy file: %v", err)
	}

	second, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}
	if second[0].Description != first[0].Description {
		t.Errorf("Expected cached policy, got %q", second[0].Description)
	}

	loader.ClearCache()
	third, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("Failed to reload policies: %v", err)
	}
	if third[0].Description != "Updated description" {
		t.Errorf("Expected fresh policy after cache clear, got %q", third[0].Description)
	}
}

func TestLoader_Watch_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.rego")
	if err := os.WriteFile(path, []byte(testRegoPolicy), 0o644); err != nil {
		t.Fatalf("Failed to write policy file: %v", err)
	}

	loader := testLoader(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 1)
	err := loader.Watch(ctx, []string{dir}, func(policies []Policy) error {
		select {
		case reloaded <- policies:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to start watching: %v", err)
	}
	defer func() { _ = loader.StopWatching() }()

	// Modify the policy to trigger the debounced reload
	time.Sleep(100 * time.Millisecond)
	updated := "# Updated watched policy\npackage custom.policies.regions\n\nimport rego.v1\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("Failed to rewrite policy file: %v", err)
	}

	select {
	case policies := <-reloaded:
		if len(policies) != 1 {
			t.Fatalf("Expected 1 reloaded policy, got %d", len(policies))
		}
		if policies[0].Description != "Updated watched policy" {
			t.Errorf("Expected reloaded content, got %q", policies[0].Description)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for policy reload")
	}
}
