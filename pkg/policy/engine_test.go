package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stackherd/stackherd/pkg/engine"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	logger := zerolog.New(nil).Level(zerolog.Disabled)
	eng, err := NewEngine(logger)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func testContext() *Context {
	return &Context{
		Project:     "test-project",
		Environment: "development",
		Operation:   "apply",
	}
}

func TestNewEngine(t *testing.T) {
	eng := testEngine(t)

	// Check that built-in policies are loaded
	policies := eng.ListPolicies()
	if len(policies) == 0 {
		t.Fatal("No built-in policies loaded")
	}

	expectedPolicies := []string{
		"unit-naming",
		"required-owner-tag",
		"production-credential",
		"self-dependency",
		"destroy-protection",
	}

	for _, expected := range expectedPolicies {
		found := false
		for _, p := range policies {
			if p.Name == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("Expected built-in policy not found: %s", expected)
		}
	}
}

func TestEvaluateUnit_NamingPolicy(t *testing.T) {
	eng := testEngine(t)

	tests := []struct {
		name            string
		unit            engine.DeploymentUnit
		expectAllowed   bool
		expectViolation bool
	}{
		{
			name: "valid unit name",
			unit: engine.DeploymentUnit{
				Name:     "network-base",
				Location: "./stacks/network",
				Tags:     map[string]string{"owner": "platform"},
			},
			expectAllowed:   true,
			expectViolation: false,
		},
		{
			name: "uppercase in name",
			unit: engine.DeploymentUnit{
				Name:     "Network-Base",
				Location: "./stacks/network",
				Tags:     map[string]string{"owner": "platform"},
			},
			expectAllowed:   false,
			expectViolation: true,
		},
		{
			name: "trailing hyphen",
			unit: engine.DeploymentUnit{
				Name:     "network-",
				Location: "./stacks/network",
				Tags:     map[string]string{"owner": "platform"},
			},
			expectAllowed:   false,
			expectViolation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.EvaluateUnit(context.Background(), tt.unit, testContext())
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}

			if result.Allowed != tt.expectAllowed {
				t.Errorf("Expected allowed=%v, got %v (violations: %v)",
					tt.expectAllowed, result.Allowed, result.Violations)
			}

			hasNamingViolation := false
			for _, v := range result.Violations {
				if v.Policy == "unit-naming" {
					hasNamingViolation = true
				}
			}
			if hasNamingViolation != tt.expectViolation {
				t.Errorf("Expected naming violation=%v, got %v",
					tt.expectViolation, hasNamingViolation)
			}
		})
	}
}

func TestEvaluateUnit_OwnerTagWarningDoesNotBlock(t *testing.T) {
	eng := testEngine(t)

	unit := engine.DeploymentUnit{
		Name:     "cache-layer",
		Location: "./stacks/cache",
	}

	result, err := eng.EvaluateUnit(context.Background(), unit, testContext())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if !result.Allowed {
		t.Errorf("Expected run to be allowed, violations: %v", result.Violations)
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "required-owner-tag" {
			found = true
			if v.Severity != SeverityWarning {
				t.Errorf("Expected warning severity, got %s", v.Severity)
			}
		}
	}
	if !found {
		t.Error("Expected required-owner-tag violation for unit without owner tag")
	}
}

func TestEvaluateUnit_ProductionCredentialPolicy(t *testing.T) {
	eng := testEngine(t)

	unit := engine.DeploymentUnit{
		Name:     "api-service",
		Location: "./stacks/api",
		Tags:     map[string]string{"owner": "platform"},
	}

	pctx := testContext()
	pctx.Environment = "production"

	result, err := eng.EvaluateUnit(context.Background(), unit, pctx)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected production unit without credential_ref to be blocked")
	}

	// The same unit with a credential passes
	unit.CredentialRef = "prod-deployer"
	result, err = eng.EvaluateUnit(context.Background(), unit, pctx)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected unit with credential_ref to be allowed, violations: %v", result.Violations)
	}
}

func TestEvaluateUnit_SelfDependency(t *testing.T) {
	eng := testEngine(t)

	unit := engine.DeploymentUnit{
		Name:         "database",
		Location:     "./stacks/database",
		Dependencies: []string{"network", "database"},
		Tags:         map[string]string{"owner": "data"},
	}

	result, err := eng.EvaluateUnit(context.Background(), unit, testContext())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected self-dependent unit to be blocked")
	}

	found := false
	for _, v := range result.Violations {
		if v.Policy == "self-dependency" {
			found = true
			if v.Unit != "database" {
				t.Errorf("Expected violation unit 'database', got %q", v.Unit)
			}
		}
	}
	if !found {
		t.Error("Expected self-dependency violation")
	}
}

func TestEvaluateUnit_DestroyProtection(t *testing.T) {
	eng := testEngine(t)

	unit := engine.DeploymentUnit{
		Name:     "state-bucket",
		Location: "./stacks/state",
		Tags: map[string]string{
			"owner":     "platform",
			"protected": "true",
		},
	}

	pctx := testContext()
	pctx.Operation = "destroy"

	result, err := eng.EvaluateUnit(context.Background(), unit, pctx)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected destroy of protected unit to be blocked")
	}

	// Apply operations are not affected
	pctx.Operation = "apply"
	result, err = eng.EvaluateUnit(context.Background(), unit, pctx)
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected apply of protected unit to be allowed, violations: %v", result.Violations)
	}
}

func TestEvaluateUnits_AggregatesAcrossUnits(t *testing.T) {
	eng := testEngine(t)

	units := []engine.DeploymentUnit{
		{Name: "network", Location: "./stacks/network", Tags: map[string]string{"owner": "platform"}},
		{Name: "Bad_Name", Location: "./stacks/bad", Tags: map[string]string{"owner": "platform"}},
	}

	result, err := eng.EvaluateUnits(context.Background(), units, testContext())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected result to be blocked by invalid unit name")
	}

	if len(result.Violations) == 0 {
		t.Fatal("Expected at least one violation")
	}
	for _, v := range result.Violations {
		if v.Unit == "network" {
			t.Errorf("Unexpected violation for valid unit: %v", v)
		}
	}
}

func TestApplyPolicies_CustomPolicy(t *testing.T) {
	eng := testEngine(t)

	custom := Policy{
		Name:     "region-allowlist",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package custom.policies.regions

import rego.v1

deny contains violation if {
	input.unit
	some spec in input.unit.resource_specs
	spec.region != "us-east-1"
	violation := {
		"message": sprintf("Region %s is not approved", [spec.region]),
		"severity": "error",
		"unit": input.unit.name,
	}
}`,
	}

	if err := eng.ApplyPolicies(context.Background(), []Policy{custom}); err != nil {
		t.Fatalf("Failed to apply custom policy: %v", err)
	}

	unit := engine.DeploymentUnit{
		Name:     "edge-cache",
		Location: "./stacks/edge",
		Tags:     map[string]string{"owner": "platform"},
		ResourceSpecs: []engine.ResourceSpec{
			{Type: "aws:s3:Bucket", Region: "eu-central-1"},
		},
	}

	result, err := eng.EvaluateUnit(context.Background(), unit, testContext())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}

	if result.Allowed {
		t.Error("Expected custom region policy to block the unit")
	}
}

func TestApplyPolicies_InvalidRegoRejected(t *testing.T) {
	eng := testEngine(t)

	bad := Policy{
		Name:     "broken",
		Severity: SeverityError,
		Enabled:  true,
		Rego:     "this is not rego",
	}

	if err := eng.ApplyPolicies(context.Background(), []Policy{bad}); err == nil {
		t.Fatal("Expected error applying invalid Rego")
	}

	// Built-ins survive a failed apply
	if _, err := eng.GetPolicy("unit-naming"); err != nil {
		t.Errorf("Built-in policy lost after failed apply: %v", err)
	}
}

func TestEngine_EnableDisablePolicy(t *testing.T) {
	eng := testEngine(t)

	if err := eng.DisablePolicy("unit-naming"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}

	unit := engine.DeploymentUnit{
		Name:     "BadName",
		Location: "./stacks/bad",
		Tags:     map[string]string{"owner": "platform"},
	}

	result, err := eng.EvaluateUnit(context.Background(), unit, testContext())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("Expected disabled policy to be skipped, violations: %v", result.Violations)
	}

	if err := eng.EnablePolicy("unit-naming"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}

	result, err = eng.EvaluateUnit(context.Background(), unit, testContext())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if result.Allowed {
		t.Error("Expected re-enabled policy to block invalid name")
	}

	if err := eng.DisablePolicy("no-such-policy"); err == nil {
		t.Error("Expected error disabling unknown policy")
	}
}
