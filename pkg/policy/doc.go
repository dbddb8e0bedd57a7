// Package policy provides Open Policy Agent (OPA) integration for StackHerd.
//
// This package implements policy enforcement for deployment manifests before
// execution using the Rego policy language. It includes built-in policies for
// common governance requirements and supports custom policy loading.
//
// # Architecture
//
// The policy system consists of four main components:
//
//  1. Engine - Compiles and evaluates Rego policies
//  2. Loader - Loads policies from files and directories
//  3. Types - Data structures for policies, violations, and results
//  4. Built-in Policies - Pre-defined policies for common requirements
//
// # Usage
//
// Creating a policy engine:
//
//	logger := zerolog.New(os.Stdout)
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Evaluating deployment units:
//
//	result, err := eng.EvaluateUnits(ctx, units, &policy.Context{
//	    Project:     "payments",
//	    Environment: "production",
//	    Operation:   "apply",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if !result.Allowed {
//	    for _, violation := range result.Violations {
//	        fmt.Printf("Policy %s violated: %s\n", violation.Policy, violation.Message)
//	    }
//	}
//
// Loading custom policies:
//
//	paths := []string{
//	    "/etc/stackherd/policies",
//	    "/opt/policies/custom.rego",
//	}
//
//	err = eng.LoadPolicies(ctx, paths)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Built-in Policies
//
// The following policies are included by default:
//
//  1. unit-naming - Enforces unit naming conventions
//  2. required-owner-tag - Units should declare an owner tag
//  3. production-credential - Production units must name a credential
//  4. self-dependency - Units must not depend on themselves
//  5. destroy-protection - Protected units cannot be destroyed
//
// # Custom Policies
//
// Custom policies can be written in Rego and loaded from files:
//
//	package custom.policies.regions
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.unit
//	    some spec in input.unit.resource_specs
//	    not spec.region in {"us-east-1", "eu-west-1"}
//
//	    violation := {
//	        "message": sprintf("Region %s is not approved", [spec.region]),
//	        "severity": "error",
//	        "unit": input.unit.name,
//	    }
//	}
//
// # Severity Levels
//
// Violations have four severity levels:
//
//  - info: Informational messages
//  - warning: Issues that should be reviewed but don't block runs
//  - error: Issues that block the run
//  - critical: Severe issues requiring immediate attention
//
// Runs are blocked when any violation carries severity error or critical.
//
// # Hot Reload
//
// The loader supports watching policy files for changes and reloading automatically:
//
//	loader := policy.NewLoader(logger)
//	err = loader.Watch(ctx, paths, func(policies []policy.Policy) error {
//	    return eng.ApplyPolicies(ctx, policies)
//	})
//
// # Context Injection
//
// Policy evaluations include run context information:
//
//  - Project: The project being deployed
//  - Environment: Target environment (production, staging, etc.)
//  - Operation: Type of operation (apply, destroy, preview, refresh)
//  - Timestamp: When the evaluation occurred
//  - DryRun: Whether this is a dry-run evaluation
//
// This context allows policies to make environment-aware decisions.
package policy
