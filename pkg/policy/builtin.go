package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		unitNamingPolicy(),
		requiredOwnerTagPolicy(),
		productionCredentialPolicy(),
		selfDependencyPolicy(),
		destroyProtectionPolicy(),
	}
}

// unitNamingPolicy enforces unit naming conventions.
func unitNamingPolicy() Policy {
	return Policy{
		Name:        "unit-naming",
		Description: "Enforces unit naming conventions (lowercase, alphanumeric, hyphens only)",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stackherd.policies.naming

import rego.v1

deny contains violation if {
	input.unit
	name := input.unit.name

	not regex.match("^[a-z0-9][a-z0-9-]*$", name)
	violation := {
		"message": sprintf("Unit name '%s' must contain only lowercase letters, numbers, and hyphens", [name]),
		"severity": "error",
		"unit": name,
	}
}

deny contains violation if {
	input.unit
	name := input.unit.name

	regex.match(".*-$", name)
	violation := {
		"message": sprintf("Unit name '%s' must not end with a hyphen", [name]),
		"severity": "error",
		"unit": name,
	}
}

deny contains violation if {
	input.unit
	name := input.unit.name

	count(name) > 63
	violation := {
		"message": sprintf("Unit name '%s' must be at most 63 characters long", [name]),
		"severity": "error",
		"unit": name,
	}
}`,
	}
}

// requiredOwnerTagPolicy warns when a unit carries no owner tag.
func requiredOwnerTagPolicy() Policy {
	return Policy{
		Name:        "required-owner-tag",
		Description: "Units should declare an owner tag for accountability",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"tags", "governance"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stackherd.policies.tags

import rego.v1

deny contains violation if {
	input.unit
	not input.unit.tags.owner
	violation := {
		"message": sprintf("Unit '%s' has no owner tag", [input.unit.name]),
		"severity": "warning",
		"unit": input.unit.name,
	}
}`,
	}
}

// productionCredentialPolicy blocks production runs with ambient credentials.
func productionCredentialPolicy() Policy {
	return Policy{
		Name:        "production-credential",
		Description: "Units deployed to production must name an explicit credential",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"credentials", "production"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stackherd.policies.credentials

import rego.v1

deny contains violation if {
	input.context.environment == "production"
	input.unit
	not input.unit.credential_ref
	violation := {
		"message": sprintf("Unit '%s' must declare credential_ref in production", [input.unit.name]),
		"severity": "error",
		"unit": input.unit.name,
	}
}`,
	}
}

// selfDependencyPolicy rejects units that depend on themselves.
func selfDependencyPolicy() Policy {
	return Policy{
		Name:        "self-dependency",
		Description: "Units must not list themselves as a dependency",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"dependencies"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stackherd.policies.dependencies

import rego.v1

deny contains violation if {
	input.unit
	some dep in input.unit.dependencies
	dep == input.unit.name
	violation := {
		"message": sprintf("Unit '%s' depends on itself", [input.unit.name]),
		"severity": "error",
		"unit": input.unit.name,
	}
}`,
	}
}

// destroyProtectionPolicy blocks destroys of units tagged as protected.
func destroyProtectionPolicy() Policy {
	return Policy{
		Name:        "destroy-protection",
		Description: "Units tagged protected=true cannot be destroyed",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"destroy", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stackherd.policies.destroy

import rego.v1

deny contains violation if {
	input.context.operation == "destroy"
	input.unit
	input.unit.tags.protected == "true"
	violation := {
		"message": sprintf("Unit '%s' is protected and cannot be destroyed", [input.unit.name]),
		"severity": "critical",
		"unit": input.unit.name,
	}
}`,
	}
}
