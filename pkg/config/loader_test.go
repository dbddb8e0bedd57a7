package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sequenceManifest = `
project: payments
environment: staging
defaults:
  tags:
    team: platform
  credential_ref: staging-deployer
units:
  - name: network
    location: ./stacks/network
  - name: database
    location: ./stacks/database
    depends_on: [network]
    tags:
      team: data
    credential_ref: data-deployer
    resources:
      - type: aws:rds:Instance
        name: primary
        region: eu-west-1
        config:
          engine: postgres
          storage_gb: 100
`

const mappingManifest = `
project: payments
units:
  network:
    location: ./stacks/network
  database:
    location: ./stacks/database
    depends_on: [network]
  api:
    location: ./stacks/api
    depends_on: [database]
`

func TestParse_SequenceForm(t *testing.T) {
	manifest, err := Parse([]byte(sequenceManifest))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if manifest.Project != "payments" {
		t.Fatalf("Expected project payments, got %s", manifest.Project)
	}
	if len(manifest.Units) != 2 {
		t.Fatalf("Expected 2 units, got %d", len(manifest.Units))
	}
	if manifest.Units[1].Name != "database" {
		t.Fatalf("Expected second unit database, got %s", manifest.Units[1].Name)
	}
	if len(manifest.Units[1].Resources) != 1 {
		t.Fatalf("Expected 1 resource, got %d", len(manifest.Units[1].Resources))
	}
}

func TestParse_MappingFormPreservesOrder(t *testing.T) {
	manifest, err := Parse([]byte(mappingManifest))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	names := make([]string, 0, len(manifest.Units))
	for _, unit := range manifest.Units {
		names = append(names, unit.Name)
	}
	want := []string{"network", "database", "api"}
	for i, name := range want {
		if names[i] != name {
			t.Fatalf("Expected unit order %v, got %v", want, names)
		}
	}
}

func TestParse_MappingFormConflictingName(t *testing.T) {
	data := `
project: payments
units:
  network:
    name: something-else
    location: ./stacks/network
`
	_, err := Parse([]byte(data))
	if err == nil {
		t.Fatal("Expected error for conflicting unit name")
	}
	if !strings.Contains(err.Error(), "conflicting name") {
		t.Fatalf("Expected conflicting name error, got %v", err)
	}
}

func TestParse_UnitsMustBeCollection(t *testing.T) {
	_, err := Parse([]byte("project: payments\nunits: nope\n"))
	if err == nil {
		t.Fatal("Expected error for scalar units")
	}
}

func TestParse_EnvSubstitution(t *testing.T) {
	t.Setenv("HERD_ENV", "prod")
	data := `
project: payments
environment: ${HERD_ENV}
defaults:
  credential_ref: ${HERD_CRED:-default-deployer}
units:
  - name: network
    location: ./stacks/network
`
	manifest, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if manifest.Environment != "prod" {
		t.Fatalf("Expected environment prod, got %s", manifest.Environment)
	}
	if manifest.Defaults.CredentialRef != "default-deployer" {
		t.Fatalf("Expected default-deployer, got %s", manifest.Defaults.CredentialRef)
	}
}

func TestParse_UndefinedEnvVariableFails(t *testing.T) {
	data := `
project: payments
environment: ${HERD_DEFINITELY_UNSET_VAR}
units:
  - name: network
    location: ./stacks/network
`
	_, err := Parse([]byte(data))
	if err == nil {
		t.Fatal("Expected error for undefined environment variable")
	}
	if !strings.Contains(err.Error(), "HERD_DEFINITELY_UNSET_VAR") {
		t.Fatalf("Expected variable name in error, got %v", err)
	}
}

func TestParse_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"missing project", "units:\n  - name: a\n    location: ./a\n"},
		{"no units", "project: payments\nunits: []\n"},
		{"unit without location", "project: payments\nunits:\n  - name: a\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Parse([]byte(tc.data)); err == nil {
				t.Fatal("Expected validation error")
			}
		})
	}
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	data := `
project: payments
unknwon_field: typo
units:
  - name: network
    location: ./stacks/network
`
	if _, err := Parse([]byte(data)); err == nil {
		t.Fatal("Expected error for unknown top-level field")
	}
}

func TestLoad_ReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "herd.yaml")
	if err := os.WriteFile(path, []byte(sequenceManifest), 0o644); err != nil {
		t.Fatalf("Failed to write manifest: %v", err)
	}
	manifest, err := Load(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if manifest.Project != "payments" {
		t.Fatalf("Expected project payments, got %s", manifest.Project)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected error for missing file")
	}
}

func TestDeploymentUnits_MergesDefaults(t *testing.T) {
	manifest, err := Parse([]byte(sequenceManifest))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	units, err := manifest.DeploymentUnits()
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	network := units[0]
	if network.CredentialRef != "staging-deployer" {
		t.Fatalf("Expected inherited credential, got %s", network.CredentialRef)
	}
	if network.Tags["team"] != "platform" {
		t.Fatalf("Expected inherited team tag, got %s", network.Tags["team"])
	}

	database := units[1]
	if database.CredentialRef != "data-deployer" {
		t.Fatalf("Expected credential override, got %s", database.CredentialRef)
	}
	if database.Tags["team"] != "data" {
		t.Fatalf("Expected tag override, got %s", database.Tags["team"])
	}
	if len(database.Dependencies) != 1 || database.Dependencies[0] != "network" {
		t.Fatalf("Expected dependency on network, got %v", database.Dependencies)
	}
	if len(database.ResourceSpecs) != 1 {
		t.Fatalf("Expected 1 resource spec, got %d", len(database.ResourceSpecs))
	}
	spec := database.ResourceSpecs[0]
	if spec.Type != "aws:rds:Instance" || spec.Region != "eu-west-1" {
		t.Fatalf("Unexpected resource spec %+v", spec)
	}
	if !strings.Contains(string(spec.Config), "postgres") {
		t.Fatalf("Expected config payload to carry engine, got %s", spec.Config)
	}
}
