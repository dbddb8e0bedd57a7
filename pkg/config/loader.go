package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/stackherd/stackherd/pkg/engine"
)

// envRef matches ${VAR} and ${VAR:-default}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// Load reads, substitutes, parses, and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates manifest content.
func Parse(data []byte) (*Manifest, error) {
	expanded, err := substituteEnv(data)
	if err != nil {
		return nil, err
	}

	var manifest Manifest
	decoder := yaml.NewDecoder(bytes.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}

	if err := validate(&manifest); err != nil {
		return nil, err
	}

	return &manifest, nil
}

// substituteEnv expands ${VAR} and ${VAR:-default} references. A reference
// without a default to an unset variable is an error rather than an empty
// string, so typos fail loudly.
func substituteEnv(data []byte) ([]byte, error) {
	var missing []string

	expanded := envRef.ReplaceAllFunc(data, func(match []byte) []byte {
		groups := envRef.FindSubmatch(match)
		name := string(groups[1])
		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if len(groups[2]) > 0 {
			return groups[3]
		}
		missing = append(missing, name)
		return match
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("undefined environment variables in manifest: %s",
			strings.Join(missing, ", "))
	}
	return expanded, nil
}

func validate(manifest *Manifest) error {
	v := validator.New()
	if err := v.Struct(manifest); err != nil {
		var verrs validator.ValidationErrors
		if ok := errors.As(err, &verrs); ok && len(verrs) > 0 {
			details := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("manifest validation failed: %s", strings.Join(details, "; "))
		}
		return fmt.Errorf("manifest validation failed: %w", err)
	}
	return nil
}

// DeploymentUnits converts the manifest into the engine's normalized unit
// list, merging manifest defaults into each unit.
func (m *Manifest) DeploymentUnits() ([]engine.DeploymentUnit, error) {
	units := make([]engine.DeploymentUnit, 0, len(m.Units))
	for _, spec := range m.Units {
		unit := engine.DeploymentUnit{
			Name:          spec.Name,
			Location:      spec.Location,
			Dependencies:  spec.DependsOn,
			CredentialRef: spec.CredentialRef,
			Tags:          mergeTags(m.Defaults.Tags, spec.Tags),
		}
		if unit.CredentialRef == "" {
			unit.CredentialRef = m.Defaults.CredentialRef
		}

		for _, res := range spec.Resources {
			raw, err := json.Marshal(res.Config)
			if err != nil {
				return nil, fmt.Errorf("unit %s resource %s: %w", spec.Name, res.Name, err)
			}
			unit.ResourceSpecs = append(unit.ResourceSpecs, engine.ResourceSpec{
				Type:   res.Type,
				Name:   res.Name,
				Config: raw,
				Region: res.Region,
			})
		}

		units = append(units, unit)
	}
	return units, nil
}

func mergeTags(defaults, overrides map[string]string) map[string]string {
	if len(defaults) == 0 && len(overrides) == 0 {
		return nil
	}
	merged := make(map[string]string, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}
