// Package config loads and normalizes stackherd deployment manifests.
//
// A manifest is a YAML document describing a project and its deployment
// units. The unit collection is accepted as either a sequence or a
// name-keyed mapping; both are normalized to an ordered unit list before the
// engine sees them. Environment references of the form ${VAR} and
// ${VAR:-default} are substituted when the manifest is read.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Manifest is a parsed deployment manifest.
type Manifest struct {
	// Project names the deployment; recorded with each run.
	Project string `yaml:"project" validate:"required"`

	// Environment is a free-form environment label (dev, staging, prod).
	Environment string `yaml:"environment,omitempty"`

	// Defaults are applied to every unit that does not override them.
	Defaults Defaults `yaml:"defaults,omitempty"`

	// Units is the deployment unit collection, sequence or mapping form.
	Units UnitList `yaml:"units" validate:"required,min=1,dive"`
}

// Defaults holds manifest-wide unit defaults.
type Defaults struct {
	// Tags are merged into every unit's tags; unit tags win on conflict.
	Tags map[string]string `yaml:"tags,omitempty"`

	// CredentialRef is used by units that declare none of their own.
	CredentialRef string `yaml:"credential_ref,omitempty"`
}

// UnitSpec describes one deployment unit as written in the manifest.
type UnitSpec struct {
	// Name uniquely identifies the unit. In mapping form it is taken from
	// the map key.
	Name string `yaml:"name" validate:"required"`

	// Location is the unit's work directory or workspace reference.
	Location string `yaml:"location" validate:"required"`

	// DependsOn lists unit names that must complete first.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Resources are opaque provider payloads passed through unmodified.
	Resources []ResourceEntry `yaml:"resources,omitempty"`

	// Tags are merged over the manifest defaults.
	Tags map[string]string `yaml:"tags,omitempty"`

	// CredentialRef overrides the manifest default credential.
	CredentialRef string `yaml:"credential_ref,omitempty"`
}

// ResourceEntry is one provider-specific resource payload.
type ResourceEntry struct {
	// Type is the provider resource type (e.g., "aws:ec2:Vpc").
	Type string `yaml:"type" validate:"required"`

	// Name is the resource name within the unit.
	Name string `yaml:"name" validate:"required"`

	// Config is the provider configuration, kept opaque.
	Config map[string]interface{} `yaml:"config,omitempty"`

	// Region is the provider region, if regional.
	Region string `yaml:"region,omitempty"`
}

// UnitList normalizes the two accepted unit collection shapes. A sequence
// keeps its order; a mapping is ordered by key appearance in the document.
type UnitList []UnitSpec

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *UnitList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var units []UnitSpec
		if err := node.Decode(&units); err != nil {
			return err
		}
		*l = units
		return nil

	case yaml.MappingNode:
		// Mapping nodes store key/value pairs as alternating content nodes,
		// which preserves document order.
		units := make([]UnitSpec, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var spec UnitSpec
			if err := node.Content[i+1].Decode(&spec); err != nil {
				return err
			}
			name := node.Content[i].Value
			if spec.Name != "" && spec.Name != name {
				return fmt.Errorf("unit %q declares conflicting name %q", name, spec.Name)
			}
			spec.Name = name
			units = append(units, spec)
		}
		*l = units
		return nil

	default:
		return fmt.Errorf("units must be a sequence or a mapping, got %s at line %d",
			nodeKind(node.Kind), node.Line)
	}
}

func nodeKind(kind yaml.Kind) string {
	switch kind {
	case yaml.ScalarNode:
		return "scalar"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}
