// Package config loads and validates deployment manifests.
//
// A manifest is a YAML document naming a project and its deployment units.
// Units may be given as a sequence or as a mapping keyed by unit name; the
// mapping form preserves declaration order. Values support ${VAR} and
// ${VAR:-default} environment substitution, and unknown fields are
// rejected. Structural validation runs through go-playground/validator
// struct tags.
//
// Manifest.DeploymentUnits converts the validated manifest into the
// engine's unit type, merging manifest-level defaults into each unit.
package config
