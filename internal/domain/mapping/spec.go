// Package mapping turns raw source records into target-shaped records using a
// declarative, versioned mapping specification per entity.
package mapping

import (
	"fmt"

	"github.com/erp/commerce-sync/internal/domain/integration"
	"gopkg.in/yaml.v3"
)

// MappingSpec is the declarative mapping document of one entity.
type MappingSpec struct {
	Version            string                 `yaml:"version" json:"version" validate:"required"`
	Entity             integration.EntityType `yaml:"entity" json:"entity" validate:"required"`
	SourceSystem       string                 `yaml:"source_system" json:"source_system" validate:"required"`
	TargetSystem       string                 `yaml:"target_system" json:"target_system" validate:"required"`
	Fields             []FieldRule            `yaml:"fields" json:"fields" validate:"required,min=1,dive"`
	GlobalTransformers []string               `yaml:"global_transformers" json:"global_transformers,omitempty" validate:"dive,required"`
}

// FieldRule maps one source value onto one target path.
type FieldRule struct {
	SourceField string `yaml:"source_field" json:"source_field" validate:"required_without=SourcePath"`
	// SourcePath overrides SourceField for nested or EAV-style extraction.
	SourcePath  string `yaml:"source_path,omitempty" json:"source_path,omitempty"`
	TargetField string `yaml:"target_field" json:"target_field" validate:"required"`
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Transformer string `yaml:"transformer,omitempty" json:"transformer,omitempty"`
	// Each maps every element of a source sequence with nested rules,
	// producing a sequence of records at TargetField.
	Each []FieldRule `yaml:"each,omitempty" json:"each,omitempty" validate:"omitempty,dive"`

	Default    any  `yaml:"default,omitempty" json:"default,omitempty"`
	HasDefault bool `yaml:"-" json:"-"`
}

// fieldRuleDoc mirrors FieldRule for YAML decoding without recursion.
type fieldRuleDoc struct {
	SourceField string      `yaml:"source_field"`
	SourcePath  string      `yaml:"source_path"`
	TargetField string      `yaml:"target_field"`
	Required    bool        `yaml:"required"`
	Transformer string      `yaml:"transformer"`
	Each        []FieldRule `yaml:"each"`
	Default     any         `yaml:"default"`
}

// UnmarshalYAML records whether a default was declared, so that an explicit
// `default: null` differs from no default at all.
func (f *FieldRule) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("mapping: field rule at line %d must be a mapping", node.Line)
	}
	var doc fieldRuleDoc
	if err := node.Decode(&doc); err != nil {
		return err
	}
	*f = FieldRule{
		SourceField: doc.SourceField,
		SourcePath:  doc.SourcePath,
		TargetField: doc.TargetField,
		Required:    doc.Required,
		Transformer: doc.Transformer,
		Each:        doc.Each,
		Default:     doc.Default,
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		if !fieldRuleKeys[key] {
			return fmt.Errorf("mapping: unknown field rule key %q at line %d", key, node.Content[i].Line)
		}
		if key == "default" {
			f.HasDefault = true
		}
	}
	return nil
}

var fieldRuleKeys = map[string]bool{
	"source_field": true,
	"source_path":  true,
	"target_field": true,
	"required":     true,
	"transformer":  true,
	"each":         true,
	"default":      true,
}

// ReadPath returns the source path the rule reads from.
func (f FieldRule) ReadPath() string {
	if f.SourcePath != "" {
		return f.SourcePath
	}
	return f.SourceField
}

// WithDefault returns a copy of the rule carrying the given default value.
func (f FieldRule) WithDefault(v any) FieldRule {
	f.Default = v
	f.HasDefault = true
	return f
}
