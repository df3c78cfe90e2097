package model

import "time"

// RuleType discriminates the business rule variants.
type RuleType string

const (
	RuleTypeValidation RuleType = "validation"
	RuleTypeEnum       RuleType = "enum"
	RuleTypeRange      RuleType = "range"
	RuleTypeFormat     RuleType = "format"
)

// ValidationConfig holds required/min/max checks for a validation rule.
type ValidationConfig struct {
	Required bool     `json:"required" yaml:"required"`
	Min      *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// EnumConfig lists the allowed values for an enum rule. Matching is
// case-sensitive and exact.
type EnumConfig struct {
	AllowedValues []string `json:"allowed_values" yaml:"allowed_values"`
}

// RangeConfig bounds a numeric value, inclusive on both ends.
type RangeConfig struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// FormatConfig carries the regex a value must match.
type FormatConfig struct {
	Pattern string `json:"pattern" yaml:"pattern"`
}

// RuleConfig is a tagged union: exactly one variant is populated,
// determined by the owning rule's type.
type RuleConfig struct {
	Validation *ValidationConfig `json:"validation,omitempty" yaml:"validation,omitempty"`
	Enum       *EnumConfig       `json:"enum,omitempty" yaml:"enum,omitempty"`
	Range      *RangeConfig      `json:"range,omitempty" yaml:"range,omitempty"`
	Format     *FormatConfig     `json:"format,omitempty" yaml:"format,omitempty"`
}

// BusinessRule is an externally configured constraint on one attribute.
// Read-only to the pipeline at evaluation time.
type BusinessRule struct {
	RuleID        string     `json:"rule_id" yaml:"rule_id"`
	AttributeName string     `json:"attribute_name" yaml:"attribute_name"`
	RuleType      RuleType   `json:"rule_type" yaml:"rule_type"`
	Config        RuleConfig `json:"rule_config" yaml:"rule_config"`
	Active        bool       `json:"active" yaml:"active"`
	CreatedAt     time.Time  `json:"created_at" yaml:"-"`
}

// ValidationStatus is the outcome of one rule evaluation.
type ValidationStatus string

const (
	ValidationPass ValidationStatus = "pass"
	ValidationFail ValidationStatus = "fail"
)

// RuleValidation records one rule evaluation for a product. History
// accumulates; rows are appended, never upserted.
type RuleValidation struct {
	ID          string           `json:"id"`
	ProductID   string           `json:"product_id"`
	RuleID      string           `json:"rule_id"`
	Status      ValidationStatus `json:"status"`
	Reason      string           `json:"reason"`
	ValidatedAt time.Time        `json:"validated_at"`
}
