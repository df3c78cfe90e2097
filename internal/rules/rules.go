// Package rules loads and validates business rule definitions.
package rules

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/catalog-cli/internal/model"
)

// File is the on-disk rules document.
type File struct {
	Rules []model.BusinessRule `yaml:"rules"`
}

// Load reads business rules from a YAML file and validates every rule's
// config against its declared type. A malformed rule fails the load; a
// rule that merely fails at evaluation time (e.g. an invalid regex) is
// caught here instead.
func Load(path string) ([]model.BusinessRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", path)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "rules: parse")
	}

	seen := make(map[string]bool, len(f.Rules))
	for i := range f.Rules {
		r := &f.Rules[i]
		if r.RuleID == "" {
			return nil, eris.Errorf("rules: rule %d missing rule_id", i)
		}
		if seen[r.RuleID] {
			return nil, eris.Errorf("rules: duplicate rule_id %s", r.RuleID)
		}
		seen[r.RuleID] = true
		if r.AttributeName == "" {
			return nil, eris.Errorf("rules: rule %s missing attribute_name", r.RuleID)
		}
		if err := Validate(*r); err != nil {
			return nil, err
		}
	}
	return f.Rules, nil
}

// Validate checks that a rule's config matches its declared type: exactly
// one variant populated, and that variant internally consistent.
func Validate(r model.BusinessRule) error {
	populated := 0
	if r.Config.Validation != nil {
		populated++
	}
	if r.Config.Enum != nil {
		populated++
	}
	if r.Config.Range != nil {
		populated++
	}
	if r.Config.Format != nil {
		populated++
	}
	if populated != 1 {
		return eris.Errorf("rules: rule %s has %d config variants, want exactly 1", r.RuleID, populated)
	}

	switch r.RuleType {
	case model.RuleTypeValidation:
		cfg := r.Config.Validation
		if cfg == nil {
			return eris.Errorf("rules: rule %s declares type validation but carries another config", r.RuleID)
		}
		if cfg.Min != nil && cfg.Max != nil && *cfg.Min > *cfg.Max {
			return eris.Errorf("rules: rule %s min %v exceeds max %v", r.RuleID, *cfg.Min, *cfg.Max)
		}
	case model.RuleTypeEnum:
		cfg := r.Config.Enum
		if cfg == nil {
			return eris.Errorf("rules: rule %s declares type enum but carries another config", r.RuleID)
		}
		if len(cfg.AllowedValues) == 0 {
			return eris.Errorf("rules: rule %s enum has no allowed values", r.RuleID)
		}
	case model.RuleTypeRange:
		cfg := r.Config.Range
		if cfg == nil {
			return eris.Errorf("rules: rule %s declares type range but carries another config", r.RuleID)
		}
		if cfg.Min > cfg.Max {
			return eris.Errorf("rules: rule %s range min %v exceeds max %v", r.RuleID, cfg.Min, cfg.Max)
		}
	case model.RuleTypeFormat:
		cfg := r.Config.Format
		if cfg == nil {
			return eris.Errorf("rules: rule %s declares type format but carries another config", r.RuleID)
		}
		if cfg.Pattern == "" {
			return eris.Errorf("rules: rule %s format has empty pattern", r.RuleID)
		}
		if _, err := regexp.Compile(cfg.Pattern); err != nil {
			return eris.Wrapf(err, "rules: rule %s has invalid pattern", r.RuleID)
		}
	default:
		return eris.Errorf("rules: rule %s has unknown type %q", r.RuleID, r.RuleType)
	}
	return nil
}
