package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/store"
)

// RuleEngine evaluates active business rules against standardized values.
// Rule failures are business outcomes, written as validation rows; only
// storage errors surface as errors.
type RuleEngine struct {
	store store.Store
}

// NewRuleEngine creates a rule engine.
func NewRuleEngine(st store.Store) *RuleEngine {
	return &RuleEngine{store: st}
}

// ValidateResult summarizes one product's rule evaluation pass.
type ValidateResult struct {
	Validations []model.RuleValidation `json:"validations"`
	Passed      int                    `json:"passed"`
	Failed      int                    `json:"failed"`
	Skipped     int                    `json:"skipped"`
}

// Validate runs every active rule against the product's standardized
// attribute map. Only validation rules with required=true treat a missing
// value as failure; other rule types skip absent attributes without
// writing a row.
func (e *RuleEngine) Validate(ctx context.Context, productID string, stdAttrs []model.StandardizedAttribute) (*ValidateResult, error) {
	rules, err := e.store.ListActiveRules(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "rules: list active")
	}

	values := make(map[string]string, len(stdAttrs))
	for _, a := range stdAttrs {
		values[a.AttributeName] = a.StandardValue
	}

	result := &ValidateResult{}
	for _, rule := range rules {
		value, present := values[rule.AttributeName]

		status, reason, skip := evaluate(rule, value, present)
		if skip {
			result.Skipped++
			continue
		}

		v, err := e.store.InsertRuleValidation(ctx, model.RuleValidation{
			ProductID: productID,
			RuleID:    rule.RuleID,
			Status:    status,
			Reason:    reason,
		})
		if err != nil {
			return nil, eris.Wrapf(err, "rules: record validation %s", rule.RuleID)
		}
		result.Validations = append(result.Validations, *v)
		if status == model.ValidationPass {
			result.Passed++
		} else {
			result.Failed++
		}

		entry := model.AuditEntry{
			ProductID:     productID,
			AttributeName: rule.AttributeName,
			SelectedValue: value,
			SourceUsed:    rule.RuleID,
			Reason:        reason,
			Stage:         model.StageStandardization,
		}
		if err := e.store.AppendAudit(ctx, entry); err != nil {
			return nil, eris.Wrapf(err, "rules: audit %s", rule.RuleID)
		}
	}

	zap.L().Debug("rules: product evaluated",
		zap.String("product_id", productID),
		zap.Int("passed", result.Passed),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// evaluate applies one rule to one value. skip=true means the rule does
// not apply (missing value on a non-required rule) and no row is written.
func evaluate(rule model.BusinessRule, value string, present bool) (status model.ValidationStatus, reason string, skip bool) {
	switch rule.RuleType {
	case model.RuleTypeValidation:
		cfg := rule.Config.Validation
		if cfg == nil {
			return model.ValidationFail, "invalid rule configuration", false
		}
		if !present || value == "" {
			if cfg.Required {
				return model.ValidationFail, "value is missing", false
			}
			return "", "", true
		}
		if cfg.Min != nil || cfg.Max != nil {
			n, err := strconv.ParseFloat(value, 64)
			if err == nil {
				if cfg.Min != nil && n < *cfg.Min {
					return model.ValidationFail, fmt.Sprintf("value %v below minimum %v", n, *cfg.Min), false
				}
				if cfg.Max != nil && n > *cfg.Max {
					return model.ValidationFail, fmt.Sprintf("value %v above maximum %v", n, *cfg.Max), false
				}
			}
		}
		return model.ValidationPass, "validation checks passed", false

	case model.RuleTypeEnum:
		if !present {
			return "", "", true
		}
		cfg := rule.Config.Enum
		if cfg == nil {
			return model.ValidationFail, "invalid rule configuration", false
		}
		for _, allowed := range cfg.AllowedValues {
			if value == allowed {
				return model.ValidationPass, fmt.Sprintf("value %q in allowed set", value), false
			}
		}
		return model.ValidationFail, fmt.Sprintf("value %q not in allowed set", value), false

	case model.RuleTypeRange:
		if !present {
			return "", "", true
		}
		cfg := rule.Config.Range
		if cfg == nil {
			return model.ValidationFail, "invalid rule configuration", false
		}
		n, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return model.ValidationFail, fmt.Sprintf("value %q is not numeric", value), false
		}
		if n < cfg.Min || n > cfg.Max {
			return model.ValidationFail, fmt.Sprintf("value %v outside range [%v, %v]", n, cfg.Min, cfg.Max), false
		}
		return model.ValidationPass, fmt.Sprintf("value %v within range [%v, %v]", n, cfg.Min, cfg.Max), false

	case model.RuleTypeFormat:
		if !present {
			return "", "", true
		}
		cfg := rule.Config.Format
		if cfg == nil {
			return model.ValidationFail, "invalid rule configuration", false
		}
		// A bad pattern fails the rule, never the pipeline.
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			zap.L().Warn("rules: invalid pattern",
				zap.String("rule_id", rule.RuleID),
				zap.String("pattern", cfg.Pattern),
				zap.Error(err),
			)
			return model.ValidationFail, "invalid regex pattern", false
		}
		if !re.MatchString(value) {
			return model.ValidationFail, fmt.Sprintf("value %q does not match pattern", value), false
		}
		return model.ValidationPass, "value matches pattern", false
	}

	return model.ValidationFail, fmt.Sprintf("unknown rule type %q", rule.RuleType), false
}
