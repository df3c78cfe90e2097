package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/store"
)

var emailShape = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Cleanser detects data-quality problems in aggregated attributes.
// Findings become cleansing issue rows, never errors; a product with
// issues still proceeds through the pipeline.
type Cleanser struct {
	store store.Store
}

// NewCleanser creates a cleanser.
func NewCleanser(st store.Store) *Cleanser {
	return &Cleanser{store: st}
}

// CleanseResult summarizes one product's cleansing pass.
type CleanseResult struct {
	Issues []model.CleansingIssue `json:"issues"`
}

// Cleanse inspects every aggregated attribute and records one issue row
// per finding:
//
//   - missing: zero values present
//   - duplicate: more raw entries than distinct values
//   - invalid: empty/whitespace value, a non-positive or non-numeric
//     price, or a malformed email
//   - inconsistent: the conflict survived automatic resolution
//
// Issues accumulate across runs; they are never merged or auto-resolved.
func (c *Cleanser) Cleanse(ctx context.Context, productID string, attrs []model.AggregatedAttribute) (*CleanseResult, error) {
	result := &CleanseResult{}

	record := func(attrName string, issueType model.IssueType, details string) error {
		issue, err := c.store.InsertCleansingIssue(ctx, model.CleansingIssue{
			ProductID:     productID,
			AttributeName: attrName,
			IssueType:     issueType,
			Details:       details,
		})
		if err != nil {
			return eris.Wrapf(err, "cleanse: record %s issue for %s", issueType, attrName)
		}
		result.Issues = append(result.Issues, *issue)
		return nil
	}

	for _, attr := range attrs {
		if len(attr.Values) == 0 {
			if err := record(attr.AttributeName, model.IssueMissing, "no values observed"); err != nil {
				return nil, err
			}
			continue
		}

		if len(attr.Values) > len(attr.DistinctValues()) {
			if err := record(attr.AttributeName, model.IssueDuplicate,
				fmt.Sprintf("%d raw entries for %d distinct values", len(attr.Values), len(attr.DistinctValues()))); err != nil {
				return nil, err
			}
		}

		lowerName := strings.ToLower(attr.AttributeName)
		for _, v := range attr.Values {
			trimmed := strings.TrimSpace(v.Value)
			if trimmed == "" {
				if err := record(attr.AttributeName, model.IssueInvalid,
					fmt.Sprintf("empty value from source %s", v.SourceID)); err != nil {
					return nil, err
				}
				continue
			}
			if strings.Contains(lowerName, "price") {
				n, err := strconv.ParseFloat(strings.TrimPrefix(trimmed, "$"), 64)
				if err != nil || n <= 0 {
					if err := record(attr.AttributeName, model.IssueInvalid,
						fmt.Sprintf("price %q from source %s is not a positive number", trimmed, v.SourceID)); err != nil {
						return nil, err
					}
				}
			}
			if strings.Contains(lowerName, "email") && !emailShape.MatchString(trimmed) {
				if err := record(attr.AttributeName, model.IssueInvalid,
					fmt.Sprintf("email %q from source %s is malformed", trimmed, v.SourceID)); err != nil {
					return nil, err
				}
			}
		}

		if attr.HasConflict {
			if err := record(attr.AttributeName, model.IssueInconsistent,
				fmt.Sprintf("%d conflicting values remain after resolution", len(attr.DistinctValues()))); err != nil {
				return nil, err
			}
		}
	}

	if len(result.Issues) > 0 {
		zap.L().Debug("cleanse: issues found",
			zap.String("product_id", productID),
			zap.Int("issues", len(result.Issues)),
		)
	}
	return result, nil
}
