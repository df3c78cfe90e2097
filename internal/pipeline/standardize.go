package pipeline

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/store"
)

// valueUnit extracts a (number, unit) pair like "2.54in" or "40 W".
var valueUnit = regexp.MustCompile(`^([\d.]+)\s*([a-zA-Z]+)$`)

// lengthToMM and weightToG are the canonical conversion tables.
var lengthToMM = map[string]float64{
	"mm": 1,
	"cm": 10,
	"m":  1000,
	"in": 25.4,
	"ft": 304.8,
}

var weightToG = map[string]float64{
	"g":  1,
	"kg": 1000,
	"lb": 453.592,
	"oz": 28.3495,
}

// vocabularies maps attribute names to their controlled term lists.
// Matching is a case-insensitive substring scan against the input value.
var vocabularies = map[string][]string{
	"ip_rating":     {"IP20", "IP44", "IP54", "IP65", "IP67", "IP68"},
	"mounting_type": {"Surface Mount", "Recessed", "Pendant", "Track", "Wall Mount"},
	"color_temp":    {"2700K", "3000K", "3500K", "4000K", "5000K", "6500K"},
}

var lengthAttributes = map[string]bool{
	"length":    true,
	"width":     true,
	"height":    true,
	"depth":     true,
	"diameter":  true,
	"thickness": true,
}

// Standardizer normalizes conflict-free attribute values into canonical
// units and vocabulary terms.
type Standardizer struct {
	store store.Store
}

// NewStandardizer creates a standardizer.
func NewStandardizer(st store.Store) *Standardizer {
	return &Standardizer{store: st}
}

// StandardizeResult summarizes one product's standardization pass.
type StandardizeResult struct {
	Attributes []model.StandardizedAttribute `json:"attributes"`
	Skipped    int                           `json:"skipped"`
}

// Standardize normalizes every conflict-free aggregated attribute and
// upserts the result. Attributes still carrying a conflict are skipped;
// they stay pending until resolved. Each decision is audited.
func (s *Standardizer) Standardize(ctx context.Context, productID string, attrs []model.AggregatedAttribute) (*StandardizeResult, error) {
	result := &StandardizeResult{}

	for _, attr := range attrs {
		if attr.HasConflict || len(attr.Values) == 0 {
			result.Skipped++
			continue
		}

		winning := attr.Values[0]
		for _, v := range attr.Values[1:] {
			if v.Confidence > winning.Confidence {
				winning = v
			}
		}
		sources := contributingSources(attr.Values, winning.Value)

		value, format, reason := normalize(attr.AttributeName, winning.Value)
		result.Attributes = append(result.Attributes, model.StandardizedAttribute{
			ProductID:      productID,
			AttributeName:  attr.AttributeName,
			StandardValue:  value,
			StandardFormat: format,
			DerivedFrom:    sources,
		})

		entry := model.AuditEntry{
			ProductID:     productID,
			AttributeName: attr.AttributeName,
			SelectedValue: value,
			SourceUsed:    winning.SourceID,
			Reason:        reason,
			Stage:         model.StageStandardization,
		}
		if err := s.store.AppendAudit(ctx, entry); err != nil {
			return nil, eris.Wrapf(err, "standardize: audit %s", attr.AttributeName)
		}
	}

	// The whole pass lands in one batch upsert per product.
	if _, err := s.store.UpsertStandardizedAttributes(ctx, result.Attributes); err != nil {
		return nil, eris.Wrap(err, "standardize: upsert attributes")
	}

	zap.L().Debug("standardize: product done",
		zap.String("product_id", productID),
		zap.Int("standardized", len(result.Attributes)),
		zap.Int("skipped", result.Skipped),
	)
	return result, nil
}

// normalize applies vocabulary, unit, then verbatim fallback.
func normalize(attributeName, raw string) (value, format, reason string) {
	trimmed := strings.TrimSpace(raw)
	lowerName := strings.ToLower(attributeName)

	if terms, ok := vocabularies[lowerName]; ok {
		lowerVal := strings.ToLower(trimmed)
		for _, term := range terms {
			if strings.Contains(lowerVal, strings.ToLower(term)) {
				return term, "enum", fmt.Sprintf("matched vocabulary term %s", term)
			}
		}
	}

	if lengthAttributes[lowerName] || lowerName == "weight" {
		if m := valueUnit.FindStringSubmatch(trimmed); m != nil {
			n, err := strconv.ParseFloat(m[1], 64)
			if err == nil {
				unit := strings.ToLower(m[2])
				table, base := lengthToMM, "mm"
				if lowerName == "weight" {
					table, base = weightToG, "g"
				}
				if factor, known := table[unit]; known {
					converted := strconv.FormatFloat(round2(n*factor), 'f', 2, 64)
					return converted, base, fmt.Sprintf("normalized %s → %s%s", trimmed, converted, base)
				}
				// Unknown unit passes through as-is.
				return trimmed, m[2], fmt.Sprintf("kept %s, unrecognized unit %s", trimmed, m[2])
			}
		}
	}

	return trimmed, "string", "kept verbatim"
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// contributingSources lists the distinct sources that reported the
// winning value, in observation order.
func contributingSources(values []model.AttributeValue, winning string) []string {
	var out []string
	seen := map[string]bool{}
	for _, v := range values {
		if v.Value == winning && !seen[v.SourceID] {
			seen[v.SourceID] = true
			out = append(out, v.SourceID)
		}
	}
	return out
}
