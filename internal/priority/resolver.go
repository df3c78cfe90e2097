package priority

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-cli/internal/model"
)

// Weights control the conflict scoring blend. They must sum to 1.
type Weights struct {
	Reliability float64 `yaml:"reliability" mapstructure:"reliability"`
	Confidence  float64 `yaml:"confidence" mapstructure:"confidence"`
	Priority    float64 `yaml:"priority" mapstructure:"priority"`
}

// DefaultWeights is the standard scoring blend.
var DefaultWeights = Weights{Reliability: 0.5, Confidence: 0.3, Priority: 0.2}

// Valid reports whether the weights are non-negative and sum to 1 within
// floating point tolerance.
func (w Weights) Valid() bool {
	if w.Reliability < 0 || w.Confidence < 0 || w.Priority < 0 {
		return false
	}
	sum := w.Reliability + w.Confidence + w.Priority
	return sum > 0.999 && sum < 1.001
}

// Candidate is one scored value during conflict resolution.
type Candidate struct {
	Value    string  `json:"value"`
	SourceID string  `json:"source_id"`
	Score    float64 `json:"score"`
}

// Resolution is the outcome of resolving one aggregated attribute.
type Resolution struct {
	AttributeName string      `json:"attribute_name"`
	Resolved      bool        `json:"resolved"`
	Value         string      `json:"value,omitempty"`
	SourceID      string      `json:"source_id,omitempty"`
	Reason        string      `json:"reason"`
	Candidates    []Candidate `json:"candidates,omitempty"`
}

// Resolver scores conflicting attribute values against a priority
// snapshot. It is stateless; the snapshot carries all configuration.
type Resolver struct {
	weights Weights
}

// NewResolver creates a resolver with the given scoring weights.
func NewResolver(w Weights) (*Resolver, error) {
	if !w.Valid() {
		return nil, eris.Errorf("priority: invalid resolution weights %+v", w)
	}
	return &Resolver{weights: w}, nil
}

// Resolve picks the winning value for an aggregated attribute. A single
// distinct value wins outright. For conflicts, each observed value is
// scored and the best auto-selectable candidate wins; if the best
// candidate's source has auto-select disabled, the conflict is withheld
// for manual review.
func (r *Resolver) Resolve(snap *Snapshot, attr model.AggregatedAttribute) Resolution {
	res := Resolution{AttributeName: attr.AttributeName}
	if len(attr.Values) == 0 {
		res.Reason = "no observed values"
		return res
	}

	if len(attr.DistinctValues()) == 1 {
		best := attr.Values[0]
		for _, v := range attr.Values[1:] {
			if v.Confidence > best.Confidence {
				best = v
			}
		}
		res.Resolved = true
		res.Value = best.Value
		res.SourceID = best.SourceID
		res.Reason = "single source value"
		return res
	}

	candidates := make([]Candidate, 0, len(attr.Values))
	for _, v := range attr.Values {
		score := r.weights.Reliability*snap.Reliability(v.SourceID) +
			r.weights.Confidence*v.Confidence +
			r.weights.Priority*snap.NormalizedPriority(v.SourceID, attr.AttributeName)
		candidates = append(candidates, Candidate{Value: v.Value, SourceID: v.SourceID, Score: score})
	}
	// Highest score wins; equal scores break toward the smaller source id
	// so reruns are deterministic.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].SourceID < candidates[j].SourceID
	})
	res.Candidates = candidates

	winner := candidates[0]
	if !snap.AutoSelect(winner.SourceID) {
		res.Reason = "multiple values detected"
		return res
	}
	res.Resolved = true
	res.Value = winner.Value
	res.SourceID = winner.SourceID
	res.Reason = "auto-resolved by priority/confidence weighting"
	return res
}
