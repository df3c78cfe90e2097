package model

// AttributeValue is one observed value for an attribute, with its origin.
type AttributeValue struct {
	Value      string  `json:"value"`
	SourceID   string  `json:"source_id"`
	Confidence float64 `json:"confidence"`
}

// AggregatedAttribute collects every observed value for one
// (product, attribute) pair. HasConflict holds iff the distinct value
// strings among Values number more than one.
type AggregatedAttribute struct {
	ID            string           `json:"id"`
	ProductID     string           `json:"product_id"`
	AttributeName string           `json:"attribute_name"`
	Values        []AttributeValue `json:"values"`
	HasConflict   bool             `json:"has_conflict"`
}

// DistinctValues returns the distinct value strings in order of first
// appearance.
func (a AggregatedAttribute) DistinctValues() []string {
	seen := make(map[string]bool, len(a.Values))
	var out []string
	for _, v := range a.Values {
		if !seen[v.Value] {
			seen[v.Value] = true
			out = append(out, v.Value)
		}
	}
	return out
}

// StandardizedAttribute is the normalized form of a conflict-free attribute.
type StandardizedAttribute struct {
	ID             string   `json:"id"`
	ProductID      string   `json:"product_id"`
	AttributeName  string   `json:"attribute_name"`
	StandardValue  string   `json:"standard_value"`
	StandardFormat string   `json:"standard_format"`
	DerivedFrom    []string `json:"derived_from"`
}
