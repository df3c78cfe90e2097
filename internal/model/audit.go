package model

import "time"

// Stage names the pipeline stage that made a decision.
type Stage string

const (
	StageExtraction      Stage = "extraction"
	StageAggregation     Stage = "aggregation"
	StageCleansing       Stage = "cleansing"
	StageStandardization Stage = "standardization"
	StageEnrichment      Stage = "enrichment"
)

// AuditEntry is one immutable lineage record: which value a stage selected
// for an attribute and why. Append-only; the sole source of cross-stage
// lineage.
type AuditEntry struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	AttributeName string    `json:"attribute_name"`
	SelectedValue string    `json:"selected_value"`
	SourceUsed    string    `json:"source_used"`
	Reason        string    `json:"reason"`
	Stage         Stage     `json:"stage"`
	LoggedAt      time.Time `json:"logged_at"`
}
