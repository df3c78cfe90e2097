package model

import "time"

// SourcePriority is the project-scoped trust configuration for one source.
// Rank 1 is most trusted. AttributePriorities (1..10, 10 = highest) override
// the generic rank for specific attributes.
type SourcePriority struct {
	ID                  string         `json:"id"`
	ProjectID           string         `json:"project_id"`
	SourceID            string         `json:"source_id"`
	PriorityRank        int            `json:"priority_rank"`
	ReliabilityScore    float64        `json:"reliability_score"`
	AutoSelectEnabled   bool           `json:"auto_select_enabled"`
	AttributePriorities map[string]int `json:"attribute_priorities"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// SourceMetrics are derived quality measures for a source.
type SourceMetrics struct {
	SourceID        string  `json:"source_id"`
	AvgConfidence   float64 `json:"avg_confidence"`
	Completeness    float64 `json:"completeness"`
	TotalAttributes int     `json:"total_attributes"`
}
