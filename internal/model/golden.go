package model

import "time"

// GoldenAttribute wraps a standardized value with its format and the
// sources that contributed it.
type GoldenAttribute struct {
	Value   string   `json:"value"`
	Format  string   `json:"format"`
	Sources []string `json:"sources"`
}

// GoldenRecord is the consolidated, publish-gated representation of a
// product. Upserted on assembly; PublishedAt is set only by an explicit
// publish action and never cleared.
type GoldenRecord struct {
	ID              string                     `json:"id"`
	ProductID       string                     `json:"product_id"`
	SKU             string                     `json:"sku"`
	Brand           string                     `json:"brand,omitempty"`
	Attributes      map[string]GoldenAttribute `json:"attributes"`
	Enrichment      *Enrichment                `json:"enrichment,omitempty"`
	ReadyForPublish bool                       `json:"ready_for_publish"`
	PublishedAt     *time.Time                 `json:"published_at,omitempty"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}
