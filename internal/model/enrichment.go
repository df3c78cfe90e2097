package model

// Enrichment is the deterministic generated content for a product, derived
// entirely from its standardized attributes. Upserted per product.
type Enrichment struct {
	ID                 string         `json:"id"`
	ProductID          string         `json:"product_id"`
	SEOTitle           string         `json:"seo_title"`
	Bullets            []string       `json:"bullets"`
	Tags               []string       `json:"tags"`
	InferredAttributes map[string]any `json:"inferred_attributes"`
}
