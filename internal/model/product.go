package model

import "time"

// SourceType identifies the kind of ingested source.
type SourceType string

const (
	SourceTypeWeb         SourceType = "web"
	SourceTypePDF         SourceType = "pdf"
	SourceTypeSpreadsheet SourceType = "spreadsheet"
	SourceTypeCSV         SourceType = "csv"
	SourceTypeImage       SourceType = "image"
)

// SourceStatus tracks a source through ingestion.
type SourceStatus string

const (
	SourceStatusPending    SourceStatus = "pending"
	SourceStatusProcessing SourceStatus = "processing"
	SourceStatusCompleted  SourceStatus = "completed"
	SourceStatusFailed     SourceStatus = "failed"
)

// statusOrder encodes the forward-only status progression. "failed" is
// reachable from any non-terminal state.
var statusOrder = map[SourceStatus]int{
	SourceStatusPending:    0,
	SourceStatusProcessing: 1,
	SourceStatusCompleted:  2,
}

// CanTransition reports whether a source may move from s to next.
// Transitions are monotonic forward; only "failed" breaks the order, and
// nothing leaves a terminal state.
func (s SourceStatus) CanTransition(next SourceStatus) bool {
	if s == SourceStatusCompleted || s == SourceStatusFailed {
		return false
	}
	if next == SourceStatusFailed {
		return true
	}
	cur, ok := statusOrder[s]
	if !ok {
		return false
	}
	nxt, ok := statusOrder[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// Source is a provenance unit: one uploaded document, crawled page, or file.
type Source struct {
	ID         string       `json:"id"`
	ProjectID  string       `json:"project_id"`
	Type       SourceType   `json:"type"`
	Locator    string       `json:"locator"`
	Status     SourceStatus `json:"status"`
	UploadedAt time.Time    `json:"uploaded_at"`
}

// ProductKeys are the identity hints carried by a raw observation.
// SKU is authoritative; MPN+Brand is the fallback match.
type ProductKeys struct {
	SKU   string `json:"sku,omitempty"`
	MPN   string `json:"mpn,omitempty"`
	Brand string `json:"brand,omitempty"`
}

// RawObservation is one source's extracted view of a product. Immutable
// once written; produced by the external extraction collaborator.
type RawObservation struct {
	ID          string            `json:"id"`
	SourceID    string            `json:"source_id"`
	ProductKeys ProductKeys       `json:"product_keys"`
	Attributes  map[string]string `json:"attributes"`
	Confidence  float64           `json:"confidence"`
	ExtractedAt time.Time         `json:"extracted_at"`
}

// Product is the canonical entity keyed by SKU.
type Product struct {
	ID        string    `json:"id"`
	SKU       string    `json:"sku"`
	MPN       string    `json:"mpn,omitempty"`
	Brand     string    `json:"brand,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Project scopes sources and priorities. Products are archived implicitly
// through project status, never deleted.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
