package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-cli/internal/model"
)

// ErrNotFound is returned when a requested record does not exist. Callers
// check it with eris.Is.
var ErrNotFound = eris.New("store: not found")

// IssueFilter specifies criteria for listing cleansing issues.
type IssueFilter struct {
	ProductID       string `json:"product_id,omitempty"`
	IncludeResolved bool   `json:"include_resolved,omitempty"`
	Limit           int    `json:"limit,omitempty"`
}

// Store defines the persistence interface for the consolidation pipeline.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, name string) (*model.Project, error)
	GetProject(ctx context.Context, projectID string) (*model.Project, error)

	// Sources
	CreateSource(ctx context.Context, src model.Source) (*model.Source, error)
	GetSource(ctx context.Context, sourceID string) (*model.Source, error)
	UpdateSourceStatus(ctx context.Context, sourceID string, status model.SourceStatus) error
	ListSources(ctx context.Context, projectID string) ([]model.Source, error)

	// Raw observations (written at the extraction boundary, immutable after)
	InsertObservation(ctx context.Context, obs model.RawObservation) (*model.RawObservation, error)
	InsertObservations(ctx context.Context, obs []model.RawObservation) (int64, error)
	ListObservationsByProduct(ctx context.Context, keys model.ProductKeys) ([]model.RawObservation, error)
	ListObservationsBySource(ctx context.Context, sourceID string) ([]model.RawObservation, error)

	// Products
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	FindProduct(ctx context.Context, keys model.ProductKeys) (*model.Product, error)
	CreateProduct(ctx context.Context, p model.Product) (*model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)

	// Aggregated attributes, keyed by (product_id, attribute_name)
	UpsertAggregatedAttribute(ctx context.Context, attr model.AggregatedAttribute) error
	GetAggregatedAttribute(ctx context.Context, productID, attributeName string) (*model.AggregatedAttribute, error)
	ListAggregatedAttributes(ctx context.Context, productID string) ([]model.AggregatedAttribute, error)

	// Source priorities, keyed by (project_id, source_id)
	UpsertSourcePriority(ctx context.Context, p model.SourcePriority) error
	GetSourcePriority(ctx context.Context, projectID, sourceID string) (*model.SourcePriority, error)
	ListSourcePriorities(ctx context.Context, projectID string) ([]model.SourcePriority, error)

	// Cleansing issues (append-only; resolution is an explicit update)
	InsertCleansingIssue(ctx context.Context, issue model.CleansingIssue) (*model.CleansingIssue, error)
	ListCleansingIssues(ctx context.Context, filter IssueFilter) ([]model.CleansingIssue, error)
	ResolveCleansingIssue(ctx context.Context, issueID string) error

	// Standardized attributes, keyed by (product_id, attribute_name).
	// The upsert is a batch; a whole product's pass lands in one call.
	UpsertStandardizedAttributes(ctx context.Context, attrs []model.StandardizedAttribute) (int64, error)
	ListStandardizedAttributes(ctx context.Context, productID string) ([]model.StandardizedAttribute, error)

	// Business rules (externally configured, read-mostly)
	CreateBusinessRule(ctx context.Context, rule model.BusinessRule) error
	ListActiveRules(ctx context.Context) ([]model.BusinessRule, error)

	// Rule validations (append-only history)
	InsertRuleValidation(ctx context.Context, v model.RuleValidation) (*model.RuleValidation, error)
	ListRuleValidations(ctx context.Context, productID string) ([]model.RuleValidation, error)

	// Enrichments, keyed by product_id
	UpsertEnrichment(ctx context.Context, e model.Enrichment) error
	GetEnrichment(ctx context.Context, productID string) (*model.Enrichment, error)

	// Golden records, keyed by product_id
	UpsertGoldenRecord(ctx context.Context, gr model.GoldenRecord) error
	GetGoldenRecord(ctx context.Context, productID string) (*model.GoldenRecord, error)
	ListGoldenRecords(ctx context.Context, publishableOnly bool) ([]model.GoldenRecord, error)
	MarkPublished(ctx context.Context, productID string, at time.Time) error

	// Audit trail (append-only, never updated or deleted)
	AppendAudit(ctx context.Context, e model.AuditEntry) error
	ListAudit(ctx context.Context, productID string) ([]model.AuditEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
