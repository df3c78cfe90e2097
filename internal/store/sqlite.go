package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/catalog-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sources (
	id          TEXT PRIMARY KEY,
	project_id  TEXT NOT NULL,
	source_type TEXT NOT NULL,
	locator     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	uploaded_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS raw_observations (
	id           TEXT PRIMARY KEY,
	source_id    TEXT NOT NULL REFERENCES sources(id),
	product_keys TEXT NOT NULL,
	attributes   TEXT NOT NULL,
	confidence   REAL NOT NULL,
	extracted_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS products (
	id         TEXT PRIMARY KEY,
	sku        TEXT NOT NULL UNIQUE,
	mpn        TEXT,
	brand      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS aggregated_attributes (
	id              TEXT PRIMARY KEY,
	product_id      TEXT NOT NULL REFERENCES products(id),
	attribute_name  TEXT NOT NULL,
	observed_values TEXT NOT NULL,
	has_conflict    INTEGER NOT NULL DEFAULT 0,
	UNIQUE(product_id, attribute_name)
);

CREATE TABLE IF NOT EXISTS source_priority (
	id                   TEXT PRIMARY KEY,
	project_id           TEXT NOT NULL,
	source_id            TEXT NOT NULL,
	priority_rank        INTEGER NOT NULL,
	reliability_score    REAL NOT NULL DEFAULT 0.5,
	auto_select_enabled  INTEGER NOT NULL DEFAULT 1,
	attribute_priorities TEXT NOT NULL DEFAULT '{}',
	updated_at           DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE(project_id, source_id)
);

CREATE TABLE IF NOT EXISTS cleansing_issues (
	id             TEXT PRIMARY KEY,
	product_id     TEXT NOT NULL,
	attribute_name TEXT NOT NULL,
	issue_type     TEXT NOT NULL,
	details        TEXT NOT NULL,
	resolved       INTEGER NOT NULL DEFAULT 0,
	detected_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS standardized_attributes (
	id              TEXT PRIMARY KEY,
	product_id      TEXT NOT NULL,
	attribute_name  TEXT NOT NULL,
	standard_value  TEXT NOT NULL,
	standard_format TEXT NOT NULL,
	derived_from    TEXT NOT NULL DEFAULT '[]',
	UNIQUE(product_id, attribute_name)
);

CREATE TABLE IF NOT EXISTS business_rules (
	rule_id        TEXT PRIMARY KEY,
	attribute_name TEXT NOT NULL,
	rule_type      TEXT NOT NULL,
	rule_config    TEXT NOT NULL,
	active         INTEGER NOT NULL DEFAULT 1,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS rule_validations (
	id           TEXT PRIMARY KEY,
	product_id   TEXT NOT NULL,
	rule_id      TEXT NOT NULL,
	status       TEXT NOT NULL,
	reason       TEXT NOT NULL,
	validated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS enrichments (
	id                  TEXT PRIMARY KEY,
	product_id          TEXT NOT NULL UNIQUE,
	seo_title           TEXT NOT NULL,
	bullets             TEXT NOT NULL DEFAULT '[]',
	tags                TEXT NOT NULL DEFAULT '[]',
	inferred_attributes TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS golden_records (
	id                TEXT PRIMARY KEY,
	product_id        TEXT NOT NULL UNIQUE,
	sku               TEXT NOT NULL,
	brand             TEXT,
	attributes        TEXT NOT NULL DEFAULT '{}',
	enrichment        TEXT,
	ready_for_publish INTEGER NOT NULL DEFAULT 0,
	published_at      DATETIME,
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audit_trail (
	id             TEXT PRIMARY KEY,
	product_id     TEXT NOT NULL,
	attribute_name TEXT NOT NULL,
	selected_value TEXT NOT NULL,
	source_used    TEXT NOT NULL,
	reason         TEXT NOT NULL,
	stage          TEXT NOT NULL,
	logged_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_sources_project ON sources(project_id);
CREATE INDEX IF NOT EXISTS idx_observations_source ON raw_observations(source_id);
CREATE INDEX IF NOT EXISTS idx_agg_product ON aggregated_attributes(product_id);
CREATE INDEX IF NOT EXISTS idx_priority_project ON source_priority(project_id);
CREATE INDEX IF NOT EXISTS idx_issues_product ON cleansing_issues(product_id);
CREATE INDEX IF NOT EXISTS idx_std_product ON standardized_attributes(product_id);
CREATE INDEX IF NOT EXISTS idx_validations_product ON rule_validations(product_id);
CREATE INDEX IF NOT EXISTS idx_audit_product ON audit_trail(product_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Projects

func (s *SQLiteStore) CreateProject(ctx context.Context, name string) (*model.Project, error) {
	p := model.Project{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    "active",
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, status, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Status, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert project")
	}
	return &p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	var p model.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, created_at FROM projects WHERE id = ?`, projectID,
	).Scan(&p.ID, &p.Name, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "project %s", projectID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get project")
	}
	return &p, nil
}

// Sources

func (s *SQLiteStore) CreateSource(ctx context.Context, src model.Source) (*model.Source, error) {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	if src.Status == "" {
		src.Status = model.SourceStatusPending
	}
	if src.UploadedAt.IsZero() {
		src.UploadedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, project_id, source_type, locator, status, uploaded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		src.ID, src.ProjectID, string(src.Type), src.Locator, string(src.Status), src.UploadedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert source")
	}
	return &src, nil
}

func (s *SQLiteStore) GetSource(ctx context.Context, sourceID string) (*model.Source, error) {
	var src model.Source
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, source_type, locator, status, uploaded_at FROM sources WHERE id = ?`,
		sourceID,
	).Scan(&src.ID, &src.ProjectID, &src.Type, &src.Locator, &src.Status, &src.UploadedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "source %s", sourceID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get source")
	}
	return &src, nil
}

func (s *SQLiteStore) UpdateSourceStatus(ctx context.Context, sourceID string, status model.SourceStatus) error {
	cur, err := s.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if !cur.Status.CanTransition(status) {
		return eris.Errorf("sqlite: source %s cannot transition %s -> %s", sourceID, cur.Status, status)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sources SET status = ? WHERE id = ?`, string(status), sourceID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update source status %s", sourceID)
	}
	return checkRowsAffected(res, "source", sourceID)
}

func (s *SQLiteStore) ListSources(ctx context.Context, projectID string) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, source_type, locator, status, uploaded_at FROM sources
		 WHERE project_id = ? ORDER BY uploaded_at`, projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var src model.Source
		if err := rows.Scan(&src.ID, &src.ProjectID, &src.Type, &src.Locator, &src.Status, &src.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

// Raw observations

func (s *SQLiteStore) InsertObservation(ctx context.Context, obs model.RawObservation) (*model.RawObservation, error) {
	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.ExtractedAt.IsZero() {
		obs.ExtractedAt = time.Now().UTC()
	}
	keysJSON, err := json.Marshal(obs.ProductKeys)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal product keys")
	}
	attrsJSON, err := json.Marshal(obs.Attributes)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal attributes")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO raw_observations (id, source_id, product_keys, attributes, confidence, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.SourceID, string(keysJSON), string(attrsJSON), obs.Confidence, obs.ExtractedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert observation")
	}
	return &obs, nil
}

// InsertObservations writes a feed of observations in one transaction.
func (s *SQLiteStore) InsertObservations(ctx context.Context, obs []model.RawObservation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin observations tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_observations (id, source_id, product_keys, attributes, confidence, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare observations insert")
	}
	defer stmt.Close()

	var n int64
	for _, o := range obs {
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		if o.ExtractedAt.IsZero() {
			o.ExtractedAt = time.Now().UTC()
		}
		keysJSON, err := json.Marshal(o.ProductKeys)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal product keys")
		}
		attrsJSON, err := json.Marshal(o.Attributes)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal attributes")
		}
		if _, err := stmt.ExecContext(ctx, o.ID, o.SourceID, string(keysJSON), string(attrsJSON), o.Confidence, o.ExtractedAt); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert observation")
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit observations tx")
	}
	return n, nil
}

func (s *SQLiteStore) ListObservationsByProduct(ctx context.Context, keys model.ProductKeys) ([]model.RawObservation, error) {
	query := `SELECT id, source_id, product_keys, attributes, confidence, extracted_at FROM raw_observations WHERE `
	var args []any
	if keys.SKU != "" {
		query += `json_extract(product_keys, '$.sku') = ?`
		args = append(args, keys.SKU)
	} else {
		query += `json_extract(product_keys, '$.mpn') = ? AND json_extract(product_keys, '$.brand') = ?`
		args = append(args, keys.MPN, keys.Brand)
	}
	query += ` ORDER BY extracted_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list observations by product")
	}
	defer rows.Close()
	return scanObservations(rows)
}

func (s *SQLiteStore) ListObservationsBySource(ctx context.Context, sourceID string) ([]model.RawObservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, product_keys, attributes, confidence, extracted_at
		 FROM raw_observations WHERE source_id = ? ORDER BY extracted_at`, sourceID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list observations by source")
	}
	defer rows.Close()
	return scanObservations(rows)
}

func scanObservations(rows *sql.Rows) ([]model.RawObservation, error) {
	var out []model.RawObservation
	for rows.Next() {
		var obs model.RawObservation
		var keysJSON, attrsJSON string
		if err := rows.Scan(&obs.ID, &obs.SourceID, &keysJSON, &attrsJSON, &obs.Confidence, &obs.ExtractedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		if err := json.Unmarshal([]byte(keysJSON), &obs.ProductKeys); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal product keys")
		}
		if err := json.Unmarshal([]byte(attrsJSON), &obs.Attributes); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal attributes")
		}
		out = append(out, obs)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: observations iterate")
}

// Products

func (s *SQLiteStore) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	var p model.Product
	var mpn, brand sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, sku, mpn, brand, created_at FROM products WHERE id = ?`, productID,
	).Scan(&p.ID, &p.SKU, &mpn, &brand, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "product %s", productID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get product")
	}
	p.MPN, p.Brand = mpn.String, brand.String
	return &p, nil
}

func (s *SQLiteStore) FindProduct(ctx context.Context, keys model.ProductKeys) (*model.Product, error) {
	query := `SELECT id, sku, mpn, brand, created_at FROM products WHERE `
	var args []any
	if keys.SKU != "" {
		query += `sku = ?`
		args = append(args, keys.SKU)
	} else if keys.MPN != "" && keys.Brand != "" {
		query += `mpn = ? AND brand = ?`
		args = append(args, keys.MPN, keys.Brand)
	} else {
		return nil, eris.Wrap(ErrNotFound, "product keys empty")
	}

	var p model.Product
	var mpn, brand sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&p.ID, &p.SKU, &mpn, &brand, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "product by keys %+v", keys)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: find product")
	}
	p.MPN, p.Brand = mpn.String, brand.String
	return &p, nil
}

func (s *SQLiteStore) CreateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO products (id, sku, mpn, brand, created_at) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.SKU, nullable(p.MPN), nullable(p.Brand), p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert product")
	}
	return &p, nil
}

func (s *SQLiteStore) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sku, mpn, brand, created_at FROM products ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list products")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		var p model.Product
		var mpn, brand sql.NullString
		if err := rows.Scan(&p.ID, &p.SKU, &mpn, &brand, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan product")
		}
		p.MPN, p.Brand = mpn.String, brand.String
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list products iterate")
}

// Aggregated attributes

func (s *SQLiteStore) UpsertAggregatedAttribute(ctx context.Context, attr model.AggregatedAttribute) error {
	if attr.ID == "" {
		attr.ID = uuid.New().String()
	}
	valuesJSON, err := json.Marshal(attr.Values)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal values")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO aggregated_attributes (id, product_id, attribute_name, observed_values, has_conflict)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(product_id, attribute_name)
		 DO UPDATE SET observed_values = excluded.observed_values, has_conflict = excluded.has_conflict`,
		attr.ID, attr.ProductID, attr.AttributeName, string(valuesJSON), boolToInt(attr.HasConflict),
	)
	return eris.Wrap(err, "sqlite: upsert aggregated attribute")
}

func (s *SQLiteStore) GetAggregatedAttribute(ctx context.Context, productID, attributeName string) (*model.AggregatedAttribute, error) {
	var attr model.AggregatedAttribute
	var valuesJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, attribute_name, observed_values, has_conflict
		 FROM aggregated_attributes WHERE product_id = ? AND attribute_name = ?`,
		productID, attributeName,
	).Scan(&attr.ID, &attr.ProductID, &attr.AttributeName, &valuesJSON, &attr.HasConflict)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "aggregated attribute %s/%s", productID, attributeName)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get aggregated attribute")
	}
	if err := json.Unmarshal([]byte(valuesJSON), &attr.Values); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal values")
	}
	return &attr, nil
}

func (s *SQLiteStore) ListAggregatedAttributes(ctx context.Context, productID string) ([]model.AggregatedAttribute, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, attribute_name, observed_values, has_conflict
		 FROM aggregated_attributes WHERE product_id = ? ORDER BY attribute_name`, productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list aggregated attributes")
	}
	defer rows.Close()

	var out []model.AggregatedAttribute
	for rows.Next() {
		var attr model.AggregatedAttribute
		var valuesJSON string
		if err := rows.Scan(&attr.ID, &attr.ProductID, &attr.AttributeName, &valuesJSON, &attr.HasConflict); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan aggregated attribute")
		}
		if err := json.Unmarshal([]byte(valuesJSON), &attr.Values); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal values")
		}
		out = append(out, attr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: aggregated attributes iterate")
}

// Source priorities

func (s *SQLiteStore) UpsertSourcePriority(ctx context.Context, p model.SourcePriority) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.AttributePriorities == nil {
		p.AttributePriorities = map[string]int{}
	}
	overridesJSON, err := json.Marshal(p.AttributePriorities)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal attribute priorities")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO source_priority (id, project_id, source_id, priority_rank, reliability_score, auto_select_enabled, attribute_priorities, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(project_id, source_id)
		 DO UPDATE SET priority_rank = excluded.priority_rank,
		               reliability_score = excluded.reliability_score,
		               auto_select_enabled = excluded.auto_select_enabled,
		               attribute_priorities = excluded.attribute_priorities,
		               updated_at = excluded.updated_at`,
		p.ID, p.ProjectID, p.SourceID, p.PriorityRank, p.ReliabilityScore,
		boolToInt(p.AutoSelectEnabled), string(overridesJSON), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: upsert source priority")
}

func (s *SQLiteStore) GetSourcePriority(ctx context.Context, projectID, sourceID string) (*model.SourcePriority, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, source_id, priority_rank, reliability_score, auto_select_enabled, attribute_priorities, updated_at
		 FROM source_priority WHERE project_id = ? AND source_id = ?`,
		projectID, sourceID,
	)
	p, err := scanSourcePriority(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "source priority %s/%s", projectID, sourceID)
	}
	return p, err
}

func (s *SQLiteStore) ListSourcePriorities(ctx context.Context, projectID string) ([]model.SourcePriority, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, source_id, priority_rank, reliability_score, auto_select_enabled, attribute_priorities, updated_at
		 FROM source_priority WHERE project_id = ? ORDER BY priority_rank`, projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list source priorities")
	}
	defer rows.Close()

	var out []model.SourcePriority
	for rows.Next() {
		p, err := scanSourcePriority(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: source priorities iterate")
}

func scanSourcePriority(row scannable) (*model.SourcePriority, error) {
	var p model.SourcePriority
	var overridesJSON string
	err := row.Scan(&p.ID, &p.ProjectID, &p.SourceID, &p.PriorityRank, &p.ReliabilityScore,
		&p.AutoSelectEnabled, &overridesJSON, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan source priority")
	}
	if err := json.Unmarshal([]byte(overridesJSON), &p.AttributePriorities); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal attribute priorities")
	}
	return &p, nil
}

// Cleansing issues

func (s *SQLiteStore) InsertCleansingIssue(ctx context.Context, issue model.CleansingIssue) (*model.CleansingIssue, error) {
	if issue.ID == "" {
		issue.ID = uuid.New().String()
	}
	if issue.DetectedAt.IsZero() {
		issue.DetectedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cleansing_issues (id, product_id, attribute_name, issue_type, details, resolved, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.ProductID, issue.AttributeName, string(issue.IssueType),
		issue.Details, boolToInt(issue.Resolved), issue.DetectedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert cleansing issue")
	}
	return &issue, nil
}

func (s *SQLiteStore) ListCleansingIssues(ctx context.Context, filter IssueFilter) ([]model.CleansingIssue, error) {
	query := `SELECT id, product_id, attribute_name, issue_type, details, resolved, detected_at
	          FROM cleansing_issues WHERE 1=1`
	var args []any
	if filter.ProductID != "" {
		query += ` AND product_id = ?`
		args = append(args, filter.ProductID)
	}
	if !filter.IncludeResolved {
		query += ` AND resolved = 0`
	}
	query += ` ORDER BY detected_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cleansing issues")
	}
	defer rows.Close()

	var out []model.CleansingIssue
	for rows.Next() {
		var issue model.CleansingIssue
		if err := rows.Scan(&issue.ID, &issue.ProductID, &issue.AttributeName, &issue.IssueType,
			&issue.Details, &issue.Resolved, &issue.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cleansing issue")
		}
		out = append(out, issue)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: cleansing issues iterate")
}

func (s *SQLiteStore) ResolveCleansingIssue(ctx context.Context, issueID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cleansing_issues SET resolved = 1 WHERE id = ?`, issueID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve issue %s", issueID)
	}
	return checkRowsAffected(res, "cleansing issue", issueID)
}

// Standardized attributes

func (s *SQLiteStore) UpsertStandardizedAttributes(ctx context.Context, attrs []model.StandardizedAttribute) (int64, error) {
	if len(attrs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin standardized tx")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO standardized_attributes (id, product_id, attribute_name, standard_value, standard_format, derived_from)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(product_id, attribute_name)
		 DO UPDATE SET standard_value = excluded.standard_value,
		               standard_format = excluded.standard_format,
		               derived_from = excluded.derived_from`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare standardized upsert")
	}
	defer stmt.Close()

	var n int64
	for _, attr := range attrs {
		if attr.ID == "" {
			attr.ID = uuid.New().String()
		}
		derivedJSON, err := json.Marshal(attr.DerivedFrom)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal derived_from")
		}
		if _, err := stmt.ExecContext(ctx, attr.ID, attr.ProductID, attr.AttributeName,
			attr.StandardValue, attr.StandardFormat, string(derivedJSON)); err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert standardized %s", attr.AttributeName)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit standardized tx")
	}
	return n, nil
}

func (s *SQLiteStore) ListStandardizedAttributes(ctx context.Context, productID string) ([]model.StandardizedAttribute, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, attribute_name, standard_value, standard_format, derived_from
		 FROM standardized_attributes WHERE product_id = ? ORDER BY attribute_name`, productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list standardized attributes")
	}
	defer rows.Close()

	var out []model.StandardizedAttribute
	for rows.Next() {
		var attr model.StandardizedAttribute
		var derivedJSON string
		if err := rows.Scan(&attr.ID, &attr.ProductID, &attr.AttributeName,
			&attr.StandardValue, &attr.StandardFormat, &derivedJSON); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan standardized attribute")
		}
		if err := json.Unmarshal([]byte(derivedJSON), &attr.DerivedFrom); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal derived_from")
		}
		out = append(out, attr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: standardized attributes iterate")
}

// Business rules

func (s *SQLiteStore) CreateBusinessRule(ctx context.Context, rule model.BusinessRule) error {
	if rule.RuleID == "" {
		rule.RuleID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	configJSON, err := json.Marshal(rule.Config)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal rule config")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO business_rules (rule_id, attribute_name, rule_type, rule_config, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(rule_id)
		 DO UPDATE SET attribute_name = excluded.attribute_name,
		               rule_type = excluded.rule_type,
		               rule_config = excluded.rule_config,
		               active = excluded.active`,
		rule.RuleID, rule.AttributeName, string(rule.RuleType), string(configJSON),
		boolToInt(rule.Active), rule.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: create business rule")
}

func (s *SQLiteStore) ListActiveRules(ctx context.Context) ([]model.BusinessRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rule_id, attribute_name, rule_type, rule_config, active, created_at
		 FROM business_rules WHERE active = 1 ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list active rules")
	}
	defer rows.Close()

	var out []model.BusinessRule
	for rows.Next() {
		var rule model.BusinessRule
		var configJSON string
		if err := rows.Scan(&rule.RuleID, &rule.AttributeName, &rule.RuleType, &configJSON,
			&rule.Active, &rule.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan business rule")
		}
		if err := json.Unmarshal([]byte(configJSON), &rule.Config); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal rule config")
		}
		out = append(out, rule)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: business rules iterate")
}

// Rule validations

func (s *SQLiteStore) InsertRuleValidation(ctx context.Context, v model.RuleValidation) (*model.RuleValidation, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.ValidatedAt.IsZero() {
		v.ValidatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rule_validations (id, product_id, rule_id, status, reason, validated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		v.ID, v.ProductID, v.RuleID, string(v.Status), v.Reason, v.ValidatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert rule validation")
	}
	return &v, nil
}

func (s *SQLiteStore) ListRuleValidations(ctx context.Context, productID string) ([]model.RuleValidation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, rule_id, status, reason, validated_at
		 FROM rule_validations WHERE product_id = ? ORDER BY validated_at DESC`, productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rule validations")
	}
	defer rows.Close()

	var out []model.RuleValidation
	for rows.Next() {
		var v model.RuleValidation
		if err := rows.Scan(&v.ID, &v.ProductID, &v.RuleID, &v.Status, &v.Reason, &v.ValidatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule validation")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: rule validations iterate")
}

// Enrichments

func (s *SQLiteStore) UpsertEnrichment(ctx context.Context, e model.Enrichment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	bulletsJSON, err := json.Marshal(e.Bullets)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal bullets")
	}
	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal tags")
	}
	inferredJSON, err := json.Marshal(e.InferredAttributes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal inferred attributes")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO enrichments (id, product_id, seo_title, bullets, tags, inferred_attributes)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(product_id)
		 DO UPDATE SET seo_title = excluded.seo_title,
		               bullets = excluded.bullets,
		               tags = excluded.tags,
		               inferred_attributes = excluded.inferred_attributes`,
		e.ID, e.ProductID, e.SEOTitle, string(bulletsJSON), string(tagsJSON), string(inferredJSON),
	)
	return eris.Wrap(err, "sqlite: upsert enrichment")
}

func (s *SQLiteStore) GetEnrichment(ctx context.Context, productID string) (*model.Enrichment, error) {
	var e model.Enrichment
	var bulletsJSON, tagsJSON, inferredJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, seo_title, bullets, tags, inferred_attributes
		 FROM enrichments WHERE product_id = ?`, productID,
	).Scan(&e.ID, &e.ProductID, &e.SEOTitle, &bulletsJSON, &tagsJSON, &inferredJSON)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "enrichment %s", productID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get enrichment")
	}
	if err := json.Unmarshal([]byte(bulletsJSON), &e.Bullets); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal bullets")
	}
	if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal tags")
	}
	if err := json.Unmarshal([]byte(inferredJSON), &e.InferredAttributes); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal inferred attributes")
	}
	return &e, nil
}

// Golden records

func (s *SQLiteStore) UpsertGoldenRecord(ctx context.Context, gr model.GoldenRecord) error {
	if gr.ID == "" {
		gr.ID = uuid.New().String()
	}
	if gr.UpdatedAt.IsZero() {
		gr.UpdatedAt = time.Now().UTC()
	}
	attrsJSON, err := json.Marshal(gr.Attributes)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal golden attributes")
	}
	var enrichJSON sql.NullString
	if gr.Enrichment != nil {
		b, err := json.Marshal(gr.Enrichment)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal golden enrichment")
		}
		enrichJSON = sql.NullString{String: string(b), Valid: true}
	}
	// published_at is only written by MarkPublished, never by assembly.
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO golden_records (id, product_id, sku, brand, attributes, enrichment, ready_for_publish, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(product_id)
		 DO UPDATE SET sku = excluded.sku,
		               brand = excluded.brand,
		               attributes = excluded.attributes,
		               enrichment = excluded.enrichment,
		               ready_for_publish = excluded.ready_for_publish,
		               updated_at = excluded.updated_at`,
		gr.ID, gr.ProductID, gr.SKU, nullable(gr.Brand), string(attrsJSON), enrichJSON,
		boolToInt(gr.ReadyForPublish), gr.UpdatedAt,
	)
	return eris.Wrap(err, "sqlite: upsert golden record")
}

func (s *SQLiteStore) GetGoldenRecord(ctx context.Context, productID string) (*model.GoldenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, product_id, sku, brand, attributes, enrichment, ready_for_publish, published_at, updated_at
		 FROM golden_records WHERE product_id = ?`, productID,
	)
	gr, err := scanGoldenRecord(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "golden record %s", productID)
	}
	return gr, err
}

func (s *SQLiteStore) ListGoldenRecords(ctx context.Context, publishableOnly bool) ([]model.GoldenRecord, error) {
	query := `SELECT id, product_id, sku, brand, attributes, enrichment, ready_for_publish, published_at, updated_at
	          FROM golden_records`
	if publishableOnly {
		query += ` WHERE ready_for_publish = 1 AND published_at IS NULL`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list golden records")
	}
	defer rows.Close()

	var out []model.GoldenRecord
	for rows.Next() {
		gr, err := scanGoldenRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *gr)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: golden records iterate")
}

func scanGoldenRecord(row scannable) (*model.GoldenRecord, error) {
	var gr model.GoldenRecord
	var brand, attrsJSON, enrichJSON sql.NullString
	var publishedAt sql.NullTime
	err := row.Scan(&gr.ID, &gr.ProductID, &gr.SKU, &brand, &attrsJSON, &enrichJSON,
		&gr.ReadyForPublish, &publishedAt, &gr.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan golden record")
	}
	gr.Brand = brand.String
	if attrsJSON.Valid {
		if err := json.Unmarshal([]byte(attrsJSON.String), &gr.Attributes); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal golden attributes")
		}
	}
	if enrichJSON.Valid {
		gr.Enrichment = &model.Enrichment{}
		if err := json.Unmarshal([]byte(enrichJSON.String), gr.Enrichment); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal golden enrichment")
		}
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		gr.PublishedAt = &t
	}
	return &gr, nil
}

func (s *SQLiteStore) MarkPublished(ctx context.Context, productID string, at time.Time) error {
	// COALESCE keeps the first publish timestamp; republish is a no-op.
	res, err := s.db.ExecContext(ctx,
		`UPDATE golden_records SET published_at = COALESCE(published_at, ?) WHERE product_id = ?`,
		at.UTC(), productID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark published %s", productID)
	}
	return checkRowsAffected(res, "golden record", productID)
}

// Audit trail

func (s *SQLiteStore) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.LoggedAt.IsZero() {
		e.LoggedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_trail (id, product_id, attribute_name, selected_value, source_used, reason, stage, logged_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProductID, e.AttributeName, e.SelectedValue, e.SourceUsed, e.Reason, string(e.Stage), e.LoggedAt,
	)
	return eris.Wrap(err, "sqlite: append audit")
}

func (s *SQLiteStore) ListAudit(ctx context.Context, productID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, product_id, attribute_name, selected_value, source_used, reason, stage, logged_at
		 FROM audit_trail WHERE product_id = ? ORDER BY logged_at DESC, id`, productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.AttributeName, &e.SelectedValue,
			&e.SourceUsed, &e.Reason, &e.Stage, &e.LoggedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audit entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: audit iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
