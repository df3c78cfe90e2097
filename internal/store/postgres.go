package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-cli/internal/db"
	"github.com/sells-group/catalog-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest pipeline paths.
var preparedStatements = map[string]string{
	"insert_observation": `INSERT INTO raw_observations (id, source_id, product_keys, attributes, confidence, extracted_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_product":        `SELECT id, sku, mpn, brand, created_at FROM products WHERE id = $1`,
	"list_agg_attrs":     `SELECT id, product_id, attribute_name, observed_values, has_conflict FROM aggregated_attributes WHERE product_id = $1 ORDER BY attribute_name`,
	"append_audit":       `INSERT INTO audit_trail (id, product_id, attribute_name, selected_value, source_used, reason, stage, logged_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS sources (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id  TEXT NOT NULL,
	source_type TEXT NOT NULL,
	locator     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'pending',
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS raw_observations (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	source_id    TEXT NOT NULL REFERENCES sources(id),
	product_keys JSONB NOT NULL,
	attributes   JSONB NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	extracted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS products (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	sku        TEXT NOT NULL UNIQUE,
	mpn        TEXT,
	brand      TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS aggregated_attributes (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id      TEXT NOT NULL REFERENCES products(id),
	attribute_name  TEXT NOT NULL,
	observed_values JSONB NOT NULL,
	has_conflict    BOOLEAN NOT NULL DEFAULT false,
	UNIQUE(product_id, attribute_name)
);

CREATE TABLE IF NOT EXISTS source_priority (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	project_id           TEXT NOT NULL,
	source_id            TEXT NOT NULL,
	priority_rank        INTEGER NOT NULL,
	reliability_score    DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	auto_select_enabled  BOOLEAN NOT NULL DEFAULT true,
	attribute_priorities JSONB NOT NULL DEFAULT '{}',
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE(project_id, source_id)
);

CREATE TABLE IF NOT EXISTS cleansing_issues (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id     TEXT NOT NULL,
	attribute_name TEXT NOT NULL,
	issue_type     TEXT NOT NULL,
	details        TEXT NOT NULL,
	resolved       BOOLEAN NOT NULL DEFAULT false,
	detected_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS standardized_attributes (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id      TEXT NOT NULL,
	attribute_name  TEXT NOT NULL,
	standard_value  TEXT NOT NULL,
	standard_format TEXT NOT NULL,
	derived_from    JSONB NOT NULL DEFAULT '[]',
	UNIQUE(product_id, attribute_name)
);

CREATE TABLE IF NOT EXISTS business_rules (
	rule_id        TEXT PRIMARY KEY,
	attribute_name TEXT NOT NULL,
	rule_type      TEXT NOT NULL,
	rule_config    JSONB NOT NULL,
	active         BOOLEAN NOT NULL DEFAULT true,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rule_validations (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id   TEXT NOT NULL,
	rule_id      TEXT NOT NULL,
	status       TEXT NOT NULL,
	reason       TEXT NOT NULL,
	validated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichments (
	id                  TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id          TEXT NOT NULL UNIQUE,
	seo_title           TEXT NOT NULL,
	bullets             JSONB NOT NULL DEFAULT '[]',
	tags                JSONB NOT NULL DEFAULT '[]',
	inferred_attributes JSONB NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS golden_records (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id        TEXT NOT NULL UNIQUE,
	sku               TEXT NOT NULL,
	brand             TEXT,
	attributes        JSONB NOT NULL DEFAULT '{}',
	enrichment        JSONB,
	ready_for_publish BOOLEAN NOT NULL DEFAULT false,
	published_at      TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audit_trail (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	product_id     TEXT NOT NULL,
	attribute_name TEXT NOT NULL,
	selected_value TEXT NOT NULL,
	source_used    TEXT NOT NULL,
	reason         TEXT NOT NULL,
	stage          TEXT NOT NULL,
	logged_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sources_project ON sources(project_id);
CREATE INDEX IF NOT EXISTS idx_observations_source ON raw_observations(source_id);
CREATE INDEX IF NOT EXISTS idx_observations_sku ON raw_observations ((product_keys->>'sku'));
CREATE INDEX IF NOT EXISTS idx_agg_product ON aggregated_attributes(product_id);
CREATE INDEX IF NOT EXISTS idx_priority_project ON source_priority(project_id);
CREATE INDEX IF NOT EXISTS idx_issues_product ON cleansing_issues(product_id);
CREATE INDEX IF NOT EXISTS idx_std_product ON standardized_attributes(product_id);
CREATE INDEX IF NOT EXISTS idx_validations_product ON rule_validations(product_id);
CREATE INDEX IF NOT EXISTS idx_audit_product ON audit_trail(product_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Projects

func (s *PostgresStore) CreateProject(ctx context.Context, name string) (*model.Project, error) {
	p := model.Project{
		ID:        uuid.New().String(),
		Name:      name,
		Status:    "active",
		CreatedAt: time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, name, status, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Name, p.Status, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert project")
	}
	return &p, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, created_at FROM projects WHERE id = $1`, projectID,
	).Scan(&p.ID, &p.Name, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "project %s", projectID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get project")
	}
	return &p, nil
}

// Sources

func (s *PostgresStore) CreateSource(ctx context.Context, src model.Source) (*model.Source, error) {
	if src.ID == "" {
		src.ID = uuid.New().String()
	}
	if src.Status == "" {
		src.Status = model.SourceStatusPending
	}
	if src.UploadedAt.IsZero() {
		src.UploadedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (id, project_id, source_type, locator, status, uploaded_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		src.ID, src.ProjectID, string(src.Type), src.Locator, string(src.Status), src.UploadedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert source")
	}
	return &src, nil
}

func (s *PostgresStore) GetSource(ctx context.Context, sourceID string) (*model.Source, error) {
	var src model.Source
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, source_type, locator, status, uploaded_at FROM sources WHERE id = $1`,
		sourceID,
	).Scan(&src.ID, &src.ProjectID, &src.Type, &src.Locator, &src.Status, &src.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "source %s", sourceID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get source")
	}
	return &src, nil
}

func (s *PostgresStore) UpdateSourceStatus(ctx context.Context, sourceID string, status model.SourceStatus) error {
	cur, err := s.GetSource(ctx, sourceID)
	if err != nil {
		return err
	}
	if !cur.Status.CanTransition(status) {
		return eris.Errorf("postgres: source %s cannot transition %s -> %s", sourceID, cur.Status, status)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE sources SET status = $1 WHERE id = $2`, string(status), sourceID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update source status %s", sourceID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "source %s", sourceID)
	}
	return nil
}

func (s *PostgresStore) ListSources(ctx context.Context, projectID string) ([]model.Source, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, source_type, locator, status, uploaded_at FROM sources
		 WHERE project_id = $1 ORDER BY uploaded_at`, projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var src model.Source
		if err := rows.Scan(&src.ID, &src.ProjectID, &src.Type, &src.Locator, &src.Status, &src.UploadedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

// Raw observations

func (s *PostgresStore) InsertObservation(ctx context.Context, obs model.RawObservation) (*model.RawObservation, error) {
	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.ExtractedAt.IsZero() {
		obs.ExtractedAt = time.Now().UTC()
	}
	keysJSON, err := json.Marshal(obs.ProductKeys)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal product keys")
	}
	attrsJSON, err := json.Marshal(obs.Attributes)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal attributes")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO raw_observations (id, source_id, product_keys, attributes, confidence, extracted_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		obs.ID, obs.SourceID, keysJSON, attrsJSON, obs.Confidence, obs.ExtractedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert observation")
	}
	return &obs, nil
}

// InsertObservations bulk-loads a feed via the COPY protocol.
func (s *PostgresStore) InsertObservations(ctx context.Context, obs []model.RawObservation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(obs))
	for _, o := range obs {
		if o.ID == "" {
			o.ID = uuid.New().String()
		}
		if o.ExtractedAt.IsZero() {
			o.ExtractedAt = now
		}
		keysJSON, err := json.Marshal(o.ProductKeys)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal product keys")
		}
		attrsJSON, err := json.Marshal(o.Attributes)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal attributes")
		}
		rows = append(rows, []any{o.ID, o.SourceID, keysJSON, attrsJSON, o.Confidence, o.ExtractedAt})
	}
	return db.CopyFrom(ctx, s.pool, "raw_observations",
		[]string{"id", "source_id", "product_keys", "attributes", "confidence", "extracted_at"}, rows)
}

func (s *PostgresStore) ListObservationsByProduct(ctx context.Context, keys model.ProductKeys) ([]model.RawObservation, error) {
	query := `SELECT id, source_id, product_keys, attributes, confidence, extracted_at FROM raw_observations WHERE `
	var args []any
	if keys.SKU != "" {
		query += `product_keys->>'sku' = $1`
		args = append(args, keys.SKU)
	} else {
		query += `product_keys->>'mpn' = $1 AND product_keys->>'brand' = $2`
		args = append(args, keys.MPN, keys.Brand)
	}
	query += ` ORDER BY extracted_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list observations by product")
	}
	defer rows.Close()
	return scanPgObservations(rows)
}

func (s *PostgresStore) ListObservationsBySource(ctx context.Context, sourceID string) ([]model.RawObservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, product_keys, attributes, confidence, extracted_at
		 FROM raw_observations WHERE source_id = $1 ORDER BY extracted_at`, sourceID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list observations by source")
	}
	defer rows.Close()
	return scanPgObservations(rows)
}

func scanPgObservations(rows pgx.Rows) ([]model.RawObservation, error) {
	var out []model.RawObservation
	for rows.Next() {
		var obs model.RawObservation
		var keysJSON, attrsJSON []byte
		if err := rows.Scan(&obs.ID, &obs.SourceID, &keysJSON, &attrsJSON, &obs.Confidence, &obs.ExtractedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan observation")
		}
		if err := json.Unmarshal(keysJSON, &obs.ProductKeys); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal product keys")
		}
		if err := json.Unmarshal(attrsJSON, &obs.Attributes); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal attributes")
		}
		out = append(out, obs)
	}
	return out, eris.Wrap(rows.Err(), "postgres: observations iterate")
}

// Products

func (s *PostgresStore) GetProduct(ctx context.Context, productID string) (*model.Product, error) {
	var p model.Product
	var mpn, brand *string
	err := s.pool.QueryRow(ctx,
		`SELECT id, sku, mpn, brand, created_at FROM products WHERE id = $1`, productID,
	).Scan(&p.ID, &p.SKU, &mpn, &brand, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "product %s", productID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get product")
	}
	if mpn != nil {
		p.MPN = *mpn
	}
	if brand != nil {
		p.Brand = *brand
	}
	return &p, nil
}

func (s *PostgresStore) FindProduct(ctx context.Context, keys model.ProductKeys) (*model.Product, error) {
	query := `SELECT id, sku, mpn, brand, created_at FROM products WHERE `
	var args []any
	if keys.SKU != "" {
		query += `sku = $1`
		args = append(args, keys.SKU)
	} else if keys.MPN != "" && keys.Brand != "" {
		query += `mpn = $1 AND brand = $2`
		args = append(args, keys.MPN, keys.Brand)
	} else {
		return nil, eris.Wrap(ErrNotFound, "product keys empty")
	}

	var p model.Product
	var mpn, brand *string
	err := s.pool.QueryRow(ctx, query, args...).Scan(&p.ID, &p.SKU, &mpn, &brand, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "product by keys %+v", keys)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: find product")
	}
	if mpn != nil {
		p.MPN = *mpn
	}
	if brand != nil {
		p.Brand = *brand
	}
	return &p, nil
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p model.Product) (*model.Product, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO products (id, sku, mpn, brand, created_at) VALUES ($1, $2, $3, $4, $5)`,
		p.ID, p.SKU, nilEmpty(p.MPN), nilEmpty(p.Brand), p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert product")
	}
	return &p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context) ([]model.Product, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, sku, mpn, brand, created_at FROM products ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list products")
	}
	defer rows.Close()

	var out []model.Product
	for rows.Next() {
		var p model.Product
		var mpn, brand *string
		if err := rows.Scan(&p.ID, &p.SKU, &mpn, &brand, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan product")
		}
		if mpn != nil {
			p.MPN = *mpn
		}
		if brand != nil {
			p.Brand = *brand
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list products iterate")
}

// Aggregated attributes

func (s *PostgresStore) UpsertAggregatedAttribute(ctx context.Context, attr model.AggregatedAttribute) error {
	if attr.ID == "" {
		attr.ID = uuid.New().String()
	}
	valuesJSON, err := json.Marshal(attr.Values)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal values")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO aggregated_attributes (id, product_id, attribute_name, observed_values, has_conflict)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (product_id, attribute_name)
		 DO UPDATE SET observed_values = EXCLUDED.observed_values, has_conflict = EXCLUDED.has_conflict`,
		attr.ID, attr.ProductID, attr.AttributeName, valuesJSON, attr.HasConflict,
	)
	return eris.Wrap(err, "postgres: upsert aggregated attribute")
}

func (s *PostgresStore) GetAggregatedAttribute(ctx context.Context, productID, attributeName string) (*model.AggregatedAttribute, error) {
	var attr model.AggregatedAttribute
	var valuesJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, product_id, attribute_name, observed_values, has_conflict
		 FROM aggregated_attributes WHERE product_id = $1 AND attribute_name = $2`,
		productID, attributeName,
	).Scan(&attr.ID, &attr.ProductID, &attr.AttributeName, &valuesJSON, &attr.HasConflict)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "aggregated attribute %s/%s", productID, attributeName)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get aggregated attribute")
	}
	if err := json.Unmarshal(valuesJSON, &attr.Values); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal values")
	}
	return &attr, nil
}

func (s *PostgresStore) ListAggregatedAttributes(ctx context.Context, productID string) ([]model.AggregatedAttribute, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, attribute_name, observed_values, has_conflict
		 FROM aggregated_attributes WHERE product_id = $1 ORDER BY attribute_name`, productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list aggregated attributes")
	}
	defer rows.Close()

	var out []model.AggregatedAttribute
	for rows.Next() {
		var attr model.AggregatedAttribute
		var valuesJSON []byte
		if err := rows.Scan(&attr.ID, &attr.ProductID, &attr.AttributeName, &valuesJSON, &attr.HasConflict); err != nil {
			return nil, eris.Wrap(err, "postgres: scan aggregated attribute")
		}
		if err := json.Unmarshal(valuesJSON, &attr.Values); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal values")
		}
		out = append(out, attr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: aggregated attributes iterate")
}

// Source priorities

func (s *PostgresStore) UpsertSourcePriority(ctx context.Context, p model.SourcePriority) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.AttributePriorities == nil {
		p.AttributePriorities = map[string]int{}
	}
	overridesJSON, err := json.Marshal(p.AttributePriorities)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal attribute priorities")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO source_priority (id, project_id, source_id, priority_rank, reliability_score, auto_select_enabled, attribute_priorities, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (project_id, source_id)
		 DO UPDATE SET priority_rank = EXCLUDED.priority_rank,
		               reliability_score = EXCLUDED.reliability_score,
		               auto_select_enabled = EXCLUDED.auto_select_enabled,
		               attribute_priorities = EXCLUDED.attribute_priorities,
		               updated_at = EXCLUDED.updated_at`,
		p.ID, p.ProjectID, p.SourceID, p.PriorityRank, p.ReliabilityScore,
		p.AutoSelectEnabled, overridesJSON, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: upsert source priority")
}

func (s *PostgresStore) GetSourcePriority(ctx context.Context, projectID, sourceID string) (*model.SourcePriority, error) {
	var p model.SourcePriority
	var overridesJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, source_id, priority_rank, reliability_score, auto_select_enabled, attribute_priorities, updated_at
		 FROM source_priority WHERE project_id = $1 AND source_id = $2`,
		projectID, sourceID,
	).Scan(&p.ID, &p.ProjectID, &p.SourceID, &p.PriorityRank, &p.ReliabilityScore,
		&p.AutoSelectEnabled, &overridesJSON, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "source priority %s/%s", projectID, sourceID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get source priority")
	}
	if err := json.Unmarshal(overridesJSON, &p.AttributePriorities); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal attribute priorities")
	}
	return &p, nil
}

func (s *PostgresStore) ListSourcePriorities(ctx context.Context, projectID string) ([]model.SourcePriority, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, source_id, priority_rank, reliability_score, auto_select_enabled, attribute_priorities, updated_at
		 FROM source_priority WHERE project_id = $1 ORDER BY priority_rank`, projectID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list source priorities")
	}
	defer rows.Close()

	var out []model.SourcePriority
	for rows.Next() {
		var p model.SourcePriority
		var overridesJSON []byte
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.SourceID, &p.PriorityRank, &p.ReliabilityScore,
			&p.AutoSelectEnabled, &overridesJSON, &p.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan source priority")
		}
		if err := json.Unmarshal(overridesJSON, &p.AttributePriorities); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal attribute priorities")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: source priorities iterate")
}

// Cleansing issues

func (s *PostgresStore) InsertCleansingIssue(ctx context.Context, issue model.CleansingIssue) (*model.CleansingIssue, error) {
	if issue.ID == "" {
		issue.ID = uuid.New().String()
	}
	if issue.DetectedAt.IsZero() {
		issue.DetectedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cleansing_issues (id, product_id, attribute_name, issue_type, details, resolved, detected_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		issue.ID, issue.ProductID, issue.AttributeName, string(issue.IssueType),
		issue.Details, issue.Resolved, issue.DetectedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert cleansing issue")
	}
	return &issue, nil
}

func (s *PostgresStore) ListCleansingIssues(ctx context.Context, filter IssueFilter) ([]model.CleansingIssue, error) {
	query := `SELECT id, product_id, attribute_name, issue_type, details, resolved, detected_at
	          FROM cleansing_issues WHERE true`
	var args []any
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		query += ` AND product_id = $1`
	}
	if !filter.IncludeResolved {
		query += ` AND resolved = false`
	}
	query += ` ORDER BY detected_at DESC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		if filter.ProductID != "" {
			query += ` LIMIT $2`
		} else {
			query += ` LIMIT $1`
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cleansing issues")
	}
	defer rows.Close()

	var out []model.CleansingIssue
	for rows.Next() {
		var issue model.CleansingIssue
		if err := rows.Scan(&issue.ID, &issue.ProductID, &issue.AttributeName, &issue.IssueType,
			&issue.Details, &issue.Resolved, &issue.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cleansing issue")
		}
		out = append(out, issue)
	}
	return out, eris.Wrap(rows.Err(), "postgres: cleansing issues iterate")
}

func (s *PostgresStore) ResolveCleansingIssue(ctx context.Context, issueID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cleansing_issues SET resolved = true WHERE id = $1`, issueID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve issue %s", issueID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "cleansing issue %s", issueID)
	}
	return nil
}

// Standardized attributes

func (s *PostgresStore) UpsertStandardizedAttributes(ctx context.Context, attrs []model.StandardizedAttribute) (int64, error) {
	if len(attrs) == 0 {
		return 0, nil
	}
	rows := make([][]any, 0, len(attrs))
	for _, attr := range attrs {
		if attr.ID == "" {
			attr.ID = uuid.New().String()
		}
		derivedJSON, err := json.Marshal(attr.DerivedFrom)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal derived_from")
		}
		rows = append(rows, []any{attr.ID, attr.ProductID, attr.AttributeName,
			attr.StandardValue, attr.StandardFormat, derivedJSON})
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "standardized_attributes",
		Columns:      []string{"id", "product_id", "attribute_name", "standard_value", "standard_format", "derived_from"},
		ConflictKeys: []string{"product_id", "attribute_name"},
		UpdateCols:   []string{"standard_value", "standard_format", "derived_from"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert standardized attributes")
}

func (s *PostgresStore) ListStandardizedAttributes(ctx context.Context, productID string) ([]model.StandardizedAttribute, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, attribute_name, standard_value, standard_format, derived_from
		 FROM standardized_attributes WHERE product_id = $1 ORDER BY attribute_name`, productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list standardized attributes")
	}
	defer rows.Close()

	var out []model.StandardizedAttribute
	for rows.Next() {
		var attr model.StandardizedAttribute
		var derivedJSON []byte
		if err := rows.Scan(&attr.ID, &attr.ProductID, &attr.AttributeName,
			&attr.StandardValue, &attr.StandardFormat, &derivedJSON); err != nil {
			return nil, eris.Wrap(err, "postgres: scan standardized attribute")
		}
		if err := json.Unmarshal(derivedJSON, &attr.DerivedFrom); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal derived_from")
		}
		out = append(out, attr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: standardized attributes iterate")
}

// Business rules

func (s *PostgresStore) CreateBusinessRule(ctx context.Context, rule model.BusinessRule) error {
	if rule.RuleID == "" {
		rule.RuleID = uuid.New().String()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	configJSON, err := json.Marshal(rule.Config)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal rule config")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO business_rules (rule_id, attribute_name, rule_type, rule_config, active, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (rule_id)
		 DO UPDATE SET attribute_name = EXCLUDED.attribute_name,
		               rule_type = EXCLUDED.rule_type,
		               rule_config = EXCLUDED.rule_config,
		               active = EXCLUDED.active`,
		rule.RuleID, rule.AttributeName, string(rule.RuleType), configJSON, rule.Active, rule.CreatedAt,
	)
	return eris.Wrap(err, "postgres: create business rule")
}

func (s *PostgresStore) ListActiveRules(ctx context.Context) ([]model.BusinessRule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT rule_id, attribute_name, rule_type, rule_config, active, created_at
		 FROM business_rules WHERE active = true ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active rules")
	}
	defer rows.Close()

	var out []model.BusinessRule
	for rows.Next() {
		var rule model.BusinessRule
		var configJSON []byte
		if err := rows.Scan(&rule.RuleID, &rule.AttributeName, &rule.RuleType, &configJSON,
			&rule.Active, &rule.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan business rule")
		}
		if err := json.Unmarshal(configJSON, &rule.Config); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal rule config")
		}
		out = append(out, rule)
	}
	return out, eris.Wrap(rows.Err(), "postgres: business rules iterate")
}

// Rule validations

func (s *PostgresStore) InsertRuleValidation(ctx context.Context, v model.RuleValidation) (*model.RuleValidation, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.ValidatedAt.IsZero() {
		v.ValidatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rule_validations (id, product_id, rule_id, status, reason, validated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ID, v.ProductID, v.RuleID, string(v.Status), v.Reason, v.ValidatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert rule validation")
	}
	return &v, nil
}

func (s *PostgresStore) ListRuleValidations(ctx context.Context, productID string) ([]model.RuleValidation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, rule_id, status, reason, validated_at
		 FROM rule_validations WHERE product_id = $1 ORDER BY validated_at DESC`, productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list rule validations")
	}
	defer rows.Close()

	var out []model.RuleValidation
	for rows.Next() {
		var v model.RuleValidation
		if err := rows.Scan(&v.ID, &v.ProductID, &v.RuleID, &v.Status, &v.Reason, &v.ValidatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule validation")
		}
		out = append(out, v)
	}
	return out, eris.Wrap(rows.Err(), "postgres: rule validations iterate")
}

// Enrichments

func (s *PostgresStore) UpsertEnrichment(ctx context.Context, e model.Enrichment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	bulletsJSON, err := json.Marshal(e.Bullets)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal bullets")
	}
	tagsJSON, err := json.Marshal(e.Tags)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal tags")
	}
	inferredJSON, err := json.Marshal(e.InferredAttributes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal inferred attributes")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO enrichments (id, product_id, seo_title, bullets, tags, inferred_attributes)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (product_id)
		 DO UPDATE SET seo_title = EXCLUDED.seo_title,
		               bullets = EXCLUDED.bullets,
		               tags = EXCLUDED.tags,
		               inferred_attributes = EXCLUDED.inferred_attributes`,
		e.ID, e.ProductID, e.SEOTitle, bulletsJSON, tagsJSON, inferredJSON,
	)
	return eris.Wrap(err, "postgres: upsert enrichment")
}

func (s *PostgresStore) GetEnrichment(ctx context.Context, productID string) (*model.Enrichment, error) {
	var e model.Enrichment
	var bulletsJSON, tagsJSON, inferredJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, product_id, seo_title, bullets, tags, inferred_attributes
		 FROM enrichments WHERE product_id = $1`, productID,
	).Scan(&e.ID, &e.ProductID, &e.SEOTitle, &bulletsJSON, &tagsJSON, &inferredJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "enrichment %s", productID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get enrichment")
	}
	if err := json.Unmarshal(bulletsJSON, &e.Bullets); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal bullets")
	}
	if err := json.Unmarshal(tagsJSON, &e.Tags); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal tags")
	}
	if err := json.Unmarshal(inferredJSON, &e.InferredAttributes); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal inferred attributes")
	}
	return &e, nil
}

// Golden records

func (s *PostgresStore) UpsertGoldenRecord(ctx context.Context, gr model.GoldenRecord) error {
	if gr.ID == "" {
		gr.ID = uuid.New().String()
	}
	if gr.UpdatedAt.IsZero() {
		gr.UpdatedAt = time.Now().UTC()
	}
	attrsJSON, err := json.Marshal(gr.Attributes)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal golden attributes")
	}
	var enrichJSON []byte
	if gr.Enrichment != nil {
		enrichJSON, err = json.Marshal(gr.Enrichment)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal golden enrichment")
		}
	}
	// published_at is only written by MarkPublished, never by assembly.
	_, err = s.pool.Exec(ctx,
		`INSERT INTO golden_records (id, product_id, sku, brand, attributes, enrichment, ready_for_publish, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (product_id)
		 DO UPDATE SET sku = EXCLUDED.sku,
		               brand = EXCLUDED.brand,
		               attributes = EXCLUDED.attributes,
		               enrichment = EXCLUDED.enrichment,
		               ready_for_publish = EXCLUDED.ready_for_publish,
		               updated_at = EXCLUDED.updated_at`,
		gr.ID, gr.ProductID, gr.SKU, nilEmpty(gr.Brand), attrsJSON, enrichJSON,
		gr.ReadyForPublish, gr.UpdatedAt,
	)
	return eris.Wrap(err, "postgres: upsert golden record")
}

func (s *PostgresStore) GetGoldenRecord(ctx context.Context, productID string) (*model.GoldenRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, product_id, sku, brand, attributes, enrichment, ready_for_publish, published_at, updated_at
		 FROM golden_records WHERE product_id = $1`, productID,
	)
	gr, err := scanPgGoldenRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "golden record %s", productID)
	}
	return gr, err
}

func (s *PostgresStore) ListGoldenRecords(ctx context.Context, publishableOnly bool) ([]model.GoldenRecord, error) {
	query := `SELECT id, product_id, sku, brand, attributes, enrichment, ready_for_publish, published_at, updated_at
	          FROM golden_records`
	if publishableOnly {
		query += ` WHERE ready_for_publish = true AND published_at IS NULL`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list golden records")
	}
	defer rows.Close()

	var out []model.GoldenRecord
	for rows.Next() {
		gr, err := scanPgGoldenRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *gr)
	}
	return out, eris.Wrap(rows.Err(), "postgres: golden records iterate")
}

func scanPgGoldenRecord(row pgx.Row) (*model.GoldenRecord, error) {
	var gr model.GoldenRecord
	var brand *string
	var attrsJSON, enrichJSON []byte
	var publishedAt *time.Time
	err := row.Scan(&gr.ID, &gr.ProductID, &gr.SKU, &brand, &attrsJSON, &enrichJSON,
		&gr.ReadyForPublish, &publishedAt, &gr.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan golden record")
	}
	if brand != nil {
		gr.Brand = *brand
	}
	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &gr.Attributes); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal golden attributes")
		}
	}
	if len(enrichJSON) > 0 {
		gr.Enrichment = &model.Enrichment{}
		if err := json.Unmarshal(enrichJSON, gr.Enrichment); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal golden enrichment")
		}
	}
	gr.PublishedAt = publishedAt
	return &gr, nil
}

func (s *PostgresStore) MarkPublished(ctx context.Context, productID string, at time.Time) error {
	// COALESCE keeps the first publish timestamp; republish is a no-op.
	tag, err := s.pool.Exec(ctx,
		`UPDATE golden_records SET published_at = COALESCE(published_at, $1) WHERE product_id = $2`,
		at.UTC(), productID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark published %s", productID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "golden record %s", productID)
	}
	return nil
}

// Audit trail

func (s *PostgresStore) AppendAudit(ctx context.Context, e model.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.LoggedAt.IsZero() {
		e.LoggedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO audit_trail (id, product_id, attribute_name, selected_value, source_used, reason, stage, logged_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ProductID, e.AttributeName, e.SelectedValue, e.SourceUsed, e.Reason, string(e.Stage), e.LoggedAt,
	)
	return eris.Wrap(err, "postgres: append audit")
}

func (s *PostgresStore) ListAudit(ctx context.Context, productID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, product_id, attribute_name, selected_value, source_used, reason, stage, logged_at
		 FROM audit_trail WHERE product_id = $1 ORDER BY logged_at DESC, id`, productID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audit")
	}
	defer rows.Close()

	var out []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.ProductID, &e.AttributeName, &e.SelectedValue,
			&e.SourceUsed, &e.Reason, &e.Stage, &e.LoggedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan audit entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: audit iterate")
}

func nilEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
