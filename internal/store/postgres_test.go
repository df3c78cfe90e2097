package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_GetProduct_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, sku, mpn, brand, created_at FROM products WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetProduct(context.Background(), "missing")
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetProduct(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mpn, brand := "M-1", "Acme"
	mock.ExpectQuery(`SELECT id, sku, mpn, brand, created_at FROM products WHERE id = \$1`).
		WithArgs("prod-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "sku", "mpn", "brand", "created_at"}).
			AddRow("prod-1", "SKU-1", &mpn, &brand, now))

	p, err := s.GetProduct(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.Equal(t, "SKU-1", p.SKU)
	assert.Equal(t, "Acme", p.Brand)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSourceStatus_RejectsBackwardTransition(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT id, project_id, source_type, locator, status, uploaded_at FROM sources WHERE id = \$1`).
		WithArgs("src-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "project_id", "source_type", "locator", "status", "uploaded_at"}).
			AddRow("src-1", "proj-1", "pdf", "a.pdf", "completed", now))

	err := s.UpdateSourceStatus(context.Background(), "src-1", model.SourceStatusProcessing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot transition")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertAggregatedAttribute(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO aggregated_attributes`).
		WithArgs(pgxmock.AnyArg(), "prod-1", "color", pgxmock.AnyArg(), true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertAggregatedAttribute(context.Background(), model.AggregatedAttribute{
		ProductID:     "prod-1",
		AttributeName: "color",
		Values: []model.AttributeValue{
			{Value: "black", SourceID: "s1", Confidence: 0.9},
			{Value: "white", SourceID: "s2", Confidence: 0.7},
		},
		HasConflict: true,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_InsertObservations_Copy(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectCopyFrom(pgx.Identifier{"raw_observations"},
		[]string{"id", "source_id", "product_keys", "attributes", "confidence", "extracted_at"}).
		WillReturnResult(2)

	n, err := s.InsertObservations(context.Background(), []model.RawObservation{
		{SourceID: "s1", ProductKeys: model.ProductKeys{SKU: "SKU-1"}, Attributes: map[string]string{"color": "black"}, Confidence: 0.8},
		{SourceID: "s2", ProductKeys: model.ProductKeys{SKU: "SKU-1"}, Attributes: map[string]string{"color": "white"}, Confidence: 0.6},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertStandardizedAttributes_Batch(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_standardized_attributes"`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_standardized_attributes"},
		[]string{"id", "product_id", "attribute_name", "standard_value", "standard_format", "derived_from"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "standardized_attributes" .+ ON CONFLICT \("product_id", "attribute_name"\) DO UPDATE SET`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := s.UpsertStandardizedAttributes(context.Background(), []model.StandardizedAttribute{
		{ProductID: "prod-1", AttributeName: "length", StandardValue: "64.52", StandardFormat: "mm", DerivedFrom: []string{"s1"}},
		{ProductID: "prod-1", AttributeName: "weight", StandardValue: "2000.00", StandardFormat: "g", DerivedFrom: []string{"s1", "s2"}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_MarkPublished_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE golden_records SET published_at = COALESCE`).
		WithArgs(pgxmock.AnyArg(), "prod-missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.MarkPublished(context.Background(), "prod-missing", time.Now())
	assert.True(t, eris.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListActiveRules(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT rule_id, attribute_name, rule_type, rule_config, active, created_at`).
		WillReturnRows(pgxmock.NewRows([]string{"rule_id", "attribute_name", "rule_type", "rule_config", "active", "created_at"}).
			AddRow("rule-1", "ip_rating", "enum", []byte(`{"enum":{"allowed_values":["IP20","IP65"]}}`), true, now))

	rules, err := s.ListActiveRules(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.NotNil(t, rules[0].Config.Enum)
	assert.Equal(t, []string{"IP20", "IP65"}, rules[0].Config.Enum.AllowedValues)
	assert.NoError(t, mock.ExpectationsWereMet())
}
