package export

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "export.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })
	return st
}

func seedGolden(t *testing.T, st store.Store, sku string, ready bool, attrs map[string]model.GoldenAttribute, enr *model.Enrichment) string {
	t.Helper()
	productID := uuid.NewString()
	require.NoError(t, st.UpsertGoldenRecord(context.Background(), model.GoldenRecord{
		ID:              uuid.NewString(),
		ProductID:       productID,
		SKU:             sku,
		Brand:           "Acme",
		Attributes:      attrs,
		Enrichment:      enr,
		ReadyForPublish: ready,
	}))
	return productID
}

func readSheet(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := xlsx.OpenFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, f.Sheets)

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			cells[i] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows
}

func TestWriteCatalog_RowShape(t *testing.T) {
	st := newTestStore(t)
	seedGolden(t, st, "SKU-1", true,
		map[string]model.GoldenAttribute{
			"color":  {Value: "black", Format: "string"},
			"length": {Value: "64.52", Format: "mm"},
		},
		&model.Enrichment{
			SEOTitle: "Acme M-100 LED Panel",
			Tags:     []string{"Lighting", "Acme"},
		})

	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	n, err := NewExporter(st).WriteCatalog(context.Background(), Options{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows := readSheet(t, path)
	require.Len(t, rows, 2)
	// Fixed columns first, then attribute columns sorted by name.
	assert.Equal(t, []string{"SKU", "Brand", "Ready", "Published At", "SEO Title", "Tags", "color", "length"}, rows[0])
	assert.Equal(t, "SKU-1", rows[1][0])
	assert.Equal(t, "Acme", rows[1][1])
	assert.Equal(t, "true", rows[1][2])
	assert.Empty(t, rows[1][3])
	assert.Equal(t, "Acme M-100 LED Panel", rows[1][4])
	assert.Equal(t, "Lighting, Acme", rows[1][5])
	assert.Equal(t, "black", rows[1][6])
	assert.Equal(t, "64.52", rows[1][7])
}

func TestWriteCatalog_AttributeUnion(t *testing.T) {
	st := newTestStore(t)
	seedGolden(t, st, "SKU-1", false, map[string]model.GoldenAttribute{"color": {Value: "black"}}, nil)
	seedGolden(t, st, "SKU-2", false, map[string]model.GoldenAttribute{"weight": {Value: "2000.00"}}, nil)

	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	n, err := NewExporter(st).WriteCatalog(context.Background(), Options{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows := readSheet(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"SKU", "Brand", "Ready", "Published At", "SEO Title", "Tags", "color", "weight"}, rows[0])

	bySKU := map[string][]string{}
	for _, row := range rows[1:] {
		bySKU[row[0]] = row
	}
	assert.Equal(t, "black", bySKU["SKU-1"][6])
	assert.Empty(t, bySKU["SKU-1"][7])
	assert.Empty(t, bySKU["SKU-2"][6])
	assert.Equal(t, "2000.00", bySKU["SKU-2"][7])
}

func TestWriteCatalog_PublishableOnly(t *testing.T) {
	st := newTestStore(t)
	seedGolden(t, st, "SKU-READY", true, nil, nil)
	seedGolden(t, st, "SKU-DRAFT", false, nil, nil)
	published := seedGolden(t, st, "SKU-DONE", true, nil, nil)
	require.NoError(t, st.MarkPublished(context.Background(), published, time.Now().UTC()))

	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	n, err := NewExporter(st).WriteCatalog(context.Background(), Options{Path: path, PublishableOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows := readSheet(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "SKU-READY", rows[1][0])
}

func TestWriteCatalog_EmptyPath(t *testing.T) {
	st := newTestStore(t)
	_, err := NewExporter(st).WriteCatalog(context.Background(), Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination path")
}
