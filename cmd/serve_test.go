package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/pipeline"
	"github.com/sells-group/catalog-cli/internal/priority"
	"github.com/sells-group/catalog-cli/internal/store"
)

func newTestAPI(t *testing.T) (*apiServer, http.Handler) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	resolver, err := priority.NewResolver(priority.DefaultWeights)
	require.NoError(t, err)

	api := &apiServer{
		store:   st,
		runner:  pipeline.NewRunner(st, resolver),
		intake:  rate.NewLimiter(rate.Inf, 1),
		workers: 2,
	}
	return api, api.routes()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

func TestAPI_Health(t *testing.T) {
	_, h := newTestAPI(t)

	rr := doJSON(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rr)["status"])
}

func TestAPI_CreateProject_MissingName(t *testing.T) {
	_, h := newTestAPI(t)

	rr := doJSON(t, h, http.MethodPost, "/api/projects", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "name is required")
}

func TestAPI_FullPipelineFlow(t *testing.T) {
	_, h := newTestAPI(t)

	rr := doJSON(t, h, http.MethodPost, "/api/projects", map[string]string{"name": "catalog"})
	require.Equal(t, http.StatusCreated, rr.Code)
	project := decodeBody[model.Project](t, rr)

	rr = doJSON(t, h, http.MethodPost, "/api/projects/"+project.ID+"/sources",
		map[string]string{"type": "pdf", "locator": "specsheet.pdf"})
	require.Equal(t, http.StatusCreated, rr.Code)
	src := decodeBody[model.Source](t, rr)

	rr = doJSON(t, h, http.MethodPut, "/api/projects/"+project.ID+"/priorities/rank",
		map[string][]string{"source_ids": {src.ID}})
	require.Equal(t, http.StatusOK, rr.Code)

	observations := []model.RawObservation{
		{
			SourceID:    src.ID,
			ProductKeys: model.ProductKeys{SKU: "SKU-100", Brand: "Acme"},
			Attributes:  map[string]string{"brand": "Acme", "model": "M-1", "length": "2.54in"},
			Confidence:  0.9,
		},
	}
	rr = doJSON(t, h, http.MethodPost, "/api/observations", observations)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, float64(1), decodeBody[map[string]float64](t, rr)["inserted"])

	rr = doJSON(t, h, http.MethodPost, "/api/pipeline/run",
		map[string]string{"project_id": project.ID, "sku": "SKU-100"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	result := decodeBody[pipeline.RunResult](t, rr)
	assert.Equal(t, "SKU-100", result.SKU)
	assert.Equal(t, 6, result.StagesCompleted)

	rr = doJSON(t, h, http.MethodGet, "/api/products/"+result.ProductID+"/standardized", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	std := decodeBody[[]model.StandardizedAttribute](t, rr)
	byName := map[string]model.StandardizedAttribute{}
	for _, a := range std {
		byName[a.AttributeName] = a
	}
	assert.Equal(t, "64.52", byName["length"].StandardValue)
	assert.Equal(t, "mm", byName["length"].StandardFormat)

	rr = doJSON(t, h, http.MethodGet, "/api/products/"+result.ProductID+"/golden", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	golden := decodeBody[model.GoldenRecord](t, rr)
	assert.Equal(t, "SKU-100", golden.SKU)
	// No rules ran, so the publish gate stays closed.
	assert.False(t, golden.ReadyForPublish)

	rr = doJSON(t, h, http.MethodPost, "/api/products/"+result.ProductID+"/publish", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(t, h, http.MethodGet, "/api/products/"+result.ProductID+"/audit", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, decodeBody[[]model.AuditEntry](t, rr))

	rr = doJSON(t, h, http.MethodGet, "/api/summary", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	summary := decodeBody[map[string]int](t, rr)
	assert.Equal(t, 1, summary["products"])
}

func TestAPI_PipelineRun_UnknownProduct(t *testing.T) {
	_, h := newTestAPI(t)

	rr := doJSON(t, h, http.MethodPost, "/api/pipeline/run",
		map[string]string{"project_id": "p", "product_id": "nope"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAPI_PipelineRun_MissingIdentity(t *testing.T) {
	_, h := newTestAPI(t)

	rr := doJSON(t, h, http.MethodPost, "/api/pipeline/run", map[string]string{"project_id": "p"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "product_id or sku")
}

func TestAPI_Observations_RateLimited(t *testing.T) {
	api, h := newTestAPI(t)

	rr := doJSON(t, h, http.MethodPost, "/api/projects", map[string]string{"name": "p"})
	require.Equal(t, http.StatusCreated, rr.Code)
	project := decodeBody[model.Project](t, rr)
	rr = doJSON(t, h, http.MethodPost, "/api/projects/"+project.ID+"/sources",
		map[string]string{"type": "web", "locator": "https://acme.example"})
	require.Equal(t, http.StatusCreated, rr.Code)
	src := decodeBody[model.Source](t, rr)

	api.intake = rate.NewLimiter(rate.Limit(1), 1)
	obs := []model.RawObservation{{SourceID: src.ID, ProductKeys: model.ProductKeys{SKU: "X"}, Attributes: map[string]string{"a": "1"}}}

	rr = doJSON(t, h, http.MethodPost, "/api/observations", obs)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doJSON(t, h, http.MethodPost, "/api/observations", obs)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestAPI_CreateRule_RejectsInvalid(t *testing.T) {
	_, h := newTestAPI(t)

	rr := doJSON(t, h, http.MethodPost, "/api/rules", map[string]any{
		"rule_id":        "bad-range",
		"attribute_name": "length",
		"rule_type":      "range",
		"rule_config":    map[string]any{"range": map[string]float64{"min": 10, "max": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPI_UpdatePriority(t *testing.T) {
	_, h := newTestAPI(t)

	rr := doJSON(t, h, http.MethodPost, "/api/projects", map[string]string{"name": "p"})
	require.Equal(t, http.StatusCreated, rr.Code)
	project := decodeBody[model.Project](t, rr)

	var sourceIDs []string
	for i := 0; i < 2; i++ {
		rr = doJSON(t, h, http.MethodPost, "/api/projects/"+project.ID+"/sources",
			map[string]string{"type": "csv", "locator": fmt.Sprintf("file-%d.csv", i)})
		require.Equal(t, http.StatusCreated, rr.Code)
		sourceIDs = append(sourceIDs, decodeBody[model.Source](t, rr).ID)
	}

	rr = doJSON(t, h, http.MethodPut, "/api/projects/"+project.ID+"/priorities/rank",
		map[string][]string{"source_ids": sourceIDs})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = doJSON(t, h, http.MethodPut, "/api/projects/"+project.ID+"/priorities/"+sourceIDs[1],
		map[string]any{"move": "up", "reliability": 0.8, "auto_select": false})
	require.Equal(t, http.StatusOK, rr.Code)
	updated := decodeBody[model.SourcePriority](t, rr)
	assert.Equal(t, 1, updated.PriorityRank)
	assert.InDelta(t, 0.8, updated.ReliabilityScore, 0.001)
	assert.False(t, updated.AutoSelectEnabled)
}
