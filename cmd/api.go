package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/pipeline"
	"github.com/sells-group/catalog-cli/internal/priority"
	"github.com/sells-group/catalog-cli/internal/rules"
	"github.com/sells-group/catalog-cli/internal/store"
)

type apiServer struct {
	store   store.Store
	runner  *pipeline.Runner
	intake  *rate.Limiter
	workers int
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

func respondErr(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case eris.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case eris.Is(err, pipeline.ErrPublishNotReady):
		status = http.StatusConflict
	case eris.Is(err, pipeline.ErrNoObservations):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		zap.L().Error("request failed", zap.Error(err))
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return eris.Wrap(err, "decode request body")
	}
	return nil
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *apiServer) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	products, err := s.store.ListProducts(ctx)
	if err != nil {
		respondErr(w, err)
		return
	}
	issues, err := s.store.ListCleansingIssues(ctx, store.IssueFilter{})
	if err != nil {
		respondErr(w, err)
		return
	}
	publishable, err := s.store.ListGoldenRecords(ctx, true)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{
		"products":    len(products),
		"open_issues": len(issues),
		"publishable": len(publishable),
	})
}

func (s *apiServer) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Name == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	proj, err := s.store.CreateProject(r.Context(), req.Name)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, proj)
}

func (s *apiServer) handleListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.ListSources(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sources)
}

func (s *apiServer) handleCreateSource(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type    string `json:"type"`
		Locator string `json:"locator"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Locator == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "locator is required"})
		return
	}

	src, err := s.store.CreateSource(r.Context(), model.Source{
		ProjectID: chi.URLParam(r, "projectID"),
		Type:      model.SourceType(req.Type),
		Locator:   req.Locator,
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, src)
}

func (s *apiServer) handleSourceStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	sourceID := chi.URLParam(r, "sourceID")
	if err := s.store.UpdateSourceStatus(r.Context(), sourceID, model.SourceStatus(req.Status)); err != nil {
		respondErr(w, err)
		return
	}
	src, err := s.store.GetSource(r.Context(), sourceID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, src)
}

func (s *apiServer) handleObservations(w http.ResponseWriter, r *http.Request) {
	var observations []model.RawObservation
	if err := decode(r, &observations); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(observations) == 0 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "at least one observation is required"})
		return
	}

	n, err := s.store.InsertObservations(r.Context(), observations)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]int64{"inserted": n})
}

func (s *apiServer) handlePipelineRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID string `json:"project_id"`
		ProductID string `json:"product_id,omitempty"`
		SKU       string `json:"sku,omitempty"`
		MPN       string `json:"mpn,omitempty"`
		Brand     string `json:"brand,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	var (
		result *pipeline.RunResult
		err    error
	)
	switch {
	case req.ProductID != "":
		result, err = s.runner.Run(r.Context(), req.ProjectID, req.ProductID)
	case req.SKU != "" || req.MPN != "":
		result, err = s.runner.RunKeys(r.Context(), req.ProjectID, model.ProductKeys{SKU: req.SKU, MPN: req.MPN, Brand: req.Brand})
	default:
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "product_id or sku is required"})
		return
	}
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *apiServer) handlePipelineBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectID   string   `json:"project_id"`
		ProductIDs  []string `json:"product_ids"`
		Concurrency int      `json:"concurrency"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.ProductIDs) == 0 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "product_ids is required"})
		return
	}

	workers := req.Concurrency
	if workers == 0 {
		workers = s.workers
	}

	result, err := s.runner.RunBatch(r.Context(), req.ProjectID, req.ProductIDs, workers)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleListPriorities(w http.ResponseWriter, r *http.Request) {
	priorities, err := s.store.ListSourcePriorities(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, priorities)
}

func (s *apiServer) handleRankPriorities(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceIDs []string `json:"source_ids"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if len(req.SourceIDs) == 0 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "source_ids is required"})
		return
	}

	projectID := chi.URLParam(r, "projectID")
	if err := priority.NewManager(s.store).Rank(r.Context(), projectID, req.SourceIDs); err != nil {
		respondErr(w, err)
		return
	}
	priorities, err := s.store.ListSourcePriorities(r.Context(), projectID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, priorities)
}

func (s *apiServer) handleUpdatePriority(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Move        string         `json:"move,omitempty"` // "up" or "down"
		Reliability *float64       `json:"reliability,omitempty"`
		AutoSelect  *bool          `json:"auto_select,omitempty"`
		Attributes  map[string]int `json:"attribute_priorities,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	ctx := r.Context()
	projectID := chi.URLParam(r, "projectID")
	sourceID := chi.URLParam(r, "sourceID")
	mgr := priority.NewManager(s.store)

	switch req.Move {
	case "":
	case "up":
		if err := mgr.MoveUp(ctx, projectID, sourceID); err != nil {
			respondErr(w, err)
			return
		}
	case "down":
		if err := mgr.MoveDown(ctx, projectID, sourceID); err != nil {
			respondErr(w, err)
			return
		}
	default:
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "move must be up or down"})
		return
	}

	if req.Reliability != nil {
		if err := mgr.SetReliability(ctx, projectID, sourceID, *req.Reliability); err != nil {
			respondErr(w, err)
			return
		}
	}
	if req.AutoSelect != nil {
		if err := mgr.SetAutoSelect(ctx, projectID, sourceID, *req.AutoSelect); err != nil {
			respondErr(w, err)
			return
		}
	}
	for attr, weight := range req.Attributes {
		if err := mgr.SetAttributePriority(ctx, projectID, sourceID, attr, weight); err != nil {
			respondErr(w, err)
			return
		}
	}

	updated, err := s.store.GetSourcePriority(ctx, projectID, sourceID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *apiServer) handleSourceMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := priority.NewManager(s.store).Metrics(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}

func (s *apiServer) handleListRules(w http.ResponseWriter, r *http.Request) {
	active, err := s.store.ListActiveRules(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, active)
}

func (s *apiServer) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule model.BusinessRule
	if err := decode(r, &rule); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if err := rules.Validate(rule); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	rule.Active = true

	if err := s.store.CreateBusinessRule(r.Context(), rule); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *apiServer) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.store.ListProducts(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

func (s *apiServer) handleListAttributes(w http.ResponseWriter, r *http.Request) {
	attrs, err := s.store.ListAggregatedAttributes(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, attrs)
}

func (s *apiServer) handleListStandardized(w http.ResponseWriter, r *http.Request) {
	attrs, err := s.store.ListStandardizedAttributes(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, attrs)
}

func (s *apiServer) handleListIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := s.store.ListCleansingIssues(r.Context(), store.IssueFilter{
		ProductID:       chi.URLParam(r, "productID"),
		IncludeResolved: r.URL.Query().Get("include_resolved") == "true",
	})
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, issues)
}

func (s *apiServer) handleResolveIssue(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ResolveCleansingIssue(r.Context(), chi.URLParam(r, "issueID")); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *apiServer) handleListValidations(w http.ResponseWriter, r *http.Request) {
	validations, err := s.store.ListRuleValidations(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, validations)
}

func (s *apiServer) handleListAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListAudit(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *apiServer) handleGetGolden(w http.ResponseWriter, r *http.Request) {
	gr, err := s.store.GetGoldenRecord(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, gr)
}

func (s *apiServer) handleListGolden(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListGoldenRecords(r.Context(), r.URL.Query().Get("publishable") == "true")
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, records)
}

func (s *apiServer) handlePublish(w http.ResponseWriter, r *http.Request) {
	gr, err := s.runner.Assembler().Publish(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, gr)
}

func (s *apiServer) handleReviewPending(w http.ResponseWriter, r *http.Request) {
	items, err := s.runner.Reviewer().Pending(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, items)
}

type reviewRequest struct {
	AttributeName string `json:"attribute_name"`
	Value         string `json:"value,omitempty"`
	Reviewer      string `json:"reviewer"`
}

func (s *apiServer) decodeReview(w http.ResponseWriter, r *http.Request) (*reviewRequest, bool) {
	var req reviewRequest
	if err := decode(r, &req); err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return nil, false
	}
	if req.AttributeName == "" || req.Reviewer == "" {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "attribute_name and reviewer are required"})
		return nil, false
	}
	return &req, true
}

func (s *apiServer) handleReviewResolve(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeReview(w, r)
	if !ok {
		return
	}
	if err := s.runner.Reviewer().ResolveConflict(r.Context(), chi.URLParam(r, "productID"), req.AttributeName, req.Value, req.Reviewer); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *apiServer) handleReviewApprove(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeReview(w, r)
	if !ok {
		return
	}
	if err := s.runner.Reviewer().Approve(r.Context(), chi.URLParam(r, "productID"), req.AttributeName, req.Reviewer); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (s *apiServer) handleReviewReject(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeReview(w, r)
	if !ok {
		return
	}
	if err := s.runner.Reviewer().Reject(r.Context(), chi.URLParam(r, "productID"), req.AttributeName, req.Reviewer); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}

func (s *apiServer) handleReviewOverride(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeReview(w, r)
	if !ok {
		return
	}
	if err := s.runner.Reviewer().Override(r.Context(), chi.URLParam(r, "productID"), req.AttributeName, req.Value, req.Reviewer); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "overridden"})
}
