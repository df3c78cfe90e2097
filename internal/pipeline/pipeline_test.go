package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/priority"
	"github.com/sells-group/catalog-cli/internal/store"
)

type fixture struct {
	runner    *Runner
	store     store.Store
	projectID string
	sourceA   string
	sourceB   string
	sourceC   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	proj, err := st.CreateProject(ctx, "fixtures")
	require.NoError(t, err)

	f := &fixture{store: st, projectID: proj.ID}
	for i, name := range []string{"a.pdf", "b.csv", "c.html"} {
		src, err := st.CreateSource(ctx, model.Source{
			ProjectID: proj.ID,
			Type:      model.SourceTypePDF,
			Locator:   name,
		})
		require.NoError(t, err)
		switch i {
		case 0:
			f.sourceA = src.ID
		case 1:
			f.sourceB = src.ID
		case 2:
			f.sourceC = src.ID
		}
	}

	// sourceA is most trusted.
	mgr := priority.NewManager(st)
	require.NoError(t, mgr.Rank(ctx, proj.ID, []string{f.sourceA, f.sourceB, f.sourceC}))
	require.NoError(t, mgr.SetReliability(ctx, proj.ID, f.sourceA, 0.9))
	require.NoError(t, mgr.SetReliability(ctx, proj.ID, f.sourceB, 0.5))
	require.NoError(t, mgr.SetReliability(ctx, proj.ID, f.sourceC, 0.3))

	resolver, err := priority.NewResolver(priority.DefaultWeights)
	require.NoError(t, err)
	f.runner = NewRunner(st, resolver)
	return f
}

func (f *fixture) observe(t *testing.T, sourceID, sku string, confidence float64, attrs map[string]string) {
	t.Helper()
	_, err := f.store.InsertObservation(context.Background(), model.RawObservation{
		SourceID:    sourceID,
		ProductKeys: model.ProductKeys{SKU: sku},
		Attributes:  attrs,
		Confidence:  confidence,
	})
	require.NoError(t, err)
}

func (f *fixture) snapshot(t *testing.T) *priority.Snapshot {
	t.Helper()
	snap, err := priority.NewSnapshot(context.Background(), f.store, f.projectID)
	require.NoError(t, err)
	return snap
}

func TestAggregateConflictFlagMatchesDistinctValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.observe(t, f.sourceA, "SKU-1", 0.9, map[string]string{"color": "black", "weight": "2 kg"})
	f.observe(t, f.sourceB, "SKU-1", 0.7, map[string]string{"color": "black", "weight": "2.1 kg"})

	agg, err := f.runner.aggregator.Aggregate(ctx, f.snapshot(t), model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)

	byName := map[string]model.AggregatedAttribute{}
	for _, a := range agg.Attributes {
		byName[a.AttributeName] = a
	}
	// color agreed across sources; weight conflicted and was auto-resolved,
	// which collapses it to one value and clears the flag.
	assert.False(t, byName["color"].HasConflict)
	assert.Len(t, byName["color"].Values, 2)
	assert.Equal(t, 1, agg.Conflicts)
	assert.False(t, byName["weight"].HasConflict)
	require.Len(t, byName["weight"].Values, 1)
	assert.Equal(t, "2 kg", byName["weight"].Values[0].Value)

	audit, err := f.store.ListAudit(ctx, agg.Product.ID)
	require.NoError(t, err)
	reasons := map[string]bool{}
	for _, e := range audit {
		reasons[e.Reason] = true
	}
	assert.True(t, reasons["single source value"])
	assert.True(t, reasons["auto-resolved by priority/confidence weighting"])
}

func TestDuplicateValuesSurviveResolution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Two sources agree on red, a third says blue. The conflict
	// auto-resolves, but cleansing still sees all three raw tuples and
	// counts the repeated red as a duplicate.
	f.observe(t, f.sourceA, "SKU-1", 0.9, map[string]string{"color": "red"})
	f.observe(t, f.sourceB, "SKU-1", 0.7, map[string]string{"color": "red"})
	f.observe(t, f.sourceC, "SKU-1", 0.5, map[string]string{"color": "blue"})

	result, err := f.runner.RunKeys(ctx, f.projectID, model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, 0, result.Withheld)

	issues, err := f.store.ListCleansingIssues(ctx, store.IssueFilter{ProductID: result.ProductID})
	require.NoError(t, err)
	duplicates := 0
	for _, issue := range issues {
		if issue.IssueType == model.IssueDuplicate && issue.AttributeName == "color" {
			duplicates++
		}
		// resolved conflicts are not inconsistent
		assert.NotEqual(t, model.IssueInconsistent, issue.IssueType)
	}
	assert.Equal(t, 1, duplicates)

	// The stored attribute still collapsed to the winning tuple.
	attrs, err := f.store.ListAggregatedAttributes(ctx, result.ProductID)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	require.Len(t, attrs[0].Values, 1)
	assert.Equal(t, "red", attrs[0].Values[0].Value)
}

func TestAggregateAuditsConflictDetection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.observe(t, f.sourceA, "SKU-1", 0.9, map[string]string{"color": "black"})
	f.observe(t, f.sourceB, "SKU-1", 0.7, map[string]string{"color": "white"})

	agg, err := f.runner.aggregator.Aggregate(ctx, f.snapshot(t), model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)

	audit, err := f.store.ListAudit(ctx, agg.Product.ID)
	require.NoError(t, err)

	var detected, resolved *model.AuditEntry
	for i, e := range audit {
		switch e.Reason {
		case "multiple values detected":
			detected = &audit[i]
		case "auto-resolved by priority/confidence weighting":
			resolved = &audit[i]
		}
	}
	// Detection and resolution are separate entries; the detection one
	// names the top-ranked candidate.
	require.NotNil(t, detected)
	assert.Equal(t, "color", detected.AttributeName)
	assert.Equal(t, "black", detected.SelectedValue)
	assert.Equal(t, f.sourceA, detected.SourceUsed)
	require.NotNil(t, resolved)
	assert.Equal(t, "black", resolved.SelectedValue)
	assert.Equal(t, f.sourceA, resolved.SourceUsed)
}

func TestAggregateIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.observe(t, f.sourceA, "SKU-1", 0.9, map[string]string{"color": "black"})
	f.observe(t, f.sourceB, "SKU-1", 0.7, map[string]string{"color": "white", "material": "metal"})

	first, err := f.runner.aggregator.Aggregate(ctx, f.snapshot(t), model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)
	second, err := f.runner.aggregator.Aggregate(ctx, f.snapshot(t), model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)

	assert.Equal(t, first.Product.ID, second.Product.ID)
	require.Equal(t, len(first.Attributes), len(second.Attributes))
	for i := range first.Attributes {
		assert.Equal(t, first.Attributes[i].AttributeName, second.Attributes[i].AttributeName)
		assert.Equal(t, first.Attributes[i].Values, second.Attributes[i].Values)
		assert.Equal(t, first.Attributes[i].HasConflict, second.Attributes[i].HasConflict)
	}
}

func TestAggregateNoObservations(t *testing.T) {
	f := newFixture(t)

	_, err := f.runner.aggregator.Aggregate(context.Background(), f.snapshot(t), model.ProductKeys{SKU: "ghost"})
	assert.True(t, eris.Is(err, ErrNoObservations))
}

func TestRunFullPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.observe(t, f.sourceA, "SKU-1", 0.9, map[string]string{
		"brand":     "Acme",
		"model":     "M-100",
		"category":  "LED Panel",
		"length":    "2.54in",
		"weight":    "2kg",
		"ip_rating": "Rated IP65 enclosure",
		"material":  "brushed metal",
		"color":     "black",
		"price":     "120",
	})

	require.NoError(t, f.store.CreateBusinessRule(ctx, model.BusinessRule{
		RuleID:        "ip-enum",
		AttributeName: "ip_rating",
		RuleType:      model.RuleTypeEnum,
		Config:        model.RuleConfig{Enum: &model.EnumConfig{AllowedValues: []string{"IP20", "IP44", "IP54", "IP65", "IP67", "IP68"}}},
		Active:        true,
	}))

	result, err := f.runner.RunKeys(ctx, f.projectID, model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)
	assert.Equal(t, 6, result.StagesCompleted)
	assert.True(t, result.ReadyForPublish)

	std, err := f.store.ListStandardizedAttributes(ctx, result.ProductID)
	require.NoError(t, err)
	byName := map[string]model.StandardizedAttribute{}
	for _, s := range std {
		byName[s.AttributeName] = s
	}
	assert.Equal(t, "64.52", byName["length"].StandardValue)
	assert.Equal(t, "mm", byName["length"].StandardFormat)
	assert.Equal(t, "2000.00", byName["weight"].StandardValue)
	assert.Equal(t, "g", byName["weight"].StandardFormat)
	assert.Equal(t, "IP65", byName["ip_rating"].StandardValue)
	assert.Equal(t, "enum", byName["ip_rating"].StandardFormat)

	enrichment, err := f.store.GetEnrichment(ctx, result.ProductID)
	require.NoError(t, err)
	assert.Equal(t, "Acme M-100 LED Panel", enrichment.SEOTitle)
	assert.Contains(t, enrichment.Tags, "Color: black")
	assert.Contains(t, enrichment.Tags, "Material: brushed metal")
	assert.Equal(t, "mid-range", enrichment.InferredAttributes["price_range"])
	assert.Equal(t, "high", enrichment.InferredAttributes["durability"])

	gr, err := f.store.GetGoldenRecord(ctx, result.ProductID)
	require.NoError(t, err)
	assert.True(t, gr.ReadyForPublish)
	assert.Equal(t, "IP65", gr.Attributes["ip_rating"].Value)
}

func TestPublishGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.observe(t, f.sourceA, "SKU-1", 0.9, map[string]string{"wattage": "150", "color": "black"})

	// No rules: zero validations means not publishable.
	result, err := f.runner.RunKeys(ctx, f.projectID, model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)
	assert.False(t, result.ReadyForPublish)

	_, err = f.runner.Assembler().Publish(ctx, result.ProductID)
	assert.True(t, eris.Is(err, ErrPublishNotReady))

	// A passing rule flips the gate open.
	require.NoError(t, f.store.CreateBusinessRule(ctx, model.BusinessRule{
		RuleID:        "color-required",
		AttributeName: "color",
		RuleType:      model.RuleTypeValidation,
		Config:        model.RuleConfig{Validation: &model.ValidationConfig{Required: true}},
		Active:        true,
	}))
	result, err = f.runner.RunKeys(ctx, f.projectID, model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)
	assert.True(t, result.ReadyForPublish)

	gr, err := f.runner.Assembler().Publish(ctx, result.ProductID)
	require.NoError(t, err)
	assert.NotNil(t, gr.PublishedAt)

	// A failing range rule flips it back shut.
	require.NoError(t, f.store.CreateBusinessRule(ctx, model.BusinessRule{
		RuleID:        "wattage-range",
		AttributeName: "wattage",
		RuleType:      model.RuleTypeRange,
		Config:        model.RuleConfig{Range: &model.RangeConfig{Min: 1, Max: 100}},
		Active:        true,
	}))
	result, err = f.runner.RunKeys(ctx, f.projectID, model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)
	assert.False(t, result.ReadyForPublish)
	assert.Equal(t, 1, result.RulesFailed)
}

func TestRangeRuleFailRecorded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.observe(t, f.sourceA, "SKU-1", 0.9, map[string]string{"screen_size": "150"})
	require.NoError(t, f.store.CreateBusinessRule(ctx, model.BusinessRule{
		RuleID:        "screen-range",
		AttributeName: "screen_size",
		RuleType:      model.RuleTypeRange,
		Config:        model.RuleConfig{Range: &model.RangeConfig{Min: 1, Max: 100}},
		Active:        true,
	}))

	result, err := f.runner.RunKeys(ctx, f.projectID, model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)

	validations, err := f.store.ListRuleValidations(ctx, result.ProductID)
	require.NoError(t, err)
	require.Len(t, validations, 1)
	assert.Equal(t, model.ValidationFail, validations[0].Status)
}

func TestInvalidRegexFailsRuleNotPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.observe(t, f.sourceA, "SKU-1", 0.9, map[string]string{"sku_code": "AB-12"})
	// Written directly to storage, bypassing the loader's validation.
	require.NoError(t, f.store.CreateBusinessRule(ctx, model.BusinessRule{
		RuleID:        "bad-regex",
		AttributeName: "sku_code",
		RuleType:      model.RuleTypeFormat,
		Config:        model.RuleConfig{Format: &model.FormatConfig{Pattern: "([unclosed"}},
		Active:        true,
	}))

	result, err := f.runner.RunKeys(ctx, f.projectID, model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)
	assert.Equal(t, 6, result.StagesCompleted)

	validations, err := f.store.ListRuleValidations(ctx, result.ProductID)
	require.NoError(t, err)
	require.Len(t, validations, 1)
	assert.Equal(t, model.ValidationFail, validations[0].Status)
	assert.Equal(t, "invalid regex pattern", validations[0].Reason)
}

func TestWithheldConflictBlocksStandardization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Best-scoring source has auto-select disabled.
	mgr := priority.NewManager(f.store)
	require.NoError(t, mgr.SetAutoSelect(ctx, f.projectID, f.sourceA, false))

	f.observe(t, f.sourceA, "SKU-1", 0.9, map[string]string{"color": "black", "weight": "2kg"})
	f.observe(t, f.sourceB, "SKU-1", 0.5, map[string]string{"color": "white"})

	result, err := f.runner.RunKeys(ctx, f.projectID, model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Withheld)

	std, err := f.store.ListStandardizedAttributes(ctx, result.ProductID)
	require.NoError(t, err)
	names := map[string]bool{}
	for _, s := range std {
		names[s.AttributeName] = true
	}
	// weight standardized; color stays pending
	assert.True(t, names["weight"])
	assert.False(t, names["color"])

	issues, err := f.store.ListCleansingIssues(ctx, store.IssueFilter{ProductID: result.ProductID})
	require.NoError(t, err)
	found := false
	for _, issue := range issues {
		if issue.IssueType == model.IssueInconsistent && issue.AttributeName == "color" {
			found = true
		}
	}
	assert.True(t, found)

	// Even withheld, the conflict-detection entry names the top-ranked
	// candidate so the trail shows what auto-select would have picked.
	audit, err := f.store.ListAudit(ctx, result.ProductID)
	require.NoError(t, err)
	detected := false
	for _, e := range audit {
		if e.Reason == "multiple values detected" && e.AttributeName == "color" {
			detected = true
			assert.Equal(t, "black", e.SelectedValue)
			assert.Equal(t, f.sourceA, e.SourceUsed)
		}
	}
	assert.True(t, detected)
}

func TestBatchIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.observe(t, f.sourceA, "SKU-1", 0.9, map[string]string{"color": "black"})
	f.observe(t, f.sourceA, "SKU-2", 0.9, map[string]string{"color": "white"})

	p1, err := f.store.FindProduct(ctx, model.ProductKeys{SKU: "SKU-1"})
	if eris.Is(err, store.ErrNotFound) {
		p1, err = f.store.CreateProduct(ctx, model.Product{SKU: "SKU-1"})
	}
	require.NoError(t, err)
	p2, err := f.store.CreateProduct(ctx, model.Product{SKU: "SKU-2"})
	require.NoError(t, err)

	batch, err := f.runner.RunBatch(ctx, f.projectID, []string{p1.ID, p2.ID, "missing-product"}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), batch.Succeeded)
	assert.Equal(t, int64(1), batch.Failed)
	assert.Contains(t, batch.Errors, "missing-product")

	_, err = f.store.GetGoldenRecord(ctx, p1.ID)
	assert.NoError(t, err)
	_, err = f.store.GetGoldenRecord(ctx, p2.ID)
	assert.NoError(t, err)
}
