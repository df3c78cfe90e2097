package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/priority"
)

// withheldFixture seeds a product whose color conflict is withheld from
// auto-resolution, leaving it pending review.
func withheldFixture(t *testing.T) (*fixture, string) {
	t.Helper()
	f := newFixture(t)
	ctx := context.Background()

	mgr := priority.NewManager(f.store)
	require.NoError(t, mgr.SetAutoSelect(ctx, f.projectID, f.sourceA, false))

	f.observe(t, f.sourceA, "SKU-1", 0.9, map[string]string{"color": "black"})
	f.observe(t, f.sourceB, "SKU-1", 0.5, map[string]string{"color": "white"})

	result, err := f.runner.RunKeys(ctx, f.projectID, model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)
	require.Equal(t, 1, result.Withheld)
	return f, result.ProductID
}

func TestPendingListsWithheldConflicts(t *testing.T) {
	f, productID := withheldFixture(t)

	items, err := f.runner.Reviewer().Pending(context.Background(), productID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, PendingConflict, items[0].Kind)
	assert.Equal(t, "color", items[0].AttributeName)
	assert.Len(t, items[0].Values, 2)
}

func TestResolveConflictManually(t *testing.T) {
	f, productID := withheldFixture(t)
	ctx := context.Background()
	reviewer := f.runner.Reviewer()

	require.NoError(t, reviewer.ResolveConflict(ctx, productID, "color", "white", "dana"))

	attr, err := f.store.GetAggregatedAttribute(ctx, productID, "color")
	require.NoError(t, err)
	assert.False(t, attr.HasConflict)
	require.Len(t, attr.Values, 1)
	assert.Equal(t, "white", attr.Values[0].Value)

	audit, err := f.store.ListAudit(ctx, productID)
	require.NoError(t, err)
	found := false
	for _, e := range audit {
		if e.Reason == "manually resolved by dana" {
			found = true
			assert.Equal(t, "white", e.SelectedValue)
		}
	}
	assert.True(t, found)

	// queue is now empty
	items, err := reviewer.Pending(ctx, productID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestResolveConflictRejectsUnobservedValue(t *testing.T) {
	f, productID := withheldFixture(t)

	err := f.runner.Reviewer().ResolveConflict(context.Background(), productID, "color", "chartreuse", "dana")
	assert.Error(t, err)
}

func TestOverrideAcceptsUnobservedValue(t *testing.T) {
	f, productID := withheldFixture(t)
	ctx := context.Background()

	require.NoError(t, f.runner.Reviewer().Override(ctx, productID, "color", "chartreuse", "dana"))

	attr, err := f.store.GetAggregatedAttribute(ctx, productID, "color")
	require.NoError(t, err)
	assert.False(t, attr.HasConflict)
	require.Len(t, attr.Values, 1)
	assert.Equal(t, "chartreuse", attr.Values[0].Value)
	assert.Equal(t, "manual:dana", attr.Values[0].SourceID)
}

func TestRejectReflagsAttribute(t *testing.T) {
	f, productID := withheldFixture(t)
	ctx := context.Background()
	reviewer := f.runner.Reviewer()

	require.NoError(t, reviewer.ResolveConflict(ctx, productID, "color", "black", "dana"))
	require.NoError(t, reviewer.Reject(ctx, productID, "color", "lee"))

	attr, err := f.store.GetAggregatedAttribute(ctx, productID, "color")
	require.NoError(t, err)
	assert.True(t, attr.HasConflict)

	items, err := reviewer.Pending(ctx, productID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, PendingConflict, items[0].Kind)
}

func TestApproveAuditsWithoutChange(t *testing.T) {
	f, productID := withheldFixture(t)
	ctx := context.Background()
	reviewer := f.runner.Reviewer()

	require.NoError(t, reviewer.ResolveConflict(ctx, productID, "color", "black", "dana"))
	require.NoError(t, reviewer.Approve(ctx, productID, "color", "lee"))

	attr, err := f.store.GetAggregatedAttribute(ctx, productID, "color")
	require.NoError(t, err)
	assert.False(t, attr.HasConflict)

	audit, err := f.store.ListAudit(ctx, productID)
	require.NoError(t, err)
	found := false
	for _, e := range audit {
		if e.Reason == "approved by lee" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPendingListsFailedValidations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.observe(t, f.sourceA, "SKU-1", 0.9, map[string]string{"wattage": "500"})
	require.NoError(t, f.store.CreateBusinessRule(ctx, model.BusinessRule{
		RuleID:        "wattage-range",
		AttributeName: "wattage",
		RuleType:      model.RuleTypeRange,
		Config:        model.RuleConfig{Range: &model.RangeConfig{Min: 1, Max: 100}},
		Active:        true,
	}))

	result, err := f.runner.RunKeys(ctx, f.projectID, model.ProductKeys{SKU: "SKU-1"})
	require.NoError(t, err)

	items, err := f.runner.Reviewer().Pending(ctx, result.ProductID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, PendingValidation, items[0].Kind)
	assert.Equal(t, "wattage-range", items[0].RuleID)
}
