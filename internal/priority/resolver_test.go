package priority

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/catalog-cli/internal/model"
)

func snapshotFixture(t *testing.T, priorities ...model.SourcePriority) *Snapshot {
	t.Helper()
	return SnapshotFrom("proj-1", priorities)
}

func TestResolveSingleValue(t *testing.T) {
	r, err := NewResolver(DefaultWeights)
	require.NoError(t, err)
	snap := snapshotFixture(t)

	res := r.Resolve(snap, model.AggregatedAttribute{
		AttributeName: "color",
		Values: []model.AttributeValue{
			{Value: "black", SourceID: "src-a", Confidence: 0.9},
			{Value: "black", SourceID: "src-b", Confidence: 0.5},
		},
	})
	assert.True(t, res.Resolved)
	assert.Equal(t, "black", res.Value)
	assert.Equal(t, "src-a", res.SourceID)
	assert.Equal(t, "single source value", res.Reason)
}

func TestResolveConflictPrefersReliableSource(t *testing.T) {
	r, err := NewResolver(DefaultWeights)
	require.NoError(t, err)
	snap := snapshotFixture(t,
		model.SourcePriority{SourceID: "src-a", PriorityRank: 1, ReliabilityScore: 0.9, AutoSelectEnabled: true},
		model.SourcePriority{SourceID: "src-b", PriorityRank: 2, ReliabilityScore: 0.3, AutoSelectEnabled: true},
	)

	res := r.Resolve(snap, model.AggregatedAttribute{
		AttributeName: "color",
		Values: []model.AttributeValue{
			{Value: "black", SourceID: "src-a", Confidence: 0.8},
			{Value: "white", SourceID: "src-b", Confidence: 0.8},
		},
	})
	assert.True(t, res.Resolved)
	assert.Equal(t, "black", res.Value)
	assert.Equal(t, "auto-resolved by priority/confidence weighting", res.Reason)
	require.Len(t, res.Candidates, 2)
	assert.Greater(t, res.Candidates[0].Score, res.Candidates[1].Score)
}

func TestResolveAttributeOverrideBeatsRank(t *testing.T) {
	r, err := NewResolver(DefaultWeights)
	require.NoError(t, err)
	// src-b is ranked last but its max override for wattage normalizes
	// to 1.0, above src-a's rank-based 2/3. A top-ranked src-c exists so
	// the rank normalization actually separates the two candidates.
	snap := snapshotFixture(t,
		model.SourcePriority{SourceID: "src-c", PriorityRank: 1, ReliabilityScore: 0.5, AutoSelectEnabled: true},
		model.SourcePriority{SourceID: "src-a", PriorityRank: 2, ReliabilityScore: 0.5, AutoSelectEnabled: true},
		model.SourcePriority{SourceID: "src-b", PriorityRank: 3, ReliabilityScore: 0.5, AutoSelectEnabled: true,
			AttributePriorities: map[string]int{"wattage": 10}},
	)

	res := r.Resolve(snap, model.AggregatedAttribute{
		AttributeName: "wattage",
		Values: []model.AttributeValue{
			{Value: "40W", SourceID: "src-a", Confidence: 0.7},
			{Value: "45W", SourceID: "src-b", Confidence: 0.7},
		},
	})
	assert.True(t, res.Resolved)
	assert.Equal(t, "45W", res.Value)
	assert.Equal(t, "src-b", res.SourceID)
}

func TestResolveDeterministicTieBreak(t *testing.T) {
	r, err := NewResolver(DefaultWeights)
	require.NoError(t, err)
	snap := snapshotFixture(t,
		model.SourcePriority{SourceID: "src-a", PriorityRank: 1, ReliabilityScore: 0.5, AutoSelectEnabled: true},
		model.SourcePriority{SourceID: "src-b", PriorityRank: 1, ReliabilityScore: 0.5, AutoSelectEnabled: true},
	)

	attr := model.AggregatedAttribute{
		AttributeName: "color",
		Values: []model.AttributeValue{
			{Value: "white", SourceID: "src-b", Confidence: 0.8},
			{Value: "black", SourceID: "src-a", Confidence: 0.8},
		},
	}
	first := r.Resolve(snap, attr)
	for i := 0; i < 10; i++ {
		again := r.Resolve(snap, attr)
		assert.Equal(t, first.Value, again.Value)
		assert.Equal(t, first.SourceID, again.SourceID)
	}
	// equal scores break toward the lexicographically smaller source id
	assert.Equal(t, "src-a", first.SourceID)
}

func TestResolveWithheldWhenAutoSelectDisabled(t *testing.T) {
	r, err := NewResolver(DefaultWeights)
	require.NoError(t, err)
	snap := snapshotFixture(t,
		model.SourcePriority{SourceID: "src-a", PriorityRank: 1, ReliabilityScore: 0.9, AutoSelectEnabled: false},
		model.SourcePriority{SourceID: "src-b", PriorityRank: 2, ReliabilityScore: 0.3, AutoSelectEnabled: true},
	)

	res := r.Resolve(snap, model.AggregatedAttribute{
		AttributeName: "color",
		Values: []model.AttributeValue{
			{Value: "black", SourceID: "src-a", Confidence: 0.9},
			{Value: "white", SourceID: "src-b", Confidence: 0.5},
		},
	})
	assert.False(t, res.Resolved)
	assert.Equal(t, "multiple values detected", res.Reason)
	assert.NotEmpty(t, res.Candidates)
}

func TestResolveEmptyValues(t *testing.T) {
	r, err := NewResolver(DefaultWeights)
	require.NoError(t, err)

	res := r.Resolve(snapshotFixture(t), model.AggregatedAttribute{AttributeName: "color"})
	assert.False(t, res.Resolved)
}

func TestNewResolverRejectsBadWeights(t *testing.T) {
	_, err := NewResolver(Weights{Reliability: 0.5, Confidence: 0.5, Priority: 0.5})
	assert.Error(t, err)

	_, err = NewResolver(Weights{Reliability: -0.2, Confidence: 0.7, Priority: 0.5})
	assert.Error(t, err)
}

func TestSnapshotDefaults(t *testing.T) {
	snap := snapshotFixture(t)
	assert.Equal(t, 0.5, snap.Reliability("unknown"))
	assert.True(t, snap.AutoSelect("unknown"))
	assert.Equal(t, 0.0, snap.NormalizedPriority("unknown", "color"))
}

func TestSnapshotNormalizedPriority(t *testing.T) {
	snap := snapshotFixture(t,
		model.SourcePriority{SourceID: "src-a", PriorityRank: 1},
		model.SourcePriority{SourceID: "src-b", PriorityRank: 2},
		model.SourcePriority{SourceID: "src-c", PriorityRank: 3,
			AttributePriorities: map[string]int{"color": 7}},
	)
	assert.InDelta(t, 1.0, snap.NormalizedPriority("src-a", "weight"), 1e-9)
	assert.InDelta(t, 2.0/3.0, snap.NormalizedPriority("src-b", "weight"), 1e-9)
	// override wins over rank
	assert.InDelta(t, 0.7, snap.NormalizedPriority("src-c", "color"), 1e-9)
	assert.InDelta(t, 1.0/3.0, snap.NormalizedPriority("src-c", "weight"), 1e-9)
}
