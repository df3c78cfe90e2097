package priority

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/store"
)

// Snapshot is an immutable view of a project's source priorities, taken
// once per pipeline run. Every conflict resolved during that run scores
// against the same snapshot, so mid-run priority edits cannot produce a
// mixed outcome.
type Snapshot struct {
	Version   string
	ProjectID string

	entries map[string]model.SourcePriority
	total   int
}

// NewSnapshot captures the current priority configuration for a project.
func NewSnapshot(ctx context.Context, st store.Store, projectID string) (*Snapshot, error) {
	priorities, err := st.ListSourcePriorities(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "priority: snapshot")
	}
	entries := make(map[string]model.SourcePriority, len(priorities))
	for _, p := range priorities {
		entries[p.SourceID] = p
	}
	return &Snapshot{
		Version:   uuid.New().String(),
		ProjectID: projectID,
		entries:   entries,
		total:     len(priorities),
	}, nil
}

// SnapshotFrom builds a snapshot directly from priority rows. Used by tests
// and by callers that already hold the list.
func SnapshotFrom(projectID string, priorities []model.SourcePriority) *Snapshot {
	entries := make(map[string]model.SourcePriority, len(priorities))
	for _, p := range priorities {
		entries[p.SourceID] = p
	}
	return &Snapshot{
		Version:   uuid.New().String(),
		ProjectID: projectID,
		entries:   entries,
		total:     len(priorities),
	}
}

// Reliability returns the configured reliability score for a source, or
// the neutral default when the source has no priority row.
func (s *Snapshot) Reliability(sourceID string) float64 {
	if p, ok := s.entries[sourceID]; ok {
		return p.ReliabilityScore
	}
	return 0.5
}

// AutoSelect reports whether the snapshot allows automatic conflict
// resolution to pick values from this source. Unknown sources may be
// auto-selected.
func (s *Snapshot) AutoSelect(sourceID string) bool {
	if p, ok := s.entries[sourceID]; ok {
		return p.AutoSelectEnabled
	}
	return true
}

// NormalizedPriority maps a source's standing into [0,1] for the given
// attribute. A per-attribute override (1-10) takes precedence over the
// project-level rank; rank 1 is the most trusted.
func (s *Snapshot) NormalizedPriority(sourceID, attributeName string) float64 {
	p, ok := s.entries[sourceID]
	if !ok {
		return 0
	}
	if override, ok := p.AttributePriorities[attributeName]; ok {
		return float64(override) / 10.0
	}
	if s.total == 0 {
		return 0
	}
	return float64(s.total-p.PriorityRank+1) / float64(s.total)
}
