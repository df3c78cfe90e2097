package priority

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/store"
)

// completenessTarget is the distinct-attribute count at which a source is
// considered fully complete.
const completenessTarget = 20

// Manager maintains per-project source priority configuration.
type Manager struct {
	store store.Store
}

// NewManager creates a priority manager.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st}
}

// Rank replaces the project's ranking with the given source order.
// sourceIDs[0] becomes rank 1. Sources already configured keep their
// reliability, auto-select, and attribute overrides.
func (m *Manager) Rank(ctx context.Context, projectID string, sourceIDs []string) error {
	if len(sourceIDs) == 0 {
		return eris.New("priority: empty ranking")
	}
	seen := make(map[string]bool, len(sourceIDs))
	for _, id := range sourceIDs {
		if seen[id] {
			return eris.Errorf("priority: duplicate source %s in ranking", id)
		}
		seen[id] = true
	}

	existing, err := m.store.ListSourcePriorities(ctx, projectID)
	if err != nil {
		return eris.Wrap(err, "priority: list for rank")
	}
	bysource := make(map[string]model.SourcePriority, len(existing))
	for _, p := range existing {
		bysource[p.SourceID] = p
	}

	for i, sourceID := range sourceIDs {
		p, ok := bysource[sourceID]
		if !ok {
			p = model.SourcePriority{
				ProjectID:         projectID,
				SourceID:          sourceID,
				ReliabilityScore:  0.5,
				AutoSelectEnabled: true,
			}
		}
		p.PriorityRank = i + 1
		if err := m.store.UpsertSourcePriority(ctx, p); err != nil {
			return eris.Wrapf(err, "priority: rank %s", sourceID)
		}
	}
	zap.L().Info("priority: ranking updated",
		zap.String("project_id", projectID),
		zap.Int("sources", len(sourceIDs)),
	)
	return nil
}

// MoveUp swaps a source with its better-ranked neighbor. Moving the top
// source up is a no-op.
func (m *Manager) MoveUp(ctx context.Context, projectID, sourceID string) error {
	return m.swap(ctx, projectID, sourceID, -1)
}

// MoveDown swaps a source with its worse-ranked neighbor. Moving the
// bottom source down is a no-op.
func (m *Manager) MoveDown(ctx context.Context, projectID, sourceID string) error {
	return m.swap(ctx, projectID, sourceID, +1)
}

func (m *Manager) swap(ctx context.Context, projectID, sourceID string, dir int) error {
	priorities, err := m.store.ListSourcePriorities(ctx, projectID)
	if err != nil {
		return eris.Wrap(err, "priority: list for move")
	}
	idx := -1
	for i, p := range priorities {
		if p.SourceID == sourceID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return eris.Wrapf(store.ErrNotFound, "source priority %s/%s", projectID, sourceID)
	}
	other := idx + dir
	if other < 0 || other >= len(priorities) {
		return nil
	}

	priorities[idx].PriorityRank, priorities[other].PriorityRank =
		priorities[other].PriorityRank, priorities[idx].PriorityRank
	if err := m.store.UpsertSourcePriority(ctx, priorities[idx]); err != nil {
		return eris.Wrap(err, "priority: move")
	}
	if err := m.store.UpsertSourcePriority(ctx, priorities[other]); err != nil {
		return eris.Wrap(err, "priority: move neighbor")
	}
	return nil
}

// SetReliability updates a source's reliability score, clamped to [0,1].
func (m *Manager) SetReliability(ctx context.Context, projectID, sourceID string, score float64) error {
	if score < 0 || score > 1 {
		return eris.Errorf("priority: reliability %v out of range [0,1]", score)
	}
	p, err := m.store.GetSourcePriority(ctx, projectID, sourceID)
	if err != nil {
		return err
	}
	p.ReliabilityScore = score
	return m.store.UpsertSourcePriority(ctx, *p)
}

// SetAutoSelect toggles automatic conflict resolution for a source.
func (m *Manager) SetAutoSelect(ctx context.Context, projectID, sourceID string, enabled bool) error {
	p, err := m.store.GetSourcePriority(ctx, projectID, sourceID)
	if err != nil {
		return err
	}
	p.AutoSelectEnabled = enabled
	return m.store.UpsertSourcePriority(ctx, *p)
}

// SetAttributePriority sets a per-attribute override (1-10, 10 most
// trusted); priority 0 clears the override.
func (m *Manager) SetAttributePriority(ctx context.Context, projectID, sourceID, attributeName string, priority int) error {
	if priority < 0 || priority > 10 {
		return eris.Errorf("priority: attribute priority %d out of range [1,10]", priority)
	}
	p, err := m.store.GetSourcePriority(ctx, projectID, sourceID)
	if err != nil {
		return err
	}
	if p.AttributePriorities == nil {
		p.AttributePriorities = map[string]int{}
	}
	if priority == 0 {
		delete(p.AttributePriorities, attributeName)
	} else {
		p.AttributePriorities[attributeName] = priority
	}
	return m.store.UpsertSourcePriority(ctx, *p)
}

// Metrics computes observed quality per source: mean extraction
// confidence and attribute completeness capped at the target count.
func (m *Manager) Metrics(ctx context.Context, projectID string) ([]model.SourceMetrics, error) {
	sources, err := m.store.ListSources(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "priority: list sources for metrics")
	}

	out := make([]model.SourceMetrics, 0, len(sources))
	for _, src := range sources {
		obs, err := m.store.ListObservationsBySource(ctx, src.ID)
		if err != nil {
			return nil, eris.Wrapf(err, "priority: observations for %s", src.ID)
		}
		metrics := model.SourceMetrics{SourceID: src.ID}
		if len(obs) > 0 {
			var confSum float64
			attrs := make(map[string]bool)
			for _, o := range obs {
				confSum += o.Confidence
				for name := range o.Attributes {
					attrs[name] = true
				}
			}
			metrics.AvgConfidence = confSum / float64(len(obs))
			metrics.TotalAttributes = len(attrs)
			metrics.Completeness = math.Min(1, float64(len(attrs))/completenessTarget)
		}
		out = append(out, metrics)
	}
	return out, nil
}
