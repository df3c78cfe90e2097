package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/priority"
	"github.com/sells-group/catalog-cli/internal/store"
)

// Aggregator folds raw observations into per-attribute value sets and
// resolves conflicts against a priority snapshot. It is stateless; all
// inputs arrive per call.
type Aggregator struct {
	store    store.Store
	resolver *priority.Resolver
}

// NewAggregator creates an aggregator using the given conflict resolver.
func NewAggregator(st store.Store, resolver *priority.Resolver) *Aggregator {
	return &Aggregator{store: st, resolver: resolver}
}

// AggregateResult summarizes one product's aggregation pass. Attributes
// holds the persisted sets, collapsed to the winning tuple where a
// conflict auto-resolved. Observed keeps every raw tuple per attribute
// so cleansing can count duplicates and redundant entries that the
// collapse would hide.
type AggregateResult struct {
	Product    *model.Product                 `json:"product"`
	Attributes []model.AggregatedAttribute    `json:"attributes"`
	Observed   []model.AggregatedAttribute    `json:"observed"`
	Resolved   map[string]priority.Resolution `json:"resolved"`
	Conflicts  int                            `json:"conflicts"`
	Withheld   int                            `json:"withheld"`
}

// Aggregate collects every observation matching the product keys, ensures
// the canonical product row exists, rebuilds its aggregated attributes,
// and resolves each one against the snapshot. Observations with empty
// attribute values are carried; the cleansing stage flags them.
func (a *Aggregator) Aggregate(ctx context.Context, snap *priority.Snapshot, keys model.ProductKeys) (*AggregateResult, error) {
	obs, err := a.store.ListObservationsByProduct(ctx, keys)
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: list observations")
	}
	if len(obs) == 0 {
		return nil, eris.Wrapf(ErrNoObservations, "keys %+v", keys)
	}

	product, err := a.ensureProduct(ctx, keys, obs)
	if err != nil {
		return nil, err
	}

	// Group observed values by attribute name, keeping observation order.
	byAttr := make(map[string][]model.AttributeValue)
	var order []string
	for _, o := range obs {
		for name, value := range o.Attributes {
			if _, seen := byAttr[name]; !seen {
				order = append(order, name)
			}
			byAttr[name] = append(byAttr[name], model.AttributeValue{
				Value:      value,
				SourceID:   o.SourceID,
				Confidence: o.Confidence,
			})
		}
	}

	result := &AggregateResult{
		Product:  product,
		Resolved: make(map[string]priority.Resolution, len(byAttr)),
	}
	for _, name := range order {
		attr := model.AggregatedAttribute{
			ProductID:     product.ID,
			AttributeName: name,
			Values:        byAttr[name],
		}
		conflicted := len(attr.DistinctValues()) > 1
		attr.HasConflict = conflicted
		if conflicted {
			result.Conflicts++
		}

		res := a.resolver.Resolve(snap, attr)
		result.Resolved[name] = res
		if !res.Resolved {
			result.Withheld++
		}

		// Keep the raw tuple set before any collapse; cleansing counts
		// duplicate entries against it.
		observed := attr

		// A successful automatic resolution collapses the value set to the
		// winning tuple and clears the conflict flag.
		if conflicted && res.Resolved {
			var winner model.AttributeValue
			for _, v := range attr.Values {
				if v.Value == res.Value && v.SourceID == res.SourceID {
					winner = v
					break
				}
			}
			attr.Values = []model.AttributeValue{winner}
			attr.HasConflict = false
		}
		observed.HasConflict = attr.HasConflict

		if err := a.store.UpsertAggregatedAttribute(ctx, attr); err != nil {
			return nil, eris.Wrapf(err, "aggregate: upsert %s", name)
		}
		result.Attributes = append(result.Attributes, attr)
		result.Observed = append(result.Observed, observed)

		if conflicted {
			// Conflict detection is audited on its own, naming the
			// top-ranked candidate even when resolution is withheld.
			top := res.Candidates[0]
			detected := model.AuditEntry{
				ProductID:     product.ID,
				AttributeName: name,
				SelectedValue: top.Value,
				SourceUsed:    top.SourceID,
				Reason:        "multiple values detected",
				Stage:         model.StageAggregation,
			}
			if err := a.store.AppendAudit(ctx, detected); err != nil {
				return nil, eris.Wrapf(err, "aggregate: audit %s", name)
			}
		}
		if res.Resolved || !conflicted {
			entry := model.AuditEntry{
				ProductID:     product.ID,
				AttributeName: name,
				SelectedValue: res.Value,
				SourceUsed:    res.SourceID,
				Reason:        res.Reason,
				Stage:         model.StageAggregation,
			}
			if err := a.store.AppendAudit(ctx, entry); err != nil {
				return nil, eris.Wrapf(err, "aggregate: audit %s", name)
			}
		}
	}

	zap.L().Debug("aggregate: product done",
		zap.String("product_id", product.ID),
		zap.Int("attributes", len(result.Attributes)),
		zap.Int("conflicts", result.Conflicts),
		zap.Int("withheld", result.Withheld),
	)
	return result, nil
}

// ensureProduct finds the canonical product for the keys or creates it.
// The first observation carrying a SKU names the product; MPN and brand
// fill in from the keys when absent.
func (a *Aggregator) ensureProduct(ctx context.Context, keys model.ProductKeys, obs []model.RawObservation) (*model.Product, error) {
	product, err := a.store.FindProduct(ctx, keys)
	if err == nil {
		return product, nil
	}
	if !eris.Is(err, store.ErrNotFound) {
		return nil, eris.Wrap(err, "aggregate: find product")
	}

	sku := keys.SKU
	if sku == "" {
		for _, o := range obs {
			if o.ProductKeys.SKU != "" {
				sku = o.ProductKeys.SKU
				break
			}
		}
	}
	if sku == "" {
		return nil, eris.Errorf("aggregate: no sku for keys %+v", keys)
	}

	created, err := a.store.CreateProduct(ctx, model.Product{
		SKU:   sku,
		MPN:   keys.MPN,
		Brand: keys.Brand,
	})
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: create product")
	}
	return created, nil
}
