package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/store"
)

// Assembler builds golden records and guards publishing.
type Assembler struct {
	store store.Store
}

// NewAssembler creates an assembler.
func NewAssembler(st store.Store) *Assembler {
	return &Assembler{store: st}
}

// Assemble combines product identity, standardized attributes, and
// enrichment into the golden record. The publish gate requires at least
// one rule validation with every one passing; a product never checked by
// any rule is not publishable.
func (a *Assembler) Assemble(ctx context.Context, product *model.Product, stdAttrs []model.StandardizedAttribute, enrichment *model.Enrichment) (*model.GoldenRecord, error) {
	validations, err := a.store.ListRuleValidations(ctx, product.ID)
	if err != nil {
		return nil, eris.Wrap(err, "golden: list validations")
	}
	ready := len(validations) > 0
	for _, v := range validations {
		if v.Status != model.ValidationPass {
			ready = false
			break
		}
	}

	attrs := make(map[string]model.GoldenAttribute, len(stdAttrs))
	for _, sa := range stdAttrs {
		attrs[sa.AttributeName] = model.GoldenAttribute{
			Value:   sa.StandardValue,
			Format:  sa.StandardFormat,
			Sources: sa.DerivedFrom,
		}
	}

	gr := model.GoldenRecord{
		ProductID:       product.ID,
		SKU:             product.SKU,
		Brand:           product.Brand,
		Attributes:      attrs,
		Enrichment:      enrichment,
		ReadyForPublish: ready,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := a.store.UpsertGoldenRecord(ctx, gr); err != nil {
		return nil, eris.Wrap(err, "golden: upsert")
	}

	zap.L().Info("golden: record assembled",
		zap.String("product_id", product.ID),
		zap.String("sku", product.SKU),
		zap.Int("attributes", len(attrs)),
		zap.Bool("ready_for_publish", ready),
	)
	got, err := a.store.GetGoldenRecord(ctx, product.ID)
	if err != nil {
		return nil, eris.Wrap(err, "golden: reload")
	}
	return got, nil
}

// Publish stamps the golden record's publish time. Rejected without state
// change when the record is not ready; republishing keeps the original
// timestamp.
func (a *Assembler) Publish(ctx context.Context, productID string) (*model.GoldenRecord, error) {
	gr, err := a.store.GetGoldenRecord(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !gr.ReadyForPublish {
		return nil, eris.Wrapf(ErrPublishNotReady, "product %s", productID)
	}
	if err := a.store.MarkPublished(ctx, productID, time.Now().UTC()); err != nil {
		return nil, err
	}
	return a.store.GetGoldenRecord(ctx, productID)
}
