package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/catalog-cli/internal/model"
	"github.com/sells-group/catalog-cli/internal/priority"
	"github.com/sells-group/catalog-cli/internal/store"
)

// Stage names, in execution order.
const (
	StageNameAggregation     = "aggregation"
	StageNameCleansing       = "cleansing"
	StageNameStandardization = "standardization"
	StageNameRules           = "rules"
	StageNameEnrichment      = "enrichment"
	StageNameGoldenRecord    = "golden_record"
)

// StageStatus is the outcome of one stage.
type StageStatus string

const (
	StageComplete StageStatus = "complete"
	StageFailed   StageStatus = "failed"
	StageSkipped  StageStatus = "skipped"
)

// StageResult is the typed outcome of one named stage.
type StageResult struct {
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	DurationMs int64       `json:"duration_ms"`
	Error      string      `json:"error,omitempty"`
	Detail     any         `json:"detail,omitempty"`
}

// RunResult is the outcome of one product's pipeline run.
type RunResult struct {
	ProductID       string        `json:"product_id"`
	SKU             string        `json:"sku"`
	Stages          []StageResult `json:"stages"`
	StagesCompleted int           `json:"stages_completed"`
	Issues          int           `json:"issues"`
	Conflicts       int           `json:"conflicts"`
	Withheld        int           `json:"withheld"`
	RulesFailed     int           `json:"rules_failed"`
	ReadyForPublish bool          `json:"ready_for_publish"`
}

// Runner executes the consolidation stages for one product in fixed
// order. Each stage returns a typed result; a stage error aborts the
// remaining stages for that product only.
type Runner struct {
	store        store.Store
	aggregator   *Aggregator
	cleanser     *Cleanser
	standardizer *Standardizer
	rules        *RuleEngine
	enricher     *Enricher
	assembler    *Assembler
}

// NewRunner wires a runner from its engines.
func NewRunner(st store.Store, resolver *priority.Resolver) *Runner {
	return &Runner{
		store:        st,
		aggregator:   NewAggregator(st, resolver),
		cleanser:     NewCleanser(st),
		standardizer: NewStandardizer(st),
		rules:        NewRuleEngine(st),
		enricher:     NewEnricher(st),
		assembler:    NewAssembler(st),
	}
}

// Reviewer returns the review surface bound to the same store.
func (r *Runner) Reviewer() *Reviewer {
	return NewReviewer(r.store)
}

// Assembler returns the golden-record assembler, for publish calls.
func (r *Runner) Assembler() *Assembler {
	return r.assembler
}

// Run executes the pipeline for a known product id.
func (r *Runner) Run(ctx context.Context, projectID, productID string) (*RunResult, error) {
	product, err := r.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return r.RunKeys(ctx, projectID, model.ProductKeys{SKU: product.SKU, MPN: product.MPN, Brand: product.Brand})
}

// RunKeys executes the pipeline for a product named by its keys, creating
// the product row if this is the first run.
func (r *Runner) RunKeys(ctx context.Context, projectID string, keys model.ProductKeys) (*RunResult, error) {
	log := zap.L().With(zap.String("project_id", projectID), zap.String("sku", keys.SKU))
	log.Info("pipeline: starting run")

	snap, err := priority.NewSnapshot(ctx, r.store, projectID)
	if err != nil {
		return nil, err
	}

	result := &RunResult{}

	// Stage tracking: record outcome and duration, abort on error.
	runStage := func(name string, fn func() (any, error)) bool {
		start := time.Now()
		detail, err := fn()
		sr := StageResult{
			Name:       name,
			Status:     StageComplete,
			DurationMs: time.Since(start).Milliseconds(),
			Detail:     detail,
		}
		if err != nil {
			sr.Status = StageFailed
			sr.Error = err.Error()
			log.Error("pipeline: stage failed", zap.String("stage", name), zap.Error(err))
		} else {
			result.StagesCompleted++
			log.Debug("pipeline: stage complete",
				zap.String("stage", name),
				zap.Int64("duration_ms", sr.DurationMs),
			)
		}
		result.Stages = append(result.Stages, sr)
		return err == nil
	}

	var (
		agg        *AggregateResult
		stdResult  *StandardizeResult
		enrichment *model.Enrichment
	)

	ok := runStage(StageNameAggregation, func() (any, error) {
		var err error
		agg, err = r.aggregator.Aggregate(ctx, snap, keys)
		if err != nil {
			return nil, err
		}
		result.ProductID = agg.Product.ID
		result.SKU = agg.Product.SKU
		result.Conflicts = agg.Conflicts
		result.Withheld = agg.Withheld
		return map[string]int{"attributes": len(agg.Attributes), "conflicts": agg.Conflicts}, nil
	})
	if !ok {
		return result, eris.Wrapf(ErrStageAborted, "stage %s", StageNameAggregation)
	}

	ok = runStage(StageNameCleansing, func() (any, error) {
		// Cleansing sees the raw observed tuples, not the collapsed sets,
		// so duplicate entries survive long enough to be counted.
		cleansed, err := r.cleanser.Cleanse(ctx, agg.Product.ID, agg.Observed)
		if err != nil {
			return nil, err
		}
		result.Issues = len(cleansed.Issues)
		return map[string]int{"issues": len(cleansed.Issues)}, nil
	})
	if !ok {
		return result, eris.Wrapf(ErrStageAborted, "stage %s", StageNameCleansing)
	}

	ok = runStage(StageNameStandardization, func() (any, error) {
		var err error
		stdResult, err = r.standardizer.Standardize(ctx, agg.Product.ID, agg.Attributes)
		if err != nil {
			return nil, err
		}
		return map[string]int{"standardized": len(stdResult.Attributes), "skipped": stdResult.Skipped}, nil
	})
	if !ok {
		return result, eris.Wrapf(ErrStageAborted, "stage %s", StageNameStandardization)
	}

	ok = runStage(StageNameRules, func() (any, error) {
		validated, err := r.rules.Validate(ctx, agg.Product.ID, stdResult.Attributes)
		if err != nil {
			return nil, err
		}
		result.RulesFailed = validated.Failed
		return map[string]int{"passed": validated.Passed, "failed": validated.Failed}, nil
	})
	if !ok {
		return result, eris.Wrapf(ErrStageAborted, "stage %s", StageNameRules)
	}

	ok = runStage(StageNameEnrichment, func() (any, error) {
		var err error
		enrichment, err = r.enricher.Enrich(ctx, agg.Product, stdResult.Attributes)
		if err != nil {
			return nil, err
		}
		return map[string]int{"bullets": len(enrichment.Bullets), "tags": len(enrichment.Tags)}, nil
	})
	if !ok {
		return result, eris.Wrapf(ErrStageAborted, "stage %s", StageNameEnrichment)
	}

	ok = runStage(StageNameGoldenRecord, func() (any, error) {
		gr, err := r.assembler.Assemble(ctx, agg.Product, stdResult.Attributes, enrichment)
		if err != nil {
			return nil, err
		}
		result.ReadyForPublish = gr.ReadyForPublish
		return map[string]bool{"ready_for_publish": gr.ReadyForPublish}, nil
	})
	if !ok {
		return result, eris.Wrapf(ErrStageAborted, "stage %s", StageNameGoldenRecord)
	}

	log.Info("pipeline: run complete",
		zap.String("product_id", result.ProductID),
		zap.Int("stages", result.StagesCompleted),
		zap.Int("issues", result.Issues),
		zap.Bool("ready_for_publish", result.ReadyForPublish),
	)
	return result, nil
}
