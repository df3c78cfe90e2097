package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// BatchResult reports the aggregate outcome of a batch run. One product's
// failure never cancels the others.
type BatchResult struct {
	Succeeded int64             `json:"succeeded"`
	Failed    int64             `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
	Results   []*RunResult      `json:"results,omitempty"`
}

// RunBatch fans the pipeline out over productIDs with bounded
// concurrency. Per-product errors are collected, not propagated; the
// returned error is nil unless the batch itself could not run.
func (r *Runner) RunBatch(ctx context.Context, projectID string, productIDs []string, concurrency int) (*BatchResult, error) {
	if concurrency <= 0 {
		concurrency = 4
	}

	var succeeded, failed atomic.Int64
	var mu sync.Mutex
	result := &BatchResult{Errors: map[string]string{}}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, productID := range productIDs {
		g.Go(func() error {
			runResult, err := r.Run(ctx, projectID, productID)
			if err != nil {
				failed.Add(1)
				mu.Lock()
				result.Errors[productID] = err.Error()
				mu.Unlock()
				zap.L().Warn("batch: product failed",
					zap.String("product_id", productID),
					zap.Error(err),
				)
				// Individual failures do not abort the batch.
				return nil
			}
			succeeded.Add(1)
			mu.Lock()
			result.Results = append(result.Results, runResult)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result.Succeeded = succeeded.Load()
	result.Failed = failed.Load()
	zap.L().Info("batch: complete",
		zap.String("project_id", projectID),
		zap.Int64("succeeded", result.Succeeded),
		zap.Int64("failed", result.Failed),
	)
	return result, nil
}
