package structex

import (
	"context"
	"log/slog"
	"sync"
)

// BatchResult aggregates the outcome of processing a document sequence.
// Results and Errors are indexed by input position; exactly one of
// Results[i] and Errors[i] is set for each i.
type BatchResult struct {
	TotalDocuments int
	Results        []Result
	Errors         []error
	Succeeded      int
	Failed         int
}

// BatchProcessor fans an ordered sequence of documents over a bounded
// worker pool. Each document succeeds or fails on its own; one failure
// never aborts the batch.
type BatchProcessor struct {
	inner   Processor
	workers int
	log     *slog.Logger
}

// BatchOption configures a BatchProcessor.
type BatchOption func(*BatchProcessor)

// WithWorkers bounds the number of documents in flight. Zero or negative
// falls back to 4.
func WithWorkers(n int) BatchOption {
	return func(b *BatchProcessor) { b.workers = n }
}

// WithBatchLogger replaces the logger.
func WithBatchLogger(log *slog.Logger) BatchOption {
	return func(b *BatchProcessor) {
		if log != nil {
			b.log = log
		}
	}
}

// NewBatchProcessor wraps inner with concurrent multi-document processing.
func NewBatchProcessor(inner Processor, opts ...BatchOption) *BatchProcessor {
	b := &BatchProcessor{
		inner:   inner,
		workers: 4,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.workers <= 0 {
		b.workers = 4
	}
	return b
}

// Process handles a single document by delegating straight to the inner
// processor, keeping BatchProcessor composable under the common contract.
func (b *BatchProcessor) Process(ctx context.Context, filePath, prompt string, schema *Schema, opts ...CallOption) (Result, error) {
	return b.inner.Process(ctx, filePath, prompt, schema, opts...)
}

// ProcessBatch runs every document through the inner processor with at most
// the configured number in flight. Outcomes are collected by input index,
// never by completion order.
func (b *BatchProcessor) ProcessBatch(ctx context.Context, filePaths []string, prompt string, schema *Schema, opts ...CallOption) *BatchResult {
	br := &BatchResult{
		TotalDocuments: len(filePaths),
		Results:        make([]Result, len(filePaths)),
		Errors:         make([]error, len(filePaths)),
	}
	if len(filePaths) == 0 {
		return br
	}

	var mu sync.Mutex
	r := NewLimitedRunner(ctx, b.workers)
	for i, filePath := range filePaths {
		i, filePath := i, filePath
		r.Go(func() error {
			result, err := b.inner.Process(ctx, filePath, prompt, schema, opts...)
			mu.Lock()
			br.Results[i] = result
			br.Errors[i] = err
			mu.Unlock()
			// Failures are per-document, never batch-fatal.
			return nil
		})
	}
	// Workers never return errors; Wait only observes context cancellation.
	if err := r.Wait(); err != nil {
		for i := range br.Errors {
			if br.Results[i] == nil && br.Errors[i] == nil {
				br.Errors[i] = err
			}
		}
	}

	for i := range filePaths {
		if br.Errors[i] != nil {
			b.log.Debug("batch document failed", "file", filePaths[i], "error", br.Errors[i])
			br.Failed++
			continue
		}
		br.Succeeded++
	}
	return br
}
