package structex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// ActiveLearningProcessor runs the same extraction several times and scores
// how well the trials agree. Disagreement is never an error; the result is
// flagged for human review instead.
type ActiveLearningProcessor struct {
	inner     Processor
	trials    int
	threshold float64
	runner    func(ctx context.Context) Runner
	log       *slog.Logger
}

// ActiveLearningOption configures an ActiveLearningProcessor.
type ActiveLearningOption func(*ActiveLearningProcessor)

// WithTrials sets how many times the extraction runs. Minimum 2.
func WithTrials(n int) ActiveLearningOption {
	return func(a *ActiveLearningProcessor) { a.trials = n }
}

// WithReviewThreshold sets the confidence below which the result is marked
// as requiring review. Default 0.8.
func WithReviewThreshold(t float64) ActiveLearningOption {
	return func(a *ActiveLearningProcessor) { a.threshold = t }
}

// WithActiveLearningRunner replaces the scheduling model.
func WithActiveLearningRunner(factory func(ctx context.Context) Runner) ActiveLearningOption {
	return func(a *ActiveLearningProcessor) { a.runner = factory }
}

// WithActiveLearningLogger replaces the logger.
func WithActiveLearningLogger(log *slog.Logger) ActiveLearningOption {
	return func(a *ActiveLearningProcessor) {
		if log != nil {
			a.log = log
		}
	}
}

// NewActiveLearningProcessor wraps inner with repeated-trial confidence
// scoring.
func NewActiveLearningProcessor(inner Processor, opts ...ActiveLearningOption) *ActiveLearningProcessor {
	a := &ActiveLearningProcessor{
		inner:     inner,
		trials:    3,
		threshold: 0.8,
		runner:    DefaultRunner,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.trials < 2 {
		a.trials = 2
	}
	return a
}

// Process runs the trials, takes the modal value per field, and attaches
// the agreement score. Confidence is the mean, over all fields, of the
// share of successful trials reporting the modal value.
func (a *ActiveLearningProcessor) Process(ctx context.Context, filePath, prompt string, schema *Schema, opts ...CallOption) (Result, error) {
	// Trial runs must hit the provider, not each other's cache entry.
	trialOpts := append(append([]CallOption(nil), opts...), WithoutCache())

	results := make([]Result, a.trials)
	errs := make([]error, a.trials)
	var mu sync.Mutex

	r := a.runner(ctx)
	for i := 0; i < a.trials; i++ {
		i := i
		r.Go(func() error {
			result, err := a.inner.Process(ctx, filePath, prompt, schema, trialOpts...)
			mu.Lock()
			results[i] = result
			errs[i] = err
			mu.Unlock()
			return nil
		})
	}
	if err := r.Wait(); err != nil {
		return nil, err
	}

	var viable []Result
	var failures []Attempt
	for i := range results {
		if errs[i] != nil {
			a.log.Debug("trial failed", "trial", i, "error", errs[i])
			failures = append(failures, Attempt{Name: fmt.Sprintf("trial-%d", i+1), Err: errs[i]})
			continue
		}
		viable = append(viable, results[i])
	}
	if len(viable) == 0 {
		return nil, fmt.Errorf("active learning: all trials failed: %w", &AggregateFallbackError{Attempts: failures})
	}

	final, confidence := scoreAgreement(viable)
	final[KeyConfidence] = confidence
	final[KeyRequiresReview] = confidence < a.threshold
	final[KeyProcessedBy] = "active_learning"
	a.log.Debug("agreement scored",
		"trials", a.trials, "viable", len(viable),
		"confidence", confidence, "requires_review", confidence < a.threshold)
	return final, nil
}

// scoreAgreement picks the modal value for every field seen in any trial
// and returns the mean per-field agreement ratio.
func scoreAgreement(trials []Result) (Result, float64) {
	fieldSet := map[string]bool{}
	for _, t := range trials {
		for field := range t {
			if strings.HasPrefix(field, "_") {
				continue
			}
			fieldSet[field] = true
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	final := Result{}
	if len(fields) == 0 {
		return final, 1.0
	}

	var total float64
	for _, field := range fields {
		counts := map[string]int{}
		first := map[string]any{}
		order := []string{}
		for _, t := range trials {
			v, ok := t[field]
			if !ok {
				continue
			}
			key := canonicalValue(v)
			if _, seen := counts[key]; !seen {
				first[key] = v
				order = append(order, key)
			}
			counts[key]++
		}
		bestKey := ""
		bestCount := 0
		for _, key := range order {
			if counts[key] > bestCount {
				bestKey = key
				bestCount = counts[key]
			}
		}
		final[field] = first[bestKey]
		total += float64(bestCount) / float64(len(trials))
	}
	return final, total / float64(len(fields))
}
