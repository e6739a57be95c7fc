package structex

import (
	"context"
	"log/slog"
)

// Candidate is one named entry of a fallback chain.
type Candidate struct {
	Name      string
	Processor Processor
}

// FallbackProcessor tries candidates in order until one succeeds: the
// waterfall. The order is the caller's; FallbackFromRegistry derives it from
// registry priority.
type FallbackProcessor struct {
	candidates []Candidate
	log        *slog.Logger
}

// NewFallbackProcessor builds a waterfall over the given candidates.
func NewFallbackProcessor(candidates ...Candidate) *FallbackProcessor {
	return &FallbackProcessor{candidates: candidates, log: slog.Default()}
}

// FallbackFromRegistry builds a waterfall over every registered provider in
// ListNames order (priority descending, cost ascending), each wrapped in a
// SimpleProcessor built with the shared options.
func FallbackFromRegistry(r *Registry, opts ...ProcessorOption) (*FallbackProcessor, error) {
	names := r.ListNames(KindProvider)
	if len(names) == 0 {
		return nil, ErrNoCandidates
	}
	candidates := make([]Candidate, 0, len(names))
	for _, name := range names {
		provider, err := r.GetProvider(name)
		if err != nil {
			return nil, err
		}
		sub := NewSimpleProcessor(provider, append([]ProcessorOption{WithProviderName(name)}, opts...)...)
		candidates = append(candidates, Candidate{Name: name, Processor: sub})
	}
	return NewFallbackProcessor(candidates...), nil
}

// WithLogger replaces the fallback logger.
func (f *FallbackProcessor) WithLogger(log *slog.Logger) *FallbackProcessor {
	if log != nil {
		f.log = log
	}
	return f
}

// Process tries each candidate until one returns a result. The winning
// result is annotated with the attempt trail; exhausting the chain returns
// an AggregateFallbackError carrying every per-attempt error.
func (f *FallbackProcessor) Process(ctx context.Context, filePath, prompt string, schema *Schema, opts ...CallOption) (Result, error) {
	if len(f.candidates) == 0 {
		return nil, ErrNoCandidates
	}

	attempts := make([]string, 0, len(f.candidates))
	var failures []Attempt
	for _, c := range f.candidates {
		attempts = append(attempts, c.Name)
		result, err := c.Processor.Process(ctx, filePath, prompt, schema, opts...)
		if err != nil {
			f.log.Debug("fallback candidate failed", "candidate", c.Name, "error", err)
			failures = append(failures, Attempt{Name: c.Name, Err: err})
			continue
		}
		f.log.Debug("fallback candidate succeeded", "candidate", c.Name, "attempts", len(attempts))
		result = cloneResult(result)
		result[KeyProcessedBy] = c.Name
		result[KeyAttempts] = attempts
		return result, nil
	}
	return nil, &AggregateFallbackError{Attempts: failures}
}
