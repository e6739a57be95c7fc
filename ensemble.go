package structex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Participant is one named member of an ensemble.
type Participant struct {
	Name      string
	Processor Processor
}

// EnsembleProcessor runs all participants concurrently and reconciles their
// outputs. Fields every reporter agrees on are consensus; disputed fields go
// to the judge, whose answer is authoritative for exactly those fields. The
// judge runs at most once per ensemble call.
type EnsembleProcessor struct {
	participants []Participant
	judge        Provider
	runner       func(ctx context.Context) Runner
	prompts      ContextualPromptProvider
	log          *slog.Logger
}

// EnsembleOption configures an EnsembleProcessor.
type EnsembleOption func(*EnsembleProcessor)

// WithJudge designates the provider that resolves disagreement. Without a
// judge, disputed fields resolve by majority, ties by participant order.
func WithJudge(judge Provider) EnsembleOption {
	return func(e *EnsembleProcessor) { e.judge = judge }
}

// WithEnsembleRunner replaces the scheduling model.
func WithEnsembleRunner(factory func(ctx context.Context) Runner) EnsembleOption {
	return func(e *EnsembleProcessor) { e.runner = factory }
}

// WithEnsemblePrompts replaces the template provider for the judge prompt.
func WithEnsemblePrompts(p ContextualPromptProvider) EnsembleOption {
	return func(e *EnsembleProcessor) { e.prompts = p }
}

// WithEnsembleLogger replaces the ensemble logger.
func WithEnsembleLogger(log *slog.Logger) EnsembleOption {
	return func(e *EnsembleProcessor) {
		if log != nil {
			e.log = log
		}
	}
}

// NewEnsembleProcessor builds an ensemble over the given participants.
func NewEnsembleProcessor(participants []Participant, opts ...EnsembleOption) *EnsembleProcessor {
	e := &EnsembleProcessor{
		participants: participants,
		runner:       DefaultRunner,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process fans out to every participant, excludes failures from voting, and
// returns the reconciled result. Only when every participant fails does the
// ensemble fail.
func (e *EnsembleProcessor) Process(ctx context.Context, filePath, prompt string, schema *Schema, opts ...CallOption) (Result, error) {
	if len(e.participants) == 0 {
		return nil, ErrNoParticipants
	}

	// Collected by index so completion order never matters.
	candidates := make([]Result, len(e.participants))
	errs := make([]error, len(e.participants))
	var mu sync.Mutex

	r := e.runner(ctx)
	for i, part := range e.participants {
		i, part := i, part
		r.Go(func() error {
			result, err := part.Processor.Process(ctx, filePath, prompt, schema, opts...)
			mu.Lock()
			candidates[i] = result
			errs[i] = err
			mu.Unlock()
			// A failed participant is excluded, not fatal.
			return nil
		})
	}
	if err := r.Wait(); err != nil {
		return nil, err
	}

	var viable []Result
	var viableNames []string
	var failures []Attempt
	for i, part := range e.participants {
		if errs[i] != nil {
			e.log.Debug("ensemble participant failed", "participant", part.Name, "error", errs[i])
			failures = append(failures, Attempt{Name: part.Name, Err: errs[i]})
			continue
		}
		viable = append(viable, candidates[i])
		viableNames = append(viableNames, part.Name)
	}
	if len(viable) == 0 {
		return nil, fmt.Errorf("ensemble: all participants failed: %w", &AggregateFallbackError{Attempts: failures})
	}

	merged, disputed := mergeCandidates(viable)
	if len(disputed) == 0 {
		e.log.Debug("ensemble consensus", "participants", len(viable))
		merged[KeyProcessedBy] = "ensemble"
		return merged, nil
	}

	e.log.Debug("ensemble disagreement", "disputed_fields", disputed, "participants", viableNames)
	if e.judge == nil {
		resolveByMajority(merged, disputed, viable)
		merged[KeyProcessedBy] = "ensemble"
		return merged, nil
	}

	verdict, err := e.invokeJudge(ctx, filePath, viable, disputed, schema)
	if err != nil {
		return nil, fmt.Errorf("ensemble judge: %w", err)
	}
	for _, field := range disputed {
		if v, ok := verdict[field]; ok {
			merged[field] = v
		}
	}
	merged[KeyProcessedBy] = "ensemble"
	return merged, nil
}

// mergeCandidates overlays candidate results field by field. A field
// reported by a single participant is taken as-is; a field all reporters
// agree on is consensus; conflicting fields come back as disputed with the
// first reporter's value as placeholder.
func mergeCandidates(candidates []Result) (Result, []string) {
	merged := Result{}
	disputedSet := map[string]bool{}

	for _, c := range candidates {
		for field, value := range c {
			if strings.HasPrefix(field, "_") {
				continue
			}
			prev, seen := merged[field]
			if !seen {
				merged[field] = value
				continue
			}
			if !reflect.DeepEqual(prev, value) {
				disputedSet[field] = true
			}
		}
	}

	disputed := make([]string, 0, len(disputedSet))
	for f := range disputedSet {
		disputed = append(disputed, f)
	}
	sort.Strings(disputed)
	return merged, disputed
}

// resolveByMajority settles disputed fields without a judge: the most
// common value wins, ties go to the earliest participant.
func resolveByMajority(merged Result, disputed []string, candidates []Result) {
	for _, field := range disputed {
		counts := map[string]int{}
		first := map[string]any{}
		order := []string{}
		for _, c := range candidates {
			v, ok := c[field]
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
		bestCount := -1
		for _, key := range order {
			if counts[key] > bestCount {
				bestKey = key
				bestCount = counts[key]
			}
		}
		if bestKey != "" {
			merged[field] = first[bestKey]
		}
	}
}

func canonicalValue(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

func (e *EnsembleProcessor) invokeJudge(ctx context.Context, filePath string, candidates []Result, disputed []string, schema *Schema) (Result, error) {
	encoded := make([]string, len(candidates))
	for i, c := range candidates {
		raw, err := json.Marshal(stripMetadata(c))
		if err != nil {
			return nil, fmt.Errorf("encode candidate %d: %w", i, err)
		}
		encoded[i] = fmt.Sprintf("Candidate %d: %s", i+1, raw)
	}

	vars := map[string]any{
		"candidates": strings.Join(encoded, "\n"),
		"fields":     strings.Join(disputed, ", "),
	}
	prompts := e.prompts
	if prompts == nil {
		var err error
		prompts, err = NewStickPromptProvider()
		if err != nil {
			return nil, err
		}
	}
	judgePrompt, err := prompts.GetPromptWithVars(TagJudge, vars)
	if err != nil {
		return nil, err
	}

	return e.judge.Process(ctx, &Request{
		FilePath: filePath,
		Text:     strings.Join(encoded, "\n"),
		Prompt:   judgePrompt,
		Schema:   schema,
		MIMEType: "text/plain",
	})
}
