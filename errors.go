package structex

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyDocument is returned when a document resolves to no content.
var ErrEmptyDocument = errors.New("document is empty")

// ErrNoParticipants is returned when an ensemble has nothing to run.
var ErrNoParticipants = errors.New("no participants configured")

// ErrNoCandidates is returned when a fallback chain has no candidates.
var ErrNoCandidates = errors.New("no fallback candidates configured")

// PluginNotFoundError reports a lookup for an unregistered plugin.
type PluginNotFoundError struct {
	Kind Kind
	Name string
}

func (e *PluginNotFoundError) Error() string {
	return fmt.Sprintf("plugin not found: %s/%s", e.Kind, e.Name)
}

// DuplicateNameError reports a second registration of the same (kind, name)
// without an explicit overwrite.
type DuplicateNameError struct {
	Kind Kind
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("plugin already registered: %s/%s", e.Kind, e.Name)
}

// SecurityError reports that input or output validation rejected the request
// before (input) or after (output) the provider call. Input rejections happen
// before any provider spend.
type SecurityError struct {
	Stage  string // "input" or "output"
	Reason string
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security: %s rejected: %s", e.Stage, e.Reason)
}

// ProviderError wraps any backend failure, including timeouts.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %q: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ValidationError reports schema non-conformance after postprocessing and,
// when enabled, verify-loop exhaustion.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return "validation failed"
	}
	return "validation failed: " + strings.Join(e.Issues, "; ")
}

// RoutingError reports a classifier label with no matching route.
type RoutingError struct {
	Label string
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no route for label %q", e.Label)
}

// Attempt records one failed candidate inside a fallback run.
type Attempt struct {
	Name string
	Err  error
}

// AggregateFallbackError carries every per-attempt error after a fallback
// chain is exhausted.
type AggregateFallbackError struct {
	Attempts []Attempt
}

func (e *AggregateFallbackError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %v", a.Name, a.Err))
	}
	return fmt.Sprintf("all %d fallback candidates failed: %s", len(e.Attempts), strings.Join(parts, "; "))
}

func (e *AggregateFallbackError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}
