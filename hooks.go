package structex

import (
	"log/slog"
)

// PreProcessHook runs before the pipeline. It may return an override map;
// an entry under "prompt" replaces the effective prompt and an entry under
// "schema" (a *Schema) replaces the effective schema. Later hooks observe
// earlier mutations through pctx and through the already-overridden values
// they receive.
type PreProcessHook func(filePath, prompt string, schema *Schema, mimeType string, pctx Context) map[string]any

// PostProcessHook runs after the pipeline. A non-nil return replaces the
// result for subsequent hooks and the caller. Hooks signalling "no change"
// must return nil rather than mutating result in place.
type PostProcessHook func(result Result, pctx Context) Result

// ErrorHook runs when the provider call fails. The first hook returning a
// non-empty fallback short-circuits the chain and its result is returned to
// the caller instead of the error.
type ErrorHook func(err error, filePath string, pctx Context) Result

// Hooks is the ordered observer registry invoked around pipeline phases.
// Hooks fire in registration order. A panicking hook is logged and skipped;
// hooks never abort the pipeline.
type Hooks struct {
	pre     []PreProcessHook
	post    []PostProcessHook
	onError []ErrorHook
	log     *slog.Logger
}

// NewHooks returns an empty dispatcher logging with slog.Default().
func NewHooks() *Hooks {
	return &Hooks{log: slog.Default()}
}

// WithLogger replaces the dispatcher logger.
func (h *Hooks) WithLogger(log *slog.Logger) *Hooks {
	if log != nil {
		h.log = log
	}
	return h
}

// OnPreProcess appends a pre-process hook.
func (h *Hooks) OnPreProcess(fn PreProcessHook) *Hooks {
	h.pre = append(h.pre, fn)
	return h
}

// OnPostProcess appends a post-process hook.
func (h *Hooks) OnPostProcess(fn PostProcessHook) *Hooks {
	h.post = append(h.post, fn)
	return h
}

// OnError appends an error hook.
func (h *Hooks) OnError(fn ErrorHook) *Hooks {
	h.onError = append(h.onError, fn)
	return h
}

// runPre fires every pre-process hook and folds overrides into the returned
// prompt and schema.
func (h *Hooks) runPre(filePath, prompt string, schema *Schema, mimeType string, pctx Context) (string, *Schema) {
	if h == nil {
		return prompt, schema
	}
	for i, fn := range h.pre {
		override := h.safePre(i, fn, filePath, prompt, schema, mimeType, pctx)
		if override == nil {
			continue
		}
		if p, ok := override["prompt"].(string); ok && p != "" {
			prompt = p
		}
		if s, ok := override["schema"].(*Schema); ok && s != nil {
			schema = s
		}
	}
	return prompt, schema
}

// runPost fires every post-process hook, accumulating replacements.
func (h *Hooks) runPost(result Result, pctx Context) Result {
	if h == nil {
		return result
	}
	for i, fn := range h.post {
		if replaced := h.safePost(i, fn, result, pctx); replaced != nil {
			result = replaced
		}
	}
	return result
}

// runError fires error hooks in order, stopping at the first non-empty
// fallback. A nil return means no hook recovered and the error propagates.
func (h *Hooks) runError(err error, filePath string, pctx Context) Result {
	if h == nil {
		return nil
	}
	for i, fn := range h.onError {
		if fallback := h.safeError(i, fn, err, filePath, pctx); len(fallback) > 0 {
			h.log.Debug("error hook recovered", "hook", i, "error", err)
			return fallback
		}
	}
	return nil
}

func (h *Hooks) safePre(i int, fn PreProcessHook, filePath, prompt string, schema *Schema, mimeType string, pctx Context) (out map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Debug("pre-process hook panicked", "hook", i, "panic", rec)
			out = nil
		}
	}()
	return fn(filePath, prompt, schema, mimeType, pctx)
}

func (h *Hooks) safePost(i int, fn PostProcessHook, result Result, pctx Context) (out Result) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Debug("post-process hook panicked", "hook", i, "panic", rec)
			out = nil
		}
	}()
	return fn(result, pctx)
}

func (h *Hooks) safeError(i int, fn ErrorHook, err error, filePath string, pctx Context) (out Result) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Debug("error hook panicked", "hook", i, "panic", rec)
			out = nil
		}
	}()
	return fn(err, filePath, pctx)
}
