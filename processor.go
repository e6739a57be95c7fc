package structex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// SimpleProcessor is the single-document extraction pipeline:
// pre-hooks → input security → cache lookup → provider call → output
// security → postprocess → schema validation → optional verify loop →
// post-hooks. Error hooks run when the provider call fails.
type SimpleProcessor struct {
	provider       Provider
	providerName   string
	security       SecurityPlugin
	validators     []Validator
	postprocessors []Postprocessor
	extractors     []Extractor
	cache          Cache
	hooks          *Hooks
	prompts        ContextualPromptProvider
	verifyPasses   int
	log            *slog.Logger
}

// ProcessorOption configures a SimpleProcessor at construction time.
type ProcessorOption func(*SimpleProcessor)

// WithProviderName sets the name recorded in cache entries and errors.
func WithProviderName(name string) ProcessorOption {
	return func(p *SimpleProcessor) { p.providerName = name }
}

// WithSecurityChain enables input/output screening with the given plugin.
func WithSecurityChain(s SecurityPlugin) ProcessorOption {
	return func(p *SimpleProcessor) { p.security = s }
}

// WithValidators appends validators run after schema validation.
func WithValidators(v ...Validator) ProcessorOption {
	return func(p *SimpleProcessor) { p.validators = append(p.validators, v...) }
}

// WithPostprocessors appends postprocessors, run in the order given. When
// resolving from a registry, pass them in ListNames order to preserve the
// priority contract.
func WithPostprocessors(pp ...Postprocessor) ProcessorOption {
	return func(p *SimpleProcessor) { p.postprocessors = append(p.postprocessors, pp...) }
}

// WithExtractors appends document-to-text extractors tried in order.
func WithExtractors(e ...Extractor) ProcessorOption {
	return func(p *SimpleProcessor) { p.extractors = append(p.extractors, e...) }
}

// WithCache enables the content-addressed result cache.
func WithCache(c Cache) ProcessorOption {
	return func(p *SimpleProcessor) { p.cache = c }
}

// WithHooks attaches a hook dispatcher.
func WithHooks(h *Hooks) ProcessorOption {
	return func(p *SimpleProcessor) { p.hooks = h }
}

// WithPromptProvider attaches a template provider used by the verify loop
// and by strategy processors that render prompts.
func WithPromptProvider(pp ContextualPromptProvider) ProcessorOption {
	return func(p *SimpleProcessor) { p.prompts = pp }
}

// WithDefaultVerifyPasses enables the verify loop for every call unless a
// call option overrides it.
func WithDefaultVerifyPasses(n int) ProcessorOption {
	return func(p *SimpleProcessor) { p.verifyPasses = n }
}

// WithProcessorLogger replaces the pipeline logger.
func WithProcessorLogger(log *slog.Logger) ProcessorOption {
	return func(p *SimpleProcessor) {
		if log != nil {
			p.log = log
		}
	}
}

// NewSimpleProcessor builds a pipeline around one provider.
func NewSimpleProcessor(provider Provider, opts ...ProcessorOption) *SimpleProcessor {
	p := &SimpleProcessor{
		provider:     provider,
		providerName: "provider",
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromRegistry builds a pipeline with the provider, extractors and security
// chain resolved from a registry in waterfall order.
func FromRegistry(r *Registry, providerName string, opts ...ProcessorOption) (*SimpleProcessor, error) {
	provider, err := r.GetProvider(providerName)
	if err != nil {
		return nil, err
	}
	resolved := []ProcessorOption{WithProviderName(providerName)}
	for _, name := range r.ListNames(KindExtractor) {
		e, err := r.GetExtractor(name)
		if err != nil {
			continue
		}
		resolved = append(resolved, WithExtractors(e))
	}
	if names := r.ListNames(KindSecurity); len(names) > 0 {
		chain := NewSecurityChain()
		for _, name := range names {
			if s, err := r.GetSecurity(name); err == nil {
				chain.Append(s)
			}
		}
		resolved = append(resolved, WithSecurityChain(chain))
	}
	for _, name := range r.ListNames(KindPostprocessor) {
		if inst, err := r.Get(KindPostprocessor, name); err == nil {
			if pp, ok := inst.(Postprocessor); ok {
				resolved = append(resolved, WithPostprocessors(pp))
			}
		}
	}
	for _, name := range r.ListNames(KindValidator) {
		if inst, err := r.Get(KindValidator, name); err == nil {
			if v, ok := inst.(Validator); ok {
				resolved = append(resolved, WithValidators(v))
			}
		}
	}
	return NewSimpleProcessor(provider, append(resolved, opts...)...), nil
}

// Process runs the full pipeline for one document.
func (p *SimpleProcessor) Process(ctx context.Context, filePath, prompt string, schema *Schema, opts ...CallOption) (Result, error) {
	o := buildCallOptions(opts)

	doc, mimeType, err := p.loadDocument(ctx, filePath, &o)
	if err != nil {
		return nil, err
	}

	pctx := Context{
		"file_path": filePath,
		"mime_type": mimeType,
		"params":    o.Params,
	}

	// PreHooks
	prompt, schema = p.hooks.runPre(filePath, prompt, schema, mimeType, pctx)

	// InputSecurity: a blocked request never reaches the provider, and a
	// sanitizing screen rewrites what the provider sees. Prompt and document
	// text are screened separately so each can be sanitized in place.
	security := p.effectiveSecurity(&o)
	if security != nil {
		screened := security.ValidateInput(prompt)
		if !screened.Valid {
			return nil, &SecurityError{Stage: "input", Reason: screened.Reason}
		}
		if screened.Text != "" {
			prompt = screened.Text
		}
		if doc.text != "" {
			screened = security.ValidateInput(doc.text)
			if !screened.Valid {
				return nil, &SecurityError{Stage: "input", Reason: screened.Reason}
			}
			if screened.Text != "" {
				doc.text = screened.Text
			}
		}
	}

	// CacheLookup
	fingerprint := ""
	if p.cache != nil && !o.SkipCache {
		fingerprint = Fingerprint(doc.fingerprintable(), prompt, schema, p.providerName)
		if entry, ok := p.cache.Get(fingerprint); ok {
			p.log.Debug("cache hit", "fingerprint", fingerprint, "provider", entry.Provider)
			result := cloneResult(entry.Result)
			result[KeyFromCache] = true
			pctx["cache_hit"] = true
			return p.hooks.runPost(result, pctx), nil
		}
	}

	// ProviderCall
	result, err := p.callProvider(ctx, &Request{
		FilePath: filePath,
		Text:     doc.text,
		Data:     doc.data,
		Prompt:   prompt,
		Schema:   schema,
		MIMEType: mimeType,
		Params:   o.Params,
	}, &o)
	if err != nil {
		// ErrorHooks: a recovered fallback is the final result after
		// post-hooks only; the remaining phases are skipped.
		if fallback := p.hooks.runError(err, filePath, pctx); fallback != nil {
			pctx["recovered"] = true
			return p.hooks.runPost(fallback, pctx), nil
		}
		return nil, err
	}

	// OutputSecurity
	if security != nil {
		screened := security.ValidateOutput(result)
		if !screened.Valid {
			return nil, &SecurityError{Stage: "output", Reason: screened.Reason}
		}
		if screened.Data != nil {
			result = screened.Data
		}
	}

	// Postprocess
	for _, pp := range p.postprocessors {
		result = pp.Process(result)
	}

	// SchemaValidate + optional VerifyLoop
	if schema != nil {
		result, err = p.validateWithVerify(ctx, result, schema, doc, prompt, mimeType, &o)
		if err != nil {
			return nil, err
		}
	}

	// PostHooks, then store to cache on the miss path.
	result = p.hooks.runPost(result, pctx)
	if fingerprint != "" {
		entry := &CacheEntry{
			Fingerprint: fingerprint,
			Result:      cloneResult(result),
			CreatedAt:   time.Now(),
			Provider:    p.providerName,
		}
		if err := p.cache.Put(entry); err != nil {
			p.log.Debug("cache store failed", "fingerprint", fingerprint, "error", err)
		}
	}
	return result, nil
}

// document is the loaded input of one call: extracted text when an
// extractor claimed the MIME type, raw bytes otherwise.
type document struct {
	text string
	data []byte
}

func (d *document) fingerprintable() []byte {
	if d.text != "" {
		return []byte(d.text)
	}
	return d.data
}

func (p *SimpleProcessor) loadDocument(ctx context.Context, filePath string, o *CallOptions) (*document, string, error) {
	if o.DocumentText != "" {
		mt := o.MIMEType
		if mt == "" {
			mt = "text/plain"
		}
		return &document{text: o.DocumentText}, mt, nil
	}

	if _, err := os.Stat(filePath); err != nil {
		return nil, "", fmt.Errorf("document %s: %w", filePath, err)
	}

	mimeType := o.MIMEType
	if mimeType == "" {
		detected, err := DetectMIME(filePath)
		if err != nil {
			return nil, "", err
		}
		mimeType = detected
	}

	if extractor, ok := selectExtractor(p.extractors, mimeType); ok {
		text, err := extractor.Extract(ctx, filePath)
		if err != nil {
			return nil, "", fmt.Errorf("extract %s: %w", filePath, err)
		}
		if text == "" {
			return nil, "", ErrEmptyDocument
		}
		return &document{text: text}, mimeType, nil
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", filePath, err)
	}
	if len(raw) == 0 {
		return nil, "", ErrEmptyDocument
	}
	return &document{data: raw}, mimeType, nil
}

func (p *SimpleProcessor) effectiveSecurity(o *CallOptions) SecurityPlugin {
	if o.NoSecurity {
		return nil
	}
	if o.Security != nil {
		return o.Security
	}
	return p.security
}

// callProvider wraps the provider call with the per-call timeout and retry
// policy. A timeout surfaces as a ProviderError like any backend failure.
func (p *SimpleProcessor) callProvider(ctx context.Context, req *Request, o *CallOptions) (Result, error) {
	if o.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.Timeout)
		defer cancel()
	}

	var result Result
	err := retryable(func() error {
		var callErr error
		result, callErr = p.provider.Process(ctx, req)
		return callErr
	}, o.MaxRetries, o.Backoff, p.log)
	if err != nil {
		if _, ok := err.(*ProviderError); ok {
			return nil, err
		}
		return nil, &ProviderError{Provider: p.providerName, Err: err}
	}
	if result == nil {
		// A provider returning (nil, nil) is degenerate but legal; the
		// downstream phases annotate the map in place.
		result = Result{}
	}
	return result, nil
}

// validateWithVerify validates against the schema, and when a verify budget
// is configured, re-submits failed results to the provider for
// self-correction. The loop stops at the first pass that validates; budget
// exhaustion surfaces the last validation issues.
func (p *SimpleProcessor) validateWithVerify(ctx context.Context, result Result, schema *Schema, doc *document, prompt, mimeType string, o *CallOptions) (Result, error) {
	passes := o.VerifyPasses
	if passes == 0 {
		passes = p.verifyPasses
	}

	vr := p.runValidators(result, schema)
	if vr.Valid {
		return vr.Data, nil
	}
	if passes <= 0 {
		return nil, &ValidationError{Issues: vr.Issues}
	}

	current := vr.Data
	issues := vr.Issues
	for pass := 1; pass <= passes; pass++ {
		p.log.Debug("verify pass", "pass", pass, "issues", len(issues))

		verifyPrompt, err := p.renderVerifyPrompt(current, issues)
		if err != nil {
			return nil, err
		}
		corrected, err := p.callProvider(ctx, &Request{
			Text:     doc.text,
			Data:     doc.data,
			Prompt:   verifyPrompt,
			Schema:   schema,
			MIMEType: mimeType,
			Params:   o.Params,
		}, o)
		if err != nil {
			return nil, err
		}
		for _, pp := range p.postprocessors {
			corrected = pp.Process(corrected)
		}
		vr = p.runValidators(corrected, schema)
		if vr.Valid {
			return vr.Data, nil
		}
		current = vr.Data
		issues = vr.Issues
	}
	return nil, &ValidationError{Issues: issues}
}

// runValidators runs the schema validator and then the configured extras,
// accumulating issues and corrections.
func (p *SimpleProcessor) runValidators(result Result, schema *Schema) ValidationResult {
	out := ValidationResult{Valid: true, Data: result}

	sv := NewSchemaValidator().Validate(result, schema)
	out.Valid = sv.Valid
	out.Issues = append(out.Issues, sv.Issues...)
	if sv.Data != nil {
		out.Data = sv.Data
	}

	for _, v := range p.validators {
		r := v.Validate(out.Data, schema)
		if !r.Valid {
			out.Valid = false
			out.Issues = append(out.Issues, r.Issues...)
		}
		if r.Data != nil {
			out.Data = r.Data
		}
	}
	return out
}

func (p *SimpleProcessor) renderVerifyPrompt(result Result, issues []string) (string, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode result for verification: %w", err)
	}
	vars := map[string]any{
		"result": string(raw),
		"issues": joinIssues(issues),
	}
	if p.prompts != nil {
		return p.prompts.GetPromptWithVars(TagVerify, vars)
	}
	fallback, err := NewStickPromptProvider()
	if err != nil {
		return "", err
	}
	return fallback.GetPromptWithVars(TagVerify, vars)
}

func joinIssues(issues []string) string {
	out := ""
	for i, issue := range issues {
		if i > 0 {
			out += "\n"
		}
		out += "- " + issue
	}
	return out
}

// VerifiedProcessor is a SimpleProcessor with the self-correction loop
// always on.
type VerifiedProcessor struct {
	*SimpleProcessor
}

// NewVerifiedProcessor builds a pipeline that verifies every schema failure
// with up to passes correction rounds.
func NewVerifiedProcessor(provider Provider, passes int, opts ...ProcessorOption) *VerifiedProcessor {
	if passes <= 0 {
		passes = 2
	}
	opts = append(opts, WithDefaultVerifyPasses(passes))
	return &VerifiedProcessor{SimpleProcessor: NewSimpleProcessor(provider, opts...)}
}
