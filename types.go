package structex

import (
	"context"
	"time"
)

// Metadata keys attached by strategy processors.
const (
	KeyConfidence     = "_confidence"
	KeyRequiresReview = "_requires_review"
	KeyProcessedBy    = "_processed_by"
	KeyAttempts       = "_attempts"
	KeyFromCache      = "_from_cache"
)

// Result is the extraction output: field name to value, possibly annotated
// with metadata keys such as KeyConfidence.
type Result = map[string]any

// Context is the per-invocation scratch space shared by hooks and pipeline
// phases. Each extraction call owns exactly one Context; it is never shared
// across concurrent invocations.
type Context map[string]any

// Request carries everything a provider needs for one extraction call.
type Request struct {
	FilePath string
	Text     string // extracted or overridden document text, may be empty
	Data     []byte // raw document bytes for multimodal providers
	Prompt   string
	Schema   *Schema
	MIMEType string
	Params   map[string]string // provider-specific generation parameters
}

// Provider is an LLM backend that turns a document plus prompt into a Result.
type Provider interface {
	Process(ctx context.Context, req *Request) (Result, error)
	HealthCheck() bool
}

// Extractor converts a document file to plain text.
type Extractor interface {
	Extract(ctx context.Context, filePath string) (string, error)
	CanHandle(mimeType string) bool
}

// ValidationResult is the outcome of a validator pass.
type ValidationResult struct {
	Valid  bool
	Data   Result // possibly corrected result
	Issues []string
}

// Validator checks a result, optionally against a schema, and may correct it.
type Validator interface {
	Validate(data Result, schema *Schema) ValidationResult
}

// Postprocessor is a pure transform over a result, same shape in and out.
type Postprocessor interface {
	Process(data Result) Result
}

// SecurityResult is the outcome of a security screen.
type SecurityResult struct {
	Valid  bool
	Reason string
	Text   string // sanitized input text, when the screen rewrites it
	Data   Result // sanitized output, when the screen rewrites it
}

// SecurityPlugin screens pipeline input before any provider spend and output
// before it reaches the caller. Plugins compose into an ordered chain.
type SecurityPlugin interface {
	ValidateInput(text string) SecurityResult
	ValidateOutput(data Result) SecurityResult
}

// Processor is the uniform contract every pipeline and strategy processor
// satisfies, so a Router may dispatch to a Fallback which wraps a verified
// pipeline.
type Processor interface {
	Process(ctx context.Context, filePath, prompt string, schema *Schema, opts ...CallOption) (Result, error)
}

// CallOptions are the per-call knobs of a Process invocation.
type CallOptions struct {
	MIMEType     string            // override MIME detection
	DocumentText string            // override document loading entirely
	Params       map[string]string // passed through to the provider
	Timeout      time.Duration     // bounds the provider call
	MaxRetries   int               // 0 → no retry
	Backoff      time.Duration     // initial retry backoff, doubled per attempt
	VerifyPasses int               // verify-loop budget, 0 → loop disabled
	SkipCache    bool
	Security     SecurityPlugin // per-call security override
	NoSecurity   bool           // disable security for this call
}

// CallOption mutates CallOptions.
type CallOption func(*CallOptions)

func buildCallOptions(opts []CallOption) CallOptions {
	var o CallOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithMIMEType overrides MIME detection for this call.
func WithMIMEType(mt string) CallOption {
	return func(o *CallOptions) { o.MIMEType = mt }
}

// WithDocumentText bypasses file loading and extractors, processing the given
// text instead. Sequential chunking and privacy redaction rely on this.
func WithDocumentText(text string) CallOption {
	return func(o *CallOptions) { o.DocumentText = text }
}

// WithParams forwards provider-specific generation parameters.
func WithParams(params map[string]string) CallOption {
	return func(o *CallOptions) { o.Params = params }
}

// WithTimeout bounds the provider call. A timeout is treated like any other
// provider error and routed to the error hooks.
func WithTimeout(d time.Duration) CallOption {
	return func(o *CallOptions) { o.Timeout = d }
}

// WithRetry retries the provider call with exponential backoff.
func WithRetry(max int, backoff time.Duration) CallOption {
	return func(o *CallOptions) {
		o.MaxRetries = max
		o.Backoff = backoff
	}
}

// WithVerifyPasses enables the self-correction loop with the given budget.
func WithVerifyPasses(n int) CallOption {
	return func(o *CallOptions) { o.VerifyPasses = n }
}

// WithoutCache skips cache lookup and store for this call.
func WithoutCache() CallOption {
	return func(o *CallOptions) { o.SkipCache = true }
}

// WithSecurity overrides the processor's security chain for this call.
func WithSecurity(s SecurityPlugin) CallOption {
	return func(o *CallOptions) { o.Security = s }
}

// WithoutSecurity disables security screening for this call.
func WithoutSecurity() CallOption {
	return func(o *CallOptions) { o.NoSecurity = true }
}
