// Package structex orchestrates structured-data extraction pipelines over
// AI providers. One processor call takes a document, a prompt and a schema
// and returns a validated mapping; everything between — security screening,
// caching, provider invocation, postprocessing, schema validation and
// verification — is the pipeline's job, not the caller's.
//
// # Pipeline
//
// The SimpleProcessor runs the canonical single-document pipeline:
//
//	input security → cache lookup → provider call → output security →
//	postprocess → schema validation → verify loop
//
// Hooks observe and steer the pipeline: pre-hooks may rewrite the prompt
// or schema, post-hooks may rewrite the result, and error hooks may turn a
// provider failure into a fallback result.
//
//	processor := structex.NewSimpleProcessor(provider,
//	    structex.WithCache(structex.NewMemoryCache()),
//	    structex.WithSecurityChain(structex.DefaultSecurityChain()),
//	    structex.WithPostprocessors(&structex.DatePostprocessor{}),
//	)
//
//	schema := structex.Object([]structex.Property{
//	    {Name: "vendor", Schema: structex.String()},
//	    {Name: "total", Schema: structex.Number()},
//	    {Name: "date", Schema: structex.Date()},
//	}, "vendor", "total")
//
//	result, err := processor.Process(ctx, "invoice.pdf",
//	    "Extract the invoice fields.", schema)
//
// # Strategy Processors
//
// Every strategy processor implements the same Processor contract as
// SimpleProcessor, so strategies compose freely — a Router may dispatch to
// a Fallback that wraps a VerifiedProcessor:
//
//   - FallbackProcessor tries candidates in waterfall order and returns the
//     first success, recording every attempt.
//   - RouterProcessor classifies the document and delegates by route label.
//   - EnsembleProcessor runs participants concurrently and reconciles
//     field-level disagreement through a judge provider.
//   - SequentialProcessor chunks long documents and carries accumulated
//     state into each subsequent chunk's prompt.
//   - BatchProcessor fans a document list over a bounded worker pool.
//   - ActiveLearningProcessor repeats the extraction, scores trial
//     agreement and flags low-confidence results for review.
//   - PrivacyProcessor swaps PII spans for reversible placeholders before
//     any provider sees the document.
//
// # Plugin Registry
//
// Components register by capability kind and resolve lazily:
//
//	reg := structex.NewRegistry()
//	err := reg.Register(structex.KindProvider, "gemini",
//	    func() (any, error) { return structex.NewGeminiProvider(client, "gemini-2.0-flash") },
//	    structex.PluginConfig{Priority: 80, Cost: 2.0},
//	)
//	processor, err := structex.FromRegistry(reg, "gemini")
//
// ListNames orders plugins by priority descending, then cost ascending,
// then registration order — the waterfall order used wherever a kind's
// plugins are tried in sequence. Manifest files discovered on disk merge
// into the registry through Discovery, with a fingerprint-keyed cache so
// unchanged plugin sets skip the scan.
//
// # Caching
//
// Results are content-addressed: the fingerprint covers the document
// bytes, the prompt, the schema and the provider identity, so any change
// to any of them misses the cache. MemoryCache suits tests and short-lived
// processes; SQLiteCache persists across runs.
//
// # Errors
//
// Failures carry their phase: SecurityError before any provider spend,
// ProviderError around backend failures including timeouts,
// ValidationError after verify-loop exhaustion, and AggregateFallbackError
// with the full attempt list when every fallback candidate fails. Wrapped
// causes unwrap with errors.As.
package structex
