package structex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"
)

// Chunker splits a document into ordered chunks. Chunk order is the
// processing order; state flows strictly forward.
type Chunker interface {
	Chunk(text string) []string
}

// RuneChunker splits on rune count, backing up to the nearest newline or
// space so chunks end on natural boundaries where possible.
type RuneChunker struct {
	// Size is the maximum chunk length in runes. Zero means 4000.
	Size int
}

func (c RuneChunker) Chunk(text string) []string {
	size := c.Size
	if size <= 0 {
		size = 4000
	}
	if text == "" {
		return nil
	}
	var chunks []string
	for utf8.RuneCountInString(text) > size {
		cut := byteOffset(text, size)
		if idx := strings.LastIndexAny(text[:cut], "\n "); idx > cut/2 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func byteOffset(s string, runes int) int {
	n := 0
	for i := range s {
		if n == runes {
			return i
		}
		n++
	}
	return len(s)
}

// LineChunker groups whole lines into chunks of at most Lines lines each.
// Suits page-dump text where a page maps to a known line count.
type LineChunker struct {
	Lines int
}

func (c LineChunker) Chunk(text string) []string {
	lines := c.Lines
	if lines <= 0 {
		lines = 100
	}
	if text == "" {
		return nil
	}
	all := strings.Split(text, "\n")
	var chunks []string
	for len(all) > lines {
		chunks = append(chunks, strings.Join(all[:lines], "\n"))
		all = all[lines:]
	}
	if len(all) > 0 {
		chunks = append(chunks, strings.Join(all, "\n"))
	}
	return chunks
}

// SequentialProcessor processes a long document chunk by chunk, feeding the
// state accumulated so far into each subsequent chunk's prompt so entities
// introduced early stay consistent late. A chunk failure aborts the rest of
// the sequence; the state built up to that point is returned alongside the
// error.
type SequentialProcessor struct {
	inner   Processor
	chunker Chunker
	prompts ContextualPromptProvider
	log     *slog.Logger
}

// SequentialOption configures a SequentialProcessor.
type SequentialOption func(*SequentialProcessor)

// WithChunker replaces the default RuneChunker.
func WithChunker(c Chunker) SequentialOption {
	return func(s *SequentialProcessor) {
		if c != nil {
			s.chunker = c
		}
	}
}

// WithSequentialPrompts replaces the template provider for the
// running-state prompt.
func WithSequentialPrompts(p ContextualPromptProvider) SequentialOption {
	return func(s *SequentialProcessor) { s.prompts = p }
}

// WithSequentialLogger replaces the logger.
func WithSequentialLogger(log *slog.Logger) SequentialOption {
	return func(s *SequentialProcessor) {
		if log != nil {
			s.log = log
		}
	}
}

// NewSequentialProcessor wraps inner with chunked, state-carrying processing.
func NewSequentialProcessor(inner Processor, opts ...SequentialOption) *SequentialProcessor {
	s := &SequentialProcessor{
		inner:   inner,
		chunker: RuneChunker{},
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process extracts the document text, splits it, and runs the inner
// processor once per chunk. Later chunk results overlay earlier ones field
// by field, and the overlay so far is injected into the next chunk's prompt.
func (s *SequentialProcessor) Process(ctx context.Context, filePath, prompt string, schema *Schema, opts ...CallOption) (Result, error) {
	options := buildCallOptions(opts)

	text := options.DocumentText
	if text == "" {
		doc, err := loadDocumentText(ctx, filePath, &options)
		if err != nil {
			return nil, err
		}
		text = doc
	}

	chunks := s.chunker.Chunk(text)
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}
	if len(chunks) == 1 {
		return s.inner.Process(ctx, filePath, prompt, schema, opts...)
	}

	prompts := s.prompts
	if prompts == nil {
		var err error
		prompts, err = NewStickPromptProvider()
		if err != nil {
			return nil, err
		}
	}

	state := Result{}
	for i, chunk := range chunks {
		chunkPrompt := prompt
		if i > 0 {
			encoded, err := json.Marshal(stripMetadata(state))
			if err != nil {
				return state, fmt.Errorf("sequential: encode running state: %w", err)
			}
			chunkPrompt, err = prompts.GetPromptWithVars(TagSequential, map[string]any{
				"prompt":        prompt,
				"running_state": string(encoded),
			})
			if err != nil {
				return state, err
			}
		}

		s.log.Debug("sequential chunk", "index", i, "total", len(chunks))
		chunkOpts := append(append([]CallOption(nil), opts...), WithDocumentText(chunk))
		result, err := s.inner.Process(ctx, filePath, chunkPrompt, schema, chunkOpts...)
		if err != nil {
			// Abort the rest of the sequence; state so far is still useful.
			return state, fmt.Errorf("sequential: chunk %d of %d: %w", i+1, len(chunks), err)
		}
		for field, value := range result {
			if strings.HasPrefix(field, "_") {
				continue
			}
			state[field] = value
		}
	}

	state[KeyProcessedBy] = "sequential"
	return state, nil
}

// loadDocumentText reads filePath as text through whichever built-in
// extractor claims its MIME type, falling back to a raw read.
func loadDocumentText(ctx context.Context, filePath string, o *CallOptions) (string, error) {
	mimeType := o.MIMEType
	if mimeType == "" {
		detected, err := DetectMIME(filePath)
		if err != nil {
			return "", err
		}
		mimeType = detected
	}

	extractors := []Extractor{&TextExtractor{}, &HTMLExtractor{}, &SpreadsheetExtractor{}}
	if extractor, ok := selectExtractor(extractors, mimeType); ok {
		text, err := extractor.Extract(ctx, filePath)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", filePath, err)
		}
		return text, nil
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", filePath, err)
	}
	return string(raw), nil
}
