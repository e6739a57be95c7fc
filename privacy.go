package structex

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// piiPattern names one detector class; the label becomes the placeholder
// prefix, as in [EMAIL_0].
type piiPattern struct {
	label string
	re    *regexp.Regexp
}

var defaultPIIPatterns = []piiPattern{
	{"EMAIL", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"CARD", regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`)},
	{"PHONE", regexp.MustCompile(`\+?\d{1,3}[ \-.]?\(?\d{2,4}\)?[ \-.]?\d{3}[ \-.]?\d{2,4}\b`)},
	{"IP", regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// PrivacyProcessor replaces detected PII spans with reversible placeholders
// before the document ever reaches a provider, then substitutes the
// original spans back into the extracted result. Spans the detectors miss
// pass through unredacted; that residual risk is inherent to
// pattern-based detection.
type PrivacyProcessor struct {
	inner    Processor
	patterns []piiPattern
	log      *slog.Logger
}

// PrivacyOption configures a PrivacyProcessor.
type PrivacyOption func(*PrivacyProcessor)

// WithPIIPattern adds a detector class on top of the built-ins. The label
// should be short and upper-case.
func WithPIIPattern(label string, re *regexp.Regexp) PrivacyOption {
	return func(p *PrivacyProcessor) {
		p.patterns = append(p.patterns, piiPattern{label: label, re: re})
	}
}

// WithPrivacyLogger replaces the logger.
func WithPrivacyLogger(log *slog.Logger) PrivacyOption {
	return func(p *PrivacyProcessor) {
		if log != nil {
			p.log = log
		}
	}
}

// NewPrivacyProcessor wraps inner with PII redaction and restoration.
func NewPrivacyProcessor(inner Processor, opts ...PrivacyOption) *PrivacyProcessor {
	p := &PrivacyProcessor{
		inner:    inner,
		patterns: append([]piiPattern(nil), defaultPIIPatterns...),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process redacts the document text, delegates, and restores placeholders
// wherever they surface in the result's string values.
func (p *PrivacyProcessor) Process(ctx context.Context, filePath, prompt string, schema *Schema, opts ...CallOption) (Result, error) {
	options := buildCallOptions(opts)

	text := options.DocumentText
	if text == "" {
		doc, err := loadDocumentText(ctx, filePath, &options)
		if err != nil {
			return nil, err
		}
		text = doc
	}

	redacted, vault := p.redact(text)
	if len(vault) > 0 {
		p.log.Debug("redacted pii spans", "count", len(vault))
	}

	innerOpts := append(append([]CallOption(nil), opts...), WithDocumentText(redacted))
	result, err := p.inner.Process(ctx, filePath, prompt, schema, innerOpts...)
	if err != nil {
		return nil, err
	}

	result = cloneResult(result)
	restoreValues(result, vault)
	result[KeyProcessedBy] = "privacy"
	return result, nil
}

// redact replaces each detected span with a numbered placeholder and
// returns the placeholder-to-original vault. The same span always maps to
// the same placeholder within one call.
func (p *PrivacyProcessor) redact(text string) (string, map[string]string) {
	vault := map[string]string{}
	assigned := map[string]string{}
	for _, pat := range p.patterns {
		n := 0
		text = pat.re.ReplaceAllStringFunc(text, func(span string) string {
			if ph, ok := assigned[span]; ok {
				return ph
			}
			ph := fmt.Sprintf("[%s_%d]", pat.label, n)
			n++
			assigned[span] = ph
			vault[ph] = span
			return ph
		})
	}
	return text, vault
}

// restoreValues walks the result and swaps placeholders back to their
// original spans inside every string it can reach.
func restoreValues(data map[string]any, vault map[string]string) {
	if len(vault) == 0 {
		return
	}
	for field, value := range data {
		data[field] = restoreValue(value, vault)
	}
}

func restoreValue(value any, vault map[string]string) any {
	switch v := value.(type) {
	case string:
		for ph, span := range vault {
			if strings.Contains(v, ph) {
				v = strings.ReplaceAll(v, ph, span)
			}
		}
		return v
	case map[string]any:
		restoreValues(v, vault)
		return v
	case []any:
		for i := range v {
			v[i] = restoreValue(v[i], vault)
		}
		return v
	default:
		return value
	}
}
