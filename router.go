package structex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Classifier labels a document so the router can pick a route. The document
// text is whatever the call would hand the pipeline (an override or the file
// content); classifiers needing richer access can ignore it and read the
// file themselves.
type Classifier func(ctx context.Context, filePath, documentText string) (string, error)

// RouterProcessor classifies a document and delegates to the processor its
// label maps to. Unknown labels are an error unless a default route is
// explicitly configured.
type RouterProcessor struct {
	routes       map[string]Processor
	classifier   Classifier
	defaultRoute string
	log          *slog.Logger
}

// RouterOption configures a RouterProcessor.
type RouterOption func(*RouterProcessor)

// WithDefaultRoute names the route used when the classifier label has no
// mapping. Without it, unknown labels fail with RoutingError.
func WithDefaultRoute(name string) RouterOption {
	return func(r *RouterProcessor) { r.defaultRoute = name }
}

// WithRouterLogger replaces the router logger.
func WithRouterLogger(log *slog.Logger) RouterOption {
	return func(r *RouterProcessor) {
		if log != nil {
			r.log = log
		}
	}
}

// NewRouterProcessor builds a router over a route table.
func NewRouterProcessor(routes map[string]Processor, classifier Classifier, opts ...RouterOption) *RouterProcessor {
	r := &RouterProcessor{routes: routes, classifier: classifier, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ProviderClassifier classifies by asking a provider to label the document
// with one of the route names.
func ProviderClassifier(provider Provider, labels []string) Classifier {
	return func(ctx context.Context, filePath, documentText string) (string, error) {
		prompt := fmt.Sprintf(
			"Classify this document as exactly one of: %s. Respond as JSON: {\"label\": \"...\"}",
			strings.Join(labels, ", "),
		)
		result, err := provider.Process(ctx, &Request{
			FilePath: filePath,
			Text:     documentText,
			Prompt:   prompt,
			Schema:   Object([]Property{{Name: "label", Schema: Enum(labels...)}}, "label"),
			MIMEType: "text/plain",
		})
		if err != nil {
			return "", err
		}
		label, _ := result["label"].(string)
		return label, nil
	}
}

// Process classifies the document and delegates to the matched route.
func (r *RouterProcessor) Process(ctx context.Context, filePath, prompt string, schema *Schema, opts ...CallOption) (Result, error) {
	o := buildCallOptions(opts)
	label, err := r.classifier(ctx, filePath, o.DocumentText)
	if err != nil {
		return nil, fmt.Errorf("classify %s: %w", filePath, err)
	}
	r.log.Debug("document classified", "file", filePath, "label", label)

	route, ok := r.routes[label]
	if !ok {
		if r.defaultRoute == "" {
			return nil, &RoutingError{Label: label}
		}
		route, ok = r.routes[r.defaultRoute]
		if !ok {
			return nil, &RoutingError{Label: r.defaultRoute}
		}
		r.log.Debug("using default route", "label", label, "default", r.defaultRoute)
	}
	return route.Process(ctx, filePath, prompt, schema, opts...)
}
