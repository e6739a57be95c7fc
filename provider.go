package structex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"google.golang.org/genai"
)

// GeminiProvider is the reference Provider plugin, backed by the Google
// GenAI API.
type GeminiProvider struct {
	client *genai.Client
	model  string
	log    *slog.Logger
}

// NewGeminiProvider wraps an initialized genai client. The model name is
// required; there is no implicit default billing target.
func NewGeminiProvider(client *genai.Client, model string) *GeminiProvider {
	return NewGeminiProviderWithLogger(client, model, slog.Default())
}

// NewGeminiProviderWithLogger lets the caller supply their own logger.
func NewGeminiProviderWithLogger(client *genai.Client, model string, log *slog.Logger) *GeminiProvider {
	if log == nil {
		log = slog.Default()
	}
	return &GeminiProvider{client: client, model: model, log: log}
}

// Process sends the document plus prompt to Gemini, constrained to JSON
// output shaped by the request schema.
func (p *GeminiProvider) Process(ctx context.Context, req *Request) (Result, error) {
	if p.client == nil {
		return nil, &ProviderError{Provider: "gemini", Err: fmt.Errorf("client not initialized")}
	}
	if p.model == "" {
		return nil, &ProviderError{Provider: "gemini", Err: fmt.Errorf("model not specified")}
	}

	parts, err := p.buildParts(req)
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Err: err}
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if req.Schema != nil {
		config.ResponseSchema = req.Schema.ToGenAI()
	}
	if err := applyGenerationParams(config, req.Params); err != nil {
		return nil, &ProviderError{Provider: "gemini", Err: err}
	}

	p.log.Debug("generating content", "model", p.model, "prompt_length", len(req.Prompt), "mime_type", req.MIMEType)

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Err: err}
	}
	if len(resp.Candidates) == 0 {
		return nil, &ProviderError{Provider: "gemini", Err: fmt.Errorf("no candidates in response")}
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, &ProviderError{Provider: "gemini", Err: fmt.Errorf("no parts in candidate content")}
	}
	text := candidate.Content.Parts[0].Text
	if text == "" {
		return nil, &ProviderError{Provider: "gemini", Err: fmt.Errorf("no text in first part of response")}
	}

	p.log.Debug("generated content", "response_length", len(text))
	result, err := decodeResult([]byte(text))
	if err != nil {
		return nil, &ProviderError{Provider: "gemini", Err: err}
	}
	return result, nil
}

// HealthCheck reports whether the provider is usable without spending a call.
func (p *GeminiProvider) HealthCheck() bool {
	return p.client != nil && p.model != ""
}

func (p *GeminiProvider) buildParts(req *Request) ([]*genai.Part, error) {
	switch {
	case req.Text != "":
		return []*genai.Part{genai.NewPartFromText(frameDocument(req.Prompt, req.Text))}, nil
	case len(req.Data) > 0:
		return []*genai.Part{
			genai.NewPartFromText(req.Prompt),
			genai.NewPartFromBytes(req.Data, req.MIMEType),
		}, nil
	case req.FilePath != "":
		raw, err := os.ReadFile(req.FilePath)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", req.FilePath, err)
		}
		return []*genai.Part{
			genai.NewPartFromText(req.Prompt),
			genai.NewPartFromBytes(raw, req.MIMEType),
		}, nil
	default:
		return nil, ErrEmptyDocument
	}
}

// applyGenerationParams maps the generic parameter map onto the generation
// config, validating ranges the API would otherwise reject late.
func applyGenerationParams(config *genai.GenerateContentConfig, params map[string]string) error {
	if params == nil {
		return nil
	}
	if temp, exists := params["temperature"]; exists {
		f, err := strconv.ParseFloat(temp, 32)
		if err != nil {
			return fmt.Errorf("invalid temperature parameter %q: %w", temp, err)
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("temperature parameter %v must be between 0.0 and 1.0", f)
		}
		val := float32(f)
		config.Temperature = &val
	}
	if topK, exists := params["topK"]; exists {
		f, err := strconv.ParseFloat(topK, 32)
		if err != nil {
			return fmt.Errorf("invalid topK parameter %q: %w", topK, err)
		}
		if f <= 0 {
			return fmt.Errorf("topK parameter %v must be greater than 0", f)
		}
		val := float32(f)
		config.TopK = &val
	}
	if topP, exists := params["topP"]; exists {
		f, err := strconv.ParseFloat(topP, 32)
		if err != nil {
			return fmt.Errorf("invalid topP parameter %q: %w", topP, err)
		}
		if f < 0 || f > 1 {
			return fmt.Errorf("topP parameter %v must be between 0.0 and 1.0", f)
		}
		val := float32(f)
		config.TopP = &val
	}
	if maxTokens, exists := params["maxOutputTokens"]; exists {
		n, err := strconv.Atoi(maxTokens)
		if err != nil {
			return fmt.Errorf("invalid maxOutputTokens parameter %q: %w", maxTokens, err)
		}
		if n <= 0 {
			return fmt.Errorf("maxOutputTokens parameter %d must be greater than 0", n)
		}
		config.MaxOutputTokens = int32(n)
	}
	return nil
}
