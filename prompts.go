package structex

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/tyler-sommer/stick"
)

// PromptProvider returns the prompt template text for a tag.
type PromptProvider interface {
	GetPrompt(tag string) (string, error)
}

// ContextualPromptProvider extends PromptProvider with template variables.
type ContextualPromptProvider interface {
	PromptProvider
	GetPromptWithVars(tag string, vars map[string]any) (string, error)
}

// Built-in template tags the pipeline renders when no custom template is
// registered under the same tag.
const (
	TagVerify     = "verify"
	TagJudge      = "judge"
	TagSequential = "sequential"
)

var builtinTemplates = map[string]string{
	TagVerify: "The previous extraction attempt produced this JSON:\n{{ result }}\n\n" +
		"It failed validation with these issues:\n{{ issues }}\n\n" +
		"Correct the JSON so it conforms to the expected schema. Respond with JSON only.",
	TagJudge: "Several extraction attempts disagree. The candidate outputs are:\n{{ candidates }}\n\n" +
		"The fields in dispute are: {{ fields }}.\n" +
		"Pick or merge the correct value for each disputed field. Respond with JSON only.",
	TagSequential: "{{ prompt }}\n\nContext accumulated from the preceding chunks:\n{{ running_state }}\n\n" +
		"Stay consistent with that context when extracting from this chunk.",
}

// StickPromptProvider renders Twig templates. It is fs-agnostic: templates
// come from any fs.FS, an in-memory map, or both.
type StickPromptProvider struct {
	env       *stick.Env
	templates map[string]string
	vars      map[string]any
}

// PromptOption configures a StickPromptProvider.
type PromptOption func(*StickPromptProvider) error

// WithTemplateFS loads every *.twig file found under dir in the supplied FS.
func WithTemplateFS(fsys fs.FS, dir string) PromptOption {
	return func(p *StickPromptProvider) error {
		return fs.WalkDir(fsys, dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".twig") {
				return nil
			}
			content, readErr := fs.ReadFile(fsys, path)
			if readErr != nil {
				return fmt.Errorf("read %s: %w", path, readErr)
			}
			tag := strings.TrimSuffix(filepath.Base(path), ".twig")
			p.templates[tag] = string(content)
			return nil
		})
	}
}

// WithTemplates injects an in-memory template map.
func WithTemplates(m map[string]string) PromptOption {
	return func(p *StickPromptProvider) error {
		for k, v := range m {
			p.templates[k] = v
		}
		return nil
	}
}

// WithTemplateVar adds a variable available in all templates.
func WithTemplateVar(key string, value any) PromptOption {
	return func(p *StickPromptProvider) error {
		p.vars[key] = value
		return nil
	}
}

// NewStickPromptProvider builds a provider from any combination of options.
// The built-in verify/judge/sequential templates are preloaded and may be
// overridden by options.
func NewStickPromptProvider(opts ...PromptOption) (*StickPromptProvider, error) {
	p := &StickPromptProvider{
		env:       stick.New(nil),
		templates: make(map[string]string),
		vars:      make(map[string]any),
	}
	for tag, tpl := range builtinTemplates {
		p.templates[tag] = tpl
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddTemplate updates or inserts one template.
func (p *StickPromptProvider) AddTemplate(tag, tpl string) { p.templates[tag] = tpl }

// GetPrompt renders the template for the given tag with only the global
// variables.
func (p *StickPromptProvider) GetPrompt(tag string) (string, error) {
	return p.GetPromptWithVars(tag, nil)
}

// GetPromptWithVars renders the template with additional context variables.
func (p *StickPromptProvider) GetPromptWithVars(tag string, vars map[string]any) (string, error) {
	tpl, ok := p.templates[tag]
	if !ok {
		return "", fmt.Errorf("template %q not found", tag)
	}

	templateCtx := make(map[string]stick.Value)
	templateCtx["tag"] = tag
	for k, v := range p.vars {
		templateCtx[k] = v
	}
	for k, v := range vars {
		templateCtx[k] = v
	}

	var out strings.Builder
	if err := p.env.Execute(tpl, &out, templateCtx); err != nil {
		return "", fmt.Errorf("execute %q: %w", tag, err)
	}
	return out.String(), nil
}
