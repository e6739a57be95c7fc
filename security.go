package structex

import (
	"fmt"
	"regexp"
)

// injectionPatterns screen pipeline input for prompt-injection attempts
// before any provider spend.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior)\s+(instructions|rules)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak)\s+mode`),
	regexp.MustCompile(`(?i)system\s*prompt\s*:`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?prompt`),
}

// secretPatterns screen extraction output for leaked credentials.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	regexp.MustCompile(`(?i)-----BEGIN\s+(RSA|EC|OPENSSH)?\s*PRIVATE\s+KEY-----`),
	regexp.MustCompile(`(?i)(api[_-]?key|secret[_-]?key|access[_-]?token)\s*[:=]\s*['"][A-Za-z0-9_\-]{16,}['"]`),
	regexp.MustCompile(`ghp_[A-Za-z0-9]{36}`),
}

// PatternSecurity is the default SecurityPlugin: regex screens against
// prompt injection on input and credential leakage on output.
type PatternSecurity struct {
	InputPatterns  []*regexp.Regexp
	OutputPatterns []*regexp.Regexp
}

// NewPatternSecurity returns a PatternSecurity with the built-in pattern sets.
func NewPatternSecurity() *PatternSecurity {
	return &PatternSecurity{
		InputPatterns:  injectionPatterns,
		OutputPatterns: secretPatterns,
	}
}

func (s *PatternSecurity) ValidateInput(text string) SecurityResult {
	for _, p := range s.InputPatterns {
		if loc := p.FindString(text); loc != "" {
			return SecurityResult{
				Valid:  false,
				Reason: fmt.Sprintf("input matched blocked pattern %q", loc),
			}
		}
	}
	return SecurityResult{Valid: true, Text: text}
}

func (s *PatternSecurity) ValidateOutput(data Result) SecurityResult {
	for key, v := range data {
		str, ok := v.(string)
		if !ok {
			continue
		}
		for _, p := range s.OutputPatterns {
			if p.MatchString(str) {
				return SecurityResult{
					Valid:  false,
					Reason: fmt.Sprintf("field %q matched secret pattern", key),
				}
			}
		}
	}
	return SecurityResult{Valid: true, Data: data}
}

// SecurityChain composes security plugins into an ordered chain. Input text
// flows through each plugin's sanitized form; the first rejection wins.
type SecurityChain struct {
	plugins []SecurityPlugin
}

// NewSecurityChain builds a chain over the given plugins, in order.
func NewSecurityChain(plugins ...SecurityPlugin) *SecurityChain {
	return &SecurityChain{plugins: plugins}
}

// Append adds a plugin to the end of the chain.
func (c *SecurityChain) Append(p SecurityPlugin) *SecurityChain {
	c.plugins = append(c.plugins, p)
	return c
}

func (c *SecurityChain) ValidateInput(text string) SecurityResult {
	current := text
	for _, p := range c.plugins {
		res := p.ValidateInput(current)
		if !res.Valid {
			return res
		}
		if res.Text != "" {
			current = res.Text
		}
	}
	return SecurityResult{Valid: true, Text: current}
}

func (c *SecurityChain) ValidateOutput(data Result) SecurityResult {
	current := data
	for _, p := range c.plugins {
		res := p.ValidateOutput(current)
		if !res.Valid {
			return res
		}
		if res.Data != nil {
			current = res.Data
		}
	}
	return SecurityResult{Valid: true, Data: current}
}

// DefaultSecurityChain is the chain the pipeline uses when security is
// requested without a specific plugin.
func DefaultSecurityChain() *SecurityChain {
	return NewSecurityChain(NewPatternSecurity())
}
