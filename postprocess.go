package structex

import (
	"strconv"
	"strings"
	"time"
)

// DatePostprocessor normalizes date-like string fields to ISO (2006-01-02).
// Values outside the year range, or that no format matches, pass through
// unchanged.
type DatePostprocessor struct {
	Separators []string // extra separators to derive formats from
	MinYear    int
	MaxYear    int
}

func (p *DatePostprocessor) formats() []string {
	formats := append([]string(nil), dateFormats...)
	for _, sep := range p.Separators {
		formats = append(formats,
			"2006"+sep+"01"+sep+"02",
			"02"+sep+"01"+sep+"2006",
		)
	}
	return formats
}

func (p *DatePostprocessor) Process(data Result) Result {
	out := cloneResult(data)
	for key, raw := range out {
		if !strings.Contains(strings.ToLower(key), "date") {
			continue
		}
		s, ok := raw.(string)
		if !ok || s == "" {
			continue
		}
		for _, layout := range p.formats() {
			t, err := time.Parse(layout, s)
			if err != nil {
				continue
			}
			if p.MinYear > 0 && t.Year() < p.MinYear {
				break
			}
			if p.MaxYear > 0 && t.Year() > p.MaxYear {
				break
			}
			out[key] = t.Format("2006-01-02")
			break
		}
	}
	return out
}

// NumberPostprocessor converts string amounts like "1,234.50" or "$99" into
// numbers. Fields that do not parse pass through unchanged.
type NumberPostprocessor struct {
	Fields []string // empty → every field whose value looks like an amount
}

func (p *NumberPostprocessor) Process(data Result) Result {
	out := cloneResult(data)
	for key, raw := range out {
		if len(p.Fields) > 0 && !containsString(p.Fields, key) {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		cleaned := strings.TrimSpace(s)
		cleaned = strings.TrimLeft(cleaned, "$€£¥ ")
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		if !looksNumeric(cleaned) {
			continue
		}
		if f, err := strconv.ParseFloat(cleaned, 64); err == nil {
			out[key] = f
		}
	}
	return out
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != '-' {
			return false
		}
	}
	return true
}

// CurrencyNormalizer rewrites currency symbols and common aliases in the
// configured fields to ISO 4217 codes.
type CurrencyNormalizer struct {
	Fields []string // empty → fields whose names contain "currency"
}

var currencyAliases = map[string]string{
	"$":       "USD",
	"us$":     "USD",
	"dollar":  "USD",
	"dollars": "USD",
	"€":       "EUR",
	"euro":    "EUR",
	"euros":   "EUR",
	"£":       "GBP",
	"pound":   "GBP",
	"pounds":  "GBP",
	"¥":       "JPY",
	"yen":     "JPY",
	"chf":     "CHF",
}

func (p *CurrencyNormalizer) Process(data Result) Result {
	out := cloneResult(data)
	for key, raw := range out {
		if len(p.Fields) > 0 {
			if !containsString(p.Fields, key) {
				continue
			}
		} else if !strings.Contains(strings.ToLower(key), "currency") {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		if code, ok := currencyAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
			out[key] = code
		} else {
			out[key] = strings.ToUpper(strings.TrimSpace(s))
		}
	}
	return out
}

// PostprocessorChain runs postprocessors in order, each receiving the
// prior's output.
type PostprocessorChain struct {
	steps []Postprocessor
}

// NewPostprocessorChain builds a chain over the given steps, in order.
// The pipeline itself orders registry-resolved postprocessors by priority;
// a chain passed explicitly runs exactly as given.
func NewPostprocessorChain(steps ...Postprocessor) *PostprocessorChain {
	return &PostprocessorChain{steps: steps}
}

func (c *PostprocessorChain) Process(data Result) Result {
	for _, s := range c.steps {
		data = s.Process(data)
	}
	return data
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
