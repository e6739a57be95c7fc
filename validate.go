package structex

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaValidator validates a result against a Schema node by compiling it
// to JSON-Schema. Light coercion runs first: numeric strings become numbers
// and boolean strings become booleans where the schema expects them.
type SchemaValidator struct{}

// NewSchemaValidator returns a stateless schema validator.
func NewSchemaValidator() *SchemaValidator { return &SchemaValidator{} }

func (v *SchemaValidator) Validate(data Result, schema *Schema) ValidationResult {
	if schema == nil {
		return ValidationResult{Valid: true, Data: data}
	}

	coerced := coerce(data, schema)

	compiled, err := compileSchema(schema)
	if err != nil {
		return ValidationResult{Valid: false, Data: coerced, Issues: []string{err.Error()}}
	}

	// Round-trip through JSON so the instance carries plain types the
	// validator understands, and metadata keys are not rejected by
	// additionalProperties:false.
	instance := stripMetadata(coerced)
	raw, err := json.Marshal(instance)
	if err != nil {
		return ValidationResult{Valid: false, Data: coerced, Issues: []string{err.Error()}}
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return ValidationResult{Valid: false, Data: coerced, Issues: []string{err.Error()}}
	}

	if err := compiled.Validate(generic); err != nil {
		return ValidationResult{Valid: false, Data: coerced, Issues: flattenSchemaError(err)}
	}
	return ValidationResult{Valid: true, Data: coerced}
}

func compileSchema(schema *Schema) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema.JSONMap())
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

func flattenSchemaError(err error) []string {
	var ve *jsonschema.ValidationError
	if !asValidationError(err, &ve) {
		return []string{err.Error()}
	}
	var issues []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			issues = append(issues, fmt.Sprintf("%s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return issues
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}

// coerce returns a copy of data with string values converted toward what the
// schema expects. Unconvertible values pass through untouched; the validator
// reports them.
func coerce(data Result, schema *Schema) Result {
	if schema == nil || schema.Type != TypeObject {
		return data
	}
	out := cloneResult(data)
	for _, p := range schema.Properties {
		raw, ok := out[p.Name]
		if !ok {
			continue
		}
		out[p.Name] = coerceValue(raw, p.Schema)
	}
	return out
}

func coerceValue(v any, schema *Schema) any {
	if schema == nil {
		return v
	}
	switch schema.Type {
	case TypeNumber:
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f
			}
		}
	case TypeInteger:
		if s, ok := v.(string); ok {
			if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
				return n
			}
		}
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			return int64(f)
		}
	case TypeBoolean:
		if s, ok := v.(string); ok {
			if b, err := strconv.ParseBool(strings.TrimSpace(strings.ToLower(s))); err == nil {
				return b
			}
		}
	case TypeObject:
		if m, ok := v.(map[string]any); ok {
			return map[string]any(coerce(m, schema))
		}
	case TypeArray:
		if items, ok := v.([]any); ok {
			out := make([]any, len(items))
			for i, item := range items {
				out[i] = coerceValue(item, schema.Items)
			}
			return out
		}
	}
	return v
}

// stripMetadata drops the underscore-prefixed annotation keys strategy
// processors attach, which are not part of the declared schema.
func stripMetadata(data Result) Result {
	out := make(Result, len(data))
	for k, v := range data {
		if strings.HasPrefix(k, "_") {
			continue
		}
		out[k] = v
	}
	return out
}

// DateValidator checks that fields whose names contain "date" parse in one
// of the accepted formats and fall inside the configured year range.
type DateValidator struct {
	MinYear int
	MaxYear int
}

var dateFormats = []string{
	"2006-01-02",
	"02.01.2006",
	"01/02/2006",
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
}

func (v *DateValidator) Validate(data Result, _ *Schema) ValidationResult {
	res := ValidationResult{Valid: true, Data: data}
	for key, raw := range data {
		if !strings.Contains(strings.ToLower(key), "date") {
			continue
		}
		s, ok := raw.(string)
		if !ok || s == "" {
			continue
		}
		t, err := parseAnyDate(s)
		if err != nil {
			res.Valid = false
			res.Issues = append(res.Issues, fmt.Sprintf("%s: invalid date format %q", key, s))
			continue
		}
		if v.MinYear > 0 && t.Year() < v.MinYear {
			res.Valid = false
			res.Issues = append(res.Issues, fmt.Sprintf("%s: year %d is before %d", key, t.Year(), v.MinYear))
		}
		if v.MaxYear > 0 && t.Year() > v.MaxYear {
			res.Valid = false
			res.Issues = append(res.Issues, fmt.Sprintf("%s: year %d is after %d", key, t.Year(), v.MaxYear))
		}
	}
	return res
}

func parseAnyDate(s string) (time.Time, error) {
	for _, layout := range dateFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// SumValidator checks that a set of part fields sums to a total field within
// a tolerance. Missing fields are not an issue; mismatched sums are.
type SumValidator struct {
	TotalField string
	PartFields []string
	Tolerance  float64
}

func (v *SumValidator) Validate(data Result, _ *Schema) ValidationResult {
	res := ValidationResult{Valid: true, Data: data}
	total, ok := numericValue(data[v.TotalField])
	if !ok {
		return res
	}
	var sum float64
	seen := 0
	for _, f := range v.PartFields {
		if n, ok := numericValue(data[f]); ok {
			sum += n
			seen++
		}
	}
	if seen == 0 {
		return res
	}
	tol := v.Tolerance
	if tol == 0 {
		tol = 0.01
	}
	if diff := sum - total; diff > tol || diff < -tol {
		res.Valid = false
		res.Issues = append(res.Issues,
			fmt.Sprintf("%s: parts sum to %.2f but total is %.2f", v.TotalField, sum, total))
	}
	return res
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
