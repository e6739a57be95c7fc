package structex

import (
	"google.golang.org/genai"
)

// SchemaType enumerates the node kinds a Schema can carry.
type SchemaType string

const (
	TypeString   SchemaType = "string"
	TypeNumber   SchemaType = "number"
	TypeInteger  SchemaType = "integer"
	TypeBoolean  SchemaType = "boolean"
	TypeEnum     SchemaType = "enum"
	TypeDate     SchemaType = "date"
	TypeDateTime SchemaType = "datetime"
	TypeArray    SchemaType = "array"
	TypeObject   SchemaType = "object"
)

// Property is one named entry of an object schema. Objects keep their
// properties as a slice so declaration order survives round-trips.
type Property struct {
	Name   string
	Schema *Schema
}

// Schema is a recursive description of the expected extraction output.
// A Schema is immutable once constructed and safe to share across
// concurrent invocations.
type Schema struct {
	Type        SchemaType
	Description string
	Nullable    bool
	Enum        []string   // TypeEnum only
	Items       *Schema    // TypeArray only
	Properties  []Property // TypeObject only
	Required    []string   // TypeObject only
}

// String returns a string schema node.
func String() *Schema { return &Schema{Type: TypeString} }

// Number returns a floating-point number schema node.
func Number() *Schema { return &Schema{Type: TypeNumber} }

// Integer returns an integer schema node.
func Integer() *Schema { return &Schema{Type: TypeInteger} }

// Boolean returns a boolean schema node.
func Boolean() *Schema { return &Schema{Type: TypeBoolean} }

// Date returns a string schema node constrained to ISO dates.
func Date() *Schema { return &Schema{Type: TypeDate} }

// DateTime returns a string schema node constrained to RFC 3339 timestamps.
func DateTime() *Schema { return &Schema{Type: TypeDateTime} }

// Enum returns a string schema node constrained to the given values.
func Enum(values ...string) *Schema { return &Schema{Type: TypeEnum, Enum: values} }

// Array returns an array schema node with the given item schema.
func Array(items *Schema) *Schema { return &Schema{Type: TypeArray, Items: items} }

// Object returns an object schema node. Required names are checked against
// the property set at validation time, not construction time.
func Object(props []Property, required ...string) *Schema {
	return &Schema{Type: TypeObject, Properties: props, Required: required}
}

// WithDescription returns a copy of the schema with a description attached.
func (s *Schema) WithDescription(d string) *Schema {
	c := *s
	c.Description = d
	return &c
}

// AsNullable returns a copy of the schema that also admits null.
func (s *Schema) AsNullable() *Schema {
	c := *s
	c.Nullable = true
	return &c
}

// Prop looks up a property schema of an object node by name.
func (s *Schema) Prop(name string) (*Schema, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p.Schema, true
		}
	}
	return nil, false
}

// JSONMap renders the schema as a JSON-Schema (draft 2020-12 subset) map,
// the shape both a schema compiler and an OpenAI-style structured-output
// constraint accept.
func (s *Schema) JSONMap() map[string]any {
	if s == nil {
		return nil
	}
	m := map[string]any{}
	switch s.Type {
	case TypeDate:
		m["type"] = "string"
		m["format"] = "date"
	case TypeDateTime:
		m["type"] = "string"
		m["format"] = "date-time"
	case TypeEnum:
		m["type"] = "string"
		m["enum"] = append([]string(nil), s.Enum...)
	case TypeArray:
		m["type"] = "array"
		if s.Items != nil {
			m["items"] = s.Items.JSONMap()
		}
	case TypeObject:
		m["type"] = "object"
		m["additionalProperties"] = false
		props := map[string]any{}
		for _, p := range s.Properties {
			props[p.Name] = p.Schema.JSONMap()
		}
		m["properties"] = props
		if len(s.Required) > 0 {
			m["required"] = append([]string(nil), s.Required...)
		}
	default:
		m["type"] = string(s.Type)
	}
	if s.Description != "" {
		m["description"] = s.Description
	}
	if s.Nullable {
		m["type"] = []any{m["type"], "null"}
	}
	return m
}

// ToGenAI converts the schema to the Google GenAI schema type used as a
// generation constraint.
func (s *Schema) ToGenAI() *genai.Schema {
	if s == nil {
		return nil
	}
	g := &genai.Schema{
		Description: s.Description,
		Nullable:    ptrBool(s.Nullable),
	}
	switch s.Type {
	case TypeString, TypeDate, TypeDateTime:
		g.Type = genai.TypeString
		if s.Type == TypeDate {
			g.Format = "date"
		}
		if s.Type == TypeDateTime {
			g.Format = "date-time"
		}
	case TypeEnum:
		g.Type = genai.TypeString
		g.Enum = append([]string(nil), s.Enum...)
	case TypeNumber:
		g.Type = genai.TypeNumber
	case TypeInteger:
		g.Type = genai.TypeInteger
	case TypeBoolean:
		g.Type = genai.TypeBoolean
	case TypeArray:
		g.Type = genai.TypeArray
		g.Items = s.Items.ToGenAI()
	case TypeObject:
		g.Type = genai.TypeObject
		g.Properties = map[string]*genai.Schema{}
		order := make([]string, 0, len(s.Properties))
		for _, p := range s.Properties {
			g.Properties[p.Name] = p.Schema.ToGenAI()
			order = append(order, p.Name)
		}
		g.PropertyOrdering = order
		g.Required = append([]string(nil), s.Required...)
	}
	return g
}

func ptrBool(b bool) *bool { return &b }
