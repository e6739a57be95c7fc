package structex

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestSchema_JSONMap(t *testing.T) {
	schema := Object([]Property{
		{Name: "vendor", Schema: String().WithDescription("supplier name")},
		{Name: "total", Schema: Number()},
		{Name: "issued", Schema: Date()},
		{Name: "status", Schema: Enum("draft", "final")},
		{Name: "lines", Schema: Array(Object([]Property{
			{Name: "qty", Schema: Integer()},
		}, "qty"))},
		{Name: "note", Schema: String().AsNullable()},
	}, "vendor", "total")

	want := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"vendor", "total"},
		"properties": map[string]any{
			"vendor": map[string]any{"type": "string", "description": "supplier name"},
			"total":  map[string]any{"type": "number"},
			"issued": map[string]any{"type": "string", "format": "date"},
			"status": map[string]any{"type": "string", "enum": []string{"draft", "final"}},
			"lines": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"qty"},
					"properties": map[string]any{
						"qty": map[string]any{"type": "integer"},
					},
				},
			},
			"note": map[string]any{"type": []any{"string", "null"}},
		},
	}

	if diff := cmp.Diff(want, schema.JSONMap()); diff != "" {
		t.Errorf("JSONMap mismatch (-want +got):\n%s", diff)
	}
}

func TestSchema_JSONMapNil(t *testing.T) {
	var s *Schema
	assert.Nil(t, s.JSONMap())
}

func TestSchema_CopyOnWrite(t *testing.T) {
	base := String()
	described := base.WithDescription("a label")
	nullable := base.AsNullable()

	// The original node is untouched.
	assert.Empty(t, base.Description)
	assert.False(t, base.Nullable)
	assert.Equal(t, "a label", described.Description)
	assert.True(t, nullable.Nullable)
}

func TestSchema_Prop(t *testing.T) {
	schema := Object([]Property{
		{Name: "vendor", Schema: String()},
	})

	p, ok := schema.Prop("vendor")
	require.True(t, ok)
	assert.Equal(t, TypeString, p.Type)

	_, ok = schema.Prop("missing")
	assert.False(t, ok)
}

func TestSchema_ToGenAI(t *testing.T) {
	schema := Object([]Property{
		{Name: "vendor", Schema: String()},
		{Name: "total", Schema: Number()},
		{Name: "issued", Schema: Date()},
		{Name: "status", Schema: Enum("draft", "final")},
	}, "vendor")

	g := schema.ToGenAI()
	require.NotNil(t, g)
	assert.Equal(t, genai.TypeObject, g.Type)
	// Declaration order survives for deterministic generation.
	assert.Equal(t, []string{"vendor", "total", "issued", "status"}, g.PropertyOrdering)
	assert.Equal(t, []string{"vendor"}, g.Required)
	assert.Equal(t, genai.TypeString, g.Properties["vendor"].Type)
	assert.Equal(t, genai.TypeNumber, g.Properties["total"].Type)
	assert.Equal(t, "date", g.Properties["issued"].Format)
	assert.Equal(t, []string{"draft", "final"}, g.Properties["status"].Enum)
}

func TestSchema_ToGenAINil(t *testing.T) {
	var s *Schema
	assert.Nil(t, s.ToGenAI())
}
