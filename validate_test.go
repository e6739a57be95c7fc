package structex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaValidator_Valid(t *testing.T) {
	v := NewSchemaValidator()
	res := v.Validate(Result{"vendor": "ACME", "total": 99.5}, invoiceSchema())
	assert.True(t, res.Valid)
	assert.Empty(t, res.Issues)
}

func TestSchemaValidator_MissingRequired(t *testing.T) {
	v := NewSchemaValidator()
	res := v.Validate(Result{"vendor": "ACME"}, invoiceSchema())
	require.False(t, res.Valid)
	assert.NotEmpty(t, res.Issues)
}

func TestSchemaValidator_CoercesStrings(t *testing.T) {
	schema := Object([]Property{
		{Name: "total", Schema: Number()},
		{Name: "count", Schema: Integer()},
		{Name: "paid", Schema: Boolean()},
	}, "total", "count", "paid")

	res := NewSchemaValidator().Validate(Result{
		"total": "99.5",
		"count": "3",
		"paid":  "true",
	}, schema)

	require.True(t, res.Valid, "issues: %v", res.Issues)
	assert.Equal(t, 99.5, res.Data["total"])
	assert.Equal(t, int64(3), res.Data["count"])
	assert.Equal(t, true, res.Data["paid"])
}

func TestSchemaValidator_CoercionLeavesGarbage(t *testing.T) {
	schema := Object([]Property{{Name: "total", Schema: Number()}}, "total")
	res := NewSchemaValidator().Validate(Result{"total": "not a number"}, schema)
	require.False(t, res.Valid)
	assert.Equal(t, "not a number", res.Data["total"])
}

func TestSchemaValidator_RejectsUnknownFields(t *testing.T) {
	res := NewSchemaValidator().Validate(Result{
		"vendor":  "ACME",
		"total":   1.0,
		"surplus": "unexpected",
	}, invoiceSchema())
	assert.False(t, res.Valid)
}

func TestSchemaValidator_MetadataExempt(t *testing.T) {
	res := NewSchemaValidator().Validate(Result{
		"vendor":        "ACME",
		"total":         1.0,
		KeyConfidence:   0.9,
		KeyProcessedBy: "ensemble",
	}, invoiceSchema())
	assert.True(t, res.Valid, "issues: %v", res.Issues)
}

func TestSchemaValidator_DateFormat(t *testing.T) {
	schema := Object([]Property{{Name: "issued_date", Schema: Date()}}, "issued_date")

	res := NewSchemaValidator().Validate(Result{"issued_date": "2024-03-15"}, schema)
	assert.True(t, res.Valid, "issues: %v", res.Issues)

	res = NewSchemaValidator().Validate(Result{"issued_date": "15.03.2024"}, schema)
	assert.False(t, res.Valid)
}

func TestSchemaValidator_NestedIssueLocations(t *testing.T) {
	schema := Object([]Property{
		{Name: "lines", Schema: Array(Object([]Property{
			{Name: "qty", Schema: Integer()},
		}, "qty"))},
	}, "lines")

	res := NewSchemaValidator().Validate(Result{
		"lines": []any{map[string]any{"qty": "many"}},
	}, schema)

	require.False(t, res.Valid)
	found := false
	for _, issue := range res.Issues {
		if len(issue) > 0 && issue[0] == '/' {
			found = true
		}
	}
	assert.True(t, found, "issues should carry instance locations: %v", res.Issues)
}

func TestSchemaValidator_NilSchema(t *testing.T) {
	res := NewSchemaValidator().Validate(Result{"anything": true}, nil)
	assert.True(t, res.Valid)
}

func TestDateValidator(t *testing.T) {
	v := &DateValidator{MinYear: 2000, MaxYear: 2030}

	res := v.Validate(Result{"invoice_date": "2024-03-15", "vendor": "ACME"}, nil)
	assert.True(t, res.Valid)

	res = v.Validate(Result{"invoice_date": "not a date"}, nil)
	require.False(t, res.Valid)
	assert.Contains(t, res.Issues[0], "invoice_date")

	res = v.Validate(Result{"due_date": "1995-01-01"}, nil)
	require.False(t, res.Valid)
	assert.Contains(t, res.Issues[0], "before")

	// Alternative formats parse too.
	res = v.Validate(Result{"date": "15.03.2024"}, nil)
	assert.True(t, res.Valid)

	// Non-date fields and non-string values are ignored.
	res = v.Validate(Result{"total": "garbage", "update": 5}, nil)
	assert.True(t, res.Valid)
}

func TestSumValidator(t *testing.T) {
	v := &SumValidator{TotalField: "total", PartFields: []string{"net", "tax"}}

	res := v.Validate(Result{"total": 119.0, "net": 100.0, "tax": 19.0}, nil)
	assert.True(t, res.Valid)

	res = v.Validate(Result{"total": 119.0, "net": 100.0, "tax": 25.0}, nil)
	require.False(t, res.Valid)
	assert.Contains(t, res.Issues[0], "125.00")

	// Numeric strings count; the default tolerance absorbs cent rounding.
	res = v.Validate(Result{"total": "119.004", "net": 100.0, "tax": "19.0"}, nil)
	assert.True(t, res.Valid)

	// Missing parts or total: nothing to check.
	assert.True(t, v.Validate(Result{"total": 119.0}, nil).Valid)
	assert.True(t, v.Validate(Result{"net": 100.0}, nil).Valid)
}

func TestStripMetadata(t *testing.T) {
	out := stripMetadata(Result{"a": 1, KeyConfidence: 0.5, "_custom": true})
	assert.Equal(t, Result{"a": 1}, out)
}
