package structex

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrivacy_NilInnerResultAnnotated(t *testing.T) {
	inner := procFunc(func(context.Context, string, string, *Schema, ...CallOption) (Result, error) {
		return nil, nil
	})
	p := NewPrivacyProcessor(inner)

	res, err := p.Process(context.Background(), "doc.txt", "p", nil,
		WithDocumentText("clean text"))
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "privacy", res[KeyProcessedBy])
}

func TestPrivacy_RedactsBeforeProvider(t *testing.T) {
	stub := &StubProvider{Responses: []Result{{"contact": "[EMAIL_0]"}}}
	inner := NewSimpleProcessor(stub)
	p := NewPrivacyProcessor(inner)

	doc := "Contact jane.doe@example.com for the refund."
	result, err := p.Process(context.Background(), "doc.txt", "Extract the contact.", nil,
		WithDocumentText(doc))
	require.NoError(t, err)

	// The provider never saw the address.
	seen := stub.LastRequest().Text
	assert.NotContains(t, seen, "jane.doe@example.com")
	assert.Contains(t, seen, "[EMAIL_0]")

	// The caller gets the original span back.
	assert.Equal(t, "jane.doe@example.com", result["contact"])
	assert.Equal(t, "privacy", result[KeyProcessedBy])
}

func TestPrivacy_MultipleSpansAndClasses(t *testing.T) {
	stub := &StubProvider{Responses: []Result{{
		"emails": []any{"[EMAIL_0]", "[EMAIL_1]"},
		"ssn":    "[SSN_0]",
		"nested": map[string]any{"note": "reach [EMAIL_0] or [SSN_0]"},
	}}}
	p := NewPrivacyProcessor(NewSimpleProcessor(stub))

	doc := "From a@x.com and b@y.com, SSN 123-45-6789."
	result, err := p.Process(context.Background(), "doc.txt", "p", nil, WithDocumentText(doc))
	require.NoError(t, err)

	assert.Equal(t, []any{"a@x.com", "b@y.com"}, result["emails"])
	assert.Equal(t, "123-45-6789", result["ssn"])
	nested := result["nested"].(map[string]any)
	assert.Equal(t, "reach a@x.com or 123-45-6789", nested["note"])
}

func TestPrivacy_SameSpanSamePlaceholder(t *testing.T) {
	p := NewPrivacyProcessor(fixedProc(Result{}))
	redacted, vault := p.redact("write a@x.com, then a@x.com again")

	assert.Equal(t, 2, strings.Count(redacted, "[EMAIL_0]"))
	assert.Len(t, vault, 1)
	assert.Equal(t, "a@x.com", vault["[EMAIL_0]"])
}

func TestPrivacy_CleanDocumentPassesThrough(t *testing.T) {
	stub := &StubProvider{Responses: []Result{{"v": "ok"}}}
	p := NewPrivacyProcessor(NewSimpleProcessor(stub))

	doc := "Nothing sensitive in here."
	result, err := p.Process(context.Background(), "doc.txt", "p", nil, WithDocumentText(doc))
	require.NoError(t, err)
	assert.Equal(t, doc, stub.LastRequest().Text)
	assert.Equal(t, "ok", result["v"])
}

func TestPrivacy_CustomPattern(t *testing.T) {
	stub := &StubProvider{Responses: []Result{{"id": "[EMPLOYEE_0]"}}}
	p := NewPrivacyProcessor(NewSimpleProcessor(stub),
		WithPIIPattern("EMPLOYEE", regexp.MustCompile(`EMP-\d{5}`)))

	result, err := p.Process(context.Background(), "doc.txt", "p", nil,
		WithDocumentText("Badge EMP-00042 checked in."))
	require.NoError(t, err)
	assert.NotContains(t, stub.LastRequest().Text, "EMP-00042")
	assert.Equal(t, "EMP-00042", result["id"])
}

func TestPrivacy_InnerErrorPropagates(t *testing.T) {
	stub := &StubProvider{Err: errors.New("backend down")}
	p := NewPrivacyProcessor(NewSimpleProcessor(stub))

	_, err := p.Process(context.Background(), "doc.txt", "p", nil, WithDocumentText("text"))
	var provErr *ProviderError
	require.ErrorAs(t, err, &provErr)
}
