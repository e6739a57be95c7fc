package structex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDatePostprocessor(t *testing.T) {
	p := &DatePostprocessor{}

	out := p.Process(Result{
		"invoice_date": "15.03.2024",
		"due_date":     "March 1, 2024",
		"vendor":       "15.03.2024", // not a date field, untouched
		"update_date":  "garbage",    // unparseable, untouched
	})

	assert.Equal(t, "2024-03-15", out["invoice_date"])
	assert.Equal(t, "2024-03-01", out["due_date"])
	assert.Equal(t, "15.03.2024", out["vendor"])
	assert.Equal(t, "garbage", out["update_date"])
}

func TestDatePostprocessor_YearBounds(t *testing.T) {
	p := &DatePostprocessor{MinYear: 2000, MaxYear: 2030}
	out := p.Process(Result{"date": "01.01.1950"})
	// Out-of-range dates pass through for a validator to flag.
	assert.Equal(t, "01.01.1950", out["date"])
}

func TestDatePostprocessor_ExtraSeparators(t *testing.T) {
	p := &DatePostprocessor{Separators: []string{"-"}}
	out := p.Process(Result{"date": "15-03-2024"})
	assert.Equal(t, "2024-03-15", out["date"])
}

func TestNumberPostprocessor(t *testing.T) {
	p := &NumberPostprocessor{}

	out := p.Process(Result{
		"total":    "$1,234.50",
		"subtotal": "1234.5",
		"tax":      "€19.00",
		"vendor":   "ACME Corp",
		"count":    3,
	})

	assert.Equal(t, 1234.5, out["total"])
	assert.Equal(t, 1234.5, out["subtotal"])
	assert.Equal(t, 19.0, out["tax"])
	assert.Equal(t, "ACME Corp", out["vendor"])
	assert.Equal(t, 3, out["count"])
}

func TestNumberPostprocessor_FieldScoped(t *testing.T) {
	p := &NumberPostprocessor{Fields: []string{"total"}}
	out := p.Process(Result{"total": "10", "other": "20"})
	assert.Equal(t, 10.0, out["total"])
	assert.Equal(t, "20", out["other"])
}

func TestCurrencyNormalizer(t *testing.T) {
	p := &CurrencyNormalizer{}

	out := p.Process(Result{
		"currency":       "euro",
		"base_currency":  "$",
		"other_currency": "sek",
		"vendor":         "euro goods gmbh", // name does not contain "currency"
	})

	assert.Equal(t, "EUR", out["currency"])
	assert.Equal(t, "USD", out["base_currency"])
	// Unknown aliases are upper-cased as-is.
	assert.Equal(t, "SEK", out["other_currency"])
	assert.Equal(t, "euro goods gmbh", out["vendor"])
}

func TestCurrencyNormalizer_FieldScoped(t *testing.T) {
	p := &CurrencyNormalizer{Fields: []string{"ccy"}}
	out := p.Process(Result{"ccy": "pounds", "currency": "yen"})
	assert.Equal(t, "GBP", out["ccy"])
	assert.Equal(t, "yen", out["currency"])
}

func TestPostprocessorChain_Order(t *testing.T) {
	chain := NewPostprocessorChain(
		&NumberPostprocessor{},
		&CurrencyNormalizer{},
	)
	out := chain.Process(Result{"total": "$5", "currency": "dollars"})
	assert.Equal(t, 5.0, out["total"])
	assert.Equal(t, "USD", out["currency"])
}

func TestPostprocessors_DoNotMutateInput(t *testing.T) {
	in := Result{"total": "$5"}
	_ = (&NumberPostprocessor{}).Process(in)
	assert.Equal(t, "$5", in["total"])
}
