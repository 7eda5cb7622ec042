package handoff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heyconcierge/relay/internal/brand"
)

func testBrand() *brand.Brand {
	return &brand.Brand{
		Key:            "vineyard",
		DisplayName:    "Vineyard Estate",
		PublishedPhone: "+90 212 345 67 89",
		PublishedEmail: "hello@vineyard.example",
	}
}

func TestSanitizeScrubsPublishedPhone(t *testing.T) {
	rec := &Record{Kind: KindReservation, Payload: map[string]any{
		"full_name": "Ayşe Demir",
		"phone":     "0090 212 345 67 89", // same digits, different formatting
		"date":      "2026-09-01",
	}}
	out, err := Sanitize(rec, testBrand())
	require.NoError(t, err)
	assert.Equal(t, "", out.Payload["phone"])
	assert.Equal(t, "Ayşe Demir", out.Payload["full_name"])
}

func TestSanitizeLeavesInputUntouched(t *testing.T) {
	rec := &Record{Kind: KindReservation, Payload: map[string]any{
		"phone": "0212 345 67 89",
		"notes": "wine tasting for four",
	}}
	out, err := Sanitize(rec, testBrand())
	require.NoError(t, err)

	// The copy is scrubbed and backfilled; the original keeps the payload
	// exactly as extracted.
	assert.Equal(t, "", out.Payload["phone"])
	assert.Equal(t, "tasting", out.Payload["category"])
	assert.Equal(t, "0212 345 67 89", rec.Payload["phone"])
	_, has := rec.Payload["category"]
	assert.False(t, has)
}

func TestSanitizeScrubsPublishedEmail(t *testing.T) {
	rec := &Record{Kind: KindOrder, Payload: map[string]any{
		"email": "  Hello@Vineyard.example ",
		"items": []any{},
	}}
	out, err := Sanitize(rec, testBrand())
	require.NoError(t, err)
	assert.Equal(t, "", out.Payload["email"])
}

func TestSanitizeKeepsGenuineCustomerContact(t *testing.T) {
	rec := &Record{Kind: KindReservation, Payload: map[string]any{
		"phone": "0532 987 65 43",
		"email": "ayse@example.com",
	}}
	out, err := Sanitize(rec, testBrand())
	require.NoError(t, err)
	assert.Equal(t, "0532 987 65 43", out.Payload["phone"])
	assert.Equal(t, "ayse@example.com", out.Payload["email"])
}

func TestSanitizeCustomerRequestValidation(t *testing.T) {
	valid := func() map[string]any {
		return map[string]any{
			"full_name": "Ayşe Demir",
			"phone":     "0532 987 65 43",
			"summary":   "Wants a callback about hosting a birthday dinner for 12.",
		}
	}

	_, err := Sanitize(&Record{Kind: KindCustomerRequest, Payload: valid()}, testBrand())
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing_name", func(p map[string]any) { delete(p, "full_name") }},
		{"blank_name", func(p map[string]any) { p["full_name"] = "  " }},
		{"missing_phone", func(p map[string]any) { delete(p, "phone") }},
		{"short_phone", func(p map[string]any) { p["phone"] = "12345" }},
		{"missing_summary", func(p map[string]any) { delete(p, "summary") }},
		{"trivial_summary", func(p map[string]any) { p["summary"] = "n/a" }},
		{"short_summary", func(p map[string]any) { p["summary"] = "call." }},
		// phone equal to the venue's own number is scrubbed first, then fails
		{"echoed_phone_only", func(p map[string]any) { p["phone"] = "0212 345 67 89" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := valid()
			tc.mutate(p)
			_, err := Sanitize(&Record{Kind: KindCustomerRequest, Payload: p}, testBrand())
			require.ErrorIs(t, err, ErrPayloadRejected)
		})
	}
}

func TestSanitizeCustomerRequestAltFieldNames(t *testing.T) {
	rec := &Record{Kind: KindCustomerRequest, Payload: map[string]any{
		"name":    "Mehmet Kaya",
		"telefon": "0532 111 22 33",
		"details": "Asking about private tastings for a group of eight.",
	}}
	_, err := Sanitize(rec, testBrand())
	require.NoError(t, err)
}

func TestSanitizeReservationCategoryBackfill(t *testing.T) {
	rec := &Record{Kind: KindReservation, Payload: map[string]any{
		"full_name": "Ayşe Demir",
		"notes":     "They asked for the sunset wine tasting on the terrace.",
	}}
	out, err := Sanitize(rec, testBrand())
	require.NoError(t, err)
	assert.Equal(t, "tasting", out.Payload["category"])
}

func TestSanitizeReservationCategoryKept(t *testing.T) {
	rec := &Record{Kind: KindReservation, Payload: map[string]any{
		"category": "dinner",
		"notes":    "also mentioned a vineyard tour",
	}}
	out, err := Sanitize(rec, testBrand())
	require.NoError(t, err)
	assert.Equal(t, "dinner", out.Payload["category"])
}

func TestSanitizeReservationNoKeywordNoCategory(t *testing.T) {
	rec := &Record{Kind: KindReservation, Payload: map[string]any{
		"notes": "table for two on saturday evening",
	}}
	out, err := Sanitize(rec, testBrand())
	require.NoError(t, err)
	_, has := out.Payload["category"]
	assert.False(t, has)
}

func TestSanitizeOrderNeverFails(t *testing.T) {
	_, err := Sanitize(&Record{Kind: KindOrder, Payload: map[string]any{}}, nil)
	require.NoError(t, err)
}
