package handoff

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"unicode"

	"github.com/heyconcierge/relay/internal/brand"
)

// ErrPayloadRejected marks a record that failed validation and must not be
// dispatched.
var ErrPayloadRejected = errors.New("handoff payload rejected")

var phoneFieldKeys = []string{"phone", "phone_number", "contact_phone", "tel", "telefon"}
var emailFieldKeys = []string{"email", "email_address", "contact_email", "eposta", "e_posta"}
var nameFieldKeys = []string{"full_name", "name", "customer_name", "ad_soyad"}

const minSummaryLen = 10

// reservation category keywords, matched case-insensitively against the
// payload's text fields when the category is missing. Order decides ties.
var categoryKeywords = []struct {
	name  string
	words []string
}{
	{"tasting", []string{"tasting", "tadım", "degustation"}},
	{"tour", []string{"tour", "tur", "visit", "gezi"}},
	{"dinner", []string{"dinner", "akşam yemeği", "supper"}},
	{"event", []string{"event", "etkinlik", "wedding", "düğün"}},
}

// Sanitize derives a scrubbed, validated copy of a record for dispatch. The
// input record stays untouched, so the journal keeps the payload exactly as
// extracted.
//
// Scrubbing blanks customer contact fields that merely echo the brand's own
// published contact details; the record survives. Validation is per kind:
// customer_request must carry a name, a phone number, and a non-trivial
// summary, or the whole record is rejected. Reservation category backfill
// fills a missing category from keywords and never fails.
func Sanitize(rec *Record, b *brand.Brand) (*Record, error) {
	payload := maps.Clone(rec.Payload)
	if payload == nil {
		payload = map[string]any{}
	}
	scrubPublishedContact(payload, b)

	switch rec.Kind {
	case KindCustomerRequest:
		if err := validateCustomerRequest(payload); err != nil {
			return nil, err
		}
	case KindReservation:
		backfillCategory(payload)
	}
	return &Record{
		Kind:     rec.Kind,
		Payload:  payload,
		Grammar:  rec.Grammar,
		Inferred: rec.Inferred,
	}, nil
}

// scrubPublishedContact implements the echo rule: an assistant that fills a
// contact slot with the venue's own phone or email produced noise, not
// customer data.
func scrubPublishedContact(payload map[string]any, b *brand.Brand) {
	if b == nil {
		return
	}
	if b.PublishedPhone != "" {
		for _, k := range phoneFieldKeys {
			if s, ok := payload[k].(string); ok && samePhone(s, b.PublishedPhone) {
				payload[k] = ""
			}
		}
	}
	if b.PublishedEmail != "" {
		want := strings.ToLower(strings.TrimSpace(b.PublishedEmail))
		for _, k := range emailFieldKeys {
			if s, ok := payload[k].(string); ok && strings.ToLower(strings.TrimSpace(s)) == want {
				payload[k] = ""
			}
		}
	}
}

func validateCustomerRequest(payload map[string]any) error {
	if stringField(payload, nameFieldKeys...) == "" {
		return fmt.Errorf("%w: customer_request missing name", ErrPayloadRejected)
	}
	phone := stringField(payload, phoneFieldKeys...)
	if phone == "" || digitCount(phone) < minPhoneDigits {
		return fmt.Errorf("%w: customer_request missing usable phone", ErrPayloadRejected)
	}
	summary := stringField(payload, "summary", "request", "details", "notes")
	if trivialSummary(summary) {
		return fmt.Errorf("%w: customer_request summary too thin", ErrPayloadRejected)
	}
	return nil
}

// trivialSummary rejects blanks, stubs, and placeholder noise.
func trivialSummary(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < minSummaryLen {
		return true
	}
	switch strings.ToLower(s) {
	case "n/a", "none", "test", "no summary", "customer request":
		return true
	}
	letters := 0
	for _, r := range s {
		if r != ' ' && r != '.' && r != '-' && r != '_' {
			letters++
		}
	}
	return letters < minSummaryLen/2
}

// backfillCategory fills a missing reservation category from keywords found
// anywhere in the payload's string fields. Absence of a match is fine.
func backfillCategory(payload map[string]any) {
	if stringField(payload, "category", "experience") != "" {
		return
	}
	var sb strings.Builder
	for _, v := range payload {
		if s, ok := v.(string); ok {
			sb.WriteString(strings.ToLower(s))
			sb.WriteByte(' ')
		}
	}
	haystack := sb.String()
	words := strings.FieldsFunc(haystack, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, cat := range categoryKeywords {
		for _, w := range cat.words {
			if keywordMatch(haystack, words, w) {
				payload["category"] = cat.name
				return
			}
		}
	}
}

// keywordMatch compares whole words for single-word keywords so short ones
// like "tur" cannot fire inside "saturday". Phrases use plain substring
// match.
func keywordMatch(haystack string, words []string, keyword string) bool {
	if strings.ContainsRune(keyword, ' ') {
		return strings.Contains(haystack, keyword)
	}
	for _, w := range words {
		if w == keyword {
			return true
		}
	}
	return false
}

// samePhone compares numbers by digits, ignoring formatting and dialing
// prefixes: "+90 212 345 67 89", "0090 212 345 67 89" and "0212 345 67 89"
// all name the same line.
func samePhone(a, b string) bool {
	da := strings.TrimLeft(digitsOnly(a), "0")
	db := strings.TrimLeft(digitsOnly(b), "0")
	if da == "" || db == "" {
		return false
	}
	if da == db {
		return true
	}
	if len(da) >= 10 && len(db) >= 10 {
		return strings.HasSuffix(da, db) || strings.HasSuffix(db, da)
	}
	return false
}

func digitsOnly(s string) string {
	var sb strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
