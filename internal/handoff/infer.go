package handoff

import (
	"regexp"
	"strings"
)

// DefaultTranscriptLimit bounds the trailing transcript excerpt attached to
// an inferred record.
const DefaultTranscriptLimit = 1200

const minPhoneDigits = 7

var (
	phoneRe = regexp.MustCompile(`\+?[0-9][0-9 ()\-.]{4,}[0-9]`)
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	nameLabelRe = regexp.MustCompile(`(?i)\b(?:name|isim|ad[ıi]?(?:\s+soyad[ıi]?)?)\s*[:\-]\s*([^\n,;.]{2,60})`)
)

// promptPatterns mark turns where the assistant is asking for or recapping
// contact details. Any match refuses inference for the whole turn; contact
// signals in such a turn came from the assistant, not the customer.
var promptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:may i|could you|can you|would you|please)\b[^.?!]*(?:phone|number|email|contact)`),
	regexp.MustCompile(`(?i)(?:what is|what's|whats)\b[^.?!]*(?:phone|number|email)`),
	regexp.MustCompile(`(?i)(?:phone|number|email|contact)[^.?!]*\?`),
	regexp.MustCompile(`(?i)(?:we have|i have)\b[^.?!]*(?:on file|kayıtlı)`),
	regexp.MustCompile(`(?i)(?:you can reach us|reach us at|call us|bize ulaşabilirsiniz|bizi arayabilirsiniz)`),
	regexp.MustCompile(`(?i)(?:telefon|numara|e-?posta)[^.?!]*(?:paylaşır mısınız|alabilir miyim|rica|nedir)`),
	// example numbers the assistant made up while asking
	regexp.MustCompile(`(?i)(?:for example|e\.g\.|such as|something like|örneğin|mesela)`),
}

// Inferencer reconstructs a customer_request record from prose when no
// structured block was emitted. It fires only on genuine customer contact
// signals: a phone number with enough digits or an email address. A prompt
// or recap pattern anywhere in the turn refuses the whole turn, because a
// turn where the assistant is still asking for contact details has no
// reliable way to tell a customer number from an assistant-authored one.
type Inferencer struct {
	transcriptLimit int
}

// NewInferencer returns an inferencer with the default transcript bound.
func NewInferencer() *Inferencer {
	return &Inferencer{transcriptLimit: DefaultTranscriptLimit}
}

// NewInferencerWithLimit overrides the transcript excerpt bound.
func NewInferencerWithLimit(n int) *Inferencer {
	if n <= 0 {
		n = DefaultTranscriptLimit
	}
	return &Inferencer{transcriptLimit: n}
}

// Infer scans the raw turn text for contact signals and, when found,
// produces a customer_request record carrying the opportunistically
// extracted fields plus a bounded trailing transcript excerpt.
func (in *Inferencer) Infer(text string) (*Record, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}

	for _, re := range promptPatterns {
		if re.MatchString(text) {
			return nil, false
		}
	}

	var phone string
	for _, m := range phoneRe.FindAllString(text, -1) {
		if digitCount(m) >= minPhoneDigits {
			phone = strings.TrimSpace(m)
			break
		}
	}
	email := emailRe.FindString(text)
	if phone == "" && email == "" {
		return nil, false
	}

	payload := map[string]any{
		"summary": tailExcerpt(text, in.transcriptLimit),
		"source":  "inferred",
	}
	if phone != "" {
		payload["phone"] = phone
	}
	if email != "" {
		payload["email"] = email
	}
	if m := nameLabelRe.FindStringSubmatch(text); m != nil {
		payload["full_name"] = strings.TrimSpace(m[1])
	}

	return &Record{
		Kind:     KindCustomerRequest,
		Payload:  payload,
		Grammar:  "inferred",
		Inferred: true,
	}, true
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// tailExcerpt keeps the newest n bytes, clipped to a rune boundary.
func tailExcerpt(s string, n int) string {
	if len(s) <= n {
		return strings.TrimSpace(s)
	}
	cut := len(s) - n
	for cut < len(s) && s[cut]&0xC0 == 0x80 {
		cut++
	}
	return strings.TrimSpace(s[cut:])
}
