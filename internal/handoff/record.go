// Package handoff extracts structured handoff records from assistant turn
// text. A record travels inside one of four block encodings; when none is
// present, a fallback inferencer looks for contact signals in the prose.
// Extracted payloads pass through sanitization and per-kind validation
// before anything is dispatched.
package handoff

import (
	"strings"
)

// Kind classifies a handoff record.
type Kind string

const (
	KindReservation     Kind = "reservation"
	KindOrder           Kind = "order"
	KindCustomerRequest Kind = "customer_request"
)

// ValidKind reports whether k is one of the known kinds.
func ValidKind(k Kind) bool {
	switch k {
	case KindReservation, KindOrder, KindCustomerRequest:
		return true
	}
	return false
}

// Record is one normalized handoff: a kind plus its free-form payload.
// Grammar names the encoding that produced it; Inferred marks records
// reconstructed from prose rather than a structured block.
type Record struct {
	Kind     Kind
	Payload  map[string]any
	Grammar  string
	Inferred bool
}

// normalizeRecord maps the accepted top-level JSON shapes onto a Record:
//
//	{"kind":"order","payload":{...}}
//	{"kind":"order", ...fields...}
//	{"handoff":{"kind":"order","payload":{...}}}
//	{"handoff":{"kind":"order", ...fields...}}
//	{"handoff":"order","payload":{...}}
//
// Unknown kinds and shapeless objects are rejected.
func normalizeRecord(m map[string]any) (*Record, bool) {
	if h, ok := m["handoff"]; ok {
		switch hv := h.(type) {
		case map[string]any:
			return normalizeFlat(hv)
		case string:
			flat := make(map[string]any, len(m))
			for k, v := range m {
				if k != "handoff" {
					flat[k] = v
				}
			}
			flat["kind"] = hv
			return normalizeFlat(flat)
		default:
			return nil, false
		}
	}
	return normalizeFlat(m)
}

func normalizeFlat(m map[string]any) (*Record, bool) {
	rawKind, _ := m["kind"].(string)
	kind := Kind(strings.ToLower(strings.TrimSpace(rawKind)))
	if !ValidKind(kind) {
		return nil, false
	}
	var payload map[string]any
	if p, ok := m["payload"].(map[string]any); ok {
		payload = p
	} else {
		payload = make(map[string]any, len(m))
		for k, v := range m {
			if k == "kind" || k == "payload" {
				continue
			}
			payload[k] = v
		}
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return &Record{Kind: kind, Payload: payload}, true
}

// stringField returns the first non-blank string value among keys.
func stringField(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := payload[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
