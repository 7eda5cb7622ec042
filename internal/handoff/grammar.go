package handoff

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
)

// Grammar recognizes one block encoding and yields candidate JSON documents.
type Grammar interface {
	Name() string
	Candidates(text string) []string
}

// Grammars is the registry, in precedence order. The first grammar with a
// decodable candidate wins; later grammars are not consulted.
var Grammars = []Grammar{
	keywordFenceGrammar{},
	genericFenceGrammar{},
	tagPairGrammar{},
	inlineTokenGrammar{},
}

var (
	keywordFenceRe = regexp.MustCompile("(?s)```handoff\\s*(\\{.*?\\})\\s*```")
	genericFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	tagPairRe      = regexp.MustCompile(`(?s)<handoff>\s*(.*?)\s*</handoff>`)
	inlineTokenRe  = regexp.MustCompile(`\[\[handoff:([A-Za-z0-9+/\-_=]+)\]\]`)
)

// keywordFenceGrammar matches a code fence tagged with the handoff keyword.
type keywordFenceGrammar struct{}

func (keywordFenceGrammar) Name() string { return "keyword_fence" }

func (keywordFenceGrammar) Candidates(text string) []string {
	return firstGroups(keywordFenceRe, text)
}

// genericFenceGrammar matches any fenced JSON object. Only objects carrying
// a handoff field qualify; ordinary code samples in fences must not.
type genericFenceGrammar struct{}

func (genericFenceGrammar) Name() string { return "generic_fence" }

func (genericFenceGrammar) Candidates(text string) []string {
	var out []string
	for _, doc := range firstGroups(genericFenceRe, text) {
		var m map[string]any
		if err := json.Unmarshal([]byte(doc), &m); err != nil {
			continue
		}
		if _, ok := m["handoff"]; ok {
			out = append(out, doc)
		}
	}
	return out
}

// tagPairGrammar matches an explicit <handoff>...</handoff> element.
type tagPairGrammar struct{}

func (tagPairGrammar) Name() string { return "tag_pair" }

func (tagPairGrammar) Candidates(text string) []string {
	return firstGroups(tagPairRe, text)
}

// inlineTokenGrammar matches the bracketed base64 token form.
type inlineTokenGrammar struct{}

func (inlineTokenGrammar) Name() string { return "inline_token" }

func (inlineTokenGrammar) Candidates(text string) []string {
	var out []string
	for _, tok := range firstGroups(inlineTokenRe, text) {
		if doc, ok := decodeBase64(tok); ok {
			out = append(out, doc)
		}
	}
	return out
}

func firstGroups(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		if len(m) > 1 && m[1] != "" {
			out = append(out, m[1])
		}
	}
	return out
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not.
func decodeBase64(tok string) (string, bool) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if raw, err := enc.DecodeString(tok); err == nil {
			return string(raw), true
		}
	}
	return "", false
}

// Extract runs the grammar registry over the complete turn text and returns
// the first record that decodes and normalizes. Malformed candidates are
// skipped; a later candidate of the same grammar may still match.
func Extract(text string) (*Record, bool) {
	for _, g := range Grammars {
		for _, doc := range g.Candidates(text) {
			var m map[string]any
			if err := json.Unmarshal([]byte(doc), &m); err != nil {
				continue
			}
			rec, ok := normalizeRecord(m)
			if !ok {
				continue
			}
			rec.Grammar = g.Name()
			return rec, true
		}
	}
	return nil, false
}
