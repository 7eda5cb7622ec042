// Package brand holds the per-tenant configuration for the relay: which
// upstream identity answers a brand's conversations, where operator
// notifications go, and which published contact details belong to the brand
// itself. The registry is loaded once at boot and never mutated; every
// request-scoped pipeline receives it by reference.
package brand

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrBrandNotFound = errors.New("brand not found")

// File is the top-level YAML structure for the brand registry file.
type File struct {
	Brands []Brand `yaml:"brands"`
}

// Brand is one tenant's routing and prompt settings.
type Brand struct {
	Key         string `yaml:"key"`
	DisplayName string `yaml:"display_name"`

	// Upstream identity: either an assistant ID (Assistants-style API) or a
	// chat model plus system prompt. Exactly one of the two must be set.
	AssistantID  string `yaml:"assistant_id,omitempty"`
	ChatModel    string `yaml:"chat_model,omitempty"`
	SystemPrompt string `yaml:"system_prompt,omitempty"`

	// API keys that authenticate a client as this brand. A brand with no
	// keys cannot be reached through the HTTP API.
	APIKeys []string `yaml:"api_keys,omitempty"`

	Notify NotifyConfig `yaml:"notify"`

	// Published contact details of the brand itself. Used to blank a
	// customer contact that merely echoes the brand's own address back.
	PublishedEmail string `yaml:"published_email,omitempty"`
	PublishedPhone string `yaml:"published_phone,omitempty"`

	// Experience keywords for reservation category backfill
	// (e.g. "tasting", "vineyard tour", "private dinner").
	Experiences []string `yaml:"experiences,omitempty"`

	RateLimit int `yaml:"rate_limit,omitempty"` // requests per minute; 0 = server default
}

// NotifyConfig is the notification routing for one brand.
type NotifyConfig struct {
	Recipient     string `yaml:"recipient"`
	Sender        string `yaml:"sender"`
	ReplyTo       string `yaml:"reply_to,omitempty"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// Registry is the immutable brand lookup table.
type Registry struct {
	brands   map[string]*Brand
	keys     []string
	byAPIKey map[string]*Brand
}

// Load reads and validates the brand registry YAML file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading brands file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses brand registry YAML bytes and validates every entry.
func Parse(data []byte) (*Registry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing brands YAML: %w", err)
	}
	if len(f.Brands) == 0 {
		return nil, fmt.Errorf("brands file defines no brands")
	}

	r := &Registry{
		brands:   make(map[string]*Brand, len(f.Brands)),
		byAPIKey: make(map[string]*Brand),
	}
	for i := range f.Brands {
		b := &f.Brands[i]
		if err := b.validate(); err != nil {
			return nil, fmt.Errorf("brand %q: %w", b.Key, err)
		}
		if _, dup := r.brands[b.Key]; dup {
			return nil, fmt.Errorf("duplicate brand key %q", b.Key)
		}
		r.brands[b.Key] = b
		r.keys = append(r.keys, b.Key)
		for _, ak := range b.APIKeys {
			if _, dup := r.byAPIKey[ak]; dup {
				return nil, fmt.Errorf("brand %q: api key already assigned to another brand", b.Key)
			}
			r.byAPIKey[ak] = b
		}
	}
	return r, nil
}

// Authenticate resolves an API key to its brand using a constant-time
// comparison per candidate key.
func (r *Registry) Authenticate(apiKey string) (*Brand, bool) {
	if apiKey == "" {
		return nil, false
	}
	for k, b := range r.byAPIKey {
		if subtle.ConstantTimeCompare([]byte(k), []byte(apiKey)) == 1 {
			return b, true
		}
	}
	return nil, false
}

func (b *Brand) validate() error {
	if b.Key == "" {
		return fmt.Errorf("key is required")
	}
	if b.DisplayName == "" {
		return fmt.Errorf("display_name is required")
	}
	hasAssistant := b.AssistantID != ""
	hasChat := b.ChatModel != ""
	if hasAssistant == hasChat {
		return fmt.Errorf("exactly one of assistant_id or chat_model must be set")
	}
	if b.Notify.Recipient == "" {
		return fmt.Errorf("notify.recipient is required")
	}
	if b.Notify.Sender == "" {
		return fmt.Errorf("notify.sender is required")
	}
	if b.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

// Get returns the brand for the given key.
func (r *Registry) Get(key string) (*Brand, error) {
	b, ok := r.brands[key]
	if !ok {
		return nil, ErrBrandNotFound
	}
	return b, nil
}

// Keys returns all brand keys in file order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len returns the number of registered brands.
func (r *Registry) Len() int {
	return len(r.brands)
}
