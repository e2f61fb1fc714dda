// Package providers defines the static catalog of supported upstream
// providers: the LLM and TTS vendors whose API keys the vault stores and
// resolves. Each entry carries the provider's default API endpoint and a cheap
// local format rule for its key shape, used as the first validation stage
// before any network probe.
package providers

import (
	"fmt"
	"regexp"
	"sort"
)

// Provider identifiers. These are the values accepted in API requests and
// stored in the provider column of provider_credentials.
const (
	OpenAI     = "openai"
	Anthropic  = "anthropic"
	ElevenLabs = "elevenlabs"
	AzureTTS   = "azure_tts"
)

// Entry describes one supported provider.
type Entry struct {
	// Name is the provider identifier (e.g. "openai")
	Name string `json:"name"`
	// DisplayName is the human-readable provider name for UIs
	DisplayName string `json:"display_name"`
	// DefaultEndpoint is used when a credential has no custom endpoint
	DefaultEndpoint string `json:"default_endpoint"`
	// KeyHint describes the expected key shape for error messages
	KeyHint string `json:"key_hint"`

	keyPattern *regexp.Regexp
}

// KeyFormatValid reports whether secret matches the provider's key shape.
func (e *Entry) KeyFormatValid(secret string) bool {
	return e.keyPattern.MatchString(secret)
}

// catalog is the static reference data for all supported providers. Key
// patterns are deliberately loose about length suffixes — vendors change key
// lengths without notice, but prefixes and alphabets are stable.
var catalog = map[string]*Entry{
	OpenAI: {
		Name:            OpenAI,
		DisplayName:     "OpenAI",
		DefaultEndpoint: "https://api.openai.com/v1",
		KeyHint:         "starts with sk-",
		keyPattern:      regexp.MustCompile(`^sk-[A-Za-z0-9_-]{20,}$`),
	},
	Anthropic: {
		Name:            Anthropic,
		DisplayName:     "Anthropic",
		DefaultEndpoint: "https://api.anthropic.com",
		KeyHint:         "starts with sk-ant-",
		keyPattern:      regexp.MustCompile(`^sk-ant-[A-Za-z0-9_-]{20,}$`),
	},
	ElevenLabs: {
		Name:            ElevenLabs,
		DisplayName:     "ElevenLabs",
		DefaultEndpoint: "https://api.elevenlabs.io",
		KeyHint:         "32+ hex characters",
		keyPattern:      regexp.MustCompile(`^(sk_)?[0-9a-f]{32,}$`),
	},
	AzureTTS: {
		Name:            AzureTTS,
		DisplayName:     "Azure Speech",
		DefaultEndpoint: "https://eastus.tts.speech.microsoft.com",
		KeyHint:         "32 hex characters",
		keyPattern:      regexp.MustCompile(`^[0-9a-fA-F]{32}$`),
	},
}

// Lookup returns the catalog entry for the given provider identifier.
func Lookup(name string) (*Entry, error) {
	entry, ok := catalog[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q", name)
	}
	return entry, nil
}

// IsSupported reports whether name is a known provider identifier.
func IsSupported(name string) bool {
	_, ok := catalog[name]
	return ok
}

// All returns every catalog entry sorted by provider name.
func All() []*Entry {
	entries := make([]*Entry, 0, len(catalog))
	for _, e := range catalog {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}
