package vault

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/voice-companion/credential-vault/internal/providers"
	"github.com/voice-companion/credential-vault/internal/telemetry"
)

// Validation result codes.
const (
	CodeValid            = "valid"
	CodeInvalidFormat    = "invalid_format"
	CodeProviderRejected = "provider_rejected"
	CodeLivenessUnknown  = "liveness_unknown"
)

// Result is the outcome of a credential validation. Code is machine-readable;
// Detail is a human explanation suitable for direct display.
type Result struct {
	Valid  bool   `json:"valid"`
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// Validator checks a candidate credential in two stages: an offline format
// check against the provider's known key shape, then — only when live probing
// is enabled and the format passed — a single authenticated request to a
// cheap provider endpoint. A failed format check never reaches the network.
type Validator struct {
	live    bool
	timeout time.Duration
	client  *http.Client
}

// NewValidator creates a validator. live enables the network probe stage;
// timeout bounds each probe. Probes are never retried.
func NewValidator(live bool, timeout time.Duration) *Validator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Validator{
		live:    live,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Validate checks a candidate secret for a provider. endpoint overrides the
// provider's default probe endpoint when non-empty (custom gateways,
// self-hosted proxies).
func (v *Validator) Validate(ctx context.Context, provider, secret, endpoint string) (*Result, error) {
	entry, err := providers.Lookup(provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}

	if !entry.KeyFormatValid(secret) {
		result := &Result{
			Valid:  false,
			Code:   CodeInvalidFormat,
			Detail: fmt.Sprintf("key does not match the expected %s format (%s)", entry.DisplayName, entry.KeyHint),
		}
		telemetry.CredentialValidationsTotal.WithLabelValues(provider, result.Code).Inc()
		return result, nil
	}

	if !v.live {
		result := &Result{Valid: true, Code: CodeValid, Detail: "key format is valid (live validation disabled)"}
		telemetry.CredentialValidationsTotal.WithLabelValues(provider, result.Code).Inc()
		return result, nil
	}

	if endpoint == "" {
		endpoint = entry.DefaultEndpoint
	}
	result := v.probe(ctx, provider, secret, endpoint)
	telemetry.CredentialValidationsTotal.WithLabelValues(provider, result.Code).Inc()
	return result, nil
}

// probe performs the single live round trip. Interpretation is uniform across
// providers: 2xx means the key is accepted, 401/403 means the provider
// rejected it, and anything else — including transport errors — leaves
// liveness unknown, which callers should treat as non-fatal.
func (v *Validator) probe(ctx context.Context, provider, secret, endpoint string) *Result {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req, err := probeRequest(ctx, provider, secret, endpoint)
	if err != nil {
		return &Result{Valid: false, Code: CodeLivenessUnknown, Detail: fmt.Sprintf("could not build probe request: %v", err)}
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return &Result{
			Valid:  true,
			Code:   CodeLivenessUnknown,
			Detail: "key format is valid but the provider could not be reached",
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &Result{Valid: true, Code: CodeValid, Detail: "key accepted by provider"}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &Result{Valid: false, Code: CodeProviderRejected, Detail: "provider rejected the key"}
	default:
		return &Result{
			Valid:  true,
			Code:   CodeLivenessUnknown,
			Detail: fmt.Sprintf("key format is valid but the provider answered unexpectedly (status %d)", resp.StatusCode),
		}
	}
}

// probeRequest builds the cheapest authenticated request each provider
// offers. These endpoints list account resources and never mutate state.
func probeRequest(ctx context.Context, provider, secret, endpoint string) (*http.Request, error) {
	switch provider {
	case providers.OpenAI:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/models", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+secret)
		return req, nil
	case providers.Anthropic:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/v1/models", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-api-key", secret)
		req.Header.Set("anthropic-version", "2023-06-01")
		return req, nil
	case providers.ElevenLabs:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/v1/user", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("xi-api-key", secret)
		return req, nil
	case providers.AzureTTS:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/cognitiveservices/voices/list", nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Ocp-Apim-Subscription-Key", secret)
		return req, nil
	default:
		return nil, fmt.Errorf("no probe defined for provider %s", provider)
	}
}
