package access

import (
	"context"
	"net/http"
	"strings"
)

// Provider validates credentials for incoming requests.
type Provider interface {
	Identifier() string
	Authenticate(ctx context.Context, r *http.Request) (*Result, error)
}

// Result conveys authentication outcome.
type Result struct {
	Provider  string
	Principal string
	Metadata  map[string]string
}

// configAPIKeyProvider accepts any key from a fixed comma-separated list via
// Authorization: Bearer, x-goog-api-key, or a ?key= query parameter.
type configAPIKeyProvider struct {
	keys map[string]struct{}
}

// NewConfigAPIKeyProvider builds the single built-in access provider from the
// proxy's configured API key list.
func NewConfigAPIKeyProvider(keys []string) Provider {
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			set[k] = struct{}{}
		}
	}
	return &configAPIKeyProvider{keys: set}
}

func (p *configAPIKeyProvider) Identifier() string { return "config-api-key" }

func (p *configAPIKeyProvider) Authenticate(_ context.Context, r *http.Request) (*Result, error) {
	if len(p.keys) == 0 {
		return nil, ErrNotHandled
	}

	authHeader := r.Header.Get("Authorization")
	googHeader := r.Header.Get("X-Goog-Api-Key")
	queryKey := ""
	if r.URL != nil {
		queryKey = r.URL.Query().Get("key")
	}
	if authHeader == "" && googHeader == "" && queryKey == "" {
		return nil, ErrNoCredentials
	}

	candidates := []struct {
		value  string
		source string
	}{
		{extractBearerToken(authHeader), "authorization"},
		{googHeader, "x-goog-api-key"},
		{queryKey, "query-key"},
	}

	for _, candidate := range candidates {
		if candidate.value == "" {
			continue
		}
		if _, ok := p.keys[candidate.value]; ok {
			return &Result{
				Provider:  p.Identifier(),
				Principal: candidate.value,
				Metadata:  map[string]string{"source": candidate.source},
			}, nil
		}
	}

	return nil, ErrInvalidCredential
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return header
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return header
	}
	return strings.TrimSpace(parts[1])
}

// BuildProviders constructs the access providers active for the given keys.
// A single list is supported in this module; callers pass the live
// configuration snapshot's APIKeys on every reload.
func BuildProviders(apiKeys []string) []Provider {
	if len(apiKeys) == 0 {
		return nil
	}
	return []Provider{NewConfigAPIKeyProvider(apiKeys)}
}
