package proxyconfig

import (
	"os"
	"strings"
)

// ResolveAuthToken returns the first non-empty trimmed value from the
// inline auth_token, then from the environment variable named by
// auth_token_env. Per spec.md §4.2/§8, it never persists the returned
// value anywhere beyond the caller's use.
func (a UpstreamAuth) ResolveAuthToken() (string, bool) {
	return resolvePair(a.AuthToken, a.AuthTokenEnv)
}

// ResolveAPIKey returns the first non-empty trimmed value from the inline
// api_key, then from the environment variable named by api_key_env.
func (a UpstreamAuth) ResolveAPIKey() (string, bool) {
	return resolvePair(a.APIKey, a.APIKeyEnv)
}

func resolvePair(inline, envName string) (string, bool) {
	if v := strings.TrimSpace(inline); v != "" {
		return v, true
	}
	if envName == "" {
		return "", false
	}
	if v := strings.TrimSpace(os.Getenv(envName)); v != "" {
		return v, true
	}
	return "", false
}

// ApplyAuthHeaders sets the outbound auth header on req per spec.md §4.2's
// precedence: Authorization: Bearer <token> if auth_token resolves, else
// X-API-Key: <key> if api_key resolves, else leave the inbound
// Authorization header (already copied by the forwarder) untouched.
func (a UpstreamAuth) ApplyAuthHeaders(setHeader func(name, value string)) (applied bool) {
	if token, ok := a.ResolveAuthToken(); ok {
		setHeader("Authorization", "Bearer "+token)
		return true
	}
	if key, ok := a.ResolveAPIKey(); ok {
		setHeader("X-API-Key", key)
		return true
	}
	return false
}
