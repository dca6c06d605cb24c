// Package creds resolves execution-environment credentials and other
// precondition values for pipeline stages.
//
// Stages that depend on external credentials (registry login, cluster access)
// check presence through a Provider before doing any work; an absent value
// skips the stage rather than failing it. The Provider interface exists so
// tests can substitute a fixed map instead of mutating the process
// environment.
package creds

import "os"

// Provider resolves named credential values.
type Provider interface {
	// Lookup returns the value for key and whether it is present. An empty
	// string counts as absent.
	Lookup(key string) (string, bool)
}

// Env resolves credentials from process environment variables.
type Env struct{}

// NewEnv returns a Provider backed by the process environment.
func NewEnv() Env {
	return Env{}
}

// Lookup implements Provider.
func (Env) Lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Static resolves credentials from a fixed map. Intended for tests.
type Static map[string]string

// Lookup implements Provider.
func (s Static) Lookup(key string) (string, bool) {
	v, ok := s[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Missing returns the subset of keys the provider cannot resolve, in the
// order given.
func Missing(p Provider, keys []string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := p.Lookup(k); !ok {
			missing = append(missing, k)
		}
	}
	return missing
}
