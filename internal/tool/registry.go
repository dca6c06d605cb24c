package tool

import (
	"context"
	"fmt"

	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"

	"github.com/forgeline/pipeline/internal/creds"
)

// RegistryProbe verifies registry reachability with the configured
// credentials ahead of a push, so an unreachable or misconfigured registry
// surfaces as a clear precondition instead of a cryptic CLI failure mid-push.
type RegistryProbe struct {
	host      string
	plainHTTP bool
	provider  creds.Provider
	userEnv   string
	passEnv   string
}

// NewRegistryProbe returns a RegistryProber for host. Credentials are
// resolved at ping time from the provider under the given keys.
func NewRegistryProbe(host string, plainHTTP bool, provider creds.Provider, userEnv, passEnv string) *RegistryProbe {
	return &RegistryProbe{
		host:      host,
		plainHTTP: plainHTTP,
		provider:  provider,
		userEnv:   userEnv,
		passEnv:   passEnv,
	}
}

// Ping implements RegistryProber.
func (p *RegistryProbe) Ping(ctx context.Context) error {
	reg, err := remote.NewRegistry(p.host)
	if err != nil {
		return fmt.Errorf("invalid registry host %q: %w", p.host, err)
	}
	reg.PlainHTTP = p.plainHTTP

	username, _ := p.provider.Lookup(p.userEnv)
	password, _ := p.provider.Lookup(p.passEnv)
	reg.Client = &auth.Client{
		Client:     retry.DefaultClient,
		Cache:      auth.NewCache(),
		Credential: auth.StaticCredential(p.host, auth.Credential{
			Username: username,
			Password: password,
		}),
	}

	if err := reg.Ping(ctx); err != nil {
		return fmt.Errorf("registry %s unreachable: %w", p.host, err)
	}
	return nil
}

// NoRegistry is the prober used when no registry host is configured; it
// always succeeds so the push stage is gated on credentials alone.
type NoRegistry struct{}

// Ping implements RegistryProber.
func (NoRegistry) Ping(context.Context) error {
	return nil
}
