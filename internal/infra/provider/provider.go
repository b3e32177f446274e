// Package provider defines the narrow surface the engine needs from a storage
// backend: refresh a token and check connectivity.
package provider

import (
	"context"
	"fmt"
	"sort"

	"github.com/vietddude/cloudlink/internal/core/domain"
)

// Client is implemented once per storage backend.
type Client interface {
	// Name returns the provider this client talks to.
	Name() domain.Provider

	// RefreshToken exchanges the credential's refresh token for a new access token.
	// API-key providers return domain.ErrFeatureNotSupported.
	RefreshToken(ctx context.Context, cred *domain.Credential) (*domain.Token, error)

	// TestConnectivity makes one lightweight authenticated call.
	TestConnectivity(ctx context.Context, cred *domain.Credential) error
}

// Registry resolves provider clients by name.
type Registry struct {
	clients map[domain.Provider]Client
}

// NewRegistry creates a registry holding clients.
func NewRegistry(clients ...Client) *Registry {
	r := &Registry{clients: make(map[domain.Provider]Client, len(clients))}
	for _, c := range clients {
		r.clients[c.Name()] = c
	}
	return r
}

// Register adds or replaces a client.
func (r *Registry) Register(c Client) {
	r.clients[c.Name()] = c
}

// Get returns the client for p, or domain.ErrProviderNotConfigured.
func (r *Registry) Get(p domain.Provider) (Client, error) {
	c, ok := r.clients[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, domain.ErrProviderNotConfigured)
	}
	return c, nil
}

// Providers lists registered providers in name order.
func (r *Registry) Providers() []domain.Provider {
	out := make([]domain.Provider, 0, len(r.clients))
	for p := range r.clients {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
