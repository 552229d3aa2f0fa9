package provider

import "context"

// Source resolves the connector set for one user. Implementations that
// build connectors from per-user stored credentials return a different
// registry per user; a shared-key deployment returns the same one.
type Source interface {
	RegistryFor(ctx context.Context, userID string) (*Registry, error)
}

// StaticSource serves one fixed registry to every user.
type StaticSource struct {
	Registry *Registry
}

func (s StaticSource) RegistryFor(ctx context.Context, userID string) (*Registry, error) {
	return s.Registry, nil
}
