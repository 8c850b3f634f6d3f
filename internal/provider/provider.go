// Package provider defines the upstream source capabilities, the process-wide
// source registry and their HTTP-backed implementations.
package provider

import (
	"context"
	"errors"

	"cinefetch/internal/media"
)

// ErrNotFound reports that a provider has no stream for the requested media.
var ErrNotFound = errors.New("stream not found")

// Catalog lists the sources an upstream knows about.
type Catalog interface {
	// Name identifies the catalog in logs.
	Name() string

	// ListProviders returns the catalog's sources in its own order.
	ListProviders(ctx context.Context) ([]media.ProviderDescriptor, error)
}

// Fetcher asks one source for a stream.
type Fetcher interface {
	// FetchStream returns the provider's raw stream description.
	// A nil stream with a nil error, or ErrNotFound, means no match.
	FetchStream(ctx context.Context, sourceID string, m media.MediaDescriptor) (*media.UpstreamStream, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, sourceID string, m media.MediaDescriptor) (*media.UpstreamStream, error)

func (f FetcherFunc) FetchStream(ctx context.Context, sourceID string, m media.MediaDescriptor) (*media.UpstreamStream, error) {
	return f(ctx, sourceID, m)
}

// StaticCatalog serves a fixed list, for config-declared sources and tests.
type StaticCatalog struct {
	Label     string
	Providers []media.ProviderDescriptor
}

func (s StaticCatalog) Name() string { return s.Label }

func (s StaticCatalog) ListProviders(context.Context) ([]media.ProviderDescriptor, error) {
	out := make([]media.ProviderDescriptor, len(s.Providers))
	copy(out, s.Providers)
	return out, nil
}
