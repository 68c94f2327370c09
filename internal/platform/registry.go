package platform

import (
	"context"
	"strings"

	"github.com/MelodifyLabs/melody-call-service/internal/domain"
)

// Adapter is one music platform: URL recognition, metadata lookup, keyword
// search, and the platform's download strategy.
type Adapter interface {
	Name() domain.Platform
	// Matches reports whether the query is a URL this adapter owns.
	Matches(query string) bool
	// Resolve returns metadata for a matched URL (single track or playlist).
	Resolve(ctx context.Context, url string) (*domain.PlatformTracks, error)
	// Search finds tracks for a free-text query.
	Search(ctx context.Context, query string) (*domain.PlatformTracks, error)
	// Track returns the downloadable details for one track id or URL.
	Track(ctx context.Context, id string) (*domain.ResolvedTrack, error)
	// Download fetches the track to local storage and returns the file path.
	Download(ctx context.Context, track *domain.ResolvedTrack, video bool) (string, error)
}

// Registry picks the adapter for a query: the ordered adapter list is probed
// by URL pattern, and free-text queries fall through to the configured
// default platform.
type Registry struct {
	adapters []Adapter
	fallback Adapter
}

// NewRegistry builds a registry. defaultService selects the fallback adapter
// by platform name; an unknown name falls back to the first adapter.
func NewRegistry(defaultService string, adapters ...Adapter) *Registry {
	r := &Registry{adapters: adapters}
	r.fallback = adapters[0]
	for _, a := range adapters {
		if strings.EqualFold(string(a.Name()), defaultService) {
			r.fallback = a
			break
		}
	}
	return r
}

// For returns the adapter owning the query's URL, or the default adapter for
// free text.
func (r *Registry) For(query string) Adapter {
	for _, a := range r.adapters {
		if a.Matches(query) {
			return a
		}
	}
	return r.fallback
}

// IsURL reports whether any registered adapter recognizes the query as a URL.
func (r *Registry) IsURL(query string) bool {
	for _, a := range r.adapters {
		if a.Matches(query) {
			return true
		}
	}
	return false
}
