package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"cinefetch/internal/httputil"
	"cinefetch/internal/media"
)

// APIClient talks to the upstream streaming API. It serves both as a
// source catalog and as the fetch capability for every source it lists.
type APIClient struct {
	base   string // e.g., "api.example.com"
	client *http.Client
}

// NewAPIClient creates a client for the API at base. A nil client uses the
// hardened default.
func NewAPIClient(base string, client *http.Client) *APIClient {
	if client == nil {
		client = httputil.NewClient()
	}
	return &APIClient{base: base, client: client}
}

func (a *APIClient) baseURL() string {
	if strings.HasPrefix(a.base, "https://") {
		return strings.TrimRight(a.base, "/")
	}
	return "https://" + strings.TrimRight(a.base, "/")
}

// Name identifies the API in logs.
func (a *APIClient) Name() string { return a.base }

type sourcesResponse struct {
	Sources []media.ProviderDescriptor `json:"sources"`
}

// ListProviders returns the sources the API exposes.
func (a *APIClient) ListProviders(ctx context.Context) ([]media.ProviderDescriptor, error) {
	var resp sourcesResponse
	if err := httputil.GetJSON(ctx, a.client, httputil.BuildURL(a.baseURL(), nil, "sources"), &resp); err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}

	out := make([]media.ProviderDescriptor, 0, len(resp.Sources))
	for _, p := range resp.Sources {
		if err := httputil.ValidateID(p.ID); err != nil {
			continue
		}
		if p.Name == "" {
			p.Name = p.ID
		}
		out = append(out, p)
	}
	return out, nil
}

type streamResponse struct {
	Found  *bool                 `json:"found"`
	Reason string                `json:"reason"`
	Stream *media.UpstreamStream `json:"stream"`
}

// FetchStream asks source sourceID for a stream of m.
func (a *APIClient) FetchStream(ctx context.Context, sourceID string, m media.MediaDescriptor) (*media.UpstreamStream, error) {
	if err := httputil.ValidateID(sourceID); err != nil {
		return nil, fmt.Errorf("invalid source ID: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid media: %w", err)
	}

	u := httputil.BuildURL(a.baseURL(), streamQuery(m), "sources", sourceID, "stream")

	var resp streamResponse
	if err := httputil.GetJSON(ctx, a.client, u, &resp); err != nil {
		if errors.Is(err, httputil.ErrNotFound) {
			return nil, fmt.Errorf("source %s: %w", sourceID, ErrNotFound)
		}
		return nil, fmt.Errorf("fetching stream from %s: %w", sourceID, err)
	}

	if resp.Found != nil && !*resp.Found {
		reason := resp.Reason
		if reason == "" {
			reason = "no match"
		}
		return nil, fmt.Errorf("source %s: %s: %w", sourceID, reason, ErrNotFound)
	}

	return resp.Stream, nil
}

func streamQuery(m media.MediaDescriptor) url.Values {
	q := url.Values{}
	q.Set("type", m.Type.String())
	q.Set("tmdb", m.TMDBID)
	if m.Season != nil && m.Episode != nil {
		q.Set("season", strconv.Itoa(m.Season.Number))
		q.Set("episode", strconv.Itoa(m.Episode.Number))
		if m.Season.TMDBID != "" {
			q.Set("seasonId", m.Season.TMDBID)
		}
		if m.Episode.TMDBID != "" {
			q.Set("episodeId", m.Episode.TMDBID)
		}
	}
	return q
}
