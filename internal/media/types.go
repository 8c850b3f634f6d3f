// Package media defines shared types for the cinefetch application.
package media

import (
	"errors"
	"fmt"
	"strings"
)

// MediaType represents whether content is a movie or TV show.
type MediaType int

const (
	Movie MediaType = iota
	Show
)

func (m MediaType) String() string {
	switch m {
	case Movie:
		return "movie"
	case Show:
		return "show"
	default:
		return "unknown"
	}
}

// ParseMediaType accepts "movie" and "show" (plus the tv/series aliases).
func ParseMediaType(s string) (MediaType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "movies", "":
		return Movie, nil
	case "show", "shows", "tv", "series":
		return Show, nil
	default:
		return Movie, fmt.Errorf("unknown media type %q", s)
	}
}

func (m MediaType) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *MediaType) UnmarshalText(b []byte) error {
	t, err := ParseMediaType(string(b))
	if err != nil {
		return err
	}
	*m = t
	return nil
}

// Ref points at a season or episode by number and metadata id.
type Ref struct {
	Number int    `json:"number"`
	TMDBID string `json:"tmdbId"`
}

// MediaDescriptor identifies what a stream should be resolved for.
type MediaDescriptor struct {
	Type    MediaType `json:"type"`
	TMDBID  string    `json:"tmdbId"`
	Season  *Ref      `json:"season,omitempty"`
	Episode *Ref      `json:"episode,omitempty"`
}

// NewMovie builds a movie descriptor.
func NewMovie(tmdbID string) MediaDescriptor {
	return MediaDescriptor{Type: Movie, TMDBID: tmdbID}
}

// NewEpisode builds a show descriptor for one episode.
func NewEpisode(tmdbID string, season, episode Ref) MediaDescriptor {
	return MediaDescriptor{Type: Show, TMDBID: tmdbID, Season: &season, Episode: &episode}
}

// Validate checks the season/episode invariants.
func (m MediaDescriptor) Validate() error {
	if m.TMDBID == "" {
		return errors.New("tmdb id is required")
	}
	if (m.Season == nil) != (m.Episode == nil) {
		return errors.New("season and episode must be given together")
	}
	switch m.Type {
	case Movie:
		if m.Season != nil {
			return errors.New("movies cannot have a season or episode")
		}
	case Show:
		if m.Season == nil {
			return errors.New("shows need a season and episode")
		}
		if m.Season.Number < 1 || m.Episode.Number < 1 {
			return errors.New("season and episode numbers start at 1")
		}
	default:
		return fmt.Errorf("unknown media type %d", m.Type)
	}
	return nil
}

// SeasonNumber returns the season number, or 0 for movies.
func (m MediaDescriptor) SeasonNumber() int {
	if m.Season == nil {
		return 0
	}
	return m.Season.Number
}

// EpisodeNumber returns the episode number, or 0 for movies.
func (m MediaDescriptor) EpisodeNumber() int {
	if m.Episode == nil {
		return 0
	}
	return m.Episode.Number
}

func (m MediaDescriptor) String() string {
	if m.Type == Show && m.Season != nil && m.Episode != nil {
		return fmt.Sprintf("%s S%02dE%02d", m.TMDBID, m.Season.Number, m.Episode.Number)
	}
	return m.TMDBID
}

// ProviderDescriptor is one entry of the source catalog.
type ProviderDescriptor struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	MediaTypes []MediaType `json:"mediaTypes,omitempty"`
}

// Supports reports whether the provider serves the given media type.
// An empty MediaTypes list supports everything.
func (p ProviderDescriptor) Supports(mt MediaType) bool {
	if len(p.MediaTypes) == 0 {
		return true
	}
	for _, t := range p.MediaTypes {
		if t == mt {
			return true
		}
	}
	return false
}

// SourcePreferences is the user policy that shapes the attempt order.
type SourcePreferences struct {
	Order             []string `toml:"order" json:"order"`
	OrderEnabled      bool     `toml:"order_enabled" json:"orderEnabled"`
	DisabledIDs       []string `toml:"disabled" json:"disabled"`
	LastSuccessfulID  string   `toml:"last_successful" json:"lastSuccessful,omitempty"`
	PinLastSuccessful bool     `toml:"pin_last_successful" json:"pinLastSuccessful"`
}

// IsDisabled reports whether id is in the disabled set.
func (p SourcePreferences) IsDisabled(id string) bool {
	for _, d := range p.DisabledIDs {
		if d == id {
			return true
		}
	}
	return false
}
