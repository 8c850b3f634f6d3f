package media

import (
	"fmt"
	"maps"
	"slices"
)

// Status is the live state of one provider during a resolution run.
type Status int

const (
	StatusWaiting Status = iota
	StatusPending
	StatusSuccess
	StatusNotFound
	StatusFailure
)

func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusPending:
		return "pending"
	case StatusSuccess:
		return "success"
	case StatusNotFound:
		return "notfound"
	case StatusFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can follow.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusNotFound || s == StatusFailure
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for st := StatusWaiting; st <= StatusFailure; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// AttemptStatus is emitted on every status transition.
type AttemptStatus struct {
	ProviderID string  `json:"providerId"`
	Status     Status  `json:"status"`
	Reason     string  `json:"reason,omitempty"`
	Percentage float64 `json:"percentage"`
	Err        error   `json:"-"`
}

// Quality is the canonical quality enum.
type Quality string

const (
	Quality4K      Quality = "4k"
	Quality1080    Quality = "1080"
	Quality720     Quality = "720"
	Quality480     Quality = "480"
	Quality360     Quality = "360"
	QualityUnknown Quality = "unknown"
)

// Qualities lists the canonical qualities from best to worst.
var Qualities = []Quality{Quality4K, Quality1080, Quality720, Quality480, Quality360, QualityUnknown}

// StreamKind tags the canonical stream variant.
type StreamKind string

const (
	KindAdaptive StreamKind = "adaptive"
	KindFile     StreamKind = "file"
)

// StreamFile is one discrete quality of a file stream.
type StreamFile struct {
	FileType string `json:"type"`
	URL      string `json:"url"`
}

// Caption is a caption track attached to a stream.
type Caption struct {
	ID              string `json:"id"`
	Language        string `json:"language"`
	URL             string `json:"url"`
	Format          string `json:"format"`
	HearingImpaired bool   `json:"hearingImpaired"`
}

// CanonicalStream is the normalized, player-ready stream.
// PlaylistURL and Headers are set for adaptive streams, Qualities for file streams.
type CanonicalStream struct {
	Kind        StreamKind             `json:"kind"`
	PlaylistURL string                 `json:"playlist,omitempty"`
	Headers     map[string]string      `json:"headers,omitempty"`
	Qualities   map[Quality]StreamFile `json:"qualities,omitempty"`
	Captions    []Caption              `json:"captions"`
}

// Clone returns a copy of s that shares no maps or slices with it.
func (s CanonicalStream) Clone() CanonicalStream {
	s.Headers = maps.Clone(s.Headers)
	s.Qualities = maps.Clone(s.Qualities)
	s.Captions = slices.Clone(s.Captions)
	return s
}

// Upstream shape tags as sent by providers.
const (
	ShapeHLS  = "hls"
	ShapeFile = "file"
)

// UpstreamFile is a per-quality entry in a provider response.
type UpstreamFile struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// UpstreamStream is the raw stream description returned by a provider.
type UpstreamStream struct {
	Type      string                  `json:"type"`
	Playlist  string                  `json:"playlist,omitempty"`
	Headers   map[string]string       `json:"headers,omitempty"`
	Qualities map[string]UpstreamFile `json:"qualities,omitempty"`
	Captions  []Caption               `json:"captions,omitempty"`
}
