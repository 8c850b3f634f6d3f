// Package quality maps heterogeneous provider stream descriptions onto the
// canonical stream shape used by the resolver and the player.
package quality

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"cinefetch/internal/media"
)

// ErrUnrecognizedShape is returned when the upstream shape tag is neither
// an adaptive playlist nor a file map.
var ErrUnrecognizedShape = errors.New("unrecognized stream shape")

var qualityTable = map[string]media.Quality{
	"2160":    media.Quality4K,
	"4k":      media.Quality4K,
	"1080":    media.Quality1080,
	"720":     media.Quality720,
	"480":     media.Quality480,
	"360":     media.Quality360,
	"unknown": media.QualityUnknown,
}

var allowedFileTypes = map[string]bool{
	"mp4": true,
}

// NormalizeQuality maps a provider label such as "1080p" or "2160" to a
// canonical quality. The second return is false for labels not in the table.
func NormalizeQuality(label string) (media.Quality, bool) {
	l := strings.ToLower(strings.TrimSpace(label))
	l = strings.TrimSuffix(l, "p")
	q, ok := qualityTable[l]
	return q, ok
}

// IsAllowedFileType reports whether a file entry's container may be played.
func IsAllowedFileType(label string) bool {
	return allowedFileTypes[strings.ToLower(strings.TrimSpace(label))]
}

// Normalizer converts upstream streams. The zero value logs nothing.
type Normalizer struct {
	Logger logrus.FieldLogger
}

// ToCanonical is Normalizer.ToCanonical without logging.
func ToCanonical(up media.UpstreamStream) (media.CanonicalStream, error) {
	return Normalizer{}.ToCanonical(up)
}

// ToCanonical converts an upstream stream. Unrecognized quality labels and
// file types drop the entry, never the stream.
func (n Normalizer) ToCanonical(up media.UpstreamStream) (media.CanonicalStream, error) {
	switch up.Type {
	case media.ShapeHLS:
		return media.CanonicalStream{
			Kind:        media.KindAdaptive,
			PlaylistURL: up.Playlist,
			Headers:     copyHeaders(up.Headers),
			Captions:    n.captions(up.Captions),
		}, nil

	case media.ShapeFile:
		qualities := make(map[media.Quality]media.StreamFile, len(up.Qualities))
		// labels in sorted order so that aliases of one quality resolve the same way every time
		labels := lo.Keys(up.Qualities)
		sort.Strings(labels)
		for _, label := range labels {
			f := up.Qualities[label]
			q, ok := NormalizeQuality(label)
			if !ok {
				n.debug("dropping unrecognized quality", label)
				continue
			}
			if !IsAllowedFileType(f.Type) {
				n.debug("dropping unsupported file type", f.Type)
				continue
			}
			if f.URL == "" {
				n.debug("dropping quality without url", label)
				continue
			}
			if _, dup := qualities[q]; dup {
				n.debug("dropping duplicate of "+string(q), label)
				continue
			}
			qualities[q] = media.StreamFile{FileType: strings.ToLower(f.Type), URL: f.URL}
		}
		return media.CanonicalStream{
			Kind:      media.KindFile,
			Qualities: qualities,
			Captions:  n.captions(up.Captions),
		}, nil

	default:
		return media.CanonicalStream{}, fmt.Errorf("%w: %q", ErrUnrecognizedShape, up.Type)
	}
}

func (n Normalizer) captions(in []media.Caption) []media.Caption {
	out := make([]media.Caption, 0, len(in))
	for _, c := range in {
		if c.URL == "" {
			n.debug("dropping caption without url", c.Language)
			continue
		}
		out = append(out, c)
	}
	return out
}

func (n Normalizer) debug(msg, label string) {
	if n.Logger != nil {
		n.Logger.WithField("label", label).Debug(msg)
	}
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Usable reports whether a canonical stream has anything to play.
func Usable(s media.CanonicalStream) bool {
	switch s.Kind {
	case media.KindAdaptive:
		return s.PlaylistURL != ""
	case media.KindFile:
		return len(s.Qualities) > 0
	default:
		return false
	}
}

// Best returns the URL a player should open and the quality it carries.
// For file streams the preferred quality wins when present, otherwise the
// highest available one.
func Best(s media.CanonicalStream, preferred media.Quality) (string, media.Quality, bool) {
	if s.Kind == media.KindAdaptive {
		return s.PlaylistURL, media.QualityUnknown, s.PlaylistURL != ""
	}
	if f, ok := s.Qualities[preferred]; ok {
		return f.URL, preferred, true
	}
	for _, q := range media.Qualities {
		if f, ok := s.Qualities[q]; ok {
			return f.URL, q, true
		}
	}
	return "", "", false
}
