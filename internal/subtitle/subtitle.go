// Package subtitle picks caption tracks and stages them in a private temp
// directory for the player.
package subtitle

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"

	"cinefetch/internal/httputil"
	"cinefetch/internal/media"
)

// languageCodes maps common language names to the ISO 639-1 codes
// providers use in caption metadata.
var languageCodes = map[string]string{
	"english":    "en",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
	"dutch":      "nl",
	"japanese":   "ja",
	"korean":     "ko",
	"chinese":    "zh",
	"arabic":     "ar",
	"russian":    "ru",
}

func normalize(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if code, ok := languageCodes[l]; ok {
		return code
	}
	// "en-US" and "en_GB" match "en"
	if i := strings.IndexAny(l, "-_"); i > 0 {
		l = l[:i]
	}
	return l
}

// Matches reports whether a caption is in the given language. Both names
// ("English") and codes ("en", "en-US") are accepted on either side.
func Matches(c media.Caption, language string) bool {
	if language == "" {
		return true
	}
	if normalize(c.Language) == normalize(language) {
		return true
	}
	// labels like "English (CC)"; codes are too short to match safely
	return len(language) > 3 && strings.Contains(strings.ToLower(c.Language), strings.ToLower(language))
}

// Filter returns captions matching the preferred language.
func Filter(captions []media.Caption, language string) []media.Caption {
	if language == "" {
		return captions
	}
	return lo.Filter(captions, func(c media.Caption, _ int) bool {
		return Matches(c, language)
	})
}

// BestMatch returns the best caption for the given language, preferring
// tracks that are not for the hearing impaired.
func BestMatch(captions []media.Caption, language string) *media.Caption {
	filtered := Filter(captions, language)
	if len(filtered) == 0 {
		return nil
	}

	if c, ok := lo.Find(filtered, func(c media.Caption) bool { return !c.HearingImpaired }); ok {
		return &c
	}
	return &filtered[0]
}

// TempDir manages a secure temporary directory for caption files.
type TempDir struct {
	path string
}

// NewTempDir creates a randomized temporary directory for caption files.
func NewTempDir() (*TempDir, error) {
	dir, err := os.MkdirTemp("", "cinefetch-subs-*")
	if err != nil {
		return nil, fmt.Errorf("creating subtitle temp dir: %w", err)
	}
	return &TempDir{path: dir}, nil
}

// Path returns the directory path.
func (t *TempDir) Path() string { return t.path }

// Cleanup removes the temporary directory and all contents.
func (t *TempDir) Cleanup() {
	if t.path != "" {
		os.RemoveAll(t.path)
	}
}

// Download fetches a caption into the temp directory and returns the local
// path. headers are the stream's request headers, which some caption hosts
// also require.
func (t *TempDir) Download(ctx context.Context, client *http.Client, c media.Caption, headers map[string]string) (string, error) {
	body, err := httputil.GetBytes(ctx, client, c.URL, headers)
	if err != nil {
		return "", fmt.Errorf("downloading caption: %w", err)
	}

	localPath := filepath.Join(t.path, fileName(c))
	if err := os.WriteFile(localPath, body, 0600); err != nil {
		return "", fmt.Errorf("writing caption file: %w", err)
	}
	return localPath, nil
}

func fileName(c media.Caption) string {
	ext := strings.ToLower(c.Format)
	if ext == "" || httputil.ValidateID(ext) != nil {
		ext = "vtt"
	}
	name := c.ID
	if name == "" || httputil.ValidateID(name) != nil {
		name = "caption-" + normalize(c.Language)
		if httputil.ValidateID(name) != nil {
			name = "caption"
		}
	}
	return name + "." + ext
}
