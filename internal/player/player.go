// Package player hands a resolved stream to an external media player.
// All player invocations use exec.CommandContext with explicit argument
// slices, so nothing in a stream URL or header is ever shell-interpreted.
package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"cinefetch/internal/media"
	"cinefetch/internal/quality"
)

// Request describes one playback.
type Request struct {
	Stream   media.CanonicalStream
	Title    string
	Quality  media.Quality
	SubFiles []string
}

// Player is the interface for media player implementations.
type Player interface {
	// Play blocks until the player exits.
	Play(ctx context.Context, req Request) error

	// Name returns the player name.
	Name() string

	// Available checks if the player binary exists in PATH.
	Available() bool
}

// New creates a player by name.
func New(name string) Player {
	switch strings.ToLower(name) {
	case "vlc":
		return &VLC{}
	case "iina", "celluloid":
		return &Generic{name: strings.ToLower(name)}
	default:
		return &MPV{}
	}
}

// target picks the URL to open for req.
func target(req Request) (string, error) {
	url, _, ok := quality.Best(req.Stream, req.Quality)
	if !ok {
		return "", errors.New("stream has nothing to play")
	}
	return url, nil
}

// sortedHeaders returns "Key: Value" pairs in a stable order.
func sortedHeaders(h map[string]string) []string {
	out := make([]string, 0, len(h))
	for k, v := range h {
		out = append(out, k+": "+v)
	}
	sort.Strings(out)
	return out
}

func lookup(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// run starts the player attached to the terminal. A non-zero exit is how
// most players report a user quit, so it is not an error.
func run(ctx context.Context, name string, args []string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("running %s: %w", name, err)
	}
	return nil
}
