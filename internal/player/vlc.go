package player

import (
	"context"
	"strings"
)

// VLC implements the Player interface for VLC media player.
type VLC struct{}

func (v *VLC) Name() string { return "vlc" }

func (v *VLC) Available() bool { return lookup("vlc") }

// Play launches VLC.
func (v *VLC) Play(ctx context.Context, req Request) error {
	args, err := vlcArgs(req)
	if err != nil {
		return err
	}
	return run(ctx, "vlc", args)
}

// vlcArgs builds VLC flags. VLC only understands the Referer and
// User-Agent headers; any others are dropped.
func vlcArgs(req Request) ([]string, error) {
	url, err := target(req)
	if err != nil {
		return nil, err
	}

	args := []string{url, "--play-and-exit"}
	if req.Title != "" {
		args = append(args, "--meta-title", req.Title)
	}
	for k, val := range req.Stream.Headers {
		switch strings.ToLower(k) {
		case "referer":
			args = append(args, "--http-referrer="+val)
		case "user-agent":
			args = append(args, "--http-user-agent="+val)
		}
	}
	if len(req.SubFiles) > 0 {
		args = append(args, "--sub-file", req.SubFiles[0])
	}
	return args, nil
}
