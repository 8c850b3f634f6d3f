package player

import "context"

// MPV implements the Player interface for mpv.
type MPV struct{}

func (m *MPV) Name() string { return "mpv" }

func (m *MPV) Available() bool { return lookup("mpv") }

// Play launches mpv with the best URL of the stream.
func (m *MPV) Play(ctx context.Context, req Request) error {
	args, err := mpvArgs(req)
	if err != nil {
		return err
	}
	return run(ctx, "mpv", args)
}

// mpvArgs builds the mpv-style argument list shared with players that
// accept mpv flags.
func mpvArgs(req Request) ([]string, error) {
	url, err := target(req)
	if err != nil {
		return nil, err
	}

	args := []string{url, "--really-quiet"}
	if req.Title != "" {
		args = append(args, "--force-media-title="+req.Title)
	}

	// -append adds one list item without splitting on commas
	for _, h := range sortedHeaders(req.Stream.Headers) {
		args = append(args, "--http-header-fields-append="+h)
	}

	for _, f := range req.SubFiles {
		args = append(args, "--sub-file="+f)
	}
	return args, nil
}
