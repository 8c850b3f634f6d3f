package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"cinefetch/internal/httputil"
	"cinefetch/internal/media"
	"cinefetch/internal/player"
	"cinefetch/internal/quality"
	"cinefetch/internal/resolve"
	"cinefetch/internal/subtitle"
	"cinefetch/internal/ui"
)

// mediaFlags are the flags that describe what to resolve.
type mediaFlags struct {
	kind      string
	season    int
	episode   int
	seasonID  string
	episodeID string
	title     string
	sources   []string
}

func (f *mediaFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.kind, "type", "t", "movie", "Media type: movie | show")
	cmd.Flags().IntVarP(&f.season, "season", "s", 0, "Season number (shows)")
	cmd.Flags().IntVarP(&f.episode, "episode", "e", 0, "Episode number (shows)")
	cmd.Flags().StringVar(&f.seasonID, "season-id", "", "TMDB id of the season")
	cmd.Flags().StringVar(&f.episodeID, "episode-id", "", "TMDB id of the episode")
	cmd.Flags().StringVar(&f.title, "title", "", "Title shown by the player")
	cmd.Flags().StringSliceVar(&f.sources, "source", nil, "Try only these sources, in this order")
}

func (f *mediaFlags) descriptor(tmdbID string) (media.MediaDescriptor, error) {
	mt, err := media.ParseMediaType(f.kind)
	if err != nil {
		return media.MediaDescriptor{}, err
	}
	m := media.NewMovie(tmdbID)
	if mt == media.Show {
		m = media.NewEpisode(tmdbID,
			media.Ref{Number: f.season, TMDBID: f.seasonID},
			media.Ref{Number: f.episode, TMDBID: f.episodeID},
		)
	}
	if err := m.Validate(); err != nil {
		return media.MediaDescriptor{}, fmt.Errorf("invalid media: %w", err)
	}
	if err := httputil.ValidateNumericID(tmdbID); err != nil {
		return media.MediaDescriptor{}, fmt.Errorf("invalid tmdb id: %w", err)
	}
	return m, nil
}

func (f *mediaFlags) displayTitle(m media.MediaDescriptor) string {
	if f.title == "" {
		return m.String()
	}
	if m.Type == media.Show {
		return fmt.Sprintf("%s S%02dE%02d", f.title, m.SeasonNumber(), m.EpisodeNumber())
	}
	return f.title
}

var (
	resolveFlags mediaFlags
	playFlags    mediaFlags
	flagPick     bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <tmdb-id>",
	Short: "Find a playable stream and print it",
	Args:  cobra.ExactArgs(1),
	RunE:  resolveRun,
}

var playCmd = &cobra.Command{
	Use:   "play <tmdb-id>",
	Short: "Find a playable stream and open it in the player",
	Args:  cobra.ExactArgs(1),
	RunE:  playRun,
}

func init() {
	resolveFlags.bind(resolveCmd)
	playFlags.bind(playCmd)
	playCmd.Flags().BoolVar(&flagPick, "pick", false, "Choose the source by hand")
}

// signalContext is cancelled on Ctrl-C. Resolution stops before the next
// source rather than abandoning the one in flight.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt)
}

// interactive reports whether the live status view should be used.
func interactive() bool {
	return !flagJSON && ui.IsTerminal(os.Stderr)
}

// runResolution resolves m with the live view when attached to a terminal
// and plain progress lines otherwise. ids overrides the computed order.
func runResolution(ctx context.Context, a *app, m media.MediaDescriptor, title string, ids []string) (*resolve.Result, error) {
	session := a.engine.NewSession()

	work := func(observe func(media.AttemptStatus)) (*resolve.Result, error) {
		if len(ids) > 0 {
			return session.Resolve(ctx, m, ids, observe)
		}
		providers, err := a.registry.Populate(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading source catalog: %w", err)
		}
		return session.ResolveFor(ctx, m, providers, observe)
	}

	if !interactive() {
		return work(ui.PlainObserver(os.Stderr))
	}

	var res *resolve.Result
	err := ui.RunStatus(os.Stderr, "Resolving "+title, session.Cancel, func(observe func(media.AttemptStatus)) error {
		var err error
		res, err = work(observe)
		return err
	})
	return res, err
}

func resolveRun(cmd *cobra.Command, args []string) error {
	m, err := resolveFlags.descriptor(args[0])
	if err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	res, err := runResolution(ctx, a, m, resolveFlags.displayTitle(m), resolveFlags.sources)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if flagJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	preferred, _ := quality.NormalizeQuality(cfg.Quality)
	url, q, _ := quality.Best(res.Stream, preferred)
	fmt.Fprintf(out, "source:  %s\n", res.ProviderID)
	fmt.Fprintf(out, "kind:    %s\n", res.Stream.Kind)
	if res.Stream.Kind == media.KindFile {
		fmt.Fprintf(out, "quality: %s\n", q)
	}
	fmt.Fprintf(out, "url:     %s\n", url)
	for k, v := range res.Stream.Headers {
		fmt.Fprintf(out, "header:  %s: %s\n", k, v)
	}
	for _, c := range res.Stream.Captions {
		fmt.Fprintf(out, "caption: %s %s\n", c.Language, c.URL)
	}
	return nil
}

func playRun(cmd *cobra.Command, args []string) error {
	m, err := playFlags.descriptor(args[0])
	if err != nil {
		return err
	}
	title := playFlags.displayTitle(m)

	p := player.New(cfg.Player)
	if !p.Available() {
		return fmt.Errorf("player %q not found in PATH", cfg.Player)
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd)
	defer stop()

	ids := playFlags.sources
	if flagPick {
		id, err := pickSource(ctx, a, m, nil)
		if err != nil {
			return err
		}
		ids = []string{id}
	}

	res, err := runResolution(ctx, a, m, title, ids)
	var failed *resolve.FailedError
	if errors.As(err, &failed) && interactive() {
		// every source failed; offer a manual switch
		ok, cerr := ui.Confirm("No source worked. Pick one by hand?")
		if cerr != nil || !ok {
			return err
		}
		id, perr := pickSource(ctx, a, m, failed.Statuses)
		if perr != nil {
			return perr
		}
		res, err = runResolution(ctx, a, m, title, []string{id})
	}
	if err != nil {
		return err
	}
	logger.WithField("provider", res.ProviderID).Info("playing")

	req := player.Request{Stream: res.Stream, Title: title}
	req.Quality, _ = quality.NormalizeQuality(cfg.Quality)

	if !flagNoSubs {
		if best := subtitle.BestMatch(res.Stream.Captions, cfg.SubsLanguage); best != nil {
			tmp, err := subtitle.NewTempDir()
			if err == nil {
				defer tmp.Cleanup()
				path, err := tmp.Download(ctx, a.client, *best, res.Stream.Headers)
				if err != nil {
					// continue without captions
					logger.WithError(err).Warn("caption download failed")
				} else {
					req.SubFiles = append(req.SubFiles, path)
				}
			}
		}
	}

	if err := p.Play(ctx, req); err != nil {
		return fmt.Errorf("playback failed: %w", err)
	}
	return nil
}

// pickSource lets the user choose among the eligible sources for m.
func pickSource(ctx context.Context, a *app, m media.MediaDescriptor, last []media.AttemptStatus) (string, error) {
	providers, err := a.registry.Populate(ctx)
	if err != nil {
		return "", fmt.Errorf("loading source catalog: %w", err)
	}
	ids, err := a.engine.Plan(providers, m)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", errors.New("no sources available")
	}

	names := make(map[string]string, len(providers))
	for _, p := range providers {
		names[p.ID] = p.Name
	}
	return ui.PickSource(ids, names, last)
}
