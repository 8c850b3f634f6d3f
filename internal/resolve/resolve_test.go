package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinefetch/internal/cache"
	"cinefetch/internal/media"
	"cinefetch/internal/prefs"
	"cinefetch/internal/provider"
	"cinefetch/internal/telemetry"
)

type fetchFunc func(ctx context.Context, m media.MediaDescriptor) (*media.UpstreamStream, error)

// fakeFetcher dispatches by source id and counts calls.
type fakeFetcher struct {
	mu       sync.Mutex
	handlers map[string]fetchFunc
	calls    map[string]int
}

func newFakeFetcher(handlers map[string]fetchFunc) *fakeFetcher {
	return &fakeFetcher{handlers: handlers, calls: map[string]int{}}
}

func (f *fakeFetcher) FetchStream(ctx context.Context, id string, m media.MediaDescriptor) (*media.UpstreamStream, error) {
	f.mu.Lock()
	f.calls[id]++
	h, ok := f.handlers[id]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unexpected source %q", id)
	}
	return h(ctx, m)
}

func (f *fakeFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type recordingReporter struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (r *recordingReporter) Report(e telemetry.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingReporter) all() []telemetry.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]telemetry.Event(nil), r.events...)
}

type statusLog struct {
	mu       sync.Mutex
	statuses []media.AttemptStatus
}

func (s *statusLog) observe(st media.AttemptStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *statusLog) all() []media.AttemptStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]media.AttemptStatus(nil), s.statuses...)
}

func hls(url string) fetchFunc {
	return func(context.Context, media.MediaDescriptor) (*media.UpstreamStream, error) {
		return &media.UpstreamStream{Type: media.ShapeHLS, Playlist: url}, nil
	}
}

func fails(err error) fetchFunc {
	return func(context.Context, media.MediaDescriptor) (*media.UpstreamStream, error) {
		return nil, err
	}
}

func returns(up *media.UpstreamStream) fetchFunc {
	return func(context.Context, media.MediaDescriptor) (*media.UpstreamStream, error) {
		return up, nil
	}
}

var episode = media.NewEpisode("1396", media.Ref{Number: 1, TMDBID: "s1"}, media.Ref{Number: 3, TMDBID: "e3"})

func terminalCount(st []media.AttemptStatus) int {
	n := 0
	for _, s := range st {
		if s.Status.Terminal() {
			n++
		}
	}
	return n
}

func TestFallbackToThirdProvider(t *testing.T) {
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": fails(provider.ErrNotFound),
		"beta":  fails(errors.New("upstream exploded")),
		"gamma": hls("https://cdn.example/ep.m3u8"),
		"delta": hls("https://cdn.example/never.m3u8"),
	})
	rep := &recordingReporter{}
	c := cache.New(0, 0)
	e := New(f, Options{Cache: c, Reporter: rep})

	log := &statusLog{}
	res, err := e.Resolve(context.Background(), episode, []string{"alpha", "beta", "gamma", "delta"}, log.observe)
	require.NoError(t, err)

	assert.Equal(t, "gamma", res.ProviderID)
	assert.Equal(t, media.KindAdaptive, res.Stream.Kind)
	assert.Equal(t, "https://cdn.example/ep.m3u8", res.Stream.PlaylistURL)
	assert.False(t, res.FromCache)

	require.Len(t, res.Statuses, 4)
	assert.Equal(t, media.StatusNotFound, res.Statuses[0].Status)
	assert.Equal(t, media.StatusFailure, res.Statuses[1].Status)
	assert.Equal(t, media.StatusSuccess, res.Statuses[2].Status)
	assert.Equal(t, media.StatusWaiting, res.Statuses[3].Status)
	assert.Equal(t, 3, terminalCount(res.Statuses))
	assert.Equal(t, 0, f.count("delta"), "nothing after the first success is attempted")

	_, ok := c.Get(cache.KeyFor(episode, "gamma"))
	assert.True(t, ok, "successful stream should be cached")
	_, ok = c.Get(cache.KeyFor(episode, "alpha"))
	assert.False(t, ok)

	events := rep.all()
	require.Len(t, events, 3)
	assert.Equal(t, "alpha", events[0].ProviderID)
	assert.Equal(t, media.StatusNotFound, events[0].Status)
	assert.Equal(t, media.StatusFailure, events[1].Status)
	assert.Equal(t, "upstream exploded", events[1].Error)
	assert.Equal(t, media.StatusSuccess, events[2].Status)
}

func TestObserverSeesOrderedTransitions(t *testing.T) {
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": fails(provider.ErrNotFound),
		"beta":  hls("https://cdn.example/b.m3u8"),
	})
	e := New(f, Options{})

	log := &statusLog{}
	_, err := e.Resolve(context.Background(), media.NewMovie("550"), []string{"alpha", "beta"}, log.observe)
	require.NoError(t, err)

	type step struct {
		id  string
		st  media.Status
		pct float64
	}
	var got []step
	for _, s := range log.all() {
		got = append(got, step{s.ProviderID, s.Status, s.Percentage})
	}
	want := []step{
		{"alpha", media.StatusWaiting, 0},
		{"beta", media.StatusWaiting, 0},
		{"alpha", media.StatusPending, 0},
		{"alpha", media.StatusNotFound, 50},
		{"beta", media.StatusPending, 50},
		{"beta", media.StatusSuccess, 100},
	}
	assert.Equal(t, want, got)
}

func TestCacheHitSkipsFetch(t *testing.T) {
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": hls("https://cdn.example/a.m3u8"),
	})
	store := prefs.NewMemory(media.SourcePreferences{PinLastSuccessful: true})
	rep := &recordingReporter{}
	e := New(f, Options{Prefs: store, Reporter: rep})
	m := media.NewMovie("550")

	first, err := e.Resolve(context.Background(), m, []string{"alpha"}, nil)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := e.Resolve(context.Background(), m, []string{"alpha"}, nil)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Stream.PlaylistURL, second.Stream.PlaylistURL)
	assert.Equal(t, media.StatusSuccess, second.Statuses[0].Status)
	assert.Equal(t, 1, f.count("alpha"), "second resolve should be served from cache")
	assert.Len(t, rep.all(), 1, "cache hits are not reported")

	p, _ := store.Load()
	assert.Equal(t, "alpha", p.LastSuccessfulID)
}

func TestCacheIsPerProvider(t *testing.T) {
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": fails(provider.ErrNotFound),
		"beta":  hls("https://cdn.example/b.m3u8"),
	})
	c := cache.New(0, 0)
	m := media.NewMovie("550")
	c.Set(cache.KeyFor(m, "beta"), media.CanonicalStream{Kind: media.KindAdaptive, PlaylistURL: "https://cdn.example/cached.m3u8"})
	e := New(f, Options{Cache: c})

	res, err := e.Resolve(context.Background(), m, []string{"alpha", "beta"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count("alpha"), "alpha has no cache entry and must be fetched")
	assert.Equal(t, 0, f.count("beta"))
	assert.True(t, res.FromCache)
	assert.Equal(t, "https://cdn.example/cached.m3u8", res.Stream.PlaylistURL)
}

func TestEmptyFileStreamFallsThrough(t *testing.T) {
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": returns(&media.UpstreamStream{
			Type: media.ShapeFile,
			Qualities: map[string]media.UpstreamFile{
				"1440p": {Type: "mp4", URL: "https://cdn.example/a.mp4"},
				"720":   {Type: "mkv", URL: "https://cdn.example/a.mkv"},
			},
		}),
		"beta": returns(&media.UpstreamStream{
			Type: media.ShapeFile,
			Qualities: map[string]media.UpstreamFile{
				"720": {Type: "mp4", URL: "https://cdn.example/b720.mp4"},
			},
		}),
	})
	c := cache.New(0, 0)
	e := New(f, Options{Cache: c})
	m := media.NewMovie("550")

	res, err := e.Resolve(context.Background(), m, []string{"alpha", "beta"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", res.ProviderID)
	assert.Equal(t, media.StatusNotFound, res.Statuses[0].Status)
	assert.Equal(t, media.KindFile, res.Stream.Kind)
	assert.Equal(t, "https://cdn.example/b720.mp4", res.Stream.Qualities[media.Quality720].URL)

	_, ok := c.Get(cache.KeyFor(m, "alpha"))
	assert.False(t, ok, "unusable streams are never cached")
}

func TestNotFoundClassification(t *testing.T) {
	tests := []struct {
		name  string
		fetch fetchFunc
		want  media.Status
	}{
		{"sentinel", fails(provider.ErrNotFound), media.StatusNotFound},
		{"wrapped sentinel", fails(fmt.Errorf("alpha: %w", provider.ErrNotFound)), media.StatusNotFound},
		{"message", fails(errors.New("Episode Not Found upstream")), media.StatusNotFound},
		{"nil stream", returns(nil), media.StatusNotFound},
		{"generic error", fails(errors.New("connection reset")), media.StatusFailure},
		{"unrecognized shape", returns(&media.UpstreamStream{Type: "dash"}), media.StatusFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher(map[string]fetchFunc{"alpha": tt.fetch})
			e := New(f, Options{})

			_, err := e.Resolve(context.Background(), media.NewMovie("550"), []string{"alpha"}, nil)
			var failed *FailedError
			require.ErrorAs(t, err, &failed)
			require.Len(t, failed.Statuses, 1)
			assert.Equal(t, tt.want, failed.Statuses[0].Status)
		})
	}
}

func TestAllProvidersExhausted(t *testing.T) {
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": fails(provider.ErrNotFound),
		"beta":  fails(errors.New("boom")),
	})
	rep := &recordingReporter{}
	e := New(f, Options{Reporter: rep})

	res, err := e.Resolve(context.Background(), media.NewMovie("550"), []string{"alpha", "beta"}, nil)
	assert.Nil(t, res)
	require.ErrorIs(t, err, ErrResolutionFailed)

	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 2, terminalCount(failed.Statuses))
	assert.Len(t, rep.all(), 2)
}

func TestEmptyOrderFailsImmediately(t *testing.T) {
	f := newFakeFetcher(nil)
	log := &statusLog{}
	e := New(f, Options{})

	_, err := e.Resolve(context.Background(), media.NewMovie("550"), nil, log.observe)
	require.ErrorIs(t, err, ErrResolutionFailed)
	assert.Empty(t, log.all())
}

func TestInvalidMedia(t *testing.T) {
	e := New(newFakeFetcher(nil), Options{})
	_, err := e.Resolve(context.Background(), media.MediaDescriptor{Type: media.Show, TMDBID: "1396"}, []string{"alpha"}, nil)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrResolutionFailed)
}

func TestPinning(t *testing.T) {
	tests := []struct {
		name  string
		prefs media.SourcePreferences
		fail  error
		want  string
	}{
		{"pin on", media.SourcePreferences{PinLastSuccessful: true, LastSuccessfulID: "old"}, nil, "beta"},
		{"pin off", media.SourcePreferences{LastSuccessfulID: "old"}, nil, "old"},
		{"write failure is not fatal", media.SourcePreferences{PinLastSuccessful: true, LastSuccessfulID: "old"}, errors.New("disk full"), "old"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeFetcher(map[string]fetchFunc{
				"alpha": fails(provider.ErrNotFound),
				"beta":  hls("https://cdn.example/b.m3u8"),
			})
			store := prefs.NewMemory(tt.prefs)
			store.FailWrites(tt.fail)
			e := New(f, Options{Prefs: store})

			res, err := e.Resolve(context.Background(), media.NewMovie("550"), []string{"alpha", "beta"}, nil)
			require.NoError(t, err)
			assert.Equal(t, "beta", res.ProviderID)

			p, _ := store.Load()
			assert.Equal(t, tt.want, p.LastSuccessfulID)
		})
	}
}

func TestSupersededRunIsDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": func(context.Context, media.MediaDescriptor) (*media.UpstreamStream, error) {
			close(entered)
			<-release
			return &media.UpstreamStream{Type: media.ShapeHLS, Playlist: "https://cdn.example/stale.m3u8"}, nil
		},
		"beta": hls("https://cdn.example/fresh.m3u8"),
	})
	store := prefs.NewMemory(media.SourcePreferences{PinLastSuccessful: true})
	c := cache.New(0, 0)
	e := New(f, Options{Prefs: store, Cache: c})
	session := e.NewSession()

	oldMedia := media.NewMovie("550")
	newMedia := media.NewMovie("680")

	oldLog := &statusLog{}
	type outcome struct {
		res *Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := session.Resolve(context.Background(), oldMedia, []string{"alpha"}, oldLog.observe)
		done <- outcome{res, err}
	}()
	<-entered

	res, err := session.Resolve(context.Background(), newMedia, []string{"beta"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/fresh.m3u8", res.Stream.PlaylistURL)

	close(release)
	old := <-done
	assert.Nil(t, old.res)
	require.ErrorIs(t, old.err, ErrSuperseded)

	for _, st := range oldLog.all() {
		assert.False(t, st.Status.Terminal(), "stale run must not publish a terminal status")
	}
	_, ok := c.Get(cache.KeyFor(oldMedia, "alpha"))
	assert.False(t, ok, "stale result must not be cached")

	p, _ := store.Load()
	assert.Equal(t, "beta", p.LastSuccessfulID)
}

func TestSessionsAreIndependent(t *testing.T) {
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": hls("https://cdn.example/a.m3u8"),
	})
	e := New(f, Options{})
	a, b := e.NewSession(), e.NewSession()

	_, err := a.Resolve(context.Background(), media.NewMovie("1"), []string{"alpha"}, nil)
	require.NoError(t, err)
	_, err = b.Resolve(context.Background(), media.NewMovie("2"), []string{"alpha"}, nil)
	require.NoError(t, err)
}

func TestCancelStopsBeforeNextAttempt(t *testing.T) {
	var e *Engine
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": func(context.Context, media.MediaDescriptor) (*media.UpstreamStream, error) {
			e.Cancel()
			return nil, provider.ErrNotFound
		},
		"beta": hls("https://cdn.example/b.m3u8"),
	})
	e = New(f, Options{})

	log := &statusLog{}
	_, err := e.Resolve(context.Background(), media.NewMovie("550"), []string{"alpha", "beta"}, log.observe)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, f.count("beta"))

	// the in-flight attempt runs to completion but its outcome is dropped
	assert.Equal(t, 1, f.count("alpha"))
	statuses := log.all()
	last := statuses[len(statuses)-1]
	assert.Equal(t, "alpha", last.ProviderID)
	assert.Equal(t, media.StatusPending, last.Status)

	// a fresh run is not affected by the earlier cancel
	res, err := e.Resolve(context.Background(), media.NewMovie("550"), []string{"beta"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", res.ProviderID)
}

func TestCancelDuringFetchDropsResult(t *testing.T) {
	var e *Engine
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": func(context.Context, media.MediaDescriptor) (*media.UpstreamStream, error) {
			e.Cancel()
			return &media.UpstreamStream{Type: media.ShapeHLS, Playlist: "https://cdn.example/a.m3u8"}, nil
		},
	})
	store := prefs.NewMemory(media.SourcePreferences{PinLastSuccessful: true})
	reporter := &recordingReporter{}
	c := cache.New(0, 0)
	e = New(f, Options{Prefs: store, Cache: c, Reporter: reporter})

	m := media.NewMovie("550")
	res, err := e.Resolve(context.Background(), m, []string{"alpha"}, nil)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, res)

	_, ok := c.Get(cache.KeyFor(m, "alpha"))
	assert.False(t, ok, "cancelled result must not be cached")
	p, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, p.LastSuccessfulID, "cancelled result must not be pinned")
	assert.Empty(t, reporter.all())
}

func TestContextCancelledDuringFetchDropsResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": func(fctx context.Context, _ media.MediaDescriptor) (*media.UpstreamStream, error) {
			cancel()
			// the fetch itself is detached from the caller
			assert.NoError(t, fctx.Err())
			return &media.UpstreamStream{Type: media.ShapeHLS, Playlist: "https://cdn.example/a.m3u8"}, nil
		},
		"beta": hls("https://cdn.example/b.m3u8"),
	})
	c := cache.New(0, 0)
	e := New(f, Options{Cache: c})

	_, err := e.Resolve(ctx, media.NewMovie("550"), []string{"alpha", "beta"}, nil)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, f.count("beta"))
	assert.Equal(t, 0, c.Len())
}

func TestBeginReservesRunOrder(t *testing.T) {
	f := newFakeFetcher(map[string]fetchFunc{"alpha": hls("https://cdn.example/a.m3u8")})
	session := New(f, Options{}).NewSession()

	first := session.Begin()
	second := session.Begin()
	assert.True(t, session.Stale(first))
	assert.False(t, session.Stale(second))

	// the older request reaches the engine last and still loses
	res, err := session.ResolveRun(context.Background(), second, media.NewMovie("680"), []string{"alpha"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", res.ProviderID)

	log := &statusLog{}
	_, err = session.ResolveRun(context.Background(), first, media.NewMovie("550"), []string{"alpha"}, log.observe)
	require.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, 1, f.count("alpha"))
	assert.Empty(t, log.all(), "a stale run emits nothing")
}

func TestResultDoesNotAliasCache(t *testing.T) {
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": returns(&media.UpstreamStream{
			Type:     media.ShapeHLS,
			Playlist: "https://cdn.example/a.m3u8",
			Headers:  map[string]string{"Referer": "https://origin.example"},
		}),
	})
	e := New(f, Options{})
	m := media.NewMovie("550")

	res, err := e.Resolve(context.Background(), m, []string{"alpha"}, nil)
	require.NoError(t, err)
	res.Stream.Headers["Referer"] = "mutated"

	res, err = e.Resolve(context.Background(), m, []string{"alpha"}, nil)
	require.NoError(t, err)
	require.True(t, res.FromCache)
	assert.Equal(t, "https://origin.example", res.Stream.Headers["Referer"])
	res.Stream.Headers["Referer"] = "mutated again"

	res, err = e.Resolve(context.Background(), m, []string{"alpha"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://origin.example", res.Stream.Headers["Referer"])
}

func TestCancelledContext(t *testing.T) {
	f := newFakeFetcher(map[string]fetchFunc{"alpha": hls("https://cdn.example/a.m3u8")})
	e := New(f, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Resolve(ctx, media.NewMovie("550"), []string{"alpha"}, nil)
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, f.count("alpha"))
}

func TestFetchTimeoutIsFailure(t *testing.T) {
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": func(ctx context.Context, _ media.MediaDescriptor) (*media.UpstreamStream, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
		"beta": hls("https://cdn.example/b.m3u8"),
	})
	e := New(f, Options{Timeout: 20 * time.Millisecond})

	res, err := e.Resolve(context.Background(), media.NewMovie("550"), []string{"alpha", "beta"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", res.ProviderID)
	assert.Equal(t, media.StatusFailure, res.Statuses[0].Status)
	assert.Contains(t, res.Statuses[0].Reason, "timed out")
}

func TestResolveForUsesPreferences(t *testing.T) {
	f := newFakeFetcher(map[string]fetchFunc{
		"alpha": hls("https://cdn.example/a.m3u8"),
		"beta":  hls("https://cdn.example/b.m3u8"),
	})
	store := prefs.NewMemory(media.SourcePreferences{PinLastSuccessful: true, LastSuccessfulID: "beta"})
	e := New(f, Options{Prefs: store})

	providers := []media.ProviderDescriptor{{ID: "alpha"}, {ID: "beta"}}
	res, err := e.NewSession().ResolveFor(context.Background(), media.NewMovie("550"), providers, nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", res.ProviderID)
	assert.Equal(t, 0, f.count("alpha"))
}
