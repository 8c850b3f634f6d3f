// Package resolve finds a playable stream by trying providers one at a
// time until one of them returns something usable.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"cinefetch/internal/cache"
	"cinefetch/internal/log"
	"cinefetch/internal/media"
	"cinefetch/internal/order"
	"cinefetch/internal/prefs"
	"cinefetch/internal/provider"
	"cinefetch/internal/quality"
	"cinefetch/internal/telemetry"
)

// DefaultTimeout bounds a single provider fetch.
const DefaultTimeout = 15 * time.Second

var (
	// ErrResolutionFailed means no provider produced a playable stream.
	ErrResolutionFailed = errors.New("no playable source found")

	// ErrSuperseded means a newer run on the same session took over. Callers
	// should drop the result silently.
	ErrSuperseded = errors.New("resolution superseded by a newer request")

	// ErrCancelled means the run was cancelled between attempts.
	ErrCancelled = errors.New("resolution cancelled")
)

// FailedError is returned when every provider was exhausted. It matches
// ErrResolutionFailed and carries the final per-provider statuses.
type FailedError struct {
	Media    media.MediaDescriptor
	Statuses []media.AttemptStatus
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("%s: %s after %d providers", e.Media, ErrResolutionFailed, len(e.Statuses))
}

func (e *FailedError) Is(target error) bool {
	return target == ErrResolutionFailed
}

// Observer receives every status transition of a run, in order.
type Observer func(media.AttemptStatus)

// Result is a successful resolution.
type Result struct {
	Stream     media.CanonicalStream `json:"stream"`
	ProviderID string                `json:"providerId"`
	Run        uint64                `json:"run"`
	FromCache  bool                  `json:"fromCache"`
	Statuses   []media.AttemptStatus `json:"statuses"`
}

// Options holds the engine's collaborators. Nil collaborators are replaced
// by no-op versions.
type Options struct {
	Cache    *cache.Cache
	Reporter telemetry.Reporter
	Prefs    prefs.Store
	Logger   logrus.FieldLogger
	Timeout  time.Duration
}

// Engine owns the collaborators shared by every resolution.
type Engine struct {
	fetcher    provider.Fetcher
	cache      *cache.Cache
	reporter   telemetry.Reporter
	prefs      prefs.Store
	logger     logrus.FieldLogger
	normalizer quality.Normalizer
	timeout    time.Duration

	session *Session
}

// New creates an engine that fetches through f.
func New(f provider.Fetcher, opts Options) *Engine {
	e := &Engine{
		fetcher:  f,
		cache:    opts.Cache,
		reporter: opts.Reporter,
		prefs:    opts.Prefs,
		logger:   opts.Logger,
		timeout:  opts.Timeout,
	}
	if e.cache == nil {
		e.cache = cache.New(cache.DefaultTTL, cache.DefaultSize)
	}
	if e.reporter == nil {
		e.reporter = telemetry.Nop{}
	}
	if e.prefs == nil {
		e.prefs = prefs.NewMemory(media.SourcePreferences{})
	}
	if e.logger == nil {
		e.logger = log.Discard()
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	e.normalizer = quality.Normalizer{Logger: e.logger}
	e.session = e.NewSession()
	return e
}

// Cache returns the stream cache the engine writes through.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Prefs returns the preference store.
func (e *Engine) Prefs() prefs.Store { return e.prefs }

// Resolve runs on the engine's default session.
func (e *Engine) Resolve(ctx context.Context, m media.MediaDescriptor, ids []string, observe Observer) (*Result, error) {
	return e.session.Resolve(ctx, m, ids, observe)
}

// Cancel cancels the default session's current run.
func (e *Engine) Cancel() { e.session.Cancel() }

// Plan loads the stored preferences and computes the attempt order for m.
func (e *Engine) Plan(providers []media.ProviderDescriptor, m media.MediaDescriptor) ([]string, error) {
	p, err := e.prefs.Load()
	if err != nil {
		return nil, fmt.Errorf("loading preferences: %w", err)
	}
	return order.Compute(providers, p, m.Type), nil
}

// Session is one UI slot: at most one run is live at a time and starting a
// new run makes every older one stale.
type Session struct {
	engine    *Engine
	latest    atomic.Uint64
	cancelled atomic.Uint64
}

// NewSession creates an independent session sharing the engine's collaborators.
func (e *Engine) NewSession() *Session {
	return &Session{engine: e}
}

// Cancel stops the current run before its next provider attempt. An
// attempt already in flight runs to completion and its result is dropped.
func (s *Session) Cancel() {
	s.cancelled.Store(s.latest.Load())
}

// ResolveFor computes the attempt order from providers and the stored
// preferences, then resolves.
func (s *Session) ResolveFor(ctx context.Context, m media.MediaDescriptor, providers []media.ProviderDescriptor, observe Observer) (*Result, error) {
	ids, err := s.engine.Plan(providers, m)
	if err != nil {
		return nil, err
	}
	return s.Resolve(ctx, m, ids, observe)
}

// Resolve tries ids in order and returns the first usable stream.
//
// Each provider moves waiting -> pending -> success|notfound|failure exactly
// once. The cache is consulted before every fetch. Only ErrResolutionFailed
// (as *FailedError), ErrSuperseded and ErrCancelled are returned for
// provider-level problems; those are otherwise absorbed into statuses.
func (s *Session) Resolve(ctx context.Context, m media.MediaDescriptor, ids []string, observe Observer) (*Result, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid media: %w", err)
	}
	return s.ResolveRun(ctx, s.Begin(), m, ids, observe)
}

// Begin reserves the next run id, making every earlier run on s stale.
// Callers that do work before resolving take the id first so that request
// order, not scheduling, decides which run is the latest.
func (s *Session) Begin() uint64 {
	return s.latest.Add(1)
}

// Stale reports whether a newer run than id has begun.
func (s *Session) Stale(id uint64) bool {
	return s.latest.Load() != id
}

// ResolveRun is Resolve for a run id reserved with Begin. It returns
// ErrSuperseded without attempting anything when id is already stale.
func (s *Session) ResolveRun(ctx context.Context, id uint64, m media.MediaDescriptor, ids []string, observe Observer) (*Result, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid media: %w", err)
	}
	if s.Stale(id) {
		return nil, ErrSuperseded
	}
	if observe == nil {
		observe = func(media.AttemptStatus) {}
	}

	r := &run{
		session: s,
		id:      id,
		media:   m,
		ids:     ids,
		observe: observe,
		logger:  s.engine.logger.WithField("tmdb", m.String()),
	}
	r.logger = r.logger.WithField("run", r.id)
	return r.execute(ctx)
}

type run struct {
	session  *Session
	id       uint64
	media    media.MediaDescriptor
	ids      []string
	observe  Observer
	logger   logrus.FieldLogger
	statuses []media.AttemptStatus
	done     int
}

func (r *run) stale() bool {
	return r.session.Stale(r.id)
}

func (r *run) cancelled() bool {
	return r.session.cancelled.Load() == r.id
}

// emit records and publishes a transition. Percentage is the share of
// attempts that have reached a terminal status.
func (r *run) emit(i int, st media.AttemptStatus) {
	if st.Status.Terminal() {
		r.done++
	}
	st.Percentage = float64(r.done) / float64(len(r.ids)) * 100
	r.statuses[i] = st
	r.observe(st)
}

func (r *run) snapshot() []media.AttemptStatus {
	out := make([]media.AttemptStatus, len(r.statuses))
	copy(out, r.statuses)
	return out
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	e := r.session.engine

	r.statuses = make([]media.AttemptStatus, len(r.ids))
	for i, id := range r.ids {
		r.emit(i, media.AttemptStatus{ProviderID: id, Status: media.StatusWaiting})
	}

	for i, id := range r.ids {
		if r.stale() {
			return nil, ErrSuperseded
		}
		if r.cancelled() {
			return nil, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		logger := r.logger.WithField("provider", id)
		r.emit(i, media.AttemptStatus{ProviderID: id, Status: media.StatusPending})

		key := cache.KeyFor(r.media, id)
		if stream, ok := e.cache.Lookup(key).Get(); ok {
			logger.Debug("stream cache hit")
			r.emit(i, media.AttemptStatus{ProviderID: id, Status: media.StatusSuccess, Reason: "cached"})
			r.pin(id)
			return &Result{Stream: stream, ProviderID: id, Run: r.id, FromCache: true, Statuses: r.snapshot()}, nil
		}

		stream, err := r.fetch(ctx, id)
		if r.stale() {
			logger.Debug("discarding result of superseded run")
			return nil, ErrSuperseded
		}
		if r.cancelled() || ctx.Err() != nil {
			logger.Debug("discarding result of cancelled run")
			return nil, ErrCancelled
		}

		st := classify(id, stream, err)
		r.emit(i, st)
		r.report(st)

		switch st.Status {
		case media.StatusSuccess:
			logger.Info("stream resolved")
			e.cache.Set(key, *stream)
			r.pin(id)
			return &Result{Stream: *stream, ProviderID: id, Run: r.id, Statuses: r.snapshot()}, nil
		case media.StatusNotFound:
			logger.WithField("reason", st.Reason).Debug("provider has no match")
		default:
			logger.WithError(st.Err).Warn("provider failed")
		}
	}

	return nil, &FailedError{Media: r.media, Statuses: r.snapshot()}
}

// fetch calls the provider and normalizes its answer. The fetch is bounded
// by the engine timeout but is not aborted when the caller's context is
// cancelled: cancellation only takes effect between attempts.
func (r *run) fetch(ctx context.Context, id string) (*media.CanonicalStream, error) {
	e := r.session.engine

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	up, err := e.fetcher.FetchStream(fctx, id, r.media)
	if err != nil {
		if errors.Is(fctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", e.timeout, err)
		}
		return nil, err
	}
	if up == nil {
		return nil, nil
	}

	stream, err := e.normalizer.ToCanonical(*up)
	if err != nil {
		return nil, err
	}
	return &stream, nil
}

func (r *run) report(st media.AttemptStatus) {
	ev := telemetry.Event{
		ProviderID: st.ProviderID,
		Status:     st.Status,
		Media:      r.media,
		At:         time.Now(),
	}
	if st.Err != nil {
		ev.Error = st.Err.Error()
	}
	r.session.engine.reporter.Report(ev)
}

// pin records the provider as last successful when pinning is on.
func (r *run) pin(id string) {
	e := r.session.engine
	p, err := e.prefs.Load()
	if err != nil {
		r.logger.WithError(err).Warn("loading preferences for pinning")
		return
	}
	if !p.PinLastSuccessful || p.LastSuccessfulID == id {
		return
	}
	if err := e.prefs.SetLastSuccessful(id); err != nil {
		r.logger.WithError(err).Warn("saving last successful source")
	}
}

// classify turns a fetch outcome into a terminal status. A file stream
// whose every quality was dropped counts as notfound so the next provider
// gets a chance.
func classify(id string, stream *media.CanonicalStream, err error) media.AttemptStatus {
	switch {
	case err != nil && isNotFound(err):
		return media.AttemptStatus{ProviderID: id, Status: media.StatusNotFound, Reason: err.Error()}
	case err != nil:
		return media.AttemptStatus{ProviderID: id, Status: media.StatusFailure, Reason: err.Error(), Err: err}
	case stream == nil:
		return media.AttemptStatus{ProviderID: id, Status: media.StatusNotFound, Reason: "no stream returned"}
	case !quality.Usable(*stream):
		return media.AttemptStatus{ProviderID: id, Status: media.StatusNotFound, Reason: "no playable qualities"}
	default:
		return media.AttemptStatus{ProviderID: id, Status: media.StatusSuccess}
	}
}

func isNotFound(err error) bool {
	if errors.Is(err, provider.ErrNotFound) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "notfound") || strings.Contains(msg, "no stream")
}
