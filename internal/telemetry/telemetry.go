// Package telemetry records the outcome of every provider attempt. Reporting
// is fire-and-forget: it never blocks or fails a resolution.
package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"cinefetch/internal/log"
	"cinefetch/internal/media"
)

// Event is one provider attempt outcome.
type Event struct {
	ProviderID string                `json:"providerId"`
	Status     media.Status          `json:"status"`
	Media      media.MediaDescriptor `json:"media"`
	Error      string                `json:"error,omitempty"`
	At         time.Time             `json:"at"`
}

// Reporter accepts events without blocking.
type Reporter interface {
	Report(e Event)
}

// Sink persists or forwards events. Sinks may block; AsyncReporter keeps
// them off the resolution path.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Report(Event) {}

// AsyncReporter queues events for a background worker that hands them to a
// sink. When the queue is full events are dropped.
type AsyncReporter struct {
	sink    Sink
	logger  logrus.FieldLogger
	limiter *rate.Limiter
	timeout time.Duration

	queue chan Event
	done  chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// AsyncOption configures an AsyncReporter.
type AsyncOption func(*AsyncReporter)

// WithRateLimit caps sink writes per second. Events over the limit wait in
// the queue.
func WithRateLimit(perSecond float64, burst int) AsyncOption {
	return func(a *AsyncReporter) {
		a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) AsyncOption {
	return func(a *AsyncReporter) {
		if n > 0 {
			a.queue = make(chan Event, n)
		}
	}
}

// WithLogger sets the logger used for sink errors.
func WithLogger(l logrus.FieldLogger) AsyncOption {
	return func(a *AsyncReporter) { a.logger = l }
}

// NewAsync starts a worker draining into sink.
func NewAsync(sink Sink, opts ...AsyncOption) *AsyncReporter {
	a := &AsyncReporter{
		sink:    sink,
		logger:  log.Discard(),
		timeout: 5 * time.Second,
		queue:   make(chan Event, 256),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.run()
	return a
}

// Report enqueues e, dropping it when the queue is full or the reporter is closed.
func (a *AsyncReporter) Report(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	select {
	case a.queue <- e:
	default:
		a.logger.WithField("provider", e.ProviderID).Debug("telemetry queue full, dropping event")
	}
}

func (a *AsyncReporter) run() {
	defer close(a.done)
	for e := range a.queue {
		if a.limiter != nil {
			_ = a.limiter.Wait(context.Background())
		}
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.sink.Write(ctx, e); err != nil {
			a.logger.WithError(err).WithField("provider", e.ProviderID).Debug("telemetry sink write failed")
		}
		cancel()
	}
}

// Close stops accepting events and waits for the queue to drain.
func (a *AsyncReporter) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	<-a.done
	return nil
}
