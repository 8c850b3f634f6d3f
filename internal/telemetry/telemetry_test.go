package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cinefetch/internal/media"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{}
}

func (r *recordingSink) Write(ctx context.Context, e Event) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recordingSink) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestAsyncReporterDrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	a := NewAsync(sink)

	for i := 0; i < 10; i++ {
		a.Report(Event{ProviderID: "alpha", Status: media.StatusSuccess})
	}
	require.NoError(t, a.Close())

	assert.Equal(t, 10, sink.len())
	assert.False(t, sink.events[0].At.IsZero(), "report stamps the event time")

	// Reports after close are dropped, never panic.
	a.Report(Event{ProviderID: "late"})
	assert.Equal(t, 10, sink.len())
}

func TestAsyncReporterNeverBlocks(t *testing.T) {
	sink := &recordingSink{block: make(chan struct{})}
	a := NewAsync(sink, WithQueueSize(1))

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			a.Report(Event{ProviderID: "alpha"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Report blocked on a stuck sink")
	}

	close(sink.block)
	a.Close()
	assert.Less(t, sink.len(), 100, "overflow events are dropped")
}

func TestAsyncReporterIgnoresSinkErrors(t *testing.T) {
	sink := &recordingSink{err: errors.New("disk full")}
	a := NewAsync(sink, WithRateLimit(1000, 10))
	a.Report(Event{ProviderID: "alpha"})
	a.Report(Event{ProviderID: "beta"})
	a.Close()
	assert.Equal(t, 2, sink.len())
}

func TestHTTPSink(t *testing.T) {
	var got Event
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL+"/events", srv.Client())
	err := sink.Write(context.Background(), Event{
		ProviderID: "alpha",
		Status:     media.StatusNotFound,
		Media:      media.NewMovie("550"),
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha", got.ProviderID)
	assert.Equal(t, media.StatusNotFound, got.Status)
	assert.Equal(t, "550", got.Media.TMDBID)
}

func TestSQLiteSinkStats(t *testing.T) {
	sink, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	ep := media.NewEpisode("1396", media.Ref{Number: 1}, media.Ref{Number: 1})
	events := []Event{
		{ProviderID: "alpha", Status: media.StatusNotFound, Media: ep, At: time.Now()},
		{ProviderID: "beta", Status: media.StatusSuccess, Media: ep, At: time.Now()},
		{ProviderID: "alpha", Status: media.StatusFailure, Media: media.NewMovie("550"), Error: "timeout", At: time.Now()},
		{ProviderID: "alpha", Status: media.StatusSuccess, Media: media.NewMovie("550"), At: time.Now()},
	}
	for _, e := range events {
		require.NoError(t, sink.Write(ctx, e))
	}

	stats, err := sink.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	assert.Equal(t, ProviderStats{ProviderID: "alpha", Success: 1, NotFound: 1, Failure: 1}, stats[0])
	assert.Equal(t, 3, stats[0].Total())
	assert.InDelta(t, 1.0/3.0, stats[0].SuccessRate(), 0.001)
	assert.Equal(t, 1.0, stats[1].SuccessRate())
	assert.Equal(t, 0.0, ProviderStats{}.SuccessRate())
}
