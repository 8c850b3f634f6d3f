package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"cinefetch/internal/httputil"
)

// HTTPSink posts each event as JSON to a collector endpoint.
type HTTPSink struct {
	url    string
	client *http.Client
}

// NewHTTPSink creates a sink posting to url.
func NewHTTPSink(url string, client *http.Client) *HTTPSink {
	if client == nil {
		client = httputil.NewClient()
	}
	return &HTTPSink{url: url, client: client}
}

func (h *HTTPSink) Write(ctx context.Context, e Event) error {
	if err := httputil.PostJSON(ctx, h.client, h.url, e); err != nil {
		return fmt.Errorf("posting telemetry: %w", err)
	}
	return nil
}
