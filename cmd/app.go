package cmd

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"cinefetch/internal/cache"
	"cinefetch/internal/config"
	"cinefetch/internal/httputil"
	"cinefetch/internal/prefs"
	"cinefetch/internal/provider"
	"cinefetch/internal/resolve"
	"cinefetch/internal/telemetry"
)

// app wires the collaborators every command shares.
type app struct {
	client   *http.Client
	registry *provider.Registry
	engine   *resolve.Engine
	prefs    *prefs.FileStore
	reporter *telemetry.AsyncReporter
	sink     telemetry.Sink
}

func newApp() (*app, error) {
	a := &app{client: httputil.NewClient()}

	prefsPath, err := config.PrefsPath()
	if err != nil {
		return nil, fmt.Errorf("locating preferences: %w", err)
	}
	a.prefs = prefs.NewFileStore(prefsPath)

	api := provider.NewAPIClient(cfg.APIBase, a.client)
	a.registry = provider.NewRegistry(logger, a.catalogs(api)...)

	var reporter telemetry.Reporter = telemetry.Nop{}
	sink, err := a.telemetrySink()
	if err != nil {
		// telemetry is best effort
		logger.WithError(err).Warn("telemetry disabled")
	} else if sink != nil {
		a.sink = sink
		a.reporter = telemetry.NewAsync(sink,
			telemetry.WithLogger(logger),
			telemetry.WithRateLimit(20, 50),
		)
		reporter = a.reporter
	}

	a.engine = resolve.New(api, resolve.Options{
		Cache:    cache.New(cfg.CacheTTL, cfg.CacheSize),
		Reporter: reporter,
		Prefs:    a.prefs,
		Logger:   logger,
		Timeout:  cfg.FetchTimeout,
	})
	return a, nil
}

// catalogs builds one catalog per configured URL. Pages ending in .html
// are scraped, anything else is treated as an API host. With nothing
// configured the stream API's own list is used.
func (a *app) catalogs(api *provider.APIClient) []provider.Catalog {
	if len(cfg.Catalogs) == 0 {
		return []provider.Catalog{api}
	}
	out := make([]provider.Catalog, 0, len(cfg.Catalogs))
	for _, u := range cfg.Catalogs {
		lower := strings.ToLower(u)
		if strings.HasSuffix(lower, ".html") || strings.HasSuffix(lower, ".htm") {
			out = append(out, provider.NewHTMLCatalog(u, a.client))
			continue
		}
		out = append(out, provider.NewAPIClient(u, a.client))
	}
	return out
}

func (a *app) telemetrySink() (telemetry.Sink, error) {
	switch cfg.Telemetry {
	case config.TelemetrySQLite:
		path, err := config.TelemetryPath()
		if err != nil {
			return nil, err
		}
		return telemetry.OpenSQLite(path)
	case config.TelemetryHTTP:
		return telemetry.NewHTTPSink(cfg.TelemetryURL, a.client), nil
	default:
		return nil, nil
	}
}

// Close flushes pending telemetry.
func (a *app) Close() {
	if a.reporter != nil {
		a.reporter.Close()
	}
	if c, ok := a.sink.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.WithError(err).Debug("closing telemetry sink")
		}
	}
}

// publicConfig is what /api/config exposes.
func publicConfig() map[string]any {
	return map[string]any{
		"version":      Version,
		"quality":      cfg.Quality,
		"subsLanguage": cfg.SubsLanguage,
		"fetchTimeout": cfg.FetchTimeout.String(),
		"cacheTTL":     cfg.CacheTTL.String(),
		"telemetry":    cfg.Telemetry,
	}
}
