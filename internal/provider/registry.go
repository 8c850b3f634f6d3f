package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"cinefetch/internal/log"
	"cinefetch/internal/media"
)

// PopulateTimeout bounds the shared catalog fetch.
const PopulateTimeout = 30 * time.Second

// Registry holds the source catalog for the lifetime of the process.
// It is populated once and read-only afterwards.
type Registry struct {
	catalogs []Catalog
	logger   logrus.FieldLogger

	group singleflight.Group

	mu        sync.RWMutex
	providers []media.ProviderDescriptor
	populated bool
}

// NewRegistry creates a registry backed by the given catalogs. Catalog
// order decides registry order.
func NewRegistry(logger logrus.FieldLogger, catalogs ...Catalog) *Registry {
	if logger == nil {
		logger = log.Discard()
	}
	return &Registry{catalogs: catalogs, logger: logger}
}

// Populate fetches every catalog concurrently and stores the concatenated
// result. A failing catalog does not hold back the others. Concurrent calls
// share one fetch, and once populated no further I/O happens. When every
// catalog fails the registry stays empty and a later call retries.
func (r *Registry) Populate(ctx context.Context) ([]media.ProviderDescriptor, error) {
	if r.isPopulated() {
		return r.List(), nil
	}

	// the shared fetch outlives any single caller; each caller still stops
	// waiting when its own context ends
	ch := r.group.DoChan("populate", func() (any, error) {
		if r.isPopulated() {
			return nil, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PopulateTimeout)
		defer cancel()
		return nil, r.fetchAll(fctx)
	})
	select {
	case res := <-ch:
		return r.List(), res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("populating registry: %w", ctx.Err())
	}
}

func (r *Registry) fetchAll(ctx context.Context) error {
	results := make([][]media.ProviderDescriptor, len(r.catalogs))
	errs := make([]error, len(r.catalogs))

	var wg sync.WaitGroup
	for i, c := range r.catalogs {
		wg.Add(1)
		go func(i int, c Catalog) {
			defer wg.Done()
			list, err := c.ListProviders(ctx)
			if err != nil {
				errs[i] = fmt.Errorf("catalog %s: %w", c.Name(), err)
				return
			}
			results[i] = list
		}(i, c)
	}
	wg.Wait()

	var all []media.ProviderDescriptor
	succeeded := 0
	for i, list := range results {
		if errs[i] != nil {
			r.logger.WithError(errs[i]).Warn("source catalog unavailable")
			continue
		}
		succeeded++
		all = append(all, list...)
	}

	if succeeded == 0 && len(r.catalogs) > 0 {
		return fmt.Errorf("populating registry: %w", errors.Join(errs...))
	}

	all = lo.UniqBy(all, func(p media.ProviderDescriptor) string { return p.ID })

	r.mu.Lock()
	r.providers = all
	r.populated = true
	r.mu.Unlock()

	r.logger.WithField("count", len(all)).Debug("source registry populated")
	return nil
}

func (r *Registry) isPopulated() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.populated
}

// List returns the cached catalog. It never blocks on I/O and is empty
// until Populate has completed.
func (r *Registry) List() []media.ProviderDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]media.ProviderDescriptor, len(r.providers))
	copy(out, r.providers)
	return out
}

// Get looks up a source by id.
func (r *Registry) Get(id string) (media.ProviderDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Find(r.providers, func(p media.ProviderDescriptor) bool { return p.ID == id })
}
