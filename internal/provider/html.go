package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"cinefetch/internal/httputil"
	"cinefetch/internal/media"
)

// HTMLCatalog scrapes a source listing page. Each source is an element
// carrying data-id, data-name and an optional comma separated data-types.
//
//	<li class="source" data-id="alpha" data-name="Alpha" data-types="movie,show"></li>
type HTMLCatalog struct {
	pageURL string
	client  *http.Client
}

// NewHTMLCatalog creates a catalog for the listing at pageURL.
func NewHTMLCatalog(pageURL string, client *http.Client) *HTMLCatalog {
	if client == nil {
		client = httputil.NewClient()
	}
	return &HTMLCatalog{pageURL: pageURL, client: client}
}

func (h *HTMLCatalog) Name() string { return h.pageURL }

// ListProviders fetches and parses the listing page.
func (h *HTMLCatalog) ListProviders(ctx context.Context) ([]media.ProviderDescriptor, error) {
	doc, err := httputil.GetDocument(ctx, h.client, h.pageURL)
	if err != nil {
		return nil, fmt.Errorf("fetching source listing: %w", err)
	}
	return parseSourceList(doc), nil
}

// parseSourceList extracts sources from a listing page. Entries with unsafe
// ids are skipped, unknown media types ignored.
func parseSourceList(doc *goquery.Document) []media.ProviderDescriptor {
	var out []media.ProviderDescriptor

	doc.Find("[data-id].source").Each(func(i int, s *goquery.Selection) {
		id := strings.TrimSpace(s.AttrOr("data-id", ""))
		if err := httputil.ValidateID(id); err != nil {
			return
		}

		name := strings.TrimSpace(s.AttrOr("data-name", ""))
		if name == "" {
			name = strings.TrimSpace(s.Text())
		}
		if name == "" {
			name = id
		}

		p := media.ProviderDescriptor{ID: id, Name: name}
		if types, ok := s.Attr("data-types"); ok {
			for _, t := range strings.Split(types, ",") {
				if strings.TrimSpace(t) == "" {
					continue
				}
				mt, err := media.ParseMediaType(t)
				if err != nil {
					continue
				}
				p.MediaTypes = append(p.MediaTypes, mt)
			}
		}

		out = append(out, p)
	})

	return out
}
