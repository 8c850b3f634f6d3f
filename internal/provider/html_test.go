package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"cinefetch/internal/media"
)

const listingPage = `<html><body><ul>
<li class="source" data-id="alpha" data-name="Alpha" data-types="movie,show"></li>
<li class="source" data-id="beta" data-types="tv">Beta Stream</li>
<li class="source" data-id="gamma"></li>
<li class="source" data-id="$(whoami)" data-name="Evil"></li>
<li class="other" data-id="delta" data-name="Not a source"></li>
</ul></body></html>`

func TestParseSourceList(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(listingPage))
	if err != nil {
		t.Fatalf("parsing fixture: %v", err)
	}

	got := parseSourceList(doc)
	if len(got) != 3 {
		t.Fatalf("expected 3 sources, got %d: %+v", len(got), got)
	}

	if got[0].ID != "alpha" || got[0].Name != "Alpha" || len(got[0].MediaTypes) != 2 {
		t.Errorf("source[0] = %+v", got[0])
	}
	if got[1].Name != "Beta Stream" {
		t.Errorf("source[1].Name = %q, want text fallback 'Beta Stream'", got[1].Name)
	}
	if !got[1].Supports(media.Show) || got[1].Supports(media.Movie) {
		t.Errorf("source[1] media types = %v, want show only", got[1].MediaTypes)
	}
	if got[2].Name != "gamma" || len(got[2].MediaTypes) != 0 {
		t.Errorf("source[2] = %+v, want id as name and all types", got[2])
	}
}

func TestHTMLCatalogListProviders(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(listingPage))
	}))
	defer srv.Close()

	c := NewHTMLCatalog(srv.URL+"/sources.html", srv.Client())
	got, err := c.ListProviders(context.Background())
	if err != nil {
		t.Fatalf("ListProviders() error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("expected 3 sources, got %d", len(got))
	}
}
