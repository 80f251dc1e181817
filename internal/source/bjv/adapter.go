// Package bjv implements the source adapter and parser for the academic
// legal library: a search-indexed catalog of books (libros) whose detail
// pages are ordinary HTML, except for a minority of older scans that the
// library serves as a bare PDF with no HTML wrapper at all. The Parser
// branches on Content-Type to handle both.
package bjv

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lexatlas/acquisition-pipeline/internal/discovery"
	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

const resultsPerPage = 20

// Adapter implements discovery.SourceAdapter against the library's search
// results listing.
type Adapter struct {
	client  pipeline.HTTPClient
	baseURL string
}

// New builds a bjv Adapter. baseURL is the search endpoint.
func New(client pipeline.HTTPClient, baseURL string) *Adapter {
	return &Adapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// FetchPage retrieves one page of search results. cursor is the 1-based
// page number as a string; empty means page 1.
func (a *Adapter) FetchPage(ctx context.Context, cfg pipeline.Config, cursor string) (discovery.Page, error) {
	page := 1
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return discovery.Page{}, fmt.Errorf("bjv: invalid cursor %q: %w", cursor, err)
		}
		page = parsed
	}

	values := url.Values{}
	if cfg.Query != "" {
		values.Set("q", cfg.Query)
	}
	if cfg.Category != "" {
		values.Set("area", cfg.Category)
	}
	values.Set("pagina", strconv.Itoa(page))
	reqURL := a.baseURL + "?" + values.Encode()

	resp, err := a.client.Get(ctx, reqURL, http.Header{}, pipeline.HTTPTimeouts{Total: 30 * time.Second})
	if err != nil {
		return discovery.Page{}, fmt.Errorf("fetch bjv results page %d: %w", page, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body)))
	if err != nil {
		return discovery.Page{}, fmt.Errorf("parse bjv results page %d: %w", page, err)
	}

	var refs []pipeline.Reference
	doc.Find("a.libro").Each(func(_ int, s *goquery.Selection) {
		id, ok := s.Attr("data-libro-id")
		if !ok || id == "" {
			return
		}
		href, _ := s.Attr("href")
		refs = append(refs, pipeline.Reference{
			SourceID:   "bjv",
			ExternalID: id,
			URL:        a.resolveURL(href),
			Title:      strings.TrimSpace(s.Text()),
		})
	})

	hasMore := len(refs) == resultsPerPage
	next := ""
	if hasMore {
		next = strconv.Itoa(page + 1)
	}
	return discovery.Page{References: refs, NextCursor: next, HasMore: hasMore}, nil
}

// CanonicalizeID implements discovery.SourceAdapter.
func (a *Adapter) CanonicalizeID(ref pipeline.Reference) string {
	return strings.ToLower(strings.TrimSpace(ref.ExternalID))
}

func (a *Adapter) resolveURL(href string) string {
	if href == "" {
		return a.baseURL
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return a.baseURL + "/" + strings.TrimLeft(href, "/")
}

var _ discovery.SourceAdapter = (*Adapter)(nil)
