// Package scjn implements the source adapter and parser for the
// supreme-court legislation portal: a category/filter-indexed archive
// whose entries are keyed by an opaque, portal-encrypted "q_param" rather
// than a stable numeric id. The portal is also known to render its result
// list client-side on some deployments, so callers typically wire this
// adapter's HTTPClient collaborator to an
// httpclient.PromotingClient that falls back to headless rendering.
package scjn

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

const resultsPerPage = 50

// Adapter implements discovery.SourceAdapter against the portal's
// category-filtered result listing.
type Adapter struct {
	client  pipeline.HTTPClient
	baseURL string
}

// New builds a scjn Adapter. baseURL is the search/listing endpoint.
func New(client pipeline.HTTPClient, baseURL string) *Adapter {
	return &Adapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// FetchPage retrieves one page of filtered results. cursor is the 1-based
// page number as a string; empty means page 1.
func (a *Adapter) FetchPage(ctx context.Context, cfg pipeline.Config, cursor string) (discovery.Page, error) {
	page := 1
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return discovery.Page{}, fmt.Errorf("scjn: invalid cursor %q: %w", cursor, err)
		}
		page = parsed
	}

	reqURL, err := a.buildURL(cfg, page)
	if err != nil {
		return discovery.Page{}, err
	}

	resp, err := a.client.Get(ctx, reqURL, http.Header{}, pipeline.HTTPTimeouts{Total: 30 * time.Second})
	if err != nil {
		return discovery.Page{}, fmt.Errorf("fetch scjn results page %d: %w", page, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body)))
	if err != nil {
		return discovery.Page{}, fmt.Errorf("parse scjn results page %d: %w", page, err)
	}

	var refs []pipeline.Reference
	doc.Find("a.result").Each(func(_ int, s *goquery.Selection) {
		qParam, ok := s.Attr("data-q")
		if !ok || qParam == "" {
			return
		}
		href, _ := s.Attr("href")
		refs = append(refs, pipeline.Reference{
			SourceID:       "scjn",
			ExternalID:     qParam,
			URL:            a.resolveURL(href, qParam),
			Title:          strings.TrimSpace(s.Text()),
			OpaqueMetadata: map[string]string{"q_param": qParam},
		})
	})

	hasMore := len(refs) == resultsPerPage && doc.Find("a.next-page").Length() > 0
	next := ""
	if hasMore {
		next = strconv.Itoa(page + 1)
	}
	return discovery.Page{References: refs, NextCursor: next, HasMore: hasMore}, nil
}

// CanonicalizeID normalizes the portal's opaque q_param into a stable,
// case-insensitive external_id, per the spec's requirement that
// canonicalization happen before the seen-set check.
func (a *Adapter) CanonicalizeID(ref pipeline.Reference) string {
	qParam := ref.ExternalID
	if v, ok := ref.OpaqueMetadata["q_param"]; ok && v != "" {
		qParam = v
	}
	return strings.ToLower(strings.TrimSpace(qParam))
}

func (a *Adapter) buildURL(cfg pipeline.Config, page int) (string, error) {
	values := url.Values{}
	if cfg.Category != "" {
		values.Set("categoria", cfg.Category)
	}
	if cfg.Scope != "" {
		values.Set("ambito", cfg.Scope)
	}
	if cfg.Status != "" {
		values.Set("estado", cfg.Status)
	}
	values.Set("pagina", strconv.Itoa(page))
	return a.baseURL + "?" + values.Encode(), nil
}

func (a *Adapter) resolveURL(href, qParam string) string {
	if href != "" {
		if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
			return href
		}
		return a.baseURL + "/" + strings.TrimLeft(href, "/")
	}
	return a.baseURL + "/documento?q=" + url.QueryEscape(qParam)
}

var _ discovery.SourceAdapter = (*Adapter)(nil)
