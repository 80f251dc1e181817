// Package cas implements the source adapter and parser for the
// international arbitration tribunal's award database: a
// category-indexed archive (sport, procedure type, status) of arbitral
// awards (laudos).
package cas

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

const resultsPerPage = 25

// Adapter implements discovery.SourceAdapter against the tribunal's
// award listing, filtered by sport category and status.
type Adapter struct {
	client  pipeline.HTTPClient
	baseURL string
}

// New builds a cas Adapter. baseURL is the award listing endpoint.
func New(client pipeline.HTTPClient, baseURL string) *Adapter {
	return &Adapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// FetchPage retrieves one page of the award listing. cursor is the
// 1-based page number as a string; empty means page 1.
func (a *Adapter) FetchPage(ctx context.Context, cfg pipeline.Config, cursor string) (discovery.Page, error) {
	page := 1
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil {
			return discovery.Page{}, fmt.Errorf("cas: invalid cursor %q: %w", cursor, err)
		}
		page = parsed
	}

	values := url.Values{}
	if cfg.Category != "" {
		values.Set("deporte", cfg.Category)
	}
	if cfg.Status != "" {
		values.Set("estado", cfg.Status)
	}
	values.Set("pagina", strconv.Itoa(page))
	reqURL := a.baseURL + "?" + values.Encode()

	resp, err := a.client.Get(ctx, reqURL, http.Header{}, pipeline.HTTPTimeouts{Total: 30 * time.Second})
	if err != nil {
		return discovery.Page{}, fmt.Errorf("fetch cas award listing page %d: %w", page, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(resp.Body)))
	if err != nil {
		return discovery.Page{}, fmt.Errorf("parse cas award listing page %d: %w", page, err)
	}

	var refs []pipeline.Reference
	doc.Find("a.laudo").Each(func(_ int, s *goquery.Selection) {
		caseNumber, ok := s.Attr("data-numero-caso")
		if !ok || caseNumber == "" {
			return
		}
		href, _ := s.Attr("href")
		refs = append(refs, pipeline.Reference{
			SourceID:   "cas",
			ExternalID: caseNumber,
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

// CanonicalizeID implements discovery.SourceAdapter. Case numbers follow
// the tribunal's own "CAS YYYY/A/NNNN" convention, which already
// uniquely identifies an award; canonicalization only normalizes
// whitespace and case.
func (a *Adapter) CanonicalizeID(ref pipeline.Reference) string {
	return strings.ToUpper(strings.Join(strings.Fields(ref.ExternalID), " "))
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
