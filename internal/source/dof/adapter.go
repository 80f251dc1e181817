// Package dof implements the source adapter and parser for the national
// gazette: a date-indexed publication archive. One index page lists every
// decree/agreement published on a given day; pagination advances by day
// when a page is exhausted, not by an opaque cursor, since the gazette's
// index has no cursor concept of its own.
package dof

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lexatlas/acquisition-pipeline/internal/discovery"
	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

const dateLayout = "2006-01-02"

// Adapter implements discovery.SourceAdapter against the gazette's daily
// index pages.
type Adapter struct {
	client  pipeline.HTTPClient
	baseURL string
}

// New builds a dof Adapter. baseURL is the index endpoint, e.g.
// "https://dof.example.gob.mx/index".
func New(client pipeline.HTTPClient, baseURL string) *Adapter {
	return &Adapter{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

// FetchPage retrieves one day's index. The cursor, when non-empty, is the
// date (YYYY-MM-DD) to continue from; empty means "today" or cfg.Date/
// cfg.DateStart per cfg.Mode.
func (a *Adapter) FetchPage(ctx context.Context, cfg pipeline.Config, cursor string) (discovery.Page, error) {
	day, err := a.resolveDay(cfg, cursor)
	if err != nil {
		return discovery.Page{}, err
	}

	url := fmt.Sprintf("%s?fecha=%s", a.baseURL, day.Format(dateLayout))
	resp, err := a.client.Get(ctx, url, http.Header{}, pipeline.HTTPTimeouts{Total: 30 * time.Second})
	if err != nil {
		return discovery.Page{}, fmt.Errorf("fetch gazette index for %s: %w", day.Format(dateLayout), err)
	}

	doc, err := goquery.NewDocumentFromReader(newReader(resp.Body))
	if err != nil {
		return discovery.Page{}, fmt.Errorf("parse gazette index for %s: %w", day.Format(dateLayout), err)
	}

	var refs []pipeline.Reference
	doc.Find("a.entry").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" {
			return
		}
		id, _ := s.Attr("data-id")
		if id == "" {
			id = href
		}
		refs = append(refs, pipeline.Reference{
			SourceID:   "dof",
			ExternalID: id,
			URL:        a.resolveURL(href),
			Title:      strings.TrimSpace(s.Text()),
			OpaqueMetadata: map[string]string{
				"publication_date": day.Format(dateLayout),
			},
		})
	})

	hasMore := a.shouldAdvance(cfg, day)
	next := ""
	if hasMore {
		next = day.AddDate(0, 0, 1).Format(dateLayout)
	}
	return discovery.Page{References: refs, NextCursor: next, HasMore: hasMore}, nil
}

// CanonicalizeID implements discovery.SourceAdapter. The gazette's entry
// ids are already stable strings, so canonicalization is a no-op beyond
// trimming.
func (a *Adapter) CanonicalizeID(ref pipeline.Reference) string {
	return strings.TrimSpace(ref.ExternalID)
}

func (a *Adapter) resolveDay(cfg pipeline.Config, cursor string) (time.Time, error) {
	if cursor != "" {
		return time.Parse(dateLayout, cursor)
	}
	switch cfg.Mode {
	case pipeline.ModeToday:
		return time.Now().UTC(), nil
	case pipeline.ModeDate:
		return time.Parse(dateLayout, cfg.Date)
	case pipeline.ModeRange:
		return time.Parse(dateLayout, cfg.DateStart)
	default:
		return time.Time{}, fmt.Errorf("dof: unsupported mode %q", cfg.Mode)
	}
}

func (a *Adapter) shouldAdvance(cfg pipeline.Config, day time.Time) bool {
	if cfg.Mode != pipeline.ModeRange {
		return false
	}
	end, err := time.Parse(dateLayout, cfg.DateEnd)
	if err != nil {
		return false
	}
	return day.Before(end)
}

func (a *Adapter) resolveURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	return a.baseURL + "/" + strings.TrimLeft(href, "/")
}

var _ discovery.SourceAdapter = (*Adapter)(nil)

func newReader(body []byte) *strings.Reader { return strings.NewReader(string(body)) }
