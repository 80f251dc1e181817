package bjv

import (
	"fmt"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

// PDFTextExtractor recovers whatever structured metadata it can from a raw
// PDF payload. Real text extraction is outside this package's scope; the
// interface exists so a real extractor can be wired in later without
// touching the HTML branch below.
type PDFTextExtractor interface {
	ExtractTitle(body []byte, sourceURL string) (string, error)
}

// urlTitleExtractor is the default PDFTextExtractor: it derives a title
// from the URL's filename, which is all that's recoverable without an
// actual PDF-parsing dependency.
type urlTitleExtractor struct{}

func (urlTitleExtractor) ExtractTitle(_ []byte, sourceURL string) (string, error) {
	base := path.Base(sourceURL)
	base = strings.TrimSuffix(base, path.Ext(base))
	if idx := strings.Index(base, "#"); idx >= 0 {
		base = base[:idx]
	}
	if base == "" {
		return "", fmt.Errorf("cannot derive title from url %s", sourceURL)
	}
	return base, nil
}

// Parser extracts a Document from one library detail page. Most entries
// are HTML; a minority of older scans are served as a bare PDF with no
// surrounding markup, which the library's own catalog has no way to
// distinguish ahead of the fetch, so the branch happens here on the
// response's Content-Type rather than in the adapter.
type Parser struct {
	pdfExtractor PDFTextExtractor
}

// NewParser builds a bjv Parser using the default URL-derived PDF title
// extractor.
func NewParser() Parser { return Parser{pdfExtractor: urlTitleExtractor{}} }

// NewParserWithPDFExtractor builds a bjv Parser backed by a custom
// PDFTextExtractor, for callers with a real PDF-parsing collaborator.
func NewParserWithPDFExtractor(extractor PDFTextExtractor) Parser {
	return Parser{pdfExtractor: extractor}
}

// Parse implements pipeline.Parser.
func (p Parser) Parse(body []byte, contentType string, sourceURL string) (pipeline.ParseResult, error) {
	if strings.Contains(strings.ToLower(contentType), "pdf") {
		return p.parsePDF(body, sourceURL)
	}
	return parseHTML(body, sourceURL)
}

func parseHTML(body []byte, sourceURL string) (pipeline.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return pipeline.ParseResult{}, fmt.Errorf("parse bjv document %s: %w", sourceURL, err)
	}

	externalID, _ := doc.Find(`meta[name="bjv:id"]`).Attr("content")
	externalID = strings.ToLower(strings.TrimSpace(externalID))
	if externalID == "" {
		return pipeline.ParseResult{}, fmt.Errorf("bjv document %s: missing bjv:id meta tag", sourceURL)
	}

	title := strings.TrimSpace(doc.Find("h1.titulo").First().Text())
	if title == "" {
		return pipeline.ParseResult{}, fmt.Errorf("bjv document %s: missing title", sourceURL)
	}

	var autores []string
	doc.Find("span.autor").Each(func(_ int, s *goquery.Selection) {
		if name := strings.TrimSpace(s.Text()); name != "" {
			autores = append(autores, name)
		}
	})
	if len(autores) > 0 {
		title = title + " — " + strings.Join(autores, ", ")
	}

	areaDerecho, _ := doc.Find("[data-area-derecho]").First().Attr("data-area-derecho")

	var articles []pipeline.Article
	doc.Find("li.capitulo").Each(func(i int, s *goquery.Selection) {
		number, _ := s.Attr("data-numero")
		articles = append(articles, pipeline.Article{
			Identifier: number,
			Content:    strings.TrimSpace(s.Text()),
			Order:      i,
		})
	})

	result := pipeline.ParseResult{
		Document: &pipeline.Document{
			SourceID:    "bjv",
			ExternalID:  externalID,
			Title:       title,
			Category:    strings.TrimSpace(areaDerecho),
			Articles:    articles,
			ContentType: "text/html",
			SourceURL:   sourceURL,
		},
	}

	if pdfURL, ok := doc.Find("a.descargar-pdf").Attr("href"); ok && pdfURL != "" {
		result.ExtraRefs = []pipeline.Reference{{
			SourceID:   "bjv",
			ExternalID: externalID + "#pdf",
			URL:        pdfURL,
			Title:      title,
		}}
	}

	return result, nil
}

// parsePDF handles the bare-PDF case. The caller is expected to treat
// the result as a supplementary record, not a replacement for the
// catalog's own HTML-derived Document.
func (p Parser) parsePDF(body []byte, sourceURL string) (pipeline.ParseResult, error) {
	title, err := p.pdfExtractor.ExtractTitle(body, sourceURL)
	if err != nil {
		return pipeline.ParseResult{}, fmt.Errorf("bjv pdf %s: %w", sourceURL, err)
	}

	return pipeline.ParseResult{
		Document: &pipeline.Document{
			SourceID:    "bjv",
			ExternalID:  title + "#pdf",
			Title:       title,
			ContentType: "application/pdf",
			SourceURL:   sourceURL,
		},
	}, nil
}

var _ pipeline.Parser = Parser{}
