package scjn

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

const reformDateLayout = "2006-01-02"

// Parser extracts a Document from one scjn document page. The page is
// expected to carry a data-q attribute on its root element mirroring the
// q_param the listing used to reach it, since the portal's own URLs are
// not a reliable source of the canonical id.
type Parser struct{}

// NewParser builds a scjn Parser.
func NewParser() Parser { return Parser{} }

// Parse implements pipeline.Parser.
func (Parser) Parse(body []byte, _ string, sourceURL string) (pipeline.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return pipeline.ParseResult{}, fmt.Errorf("parse scjn document %s: %w", sourceURL, err)
	}

	root := doc.Find("[data-q]").First()
	qParam, _ := root.Attr("data-q")
	qParam = strings.ToLower(strings.TrimSpace(qParam))
	if qParam == "" {
		return pipeline.ParseResult{}, fmt.Errorf("scjn document %s: missing data-q attribute", sourceURL)
	}

	title := strings.TrimSpace(doc.Find("h1.document-title").First().Text())
	if title == "" {
		return pipeline.ParseResult{}, fmt.Errorf("scjn document %s: missing title", sourceURL)
	}

	category, _ := doc.Find("[data-category]").First().Attr("data-category")
	scope, _ := doc.Find("[data-scope]").First().Attr("data-scope")
	status, _ := doc.Find("[data-status]").First().Attr("data-status")

	var articles []pipeline.Article
	doc.Find("section.article").Each(func(i int, s *goquery.Selection) {
		num, _ := s.Attr("data-article-number")
		if num == "" {
			num = fmt.Sprintf("%d", i+1)
		}
		articles = append(articles, pipeline.Article{
			Identifier: num,
			Content:    strings.TrimSpace(s.Text()),
			Order:      i,
		})
	})

	var reforms []pipeline.Reform
	doc.Find("li.reform").Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Attr("data-effective-at")
		effectiveAt, perr := time.Parse(reformDateLayout, raw)
		if perr != nil {
			return
		}
		reforms = append(reforms, pipeline.Reform{
			Description: strings.TrimSpace(s.Text()),
			EffectiveAt: effectiveAt,
		})
	})

	result := pipeline.ParseResult{
		Document: &pipeline.Document{
			SourceID:    "scjn",
			ExternalID:  qParam,
			Title:       title,
			Category:    strings.TrimSpace(category),
			Scope:       strings.TrimSpace(scope),
			Status:      strings.TrimSpace(status),
			Articles:    articles,
			Reforms:     reforms,
			ContentType: "text/html",
			SourceURL:   sourceURL,
		},
	}
	return result, nil
}

var _ pipeline.Parser = Parser{}
