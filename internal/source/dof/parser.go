package dof

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

// Parser extracts a Document from one gazette publication page.
type Parser struct{}

// NewParser builds a dof Parser.
func NewParser() Parser { return Parser{} }

// Parse implements pipeline.Parser.
func (Parser) Parse(body []byte, _ string, sourceURL string) (pipeline.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(newReader(body))
	if err != nil {
		return pipeline.ParseResult{}, fmt.Errorf("parse gazette document %s: %w", sourceURL, err)
	}

	title := strings.TrimSpace(doc.Find("h1.title").First().Text())
	if title == "" {
		return pipeline.ParseResult{}, fmt.Errorf("gazette document %s: missing title", sourceURL)
	}

	externalID, _ := doc.Find(`meta[name="dof:id"]`).Attr("content")
	if externalID == "" {
		return pipeline.ParseResult{}, fmt.Errorf("gazette document %s: missing dof:id meta tag", sourceURL)
	}

	var pubDate *time.Time
	if raw, ok := doc.Find("time.publication-date").Attr("datetime"); ok {
		if parsed, perr := time.Parse(dateLayout, raw); perr == nil {
			pubDate = &parsed
		}
	}

	var articles []pipeline.Article
	doc.Find("article[data-number]").Each(func(i int, s *goquery.Selection) {
		number, _ := s.Attr("data-number")
		order, convErr := strconv.Atoi(number)
		if convErr != nil {
			order = i
		}
		articles = append(articles, pipeline.Article{
			Identifier: number,
			Content:    strings.TrimSpace(s.Find("p").Text()),
			Order:      order,
		})
	})

	result := pipeline.ParseResult{
		Document: &pipeline.Document{
			SourceID:        "dof",
			ExternalID:      externalID,
			Title:           title,
			PublicationDate: pubDate,
			Category:        strings.TrimSpace(doc.Find("span.category").First().Text()),
			Articles:        articles,
			ContentType:     "text/html",
			SourceURL:       sourceURL,
		},
	}
	return result, nil
}

var _ pipeline.Parser = Parser{}
