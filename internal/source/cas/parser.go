package cas

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

// Parser extracts a Document from one award page.
type Parser struct{}

// NewParser builds a cas Parser.
func NewParser() Parser { return Parser{} }

// Parse implements pipeline.Parser.
func (Parser) Parse(body []byte, _ string, sourceURL string) (pipeline.ParseResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return pipeline.ParseResult{}, fmt.Errorf("parse cas award %s: %w", sourceURL, err)
	}

	caseNumber, _ := doc.Find(`meta[name="cas:numero-caso"]`).Attr("content")
	caseNumber = strings.ToUpper(strings.Join(strings.Fields(caseNumber), " "))
	if caseNumber == "" {
		return pipeline.ParseResult{}, fmt.Errorf("cas award %s: missing numero-caso meta tag", sourceURL)
	}

	title := strings.TrimSpace(doc.Find("h1.titulo-laudo").First().Text())
	if title == "" {
		return pipeline.ParseResult{}, fmt.Errorf("cas award %s: missing title", sourceURL)
	}

	category, _ := doc.Find("[data-categoria-deporte]").First().Attr("data-categoria-deporte")
	status, _ := doc.Find("[data-estado]").First().Attr("data-estado")

	var articles []pipeline.Article
	order := 0
	doc.Find("li.parte").Each(func(_ int, s *goquery.Selection) {
		rol, _ := s.Attr("data-tipo")
		articles = append(articles, pipeline.Article{
			Identifier: rol,
			Content:    strings.TrimSpace(s.Text()),
			Order:      order,
		})
		order++
	})
	doc.Find("li.arbitro").Each(func(_ int, s *goquery.Selection) {
		articles = append(articles, pipeline.Article{
			Identifier: "arbitro",
			Content:    strings.TrimSpace(s.Text()),
			Order:      order,
		})
		order++
	})

	result := pipeline.ParseResult{
		Document: &pipeline.Document{
			SourceID:    "cas",
			ExternalID:  caseNumber,
			Title:       title,
			Category:    strings.TrimSpace(category),
			Status:      strings.TrimSpace(status),
			Articles:    articles,
			ContentType: "text/html",
			SourceURL:   sourceURL,
		},
	}
	return result, nil
}

var _ pipeline.Parser = Parser{}
