package dof

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleDocument = `<html>
<head><meta name="dof:id" content="123"></head>
<body>
<h1 class="title">Decreto por el que se reforma</h1>
<time class="publication-date" datetime="2026-01-05"></time>
<span class="category">DECRETO</span>
<article data-number="1"><p>Primero. Se reforma el artículo.</p></article>
<article data-number="2"><p>Segundo. Entrará en vigor.</p></article>
</body>
</html>`

func TestParseExtractsDocumentFields(t *testing.T) {
	t.Parallel()

	result, err := NewParser().Parse([]byte(sampleDocument), "text/html", "https://dof.example.gob.mx/pub/123")
	require.NoError(t, err)
	require.NotNil(t, result.Document)
	require.Equal(t, "123", result.Document.ExternalID)
	require.Equal(t, "Decreto por el que se reforma", result.Document.Title)
	require.Equal(t, "DECRETO", result.Document.Category)
	require.NotNil(t, result.Document.PublicationDate)
	require.Len(t, result.Document.Articles, 2)
	require.Equal(t, "1", result.Document.Articles[0].Identifier)
}

func TestParseRejectsDocumentMissingTitle(t *testing.T) {
	t.Parallel()

	_, err := NewParser().Parse([]byte("<html><body></body></html>"), "text/html", "https://dof.example.gob.mx/pub/999")
	require.Error(t, err)
}
