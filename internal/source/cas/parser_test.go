package cas

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleAward = `<html>
<head><meta name="cas:numero-caso" content="CAS 2024/A/0001"></head>
<body>
<h1 class="titulo-laudo">Club Atletico v. Football Federation</h1>
<div data-categoria-deporte="futbol" data-estado="final"></div>
<ul>
<li class="parte" data-tipo="appellant">Club Atletico</li>
<li class="parte" data-tipo="respondent">Football Federation</li>
<li class="arbitro">Jane Smith (United Kingdom)</li>
</ul>
</body>
</html>`

func TestParseExtractsDocumentFields(t *testing.T) {
	t.Parallel()

	result, err := NewParser().Parse([]byte(sampleAward), "text/html", "https://cas.example.org/laudo/1")
	require.NoError(t, err)
	require.NotNil(t, result.Document)
	require.Equal(t, "CAS 2024/A/0001", result.Document.ExternalID)
	require.Equal(t, "Club Atletico v. Football Federation", result.Document.Title)
	require.Equal(t, "futbol", result.Document.Category)
	require.Equal(t, "final", result.Document.Status)
	require.Len(t, result.Document.Articles, 3)
}

func TestParseRejectsAwardMissingCaseNumber(t *testing.T) {
	t.Parallel()

	_, err := NewParser().Parse([]byte(`<html><body><h1 class="titulo-laudo">X</h1></body></html>`), "text/html", "https://cas.example.org/laudo/2")
	require.Error(t, err)
}
