package scjn

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

type stubClient struct {
	bodies map[string]string
}

func (s *stubClient) Get(_ context.Context, url string, _ http.Header, _ pipeline.HTTPTimeouts) (pipeline.HTTPResponse, error) {
	return pipeline.HTTPResponse{StatusCode: 200, Header: http.Header{}, Body: []byte(s.bodies[url])}, nil
}

func TestFetchPageParsesResultsAndStopsWithoutNextPage(t *testing.T) {
	t.Parallel()

	listing := `<html><body>
<a class="result" href="/documento?q=AbC1" data-q="AbC1">Amparo Directo 1/2024</a>
</body></html>`

	client := &stubClient{bodies: map[string]string{}}
	adapter := New(client, "https://scjn.example.gob.mx/buscar")
	url := "https://scjn.example.gob.mx/buscar?pagina=1"
	client.bodies[url] = listing

	page, err := adapter.FetchPage(context.Background(), pipeline.Config{SourceID: "scjn", Mode: pipeline.ModeCategory, Category: ""}, "")
	require.NoError(t, err)
	require.Len(t, page.References, 1)
	require.Equal(t, "AbC1", page.References[0].ExternalID)
	require.False(t, page.HasMore)
}

func TestFetchPageBuildsFilterQuery(t *testing.T) {
	t.Parallel()

	client := &stubClient{bodies: map[string]string{
		"https://scjn.example.gob.mx/buscar?ambito=federal&categoria=jurisprudencia&estado=vigente&pagina=1": `<html><body><a class="result" href="/documento?q=F1" data-q="F1">Tesis 1</a></body></html>`,
	}}
	adapter := New(client, "https://scjn.example.gob.mx/buscar")

	cfg := pipeline.Config{SourceID: "scjn", Mode: pipeline.ModeCategory, Category: "jurisprudencia", Scope: "federal", Status: "vigente"}
	page, err := adapter.FetchPage(context.Background(), cfg, "")
	require.NoError(t, err)
	require.Len(t, page.References, 1)
	require.False(t, page.HasMore)
}

func TestFetchPageRejectsNonNumericCursor(t *testing.T) {
	t.Parallel()

	adapter := New(&stubClient{}, "https://scjn.example.gob.mx/buscar")
	_, err := adapter.FetchPage(context.Background(), pipeline.Config{SourceID: "scjn", Mode: pipeline.ModeCategory}, "not-a-page")
	require.Error(t, err)
}

func TestCanonicalizeIDPrefersOpaqueMetadataAndLowercases(t *testing.T) {
	t.Parallel()

	adapter := New(&stubClient{}, "https://scjn.example.gob.mx/buscar")
	ref := pipeline.Reference{ExternalID: "stale", OpaqueMetadata: map[string]string{"q_param": " AbC1 "}}
	require.Equal(t, "abc1", adapter.CanonicalizeID(ref))
}
