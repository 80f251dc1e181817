package bjv

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

func TestFetchPageParsesEntriesAndStopsShortOfFullPage(t *testing.T) {
	t.Parallel()

	listing := `<html><body>
<a class="libro" href="/libro/1" data-libro-id="L1">Derecho Civil Tomo I</a>
</body></html>`

	client := &stubClient{bodies: map[string]string{
		"https://bjv.example.unam.mx/buscar?pagina=1": listing,
	}}
	adapter := New(client, "https://bjv.example.unam.mx/buscar")

	page, err := adapter.FetchPage(context.Background(), pipeline.Config{SourceID: "bjv", Mode: pipeline.ModeSearch}, "")
	require.NoError(t, err)
	require.Len(t, page.References, 1)
	require.Equal(t, "L1", page.References[0].ExternalID)
	require.False(t, page.HasMore)
}

func TestFetchPageIncludesQueryAndCategory(t *testing.T) {
	t.Parallel()

	client := &stubClient{bodies: map[string]string{
		"https://bjv.example.unam.mx/buscar?area=civil&pagina=1&q=contratos": `<html><body><a class="libro" href="/libro/2" data-libro-id="L2">Contratos civiles</a></body></html>`,
	}}
	adapter := New(client, "https://bjv.example.unam.mx/buscar")

	cfg := pipeline.Config{SourceID: "bjv", Mode: pipeline.ModeSearch, Query: "contratos", Category: "civil"}
	page, err := adapter.FetchPage(context.Background(), cfg, "")
	require.NoError(t, err)
	require.Len(t, page.References, 1)
}

func TestCanonicalizeIDLowercasesAndTrims(t *testing.T) {
	t.Parallel()
	adapter := New(&stubClient{}, "https://bjv.example.unam.mx/buscar")
	require.Equal(t, "l1", adapter.CanonicalizeID(pipeline.Reference{ExternalID: " L1 "}))
}
