package cas

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
<a class="laudo" href="/laudo/1" data-numero-caso="CAS 2024/A/0001">Club v. Federation</a>
</body></html>`

	client := &stubClient{bodies: map[string]string{
		"https://cas.example.org/laudos?pagina=1": listing,
	}}
	adapter := New(client, "https://cas.example.org/laudos")

	page, err := adapter.FetchPage(context.Background(), pipeline.Config{SourceID: "cas", Mode: pipeline.ModeCategory}, "")
	require.NoError(t, err)
	require.Len(t, page.References, 1)
	require.Equal(t, "CAS 2024/A/0001", page.References[0].ExternalID)
	require.False(t, page.HasMore)
}

func TestFetchPageRejectsNonNumericCursor(t *testing.T) {
	t.Parallel()

	adapter := New(&stubClient{}, "https://cas.example.org/laudos")
	_, err := adapter.FetchPage(context.Background(), pipeline.Config{SourceID: "cas", Mode: pipeline.ModeCategory}, "xx")
	require.Error(t, err)
}

func TestCanonicalizeIDUppercasesAndCollapsesWhitespace(t *testing.T) {
	t.Parallel()
	adapter := New(&stubClient{}, "https://cas.example.org/laudos")
	require.Equal(t, "CAS 2024/A/0001", adapter.CanonicalizeID(pipeline.Reference{ExternalID: "  cas   2024/a/0001 "}))
}
