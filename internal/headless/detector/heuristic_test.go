package detector

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

func TestHeuristic_ShouldPromote_EmptyBody(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := pipeline.HTTPResponse{
		StatusCode: 200,
		Body:       []byte(""),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_SPAMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := pipeline.HTTPResponse{
		StatusCode: 200,
		Body:       []byte(`<div id="__next"></div>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_PortalShellMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	for _, body := range []string{
		`<div id="scjn-app"></div>`,
		`<div id="dof-portal"></div>`,
		`<app-root></app-root>`,
	} {
		resp := pipeline.HTTPResponse{StatusCode: 200, Body: []byte(body)}
		require.True(t, h.ShouldPromote(resp), "body %q should be promoted", body)
	}
}

func TestHeuristic_ShouldPromote_ScriptDensity(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(1000)
	resp := pipeline.HTTPResponse{
		StatusCode: 200,
		Body:       []byte(`<html><script>var a=1;</script><p>t</p></html>`),
	}
	require.True(t, h.ShouldPromote(resp))
}

func TestHeuristic_ShouldPromote_DisabledForNon200(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(100)
	resp := pipeline.HTTPResponse{
		StatusCode: 404,
		Body:       []byte("not found"),
	}
	require.False(t, h.ShouldPromote(resp))
}
