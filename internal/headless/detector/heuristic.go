// Package detector decides when a fetch worker's HTTP response should be
// re-fetched through a headless browser, for portals whose content only
// appears after client-side rendering.
package detector

import (
	"bytes"
	"strings"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

// spaMarkers are substrings found in the empty client-rendered shell a
// portal serves before its JS bundle runs. The framework-generic entries
// cover any Next.js/CRA/Vue portal; the rest are the specific empty-root
// elements dof, scjn, bjv, and cas are known to emit pre-hydration, so a
// response with one of these markers but none of that source's usual
// data-* attributes (data-number, data-q, data-area-derecho,
// data-categoria-deporte) is a pre-render shell, not a missing document.
var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("id=\"dof-portal\""),
	[]byte("id=\"scjn-app\""),
	[]byte("id=\"bjv-visor\""),
	[]byte("id=\"cas-app\""),
	[]byte("<app-root"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp pipeline.HTTPResponse) bool {
	if resp.StatusCode != 200 {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	sourceDataAttrs := [][]byte{
		[]byte("data-number="),
		[]byte("data-q="),
		[]byte("data-area-derecho="),
		[]byte("data-categoria-deporte="),
	}
	for _, attr := range sourceDataAttrs {
		if bytes.Contains(body, attr) {
			return false
		}
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
