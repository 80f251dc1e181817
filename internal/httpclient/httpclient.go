// Package httpclient implements the pipeline.HTTPClient collaborator using
// gocolly/colly, reusing a pooled transport across requests the way a
// production crawler would.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

// Client fetches a URL through a cloned Colly collector per request,
// sharing one pooled transport.
type Client struct {
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Client with connection pooling and reasonable dial/TLS
// timeouts.
func New() *Client {
	c := colly.NewCollector(colly.Async(false))
	transport := newHTTPTransport()
	c.WithTransport(transport)
	return &Client{transport: transport, baseCollector: c}
}

// Get issues a single HTTP GET, honoring ctx cancellation and timeouts.Total
// (30s when unset). timeouts.Connect is not used; dials use the transport's
// fixed 10s timeout. It implements pipeline.HTTPClient.
func (c *Client) Get(ctx context.Context, rawURL string, headers http.Header, timeouts pipeline.HTTPTimeouts) (pipeline.HTTPResponse, error) {
	var (
		result   pipeline.HTTPResponse
		fetchErr error
	)

	collector := c.baseCollector.Clone()
	total := timeouts.Total
	if total <= 0 {
		total = 30 * time.Second
	}
	collector.SetRequestTimeout(total)

	collector.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		result = pipeline.HTTPResponse{
			StatusCode: r.StatusCode,
			Header:     r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = &pipeline.StatusError{StatusCode: r.StatusCode, Cause: err}
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return pipeline.HTTPResponse{}, fmt.Errorf("fetch %s cancelled: %w", rawURL, ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return pipeline.HTTPResponse{}, fmt.Errorf("fetch %s: %w", rawURL, fetchErr)
		}
		if err != nil {
			return pipeline.HTTPResponse{}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		return result, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
