package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

// HeadlessConfig controls the behavior of the headless client.
type HeadlessConfig struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// HeadlessClient implements pipeline.HTTPClient by rendering the page in
// headless Chrome and returning the post-render DOM as the body. Used for
// portals that only populate content via client-side JavaScript.
type HeadlessClient struct {
	cfg         HeadlessConfig
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewHeadlessClient creates a HeadlessClient backed by chromedp.
func NewHeadlessClient(cfg HeadlessConfig) (*HeadlessClient, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &HeadlessClient{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, tearing down the browser process.
func (c *HeadlessClient) Close() { c.allocCancel() }

// Get implements pipeline.HTTPClient by navigating with headless Chrome and
// returning the fully rendered DOM.
func (c *HeadlessClient) Get(ctx context.Context, rawURL string, headers http.Header, timeouts pipeline.HTTPTimeouts) (pipeline.HTTPResponse, error) {
	if err := c.acquire(ctx); err != nil {
		return pipeline.HTTPResponse{}, err
	}
	defer c.release()

	taskCtx, taskCancel := chromedp.NewContext(c.allocator)
	defer taskCancel()

	timeout := timeouts.Total
	if timeout <= 0 {
		timeout = c.cfg.NavigationTimeout
	}
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, finalURL, err := c.runHeadless(taskCtx, rawURL, headers)
	if err != nil {
		return pipeline.HTTPResponse{}, err
	}

	status, respHeaders := meta.snapshotWithFallback(finalURL, rawURL)
	if respHeaders == nil {
		respHeaders = http.Header{}
	}
	return pipeline.HTTPResponse{StatusCode: status, Header: respHeaders, Body: []byte(html)}, nil
}

func (c *HeadlessClient) runHeadless(ctx context.Context, rawURL string, headers http.Header) (string, string, error) {
	var html, finalURL string
	actions := []chromedp.Action{
		c.networkSetupAction(headers),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run %s: %w", rawURL, err)
	}
	return html, finalURL, nil
}

func (c *HeadlessClient) networkSetupAction(headers http.Header) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if c.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(c.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(toNetworkHeaders(headers)).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (c *HeadlessClient) acquire(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	select {
	case c.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait cancelled: %w", ctx.Err())
	}
}

func (c *HeadlessClient) release() {
	if c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}

type responseMeta struct {
	mu     sync.RWMutex
	status int
	header http.Header
	url    string
}

func newResponseMeta() *responseMeta { return &responseMeta{header: http.Header{}} }

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	header := http.Header{}
	for key, value := range resp.Response.Headers {
		header.Add(key, fmt.Sprint(value))
	}
	m.mu.Lock()
	m.status = int(resp.Response.Status)
	m.header = header
	m.url = resp.Response.URL
	m.mu.Unlock()
}

func (m *responseMeta) snapshotWithFallback(finalURL, requestURL string) (int, http.Header) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := m.status
	if status == 0 {
		status = http.StatusOK
	}
	header := make(http.Header, len(m.header))
	for k, v := range m.header {
		header[k] = append([]string(nil), v...)
	}
	return status, header
}

func toNetworkHeaders(h http.Header) network.Headers {
	headers := network.Headers{}
	for key, values := range h {
		if len(values) == 0 {
			continue
		}
		if len(values) == 1 {
			headers[key] = values[0]
		} else {
			headers[key] = append([]string(nil), values...)
		}
	}
	return headers
}

var _ pipeline.HTTPClient = (*HeadlessClient)(nil)
