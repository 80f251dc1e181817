package httpclient

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/lexatlas/acquisition-pipeline/internal/headless/detector"
	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

// PromotingClient tries a plain HTTP fetch first and re-fetches through a
// headless browser only when the heuristic flags the response as
// JS-rendered. Grounded on spec.md §9's note that the headless adapter is a
// subtype of the HTTP collaborator returning post-render HTML.
type PromotingClient struct {
	Base      pipeline.HTTPClient
	Headless  pipeline.HTTPClient
	Heuristic *detector.Heuristic
	Logger    *zap.Logger
}

// NewPromotingClient builds a PromotingClient with a default heuristic.
func NewPromotingClient(base, headless pipeline.HTTPClient, logger *zap.Logger) *PromotingClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromotingClient{
		Base:      base,
		Headless:  headless,
		Heuristic: detector.NewHeuristic(0),
		Logger:    logger.Named("promoting_client"),
	}
}

// Get implements pipeline.HTTPClient.
func (c *PromotingClient) Get(ctx context.Context, rawURL string, headers http.Header, timeouts pipeline.HTTPTimeouts) (pipeline.HTTPResponse, error) {
	resp, err := c.Base.Get(ctx, rawURL, headers, timeouts)
	if err != nil {
		return pipeline.HTTPResponse{}, err
	}
	if c.Headless == nil || !c.Heuristic.ShouldPromote(resp) {
		return resp, nil
	}
	c.Logger.Info("promoting to headless render", zap.String("url", rawURL))
	return c.Headless.Get(ctx, rawURL, headers, timeouts)
}

var _ pipeline.HTTPClient = (*PromotingClient)(nil)
