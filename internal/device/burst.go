package device

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"
)

// BurstResult is the outcome of one request in a parallel burst.
type BurstResult struct {
	Path     string
	Response *Response
	Err      error
}

// Burst GETs every path with at most parallel requests in flight. One
// failure does not cancel the others. Results keep the order of paths.
func (c *Client) Burst(ctx context.Context, paths []string, parallel int) []BurstResult {
	if parallel < 1 {
		parallel = 1
	}
	results := make([]BurstResult, len(paths))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			resp, err := c.Do(ctx, http.MethodGet, p, nil, "")
			results[i] = BurstResult{Path: p, Response: resp, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}
