package fetcher

import (
	"context"
	"net/http"
	"strconv"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Result is the outcome of one logical version-negotiated GET: the
// final response (whatever its status) plus the protocol version
// actually in effect.
type Result struct {
	URL     string
	Status  int
	Header  http.Header
	Body    []byte
	Version int
}

// ETag returns the response entity tag, if any.
func (r *Result) ETag() string {
	return r.Header.Get("ETag")
}

// OK reports whether the exchange completed with 200.
func (r *Result) OK() bool {
	return r.Status == http.StatusOK
}

// GetVersioned performs a GET trying protocol versions in order:
// the preferred version first, then each fallback. A version is
// rejected only on 406; any other status ends negotiation and is
// returned as-is. The reported version prefers the server's x-v
// response header, falling back to the version attempted. An error is
// returned only when every version attempt failed at the connection
// level — if any attempt produced a response, the last one wins.
func (c *Client) GetVersioned(ctx context.Context, rawURL string, preferred int, fallbacks []int) (*Result, error) {
	if rawURL == "" {
		return nil, eris.New("fetcher: empty url")
	}

	versions := []int{preferred}
	for _, v := range fallbacks {
		if v != preferred {
			versions = append(versions, v)
		}
	}

	var lastResult *Result
	var lastErr error
	for _, xv := range versions {
		resp, body, err := c.get(ctx, rawURL, xv)
		if err != nil {
			lastErr = err
			zap.L().Warn("request error, trying next version",
				zap.String("url", rawURL),
				zap.Int("x_v", xv),
				zap.Error(err),
			)
			continue
		}

		res := &Result{
			URL:     rawURL,
			Status:  resp.StatusCode,
			Header:  resp.Header,
			Body:    body,
			Version: respondedVersion(resp.Header, xv),
		}
		lastResult = res
		if resp.StatusCode != http.StatusNotAcceptable {
			return res, nil
		}
		zap.L().Warn("version rejected, trying fallback",
			zap.String("url", rawURL),
			zap.Int("x_v", xv),
		)
	}

	if lastResult == nil {
		return nil, eris.Wrapf(lastErr, "fetcher: request failed for %s", rawURL)
	}
	// Every version was rejected; return the final 406 for the caller
	// to record, with the preferred version as the best guess.
	lastResult.Version = respondedVersion(lastResult.Header, preferred)
	return lastResult, nil
}

// respondedVersion extracts the served version from the x-v response
// header; its absence means the attempted version was honored.
func respondedVersion(h http.Header, attempted int) int {
	raw := h.Get("x-v")
	if raw == "" {
		return attempted
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return attempted
	}
	return v
}
