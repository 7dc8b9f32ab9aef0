package forwarding

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/litefs-adapter/core/pkg/ports"
)

// Client is the module's own ports.HTTPClient adapter: a stdlib net/http
// client configured with separate connect and read timeouts, per §4.8.
// connectTimeout bounds dial time; readTimeout bounds how long the engine
// waits for response headers once connected.
type Client struct {
	http *http.Client
}

// NewClient constructs a Client with the given connect/read timeouts.
func NewClient(connectTimeout, readTimeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Client{
		http: &http.Client{
			Transport: &http.Transport{
				DialContext:           dialer.DialContext,
				ResponseHeaderTimeout: readTimeout,
			},
		},
	}
}

// Forward issues req and returns the upstream's response, or a transport
// error (including timeouts, which surface as a non-nil err here and are
// classified by the caller via context deadline inspection).
func (c *Client) Forward(ctx context.Context, req ports.ForwardRequest) (*ports.ForwardResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	httpReq.Header = req.Header.Clone()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	return &ports.ForwardResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
