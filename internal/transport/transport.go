// Package transport implements the HTTP side of the post_stream/await
// contract spec.md §6 requires of the core: a background goroutine
// POSTs a request, feeds the streamed response body through
// internal/framer, and pushes parsed chunk events into a
// stream.Response, finalizing it with recorded latencies when the
// call ends. Grounded on original_source/src/curl.cpp's
// CURLHandler::post_stream/await.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cristalhq/hedgedhttp"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/llmbench/scale/internal/framer"
	"github.com/llmbench/scale/internal/pipeline"
	"github.com/llmbench/scale/internal/stream"
)

// readBufferSize is the chunk size read from the response body per
// Read call, analogous to libcurl's write-callback buffer.
const readBufferSize = 4096

// apiKeyEnv is the environment variable CURLHandler's constructor
// reads the bearer token from.
const apiKeyEnv = "OPENAI_API_KEY"

// Client posts completion requests and streams their responses.
// Hedging (racing a duplicate request after hedgeDelay if the first
// hasn't produced a byte) is opt-in: a zero delay disables it,
// matching hedgedhttp's own documented convention.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	logger     log.Logger
}

// New builds a Client against endpoint. timeout bounds each HTTP call
// (0 means no timeout); hedgeDelay, if positive, wraps the transport
// in hedgedhttp so a slow request is raced rather than waited out.
// OPENAI_API_KEY is read once here, matching CURLHandler's constructor
// throwing if no key is present. A nil logger is replaced with a
// no-op one.
func New(endpoint string, timeout, hedgeDelay time.Duration, logger log.Logger) (*Client, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("transport: %s not set", apiKeyEnv)
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}

	base := &http.Client{Timeout: timeout}
	hc := base
	if hedgeDelay > 0 {
		hedged, err := hedgedhttp.NewClient(hedgeDelay, 10, base)
		if err != nil {
			return nil, fmt.Errorf("transport: building hedged client: %w", err)
		}
		hc = hedged
	}
	return &Client{httpClient: hc, endpoint: endpoint, apiKey: apiKey, logger: logger}, nil
}

// handle is the pipeline.Awaiter returned alongside each
// stream.Response: Await blocks until the background goroutine in run
// has recorded latencies and finalized the response.
type handle struct {
	done chan struct{}
	lat  stream.LatencyMetrics
	err  error
}

func (h *handle) Await(ctx context.Context) (stream.LatencyMetrics, error) {
	select {
	case <-h.done:
		return h.lat, h.err
	case <-ctx.Done():
		return stream.LatencyMetrics{}, ctx.Err()
	}
}

// PostStream sends req and returns immediately with a Response that
// fills as the server streams chunk events, and an Awaiter that
// blocks until the call has ended. It never blocks on the network
// itself — the actual HTTP round trip runs in a background goroutine,
// matching post_stream's synchronous-return/background-write contract.
func (c *Client) PostStream(ctx context.Context, req pipeline.RequestParams) (*stream.Response, pipeline.Awaiter, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("transport: marshaling request: %w", err)
	}

	resp := stream.New()
	h := &handle{done: make(chan struct{})}
	go c.run(ctx, body, resp, h)

	return resp, h, nil
}

func (c *Client) run(ctx context.Context, body []byte, resp *stream.Response, h *handle) {
	start := time.Now()
	var lat stream.LatencyMetrics
	defer func() {
		resp.Finalize(lat)
		h.lat = lat
		close(h.done)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		h.err = fmt.Errorf("transport: building request: %w", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		h.err = fmt.Errorf("transport: request failed: %w", err)
		return
	}
	defer httpResp.Body.Close()

	lat = c.drain(start, httpResp.Body, resp)
}

// drain reads httpResp.Body until EOF, feeding every buffer through
// framer.Feed and pushing parsed events into resp. TTFT is the time of
// the first event observed; E2E is recorded once the body is
// exhausted (or the read fails, which the caller treats as end of the
// stream either way — a failed transfer still finalizes with whatever
// backlog made it through, which the pipeline reads as a possibly
// empty, possibly dropped, request).
func (c *Client) drain(start time.Time, body io.Reader, resp *stream.Response) stream.LatencyMetrics {
	var lat stream.LatencyMetrics
	var state framer.State
	buf := make([]byte, readBufferSize)
	gotTTFT := false

	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			var events []string
			state, events = framer.Feed(state, buf[:n])
			for _, ev := range events {
				if !gotTTFT {
					lat.TTFT = time.Since(start)
					gotTTFT = true
				}
				if err := resp.Push(ev); err != nil {
					// A full chunk ring means the consumer side has
					// fallen fatally behind; drop the event rather
					// than block the network read, but surface it so
					// an operator can see it happened.
					level.Warn(c.logger).Log("msg", "dropping chunk event, ring full", "err", err)
				}
			}
		}
		if rerr != nil {
			break
		}
	}
	lat.E2E = time.Since(start)
	return lat
}
