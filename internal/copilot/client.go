package copilot

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/oauth2"

	"github.com/mihaisavezi/copilot-gateway/internal/metrics"
)

// TokenSourceProvider supplies session tokens scoped to a request context. *Manager implements it.
type TokenSourceProvider interface {
	TokenSource(ctx context.Context) oauth2.TokenSource
}

type ClientOptions struct {
	BaseURL string
	// Transport is the underlying round tripper; http.DefaultTransport when nil.
	Transport http.RoundTripper
	// Timeout bounds a whole exchange, streamed body included.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Client sends chat completions to Copilot with a valid session token.
type Client struct {
	tokens    TokenSourceProvider
	url       string
	transport http.RoundTripper
	timeout   time.Duration
	logger    *slog.Logger
}

// ChatRequest is an already encoded upstream request body plus how to send it.
type ChatRequest struct {
	// Operation labels metrics and logs, e.g. "messages" or "chat_completions".
	Operation string
	Body      []byte
	Stream    bool
	Vision    bool
}

func NewClient(tokens TokenSourceProvider, opts ClientOptions) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultEndpoints().CopilotAPIURL
	}

	if opts.Transport == nil {
		opts.Transport = http.DefaultTransport
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		tokens:    tokens,
		url:       strings.TrimRight(opts.BaseURL, "/") + "/chat/completions",
		transport: opts.Transport,
		timeout:   opts.Timeout,
		logger:    opts.Logger,
	}
}

// ChatCompletions posts req upstream. On success the caller owns the returned body, which is
// already decoded. A non-2xx answer is returned as *APIError with the body attached.
func (c *Client) ChatCompletions(ctx context.Context, req ChatRequest) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	setClientHeaders(httpReq.Header)
	httpReq.Header.Set("Content-Type", "application/json")

	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept-Encoding", "br, gzip")
	}

	if req.Vision {
		httpReq.Header.Set(VisionHeader, "true")
	}

	client := &http.Client{
		Transport: &oauth2.Transport{Source: c.tokens.TokenSource(ctx), Base: c.transport},
		Timeout:   c.timeout,
	}

	start := time.Now()
	resp, err := client.Do(httpReq)
	metrics.UpstreamDuration.WithLabelValues(req.Operation).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(req.Operation, "error").Inc()

		var authErr *AuthError
		switch {
		case errors.Is(err, ErrNotAuthorized):
			return nil, ErrNotAuthorized
		case errors.As(err, &authErr):
			return nil, authErr
		}

		return nil, fmt.Errorf("upstream request: %w", err)
	}

	metrics.UpstreamRequests.WithLabelValues(req.Operation, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("decode upstream body: %w", err)
	}

	resp.Body = body
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()

		payload, _ := io.ReadAll(resp.Body)
		c.logger.Error("Upstream error response",
			"operation", req.Operation,
			"status", resp.StatusCode,
			"body", string(payload),
		)

		return nil, &APIError{StatusCode: resp.StatusCode, Status: statusText(resp.StatusCode, resp.Status), Body: payload}
	}

	c.logger.Debug("Upstream response",
		"operation", req.Operation,
		"status", resp.StatusCode,
		"stream", req.Stream,
		"elapsed", time.Since(start),
	)

	return resp, nil
}

type decodedBody struct {
	io.Reader
	closers []io.Closer
}

func (d *decodedBody) Close() error {
	var errs []error
	for _, closer := range d.closers {
		errs = append(errs, closer.Close())
	}

	return errors.Join(errs...)
}

func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}

		return &decodedBody{Reader: gz, closers: []io.Closer{gz, resp.Body}}, nil
	case "br":
		return &decodedBody{Reader: brotli.NewReader(resp.Body), closers: []io.Closer{resp.Body}}, nil
	default:
		return resp.Body, nil
	}
}
