// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/mortgage-gateway/pkg/config"
	"github.com/go-core-stack/mortgage-gateway/pkg/metrics"
)

const (
	contentTypeJSON = "application/json"
	// RequestIDHeader carries the inbound request id to the upstream.
	RequestIDHeader = "X-Request-ID"
	// maxLogBody limits how much of an upstream error body ends up in logs.
	maxLogBody = 64 * 1024
)

// ErrNotJSONObject reports a body that is not a single JSON object.
var ErrNotJSONObject = errors.New("body is not a JSON object")

// Payload is an opaque JSON object relayed between the caller and the
// prediction service without binding it to a schema.
type Payload map[string]any

// Response is a decoded 2xx reply from the prediction service.
type Response struct {
	Status int
	Body   Payload
}

// Client issues JSON POST requests against the prediction service. A single
// Client is built at startup and shared by all handlers.
type Client struct {
	// client performs outbound HTTP requests with tuned transport settings.
	client *http.Client
	// baseURL is the upstream address that route suffixes are resolved against.
	baseURL *url.URL
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// New constructs a Client backed by an http.Client with connection pooling
// defaults. A zero UpstreamTimeout leaves outbound calls unbounded.
func New(cfg config.Config, m *metrics.Metrics) (*Client, error) {
	if cfg.Upstream == nil || !cfg.Upstream.IsAbs() {
		return nil, errors.New("absolute upstream URL is required")
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Timeout:   cfg.UpstreamTimeout,
			Transport: transport,
		},
		baseURL: cloneURL(cfg.Upstream),
		logger:  log.With().Str("component", "upstream").Logger(),
		metrics: m,
	}, nil
}

// Forward POSTs payload to the upstream path and blocks until the upstream
// replies or the transport fails. Only a 2xx reply carrying a JSON object is
// returned; anything else is an error.
func (c *Client) Forward(ctx context.Context, path string, payload Payload) (*Response, error) {
	start := time.Now()
	event := c.logger.With().Str("upstream_path", path).Logger()
	if id := RequestIDFromContext(ctx); id != "" {
		event = event.With().Str("request_id", id).Logger()
	}

	resp, err := c.do(ctx, path, payload)
	if err != nil {
		c.metrics.ObserveUpstream(path, metrics.OutcomeTransportError, time.Since(start))
		event.Error().Err(err).Dur("duration", time.Since(start)).Msg("upstream call failed")
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			event.Error().Err(closeErr).Msg("close upstream response body failed")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxLogBody))
		if readErr != nil {
			event.Error().Err(readErr).Int("status", resp.StatusCode).Msg("failed to read upstream error body")
		}
		c.metrics.ObserveUpstream(path, metrics.OutcomeUpstreamError, time.Since(start))
		event.Warn().
			Int("status", resp.StatusCode).
			Bytes("upstream_body", body).
			Dur("duration", time.Since(start)).
			Msg("upstream returned error")
		return nil, &UpstreamError{Status: resp.StatusCode, Path: path, Body: body}
	}

	decoded, err := DecodePayload(resp.Body)
	if err != nil {
		c.metrics.ObserveUpstream(path, metrics.OutcomeDecodeError, time.Since(start))
		event.Error().Err(err).Int("status", resp.StatusCode).Msg("upstream returned an unreadable body")
		return nil, &UpstreamError{Status: resp.StatusCode, Path: path, Err: err}
	}

	c.metrics.ObserveUpstream(path, metrics.OutcomeSuccess, time.Since(start))
	event.Debug().
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("upstream call completed")

	return &Response{Status: resp.StatusCode, Body: decoded}, nil
}

func (c *Client) do(ctx context.Context, path string, payload Payload) (*http.Response, error) {
	body, err := EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode upstream payload: %w", err)
	}

	target := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	if id := RequestIDFromContext(ctx); id != "" {
		req.Header.Set(RequestIDHeader, id)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform upstream request: %w", err)
	}
	return resp, nil
}

// resolve appends path to the base URL, keeping any base path prefix.
func (c *Client) resolve(path string) *url.URL {
	return c.baseURL.JoinPath(path)
}

// DecodePayload reads exactly one JSON object from r. Numbers are kept as
// json.Number so they are re-encoded with their original text.
func DecodePayload(r io.Reader) (Payload, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSONObject, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: null", ErrNotJSONObject)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after object", ErrNotJSONObject)
	}
	return p, nil
}

// EncodePayload renders p without HTML escaping so strings such as "<" and
// "&" leave the gateway as they arrived. Object keys come out sorted.
func EncodePayload(p Payload) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// cloneURL makes a shallow copy of the provided URL pointer.
func cloneURL(u *url.URL) *url.URL {
	if u == nil {
		return nil
	}
	clone := *u
	return &clone
}

// UpstreamError describes a reply from the prediction service that could not
// be relayed: a non-2xx status or a body that is not a JSON object.
type UpstreamError struct {
	Status int    // Status is the HTTP status the upstream answered with.
	Path   string // Path is the upstream route that was called.
	Body   []byte // Body holds a truncated copy of an error reply.
	Err    error  // Err retains a decode failure, if any.
}

// Error implements the error interface for UpstreamError.
func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s status %d: %v", e.Path, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s status %d", e.Path, e.Status)
}

// Unwrap exposes the underlying error for errors.Is / errors.As checks.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

type requestIDKey struct{}

// ContextWithRequestID stores the inbound request id for propagation upstream.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored by ContextWithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
