// Package adapter defines the pluggable HTTP transport contract consumed by
// the stable-request engine (spec §6) plus a net/http-backed default
// implementation and a trial-mode simulator.
package adapter

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wudi/stablegate/internal/stableerrors"
)

// RequestConfig is the normalized adapter-shape request built from an R
// value (spec §4.1 step 2).
type RequestConfig struct {
	Method  string
	BaseURL string // protocol://hostname:port
	URL     string // path
	Headers map[string]string
	Params  map[string]string
	Data    []byte
	Timeout time.Duration
	Context context.Context
}

// Response is the shape every successful adapter call returns.
type Response struct {
	Status  int
	Data    []byte
	Headers http.Header
}

// Adapter performs a single HTTP call and classifies transport errors. It
// must return a *stableerrors.StableError of KindTransport (with
// StatusCode/Code populated where known) on failure, or
// KindCancellation if ctx was canceled.
type Adapter interface {
	Do(cfg RequestConfig) (*Response, error)
}

// HTTPAdapter is the default net/http-backed Adapter.
type HTTPAdapter struct {
	Client *http.Client
}

// NewHTTPAdapter creates an HTTPAdapter with a sane default client.
func NewHTTPAdapter() *HTTPAdapter {
	return &HTTPAdapter{Client: &http.Client{}}
}

func (a *HTTPAdapter) Do(cfg RequestConfig) (*Response, error) {
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	fullURL := cfg.BaseURL + cfg.URL
	var body io.Reader
	if len(cfg.Data) > 0 {
		body = bytes.NewReader(cfg.Data)
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, fullURL, body)
	if err != nil {
		return nil, stableerrors.Wrap(stableerrors.KindTransport, "build request", err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if len(cfg.Params) > 0 {
		q := req.URL.Query()
		for k, v := range cfg.Params {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, stableerrors.Wrap(stableerrors.KindCancellation, "request canceled", err)
		}
		code := classifyNetErr(err)
		return nil, stableerrors.Wrap(stableerrors.KindTransport, "transport error", err).WithCode(code)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, stableerrors.Wrap(stableerrors.KindTransport, "read response body", err)
	}

	if resp.StatusCode >= 400 {
		// The response (including headers such as Retry-After) is still
		// returned alongside the error: callers that inspect throttling
		// signals (internal/backpressure) need it even on a classified
		// failure.
		return &Response{Status: resp.StatusCode, Data: data, Headers: resp.Header},
			stableerrors.New(stableerrors.KindTransport, "non-2xx response").WithStatusCode(resp.StatusCode)
	}

	return &Response{Status: resp.StatusCode, Data: data, Headers: resp.Header}, nil
}

// classifyNetErr maps common net package errors onto the transport error
// code set named in spec §4.1. This is a best-effort classification; the
// default net/http client doesn't expose a structured error code the way
// the pluggable-adapter contract in spec §6 describes for other languages.
func classifyNetErr(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connection reset"):
		return "ECONNRESET"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return "ETIMEDOUT"
	case strings.Contains(msg, "connection refused"):
		return "ECONNREFUSED"
	case strings.Contains(msg, "no such host"):
		return "ENOTFOUND"
	default:
		return ""
	}
}
