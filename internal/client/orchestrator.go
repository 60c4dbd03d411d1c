// Package client provides the HTTP client for the orchestration service.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"docgateway/internal/config"
	"docgateway/internal/headers"
	"docgateway/internal/metrics"
)

const userAgent = "docgateway/1.0"

// defaultMaxResponseBytes applies when the config leaves the limit unset.
const defaultMaxResponseBytes = 64 << 20

// Operation names, used in logs, metrics and errors.
const (
	OpReturnFile = "return_file"
	OpRun        = "run"
)

// UpstreamError reports a failed orchestration call. StatusCode is zero when
// no response was received; Err then holds the transport error.
type UpstreamError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("orchestrator %s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("orchestrator %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the call may succeed: a 5xx answer or a
// failure to get any answer at all. Errors raised while reading or limiting
// a response the service did send are not temporary.
func (e *UpstreamError) Temporary() bool {
	if e.StatusCode != 0 {
		return e.StatusCode >= 500
	}
	var urlErr *url.Error
	return errors.As(e.Err, &urlErr)
}

// Factory holds the pooled transport shared by all orchestrators and builds
// one request-scoped Orchestrator per header map.
type Factory struct {
	httpClient   *http.Client
	baseURL      *url.URL
	snapshotPath string
	runPath      string
	maxBody      int64
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewFactory creates a Factory with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable call metrics.
func NewFactory(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*Factory, error) {
	u, err := url.Parse(cfg.Orchestrator.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse orchestrator base_url: %w", err)
	}

	maxBody := cfg.Orchestrator.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBytes
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &Factory{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		baseURL:      u,
		snapshotPath: cfg.Orchestrator.SnapshotPath,
		runPath:      cfg.Orchestrator.RunPath,
		maxBody:      maxBody,
		logger:       logger.With("component", "orchestrator_client"),
		metrics:      m,
	}, nil
}

// BaseURL returns the configured orchestration service URL.
func (f *Factory) BaseURL() string {
	return f.baseURL.String()
}

// New returns an Orchestrator whose calls carry h as request headers.
func (f *Factory) New(h headers.Map) *Orchestrator {
	return &Orchestrator{factory: f, header: h}
}

// Orchestrator is a short-lived orchestration client scoped to one header map.
type Orchestrator struct {
	factory *Factory
	header  headers.Map
}

// ReturnFile sends the raw request body and returns the document bytes the
// orchestration service answers with.
func (o *Orchestrator) ReturnFile(ctx context.Context, body string) ([]byte, error) {
	return o.do(ctx, OpReturnFile, o.factory.snapshotPath, strings.NewReader(body), int64(len(body)))
}

// Run streams size bytes from r to the orchestration service and returns its
// JSON answer. A negative size sends the body chunked. r is read to completion
// or until the call fails; closing it is the caller's job.
func (o *Orchestrator) Run(ctx context.Context, r io.Reader, size int64) (string, error) {
	b, err := o.do(ctx, OpRun, o.factory.runPath, r, size)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (o *Orchestrator) do(ctx context.Context, op, path string, body io.Reader, size int64) ([]byte, error) {
	f := o.factory
	u := *f.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build orchestrator request: %w", err)
	}
	switch {
	case size == 0:
		req.Body = http.NoBody
		req.GetBody = nil
		req.ContentLength = 0
	case size > 0:
		req.ContentLength = size
	}
	req.Header = o.header.HTTPHeader()
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	f.logger.Debug("orchestrator request",
		"op", op,
		"path", u.Path,
		"headers", len(req.Header),
	)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	duration := time.Since(start).Seconds()
	if f.metrics != nil {
		f.metrics.OrchestratorDuration.WithLabelValues(op).Observe(duration)
	}
	if err != nil {
		return nil, &UpstreamError{Op: op, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if f.metrics != nil {
		f.metrics.OrchestratorResponses.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, &UpstreamError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	if int64(len(data)) > f.maxBody {
		return nil, &UpstreamError{Op: op, Err: fmt.Errorf("response exceeds %d bytes", f.maxBody)}
	}
	return data, nil
}
