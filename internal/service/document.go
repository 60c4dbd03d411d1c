// Package service implements the snapshot and upload forwarding pipelines.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff"

	"docgateway/internal/client"
	"docgateway/internal/config"
	"docgateway/internal/headers"
	"docgateway/internal/metrics"
	"docgateway/internal/model"
)

// DocumentService forwards snapshot and upload requests to the orchestration
// service. It holds no per-request state.
type DocumentService struct {
	factory *client.Factory
	cache   *snapshotCache
	logger  *slog.Logger
	metrics *metrics.Metrics

	maxRetries   int
	retryInitial time.Duration
}

// NewDocumentService creates a DocumentService.
// The metrics parameter is optional; pass nil to disable upload metrics.
func NewDocumentService(f *client.Factory, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *DocumentService {
	s := &DocumentService{
		factory:      f,
		logger:       logger.With("component", "document_service"),
		metrics:      m,
		maxRetries:   cfg.Orchestrator.MaxRetries,
		retryInitial: time.Duration(cfg.Orchestrator.RetryInitialMS) * time.Millisecond,
	}
	if cfg.Snapshot.Cache.Enabled {
		s.cache = newSnapshotCache(cfg.Snapshot.Cache, m)
	}
	return s
}

// Snapshot reads body in full and returns the document bytes the
// orchestration service answers with for it.
func (s *DocumentService) Snapshot(ctx context.Context, hdr headers.Map, body io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, &BodyReadError{Err: err}
	}
	text := string(raw)

	var key string
	if s.cache != nil {
		key = s.cache.key(hdr, text)
		if data, ok := s.cache.get(key); ok {
			s.logger.Debug("snapshot served from cache")
			return data, nil
		}
	}

	data, err := s.returnFile(ctx, s.factory.New(hdr), text)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	if s.cache != nil {
		s.cache.set(key, data)
	}
	return data, nil
}

// returnFile calls ReturnFile, retrying temporary upstream failures with
// exponential backoff when retries are configured.
func (s *DocumentService) returnFile(ctx context.Context, o *client.Orchestrator, body string) ([]byte, error) {
	if s.maxRetries <= 0 {
		return o.ReturnFile(ctx, body)
	}

	b := backoff.NewExponentialBackOff()
	if s.retryInitial > 0 {
		b.InitialInterval = s.retryInitial
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.maxRetries)), ctx)

	var out []byte
	op := func() error {
		data, err := o.ReturnFile(ctx, body)
		if err == nil {
			out = data
			return nil
		}
		var ue *client.UpstreamError
		if errors.As(err, &ue) && ue.Temporary() && ctx.Err() == nil {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		s.logger.Warn("retrying orchestrator call",
			"op", client.OpReturnFile,
			"err", err,
			"wait_ms", wait.Milliseconds(),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return out, nil
}

// Upload forwards every file from src to the orchestration service, one at a
// time and in order, and returns the decoded per-file results. Each file is
// sent with hdr plus its own FileName, FileContentType and FileLength
// entries. The first failure aborts the batch and no results are returned.
func (s *DocumentService) Upload(ctx context.Context, hdr headers.Map, src model.FileSource) ([]model.FileResult, error) {
	results := make([]model.FileResult, 0)

	for {
		f, err := src.Next()
		if errors.Is(err, io.EOF) {
			return results, nil
		}
		if err != nil {
			return nil, &BodyReadError{Err: err}
		}

		res, err := s.uploadOne(ctx, hdr, f)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
}

func (s *DocumentService) uploadOne(ctx context.Context, hdr headers.Map, f *model.UploadedFile) (model.FileResult, error) {
	defer func() { _ = f.Body.Close() }()

	view := hdr.With(
		headers.Entry{Name: headers.FileName, Value: f.Name},
		headers.Entry{Name: headers.FileContentType, Value: f.ContentType},
		headers.Entry{Name: headers.FileLength, Value: strconv.FormatInt(f.Size, 10)},
	)

	s.logger.Debug("forwarding file",
		"file", f.Name,
		"content_type", f.ContentType,
		"size", f.Size,
	)

	answer, err := s.factory.New(view).Run(ctx, f.Body, f.Size)
	if err != nil {
		return nil, fmt.Errorf("upload %q: %w", f.Name, err)
	}

	if s.metrics != nil {
		s.metrics.UploadFiles.Inc()
		s.metrics.UploadBytes.Add(float64(f.Size))
	}

	var res model.FileResult
	if err := json.Unmarshal([]byte(answer), &res); err != nil {
		return nil, &DecodeError{File: f.Name, Err: err}
	}
	if res == nil {
		return nil, &DecodeError{File: f.Name, Err: errors.New("result is not a JSON object")}
	}
	return res, nil
}
