package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"docgateway/internal/client"
	"docgateway/internal/config"
	"docgateway/internal/headers"
	"docgateway/internal/service"
)

// statusClientClosedRequest marks requests the caller abandoned before an
// answer was ready. It keeps disconnects out of the 5xx counts.
const statusClientClosedRequest = 499

// DocumentHandler serves the snapshot and upload endpoints.
type DocumentHandler struct {
	service  *service.DocumentService
	logger   *slog.Logger
	memLimit int64
	tempDir  string
}

// NewDocumentHandler creates a DocumentHandler.
func NewDocumentHandler(svc *service.DocumentService, cfg *config.Config, logger *slog.Logger) *DocumentHandler {
	return &DocumentHandler{
		service:  svc,
		logger:   logger.With("component", "document_handler"),
		memLimit: cfg.Upload.MemoryBytes,
		tempDir:  cfg.Upload.TempDir,
	}
}

// Snapshot forwards the request body to the orchestration service and
// answers with the returned bytes under the caller's own Content-Type.
func (h *DocumentHandler) Snapshot(c echo.Context) error {
	req := c.Request()
	h.logger.Info("processed a request", "endpoint", "snapshot")

	hdr := headers.FromRequest(req)
	data, err := h.service.Snapshot(req.Context(), hdr, req.Body)
	if err != nil {
		return h.mapError(c, err)
	}

	return writePayload(c, hdr, data)
}

// Upload forwards each file of a multipart request to the orchestration
// service and answers with a JSON array of the per-file results.
func (h *DocumentHandler) Upload(c echo.Context) error {
	req := c.Request()
	h.logger.Info("processed a request", "endpoint", "upload")

	hdr := headers.FromRequest(req)
	mr, err := req.MultipartReader()
	if err != nil {
		return h.mapError(c, &service.BodyReadError{Err: err})
	}

	src := &multipartSource{reader: mr, memLimit: h.memLimit, tempDir: h.tempDir}
	results, err := h.service.Upload(req.Context(), hdr, src)
	if err != nil {
		return h.mapError(c, err)
	}

	data, err := json.Marshal(results)
	if err != nil {
		return h.mapError(c, err)
	}
	h.logger.Debug("upload complete", "files", len(results))

	return writePayload(c, hdr, data)
}

// writePayload writes data with status 200 and the inbound Content-Type.
func writePayload(c echo.Context, hdr headers.Map, data []byte) error {
	res := c.Response()
	headers.MirrorContentType(res.Header(), hdr)
	res.WriteHeader(http.StatusOK)
	_, err := res.Write(data)
	return err
}

func (h *DocumentHandler) mapError(c echo.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		h.logger.Warn("client disconnected",
			"err", err,
			"path", c.Request().URL.Path,
		)
		return c.JSON(statusClientClosedRequest, map[string]string{
			"error": "client disconnected",
		})
	}

	h.logger.Error("document request failed",
		"err", err,
		"path", c.Request().URL.Path,
	)

	var bodyErr *service.BodyReadError
	if errors.As(err, &bodyErr) {
		// The body limit middleware surfaces as a read error.
		var he *echo.HTTPError
		if errors.As(err, &he) && he.Code == http.StatusRequestEntityTooLarge {
			return c.JSON(he.Code, map[string]string{
				"error": "request body too large",
			})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "could not read request body",
		})
	}

	var decodeErr *service.DecodeError
	if errors.As(err, &decodeErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "orchestrator returned an invalid result for " + decodeErr.File,
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": "orchestrator request timed out",
		})
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "orchestrator host unreachable",
		})
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return c.JSON(http.StatusGatewayTimeout, map[string]string{
				"error": "orchestrator request timed out",
			})
		}
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "orchestrator connection failed",
		})
	}

	var upErr *client.UpstreamError
	if errors.As(err, &upErr) && upErr.StatusCode != 0 {
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "orchestrator rejected the request",
			"op":    upErr.Op,
		})
	}

	return c.JSON(http.StatusBadGateway, map[string]string{
		"error": "orchestrator request failed",
	})
}
