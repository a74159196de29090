package bundlesource

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/mrajeshsfdc/sfdoc/internal/domain"
)

// HTTP downloads bundles from the authoring tool REST API using basic auth.
type HTTP struct {
	baseURL  string
	username string
	password string
	maxBytes int64
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTP wires an HTTP client; a nil client gets the default one.
func NewHTTP(cfg Config, client *http.Client, logger *slog.Logger) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		baseURL:  strings.TrimSuffix(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		maxBytes: cfg.MaxBytes,
		client:   client,
		logger:   logger,
	}
}

// BundleURL is the download address of a source bundle.
func (h *HTTP) BundleURL(sourceID string) string {
	return h.baseURL + "/rest/all-files/" + url.PathEscape(sourceID) + "/bundle"
}

func (h *HTTP) Fetch(ctx context.Context, sourceID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BundleURL(sourceID), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if h.username != "" {
		req.SetBasicAuth(h.username, h.password)
	}
	req.Header.Set("Accept", "application/zip, application/octet-stream")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &domain.StoreError{Op: "fetch bundle", Target: sourceID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		cause := fmt.Errorf("authoring tool returned %s: %s", resp.Status, strings.TrimSpace(string(msg)))
		if resp.StatusCode == http.StatusNotFound {
			cause = fmt.Errorf("%w: %w", domain.ErrNotFound, cause)
		}
		return nil, &domain.StoreError{Op: "fetch bundle", Target: sourceID, Status: resp.StatusCode, Err: cause}
	}

	archive, err := readLimited(resp.Body, h.maxBytes)
	if err != nil {
		return nil, &domain.StoreError{Op: "fetch bundle", Target: sourceID, Status: resp.StatusCode, Err: err}
	}

	h.logger.DebugContext(ctx, "downloaded bundle",
		slog.String("source_id", sourceID),
		slog.String("size", humanize.Bytes(uint64(len(archive)))),
	)
	return archive, nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("archive exceeds %s", humanize.Bytes(uint64(maxBytes)))
	}
	return data, nil
}
