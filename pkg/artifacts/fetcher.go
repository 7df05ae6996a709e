package artifacts

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/edp-engine/pkg/apperrors"
	"github.com/ekaya-inc/edp-engine/pkg/logging"
	"github.com/ekaya-inc/edp-engine/pkg/retry"
)

// Fetcher resolves asset locations to bytes. Supported locations are local
// paths, file:// and http(s):// URLs, and artifact:// keys.
//
// Failures that may go away on their own (network errors, HTTP 5xx and 429,
// store outages) are returned as TransientIOError so the orchestrator retries
// them; missing or oversized assets are terminal.
type Fetcher struct {
	store    Store
	client   *http.Client
	maxBytes int64
	logger   *zap.Logger
}

// NewFetcher creates a Fetcher. store may be nil when artifact:// locations
// are not used.
func NewFetcher(store Store, maxBytes int64, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		store:    store,
		client:   &http.Client{Timeout: 5 * time.Minute},
		maxBytes: maxBytes,
		logger:   logger.Named("fetcher"),
	}
}

// Fetch reads the whole asset.
func (f *Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	f.logger.Debug("Fetching asset", zap.String("location", logging.SanitizeLocation(location)))

	switch {
	case strings.HasPrefix(location, Scheme):
		return f.fetchArtifact(ctx, strings.TrimPrefix(location, Scheme))
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		return f.fetchHTTP(ctx, location)
	case strings.HasPrefix(location, "file://"):
		u, err := url.Parse(location)
		if err != nil {
			return nil, apperrors.UnrecognizedAsset("invalid file location: %v", err)
		}
		return f.fetchFile(ctx, u.Path)
	case strings.Contains(location, "://"):
		return nil, apperrors.UnrecognizedAsset("unsupported location scheme in %s", logging.SanitizeLocation(location))
	default:
		return f.fetchFile(ctx, location)
	}
}

func (f *Fetcher) fetchArtifact(ctx context.Context, key string) ([]byte, error) {
	if f.store == nil {
		return nil, apperrors.UnrecognizedAsset("artifact locations are not available")
	}
	data, err := f.store.Get(ctx, key)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, apperrors.UnrecognizedAsset("asset %s does not exist", key)
	}
	if err != nil {
		if retry.IsRetryable(err) {
			return nil, apperrors.TransientIO(err, "read uploaded asset")
		}
		return nil, err
	}
	return f.checkSize(data)
}

func (f *Fetcher) fetchFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.UnrecognizedAsset("asset %s does not exist", path)
	}
	if err != nil {
		return nil, apperrors.TransientIO(err, "stat asset")
	}
	if info.IsDir() {
		return nil, apperrors.UnrecognizedAsset("asset %s is a directory", path)
	}
	if f.maxBytes > 0 && info.Size() > f.maxBytes {
		return nil, apperrors.UnrecognizedAsset("asset is %d bytes, limit is %d", info.Size(), f.maxBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.TransientIO(err, "read asset")
	}
	return data, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, apperrors.UnrecognizedAsset("invalid asset URL: %s", logging.SanitizeError(err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.TransientIO(errors.New(logging.SanitizeError(err)), "download asset")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperrors.TransientIO(nil, "download asset: HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, apperrors.UnrecognizedAsset("asset could not be downloaded: HTTP %d", resp.StatusCode)
	}

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, apperrors.TransientIO(err, "read asset body")
	}
	return f.checkSize(data)
}

func (f *Fetcher) checkSize(data []byte) ([]byte, error) {
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, apperrors.UnrecognizedAsset("asset exceeds the %d byte limit", f.maxBytes)
	}
	return data, nil
}

