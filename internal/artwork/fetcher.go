package artwork

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // GIF format support
	_ "image/jpeg" // JPEG format support
	_ "image/png"  // PNG format support
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // WebP format support

	"sonospi/internal/domain"
)

const (
	_maxImageSize = 10 * 1024 * 1024 // 10 MB
	_fetchTimeout = 10 * time.Second
	_retryBackoff = 500 * time.Millisecond
)

// Fetcher retrieves album art and produces display-ready bitmaps letterboxed
// to the panel resolution. It keeps a single-slot cache: only the current
// track's artwork is ever of interest, so eviction is replace-on-mismatch.
//
// Fetcher is not safe for concurrent use; the control loop is its sole caller.
type Fetcher struct {
	logger *zap.Logger
	client *http.Client
	res    domain.PanelResolution

	cache *cacheEntry
}

type cacheEntry struct {
	trackID   string
	ref       string
	art       *domain.Artwork
	fetchedAt time.Time
}

// NewFetcher creates an artwork fetcher for the given panel resolution
func NewFetcher(logger *zap.Logger, res domain.PanelResolution) *Fetcher {
	return &Fetcher{
		logger: logger,
		res:    res,
		client: &http.Client{
			Timeout: _fetchTimeout, // Essential to prevent blocking the daemon
		},
	}
}

// Get returns the display-ready artwork for ref, or nil when no artwork can
// be produced this cycle. Failures are logged, never propagated: a missing
// image degrades to a blank screen rather than crashing the loop. The cache
// is only written on success, so a failed cycle retries on the next poll.
func (f *Fetcher) Get(ctx context.Context, ref, trackID string) *domain.Artwork {
	if ref == "" {
		return nil
	}

	if f.cache != nil && f.cache.trackID == trackID && f.cache.ref == ref {
		return f.cache.art
	}

	data, err := f.fetchWithRetry(ctx, ref)
	if err != nil {
		f.logger.Error("Artwork fetch failed",
			zap.String("ref", ref),
			zap.String("track", trackID),
			zap.Error(err))
		return nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		f.logger.Error("Artwork decode failed",
			zap.String("ref", ref),
			zap.Error(err))
		return nil
	}

	art := &domain.Artwork{
		TrackID: trackID,
		Image:   f.letterbox(img),
	}
	f.cache = &cacheEntry{
		trackID:   trackID,
		ref:       ref,
		art:       art,
		fetchedAt: time.Now(),
	}

	f.logger.Debug("Artwork cached",
		zap.String("track", trackID),
		zap.Int("bytes", len(data)))
	return art
}

// fetchWithRetry fetches the raw image bytes with one retry after a short
// backoff. HTTP(S) URLs go over the network; anything else is read as a
// local file path.
func (f *Fetcher) fetchWithRetry(ctx context.Context, ref string) ([]byte, error) {
	data, err := f.fetch(ctx, ref)
	if err == nil {
		return data, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(_retryBackoff):
	}

	return f.fetch(ctx, ref)
}

func (f *Fetcher) fetch(ctx context.Context, ref string) ([]byte, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return f.fetchHTTP(ctx, ref)
	}
	return os.ReadFile(strings.TrimPrefix(ref, "file://"))
}

func (f *Fetcher) fetchHTTP(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "sonospi/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return io.ReadAll(io.LimitReader(resp.Body, _maxImageSize))
}

// letterbox fits the image inside the panel preserving aspect ratio and
// centers it on a black background
func (f *Fetcher) letterbox(img image.Image) *image.NRGBA {
	fitted := imaging.Fit(img, f.res.Width, f.res.Height, imaging.Lanczos)
	background := imaging.New(f.res.Width, f.res.Height, color.NRGBA{0, 0, 0, 255})

	offsetX := (f.res.Width - fitted.Bounds().Dx()) / 2
	offsetY := (f.res.Height - fitted.Bounds().Dy()) / 2
	return imaging.Paste(background, fitted, image.Pt(offsetX, offsetY))
}
