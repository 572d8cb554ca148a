package artwork

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"go.uber.org/zap"

	"sonospi/internal/domain"
)

var testRes = domain.PanelResolution{Width: 64, Height: 64}

// encodePNG produces a valid PNG of the given size filled with one color
func encodePNG(t *testing.T, w, h int, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestGetAbsentRef(t *testing.T) {
	f := NewFetcher(zap.NewNop(), testRes)
	if art := f.Get(context.Background(), "", "track-1"); art != nil {
		t.Error("absent ref must yield nil artwork")
	}
}

// Two calls with the same (ref, trackID) must issue exactly one fetch
func TestGetCacheHit(t *testing.T) {
	body := encodePNG(t, 32, 32, color.NRGBA{200, 0, 0, 255})
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	f := NewFetcher(zap.NewNop(), testRes)
	ctx := context.Background()

	first := f.Get(ctx, server.URL, "track-1")
	if first == nil {
		t.Fatal("expected artwork on first fetch")
	}
	second := f.Get(ctx, server.URL, "track-1")
	if second != first {
		t.Error("second call should return the cached artwork")
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("expected 1 request, got %d", got)
	}
}

// A new track replaces the single cache slot
func TestGetCacheReplacedOnTrackChange(t *testing.T) {
	body := encodePNG(t, 32, 32, color.NRGBA{0, 200, 0, 255})
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	f := NewFetcher(zap.NewNop(), testRes)
	ctx := context.Background()

	a := f.Get(ctx, server.URL+"/a", "track-a")
	b := f.Get(ctx, server.URL+"/b", "track-b")
	if a == nil || b == nil {
		t.Fatal("expected artwork for both tracks")
	}
	if b.TrackID != "track-b" {
		t.Errorf("artwork tagged %q, want track-b", b.TrackID)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("expected 2 requests, got %d", got)
	}

	// track-a was evicted: asking again refetches
	_ = f.Get(ctx, server.URL+"/a", "track-a")
	if got := requests.Load(); got != 3 {
		t.Errorf("expected 3 requests after eviction, got %d", got)
	}
}

// A transient server error is retried once within the same cycle
func TestGetRetriesOnce(t *testing.T) {
	body := encodePNG(t, 32, 32, color.NRGBA{0, 0, 200, 255})
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	f := NewFetcher(zap.NewNop(), testRes)
	art := f.Get(context.Background(), server.URL, "track-1")
	if art == nil {
		t.Fatal("expected artwork after retry")
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("expected 2 requests (original + retry), got %d", got)
	}
}

// Persistent failure degrades to nil and leaves the cache unset, so the next
// poll cycle retries
func TestGetFailureLeavesCacheUnset(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewFetcher(zap.NewNop(), testRes)
	ctx := context.Background()

	if art := f.Get(ctx, server.URL, "track-1"); art != nil {
		t.Fatal("expected nil artwork on persistent failure")
	}
	if f.cache != nil {
		t.Error("cache must stay unset after a failed cycle")
	}

	// next cycle fetches again rather than serving a poisoned entry
	before := requests.Load()
	_ = f.Get(ctx, server.URL, "track-1")
	if requests.Load() == before {
		t.Error("expected a fresh fetch on the next cycle")
	}
}

func TestGetDecodeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("not-an-image"))
	}))
	defer server.Close()

	f := NewFetcher(zap.NewNop(), testRes)
	if art := f.Get(context.Background(), server.URL, "track-1"); art != nil {
		t.Error("expected nil artwork for undecodable bytes")
	}
}

func TestGetLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "art.png")
	if err := os.WriteFile(path, encodePNG(t, 16, 16, color.NRGBA{255, 255, 255, 255}), 0644); err != nil {
		t.Fatal(err)
	}

	f := NewFetcher(zap.NewNop(), testRes)
	art := f.Get(context.Background(), path, "track-1")
	if art == nil {
		t.Fatal("expected artwork from local file")
	}
	if art.Image.Bounds().Dx() != testRes.Width || art.Image.Bounds().Dy() != testRes.Height {
		t.Errorf("artwork is %v, want %dx%d letterbox",
			art.Image.Bounds(), testRes.Width, testRes.Height)
	}
}

// A wide source image must be letterboxed: full panel size, aspect preserved,
// black bars above and below
func TestLetterboxPreservesAspect(t *testing.T) {
	f := NewFetcher(zap.NewNop(), testRes)

	src := image.NewNRGBA(image.Rect(0, 0, 128, 64)) // 2:1
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i+0] = 255
		src.Pix[i+3] = 255
	}

	out := f.letterbox(src)
	if out.Bounds().Dx() != 64 || out.Bounds().Dy() != 64 {
		t.Fatalf("letterbox output %v, want 64x64", out.Bounds())
	}

	// Top rows are padding, center rows carry the image
	if r, _, _, _ := out.At(32, 2).RGBA(); r != 0 {
		t.Error("expected black padding at the top")
	}
	if r, _, _, _ := out.At(32, 32).RGBA(); r == 0 {
		t.Error("expected image content at the center")
	}
}
