package domain

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/domain_mock.go -package=mocks sonospi/internal/domain Discoverer,Controller,ArtworkSource,Renderer

// Discoverer produces playback snapshots from the local Sonos system.
// Implementations handle SSDP discovery and UPnP transport queries.
type Discoverer interface {
	// Snapshot polls the network and returns the state of the group
	// coordinator currently producing (or most recently producing) audio.
	// Zero reachable devices is not an error: it yields a snapshot with
	// StateUnknown. A coordinator that fails mid-query returns an error
	// and never a partial snapshot.
	Snapshot(ctx context.Context) (*PlaybackSnapshot, error)
}

// Controller sends playback commands to the current group coordinator
type Controller interface {
	// Play resumes playback
	Play(ctx context.Context) error

	// Pause pauses playback
	Pause(ctx context.Context) error

	// Next skips to the next track
	Next(ctx context.Context) error

	// Seek moves the playback position within the current track
	Seek(ctx context.Context, pos time.Duration) error
}

// ArtworkSource retrieves display-ready album art bitmaps
type ArtworkSource interface {
	// Get returns the artwork for the given reference, letterboxed to the
	// panel resolution. A nil result means no artwork is available for this
	// cycle (absent ref, or fetch/decode failure); the caller should blank.
	// Repeated calls with the same (ref, trackID) hit a single-slot cache.
	Get(ctx context.Context, ref, trackID string) *Artwork
}

// Renderer writes frames to the display sink
type Renderer interface {
	// Render displays the artwork. Rendering the same track twice in a row
	// without an intervening blank is a no-op (flicker suppression).
	Render(art *Artwork) error

	// Blank turns the panel off (or draws black). Blanking an already blank
	// display is a no-op.
	Blank() error
}
