package domain

import (
	"image"
	"time"
)

// TransportState represents the playback state of a Sonos group coordinator
type TransportState string

const (
	// StatePlaying indicates the coordinator is producing audio
	StatePlaying TransportState = "PLAYING"
	// StatePaused indicates playback is paused
	StatePaused TransportState = "PAUSED"
	// StateStopped indicates playback is stopped
	StateStopped TransportState = "STOPPED"
	// StateTransitioning indicates the coordinator is switching tracks
	StateTransitioning TransportState = "TRANSITIONING"
	// StateUnknown indicates no reachable coordinator (e.g., zero devices found)
	StateUnknown TransportState = "UNKNOWN"
)

// PlaybackSnapshot is the immutable result of one discovery poll.
// Snapshots are compared by (TrackID, State) to detect display-relevant
// changes. ArtworkURI is meaningful only when TrackID is set and State is
// StatePlaying or StatePaused.
type PlaybackSnapshot struct {
	// CoordinatorID is the UUID of the group coordinator
	CoordinatorID string
	// CoordinatorName is the zone name, used for logging only
	CoordinatorName string
	// State is the coordinator's transport state
	State TransportState
	// TrackID identifies the current track (the transport URI); empty when absent
	TrackID string
	// ArtworkURI is an absolute HTTP URL or local path to the album art; empty when absent
	ArtworkURI string
	// Position is the playback position within the track
	Position time.Duration
	// Duration is the total track length; zero for streams that do not report one
	Duration time.Duration
}

// Active reports whether the snapshot describes a coordinator producing audio
func (s *PlaybackSnapshot) Active() bool {
	return s.State == StatePlaying || s.State == StateTransitioning
}

// Artwork is a display-ready bitmap, letterboxed to the panel's native
// resolution and tagged with the track it was produced for.
type Artwork struct {
	TrackID string
	Image   *image.NRGBA
}

// Command is a high-level playback command resolved from touch gestures
type Command int

const (
	// CmdTogglePlayPause pauses a playing coordinator or resumes a paused one
	CmdTogglePlayPause Command = iota
	// CmdNextTrack skips to the next track
	CmdNextTrack
)

func (c Command) String() string {
	switch c {
	case CmdTogglePlayPause:
		return "toggle-play-pause"
	case CmdNextTrack:
		return "next-track"
	default:
		return "unknown"
	}
}

// PanelResolution holds the display's native dimensions
type PanelResolution struct {
	Width  int
	Height int
}
