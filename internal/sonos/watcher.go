package sonos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sonospi/internal/config"
	"sonospi/internal/domain"
)

// ErrNoCoordinator is returned by playback commands when no coordinator has
// been selected yet (no snapshot has found one).
var ErrNoCoordinator = errors.New("no group coordinator known")

// Watcher produces playback snapshots from the local Sonos system and sends
// playback commands to the currently selected group coordinator.
//
// A Watcher is not safe for concurrent use: the control loop goroutine is the
// sole caller of both Snapshot and the command methods.
type Watcher struct {
	logger *zap.Logger
	soap   *soapClient

	discoveryTimeout time.Duration
	rediscoverAfter  time.Duration
	staleWindow      time.Duration

	devices     []*Device
	lastScan    time.Time
	coordinator *Device

	lastPos map[string]posSample
}

// posSample records the last observed playback position of a coordinator,
// used to spot ghost PLAYING states whose position never advances.
type posSample struct {
	pos time.Duration
	at  time.Time
}

// NewWatcher creates a Sonos watcher
func NewWatcher(logger *zap.Logger, cfg *config.Config) *Watcher {
	return &Watcher{
		logger:           logger,
		soap:             newSOAPClient(time.Duration(cfg.Sonos.DiscoveryTimeout) * time.Second),
		discoveryTimeout: time.Duration(cfg.Sonos.DiscoveryTimeout) * time.Second,
		rediscoverAfter:  time.Duration(cfg.Sonos.RediscoverAfter) * time.Second,
		staleWindow:      time.Duration(cfg.Sonos.StaleWindow) * time.Second,
		lastPos:          make(map[string]posSample),
	}
}

// Snapshot polls the Sonos system and returns the state of the group
// coordinator that is producing (or most recently produced) audio.
//
// Zero reachable devices yields a StateUnknown snapshot, not an error. Any
// failure after a coordinator has been chosen returns an error and never a
// partial snapshot.
func (w *Watcher) Snapshot(ctx context.Context) (*domain.PlaybackSnapshot, error) {
	if err := w.ensureDevices(ctx); err != nil {
		return nil, err
	}
	if len(w.devices) == 0 {
		return &domain.PlaybackSnapshot{State: domain.StateUnknown}, nil
	}

	groups, err := w.topology(ctx)
	if err != nil {
		// Cached device list may be dead; force a rescan next poll
		w.lastScan = time.Time{}
		return nil, fmt.Errorf("zone topology: %w", err)
	}
	if len(groups) == 0 {
		return &domain.PlaybackSnapshot{State: domain.StateUnknown}, nil
	}

	coord, state, err := w.selectCoordinator(ctx, groups)
	if err != nil {
		return nil, err
	}

	snap := &domain.PlaybackSnapshot{
		CoordinatorID:   coord.UUID,
		CoordinatorName: coord.Name,
		State:           state,
	}

	if state == domain.StatePlaying || state == domain.StateTransitioning || state == domain.StatePaused {
		pos, err := w.soap.getPositionInfo(ctx, coord)
		if err != nil {
			return nil, fmt.Errorf("position info from %s: %w", coord.Name, err)
		}
		snap.TrackID = pos.TrackURI
		snap.ArtworkURI = albumArtFromMetadata(pos.TrackMetaData, coord)
		snap.Position = parseTrackTime(pos.RelTime)
		snap.Duration = parseTrackTime(pos.TrackDuration)

		if state == domain.StatePlaying && w.isStale(coord.UUID, snap.Position) {
			w.logger.Warn("Coordinator reports PLAYING but position is frozen, treating as stopped",
				zap.String("coordinator", coord.Name),
				zap.Duration("position", snap.Position))
			snap.State = domain.StateStopped
		}
	}

	w.coordinator = coord
	return snap, nil
}

// Play resumes playback on the current coordinator
func (w *Watcher) Play(ctx context.Context) error {
	if w.coordinator == nil {
		return ErrNoCoordinator
	}
	return w.soap.play(ctx, w.coordinator)
}

// Pause pauses playback on the current coordinator
func (w *Watcher) Pause(ctx context.Context) error {
	if w.coordinator == nil {
		return ErrNoCoordinator
	}
	return w.soap.pause(ctx, w.coordinator)
}

// Next skips to the next track on the current coordinator
func (w *Watcher) Next(ctx context.Context) error {
	if w.coordinator == nil {
		return ErrNoCoordinator
	}
	return w.soap.next(ctx, w.coordinator)
}

// Seek moves the playback position within the current track
func (w *Watcher) Seek(ctx context.Context, pos time.Duration) error {
	if w.coordinator == nil {
		return ErrNoCoordinator
	}
	return w.soap.seek(ctx, w.coordinator, pos)
}

// ensureDevices refreshes the SSDP device cache when it is empty or its
// rediscovery TTL has elapsed. An empty network is remembered as empty, so
// the next poll scans again.
func (w *Watcher) ensureDevices(ctx context.Context) error {
	if len(w.devices) > 0 && time.Since(w.lastScan) < w.rediscoverAfter {
		return nil
	}

	devices, err := discover(ctx, w.logger, w.discoveryTimeout)
	if err != nil {
		return fmt.Errorf("ssdp scan: %w", err)
	}

	w.devices = devices
	if len(devices) > 0 {
		w.lastScan = time.Now()
	}
	w.logger.Info("Sonos devices discovered", zap.Int("count", len(devices)))
	return nil
}

// topology queries the zone group state, trying each cached device until one
// answers
func (w *Watcher) topology(ctx context.Context) ([]Group, error) {
	var lastErr error
	for _, dev := range w.devices {
		groups, err := w.soap.zoneGroups(ctx, dev)
		if err == nil {
			return groups, nil
		}
		lastErr = err
		w.logger.Debug("Topology query failed, trying next device",
			zap.String("ip", dev.IP), zap.Error(err))
	}
	return nil, lastErr
}

// selectCoordinator picks the group coordinator to display: the first one
// PLAYING or TRANSITIONING, else the previously selected coordinator if it is
// still present, else the first PAUSED one, else the first group. Unreachable
// candidates are skipped; if every candidate is unreachable the poll fails.
func (w *Watcher) selectCoordinator(ctx context.Context, groups []Group) (*Device, domain.TransportState, error) {
	type candidate struct {
		dev   *Device
		state domain.TransportState
	}
	var reachable []candidate

	for _, g := range groups {
		info, err := w.soap.getTransportInfo(ctx, g.Coordinator)
		if err != nil {
			w.logger.Warn("Transport query failed",
				zap.String("coordinator", g.Coordinator.Name), zap.Error(err))
			continue
		}
		state := mapTransportState(info.CurrentTransportState)
		if state == domain.StatePlaying || state == domain.StateTransitioning {
			return g.Coordinator, state, nil
		}
		reachable = append(reachable, candidate{g.Coordinator, state})
	}

	if len(reachable) == 0 {
		return nil, domain.StateUnknown, fmt.Errorf("no reachable coordinator in %d groups", len(groups))
	}

	if w.coordinator != nil {
		for _, c := range reachable {
			if c.dev.UUID == w.coordinator.UUID {
				return c.dev, c.state, nil
			}
		}
	}
	for _, c := range reachable {
		if c.state == domain.StatePaused {
			return c.dev, c.state, nil
		}
	}
	return reachable[0].dev, reachable[0].state, nil
}

// isStale reports whether a PLAYING coordinator's position has been frozen
// for at least the stale window. Any position change re-baselines the
// reference, so a seek backwards counts as movement. Sources that never
// report a position (some radio streams) are exempt.
func (w *Watcher) isStale(uuid string, pos time.Duration) bool {
	now := time.Now()
	prev, ok := w.lastPos[uuid]
	w.lastPos[uuid] = posSample{pos: pos, at: now}
	if !ok || pos == 0 {
		return false
	}
	if pos != prev.pos {
		return false
	}
	// Keep the older sample so the frozen interval keeps growing
	w.lastPos[uuid] = prev
	return now.Sub(prev.at) >= w.staleWindow
}

// mapTransportState converts AVTransport state strings to domain states
func mapTransportState(s string) domain.TransportState {
	switch s {
	case "PLAYING":
		return domain.StatePlaying
	case "PAUSED_PLAYBACK":
		return domain.StatePaused
	case "STOPPED", "NO_MEDIA_PRESENT":
		return domain.StateStopped
	case "TRANSITIONING":
		return domain.StateTransitioning
	default:
		return domain.StateUnknown
	}
}
