package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"sonospi/internal/config"
	"sonospi/internal/domain"
)

// Engine is the control loop keeping the panel synchronized with Sonos
// playback: poll discovery, compare against the previous snapshot, render or
// blank, sleep until the next tick or an incoming touch command.
//
// The loop goroutine is the sole mutator of playback state and the sole
// caller of the discoverer, artwork source, and renderer; touch gestures
// reach it only through the command channel.
type Engine struct {
	logger     *zap.Logger
	discoverer domain.Discoverer
	controller domain.Controller
	artwork    domain.ArtworkSource
	renderer   domain.Renderer
	commands   <-chan domain.Command

	pollInterval    time.Duration
	maxBackoff      time.Duration
	rewindThreshold time.Duration
	rewindBack      time.Duration

	// loop state, owned by the loop goroutine
	current  *domain.PlaybackSnapshot
	rendered bool
	backoff  time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates the control loop engine
func NewEngine(
	logger *zap.Logger,
	cfg *config.Config,
	disc domain.Discoverer,
	ctrl domain.Controller,
	art domain.ArtworkSource,
	rend domain.Renderer,
	commands <-chan domain.Command,
) *Engine {
	return &Engine{
		logger:          logger,
		discoverer:      disc,
		controller:      ctrl,
		artwork:         art,
		renderer:        rend,
		commands:        commands,
		pollInterval:    cfg.PollInterval(),
		maxBackoff:      time.Duration(cfg.Sonos.MaxBackoff) * time.Second,
		rewindThreshold: time.Duration(cfg.Touch.ResumeRewindSec * float64(time.Second)),
		rewindBack:      time.Duration(cfg.Touch.ResumeRewindBackSec * float64(time.Second)),
	}
}

// Start launches the control loop goroutine. It returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel

	e.wg.Add(1)
	go e.runLoop(loopCtx)

	e.logger.Info("Control loop started",
		zap.Duration("pollInterval", e.pollInterval))
	return nil
}

// Stop cancels the loop and waits for the current iteration to finish
func (e *Engine) Stop(ctx context.Context) error {
	if e.cancel != nil {
		e.cancel()
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.logger.Info("Control loop stopped")
	return nil
}

func (e *Engine) runLoop(ctx context.Context) {
	defer e.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()
	drainTimer(timer)

	for {
		delay := e.iterate(ctx)
		if ctx.Err() != nil {
			return
		}

		timer.Reset(delay)
		select {
		case <-ctx.Done():
			return

		case cmd, ok := <-e.commands:
			drainTimer(timer)
			if !ok {
				// Touch subsystem gone; fall back to pure polling
				e.commands = nil
				continue
			}
			// Dispatch immediately and poll again right away so the
			// display reflects the command without waiting a full tick
			e.dispatch(ctx, cmd)

		case <-timer.C:
		}
	}
}

// iterate runs a single poll cycle and returns how long to sleep before the
// next one
func (e *Engine) iterate(ctx context.Context) time.Duration {
	snap, err := e.discoverer.Snapshot(ctx)
	if err != nil {
		delay := e.nextBackoff()
		e.logger.Warn("Discovery failed, backing off",
			zap.Duration("retryIn", delay),
			zap.Error(err))
		return delay
	}

	e.backoff = 0
	e.apply(ctx, snap)
	e.current = snap
	return e.pollInterval
}

// apply updates the display for a fresh snapshot
func (e *Engine) apply(ctx context.Context, snap *domain.PlaybackSnapshot) {
	if !snap.Active() {
		if err := e.renderer.Blank(); err != nil {
			e.logger.Error("Blank failed", zap.Error(err))
		}
		e.rendered = false
		return
	}

	trackChanged := e.current == nil || e.current.TrackID != snap.TrackID
	if !trackChanged && e.rendered {
		return // already on screen
	}

	art := e.artwork.Get(ctx, snap.ArtworkURI, snap.TrackID)
	if art == nil {
		if err := e.renderer.Blank(); err != nil {
			e.logger.Error("Blank failed", zap.Error(err))
		}
		e.rendered = false
		return
	}

	if err := e.renderer.Render(art); err != nil {
		e.logger.Error("Render failed",
			zap.String("track", snap.TrackID),
			zap.Error(err))
		e.rendered = false
		return
	}
	e.rendered = true
}

// dispatch executes a touch command against the current coordinator. After a
// command the rendered flag is cleared so the next poll redraws even when the
// track is unchanged (the screen may have been blanked meanwhile).
func (e *Engine) dispatch(ctx context.Context, cmd domain.Command) {
	// Gestures only make sense against a known playing or paused coordinator;
	// a tap while nothing is on (or discovery is dark) is ignored
	if e.current == nil ||
		(e.current.State != domain.StatePlaying &&
			e.current.State != domain.StateTransitioning &&
			e.current.State != domain.StatePaused) {
		e.logger.Info("Ignoring touch command, no active playback",
			zap.Stringer("command", cmd))
		return
	}

	var err error
	switch cmd {
	case domain.CmdNextTrack:
		e.logger.Info("Dispatching next track")
		err = e.controller.Next(ctx)

	case domain.CmdTogglePlayPause:
		if e.current.Active() {
			e.logger.Info("Dispatching pause")
			err = e.controller.Pause(ctx)
		} else {
			e.resumeWithRewind(ctx)
		}
	}

	if err != nil {
		e.logger.Warn("Command failed",
			zap.Stringer("command", cmd),
			zap.Error(err))
		return
	}
	e.rendered = false
}

// resumeWithRewind resumes a paused coordinator. When the track is within the
// rewind threshold of its end, it first seeks back a little so resume does
// not immediately roll over to the next track. The policy is evaluated on the
// most recent snapshot, not re-queried.
func (e *Engine) resumeWithRewind(ctx context.Context) {
	snap := e.current
	if snap.Duration > 0 {
		remaining := snap.Duration - snap.Position
		if remaining <= e.rewindThreshold {
			target := snap.Position - e.rewindBack
			if target < 0 {
				target = 0
			}
			e.logger.Info("Track near end, seeking back before resume",
				zap.Duration("position", snap.Position),
				zap.Duration("target", target))
			if err := e.controller.Seek(ctx, target); err != nil {
				e.logger.Warn("Seek before resume failed", zap.Error(err))
			}
		}
	}

	e.logger.Info("Dispatching play")
	if err := e.controller.Play(ctx); err != nil {
		e.logger.Warn("Play failed", zap.Error(err))
	}
}

// nextBackoff grows the discovery retry delay: doubling from the poll
// interval up to the configured ceiling. Reset to zero on the next success.
func (e *Engine) nextBackoff() time.Duration {
	if e.backoff == 0 {
		e.backoff = e.pollInterval
	}
	e.backoff *= 2
	if e.backoff > e.maxBackoff {
		e.backoff = e.maxBackoff
	}
	return e.backoff
}

func drainTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
