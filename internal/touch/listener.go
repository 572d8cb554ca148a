package touch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/holoplot/go-evdev"
	"go.uber.org/zap"

	"sonospi/internal/config"
	"sonospi/internal/domain"
)

// releases within this interval are duplicate reports of one lift-off
const _refractory = 20 * time.Millisecond

// deviceNameHints mark input devices that are likely touchscreens
var deviceNameHints = []string{"touch", "ft5", "goodix", "ili", "edt", "pixcir", "egalax", "ep0"}

// Listener reads raw touch events from an input device, resolves them into
// gestures, and emits playback commands on its channel. The control loop is
// the consumer; the channel hand-off is the only coupling between the two
// scheduling domains.
//
// A missing or unopenable input device degrades to "no touch support": Start
// logs and returns nil so the daemon keeps running without gestures.
type Listener struct {
	logger   *zap.Logger
	cfg      *config.Config
	commands chan domain.Command

	mu      sync.Mutex
	dev     *evdev.InputDevice
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewListener creates a touch listener
func NewListener(logger *zap.Logger, cfg *config.Config) *Listener {
	return &Listener{
		logger:   logger,
		cfg:      cfg,
		commands: make(chan domain.Command, 4),
	}
}

// Commands returns the channel on which resolved playback commands are emitted
func (l *Listener) Commands() <-chan domain.Command {
	return l.commands
}

// Start opens the touch device and launches the reader and gesture goroutines
func (l *Listener) Start(ctx context.Context) error {
	if !l.cfg.Touch.Enabled {
		l.logger.Info("Touch input disabled by configuration")
		return nil
	}

	dev := l.openDevice()
	if dev == nil {
		l.logger.Info("No touch device found, running without touch support")
		return nil
	}

	listenCtx, cancel := context.WithCancel(context.Background())

	l.mu.Lock()
	l.dev = dev
	l.cancel = cancel
	l.started = true
	l.mu.Unlock()

	taps := make(chan time.Time, 4)

	l.wg.Add(2)
	go l.readLoop(listenCtx, dev, taps)
	go l.gestureLoop(listenCtx, taps)

	return nil
}

// Stop closes the input device and waits for the goroutines to drain
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return nil
	}
	l.started = false
	cancel := l.cancel
	dev := l.dev
	l.mu.Unlock()

	cancel()
	// Closing the device unblocks the reader's pending ReadOne
	if err := dev.Close(); err != nil {
		l.logger.Warn("Failed to close touch device", zap.Error(err))
	}
	l.wg.Wait()
	return nil
}

// openDevice opens the configured device path, or scans for a touchscreen
func (l *Listener) openDevice() *evdev.InputDevice {
	if path := l.cfg.Touch.Device; path != "" {
		dev, err := evdev.Open(path)
		if err != nil {
			l.logger.Warn("Failed to open configured touch device",
				zap.String("path", path), zap.Error(err))
			return nil
		}
		l.logger.Info("Touch device opened", zap.String("path", path))
		return dev
	}

	paths, err := evdev.ListDevicePaths()
	if err != nil {
		l.logger.Warn("Touch device scan failed", zap.Error(err))
		return nil
	}

	for _, p := range paths {
		name := strings.ToLower(p.Name)
		for _, hint := range deviceNameHints {
			if strings.Contains(name, hint) {
				dev, err := evdev.Open(p.Path)
				if err != nil {
					l.logger.Warn("Failed to open candidate touch device",
						zap.String("path", p.Path), zap.Error(err))
					continue
				}
				l.logger.Info("Touch device auto-selected",
					zap.String("path", p.Path),
					zap.String("name", p.Name))
				return dev
			}
		}
	}
	return nil
}

// readLoop turns raw input events into tap-release timestamps. Both plain
// BTN_TOUCH devices and multitouch ABS_MT_TRACKING_ID devices are handled;
// a tap registers on lift-off, like the physical buttons it stands in for.
func (l *Listener) readLoop(ctx context.Context, dev *evdev.InputDevice, taps chan<- time.Time) {
	defer l.wg.Done()
	defer close(taps)

	contactActive := false
	var refractoryUntil time.Time

	for {
		event, err := dev.ReadOne()
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Warn("Touch device read failed, touch disabled", zap.Error(err))
			}
			return
		}

		release := false
		switch {
		case event.Type == evdev.EV_KEY && event.Code == evdev.BTN_TOUCH:
			if event.Value == 1 && !contactActive {
				contactActive = true
			} else if event.Value == 0 && contactActive {
				contactActive = false
				release = true
			}
		case event.Type == evdev.EV_ABS && event.Code == evdev.ABS_MT_TRACKING_ID:
			if event.Value != -1 && !contactActive {
				contactActive = true
			} else if event.Value == -1 && contactActive {
				contactActive = false
				release = true
			}
		}

		if !release {
			continue
		}

		now := time.Now()
		if now.Before(refractoryUntil) {
			continue
		}
		refractoryUntil = now.Add(_refractory)

		select {
		case taps <- now:
		case <-ctx.Done():
			return
		}
	}
}

// gestureLoop owns the double-tap timer and emits resolved commands
func (l *Listener) gestureLoop(ctx context.Context, taps <-chan time.Time) {
	defer l.wg.Done()

	interp := NewInterpreter(l.cfg.DoubleTapWindow())
	timer := time.NewTimer(interp.Window())
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case ts, ok := <-taps:
			if !ok {
				return
			}
			switch interp.Tap(ts) {
			case GestureDoubleTap:
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				l.logger.Info("Double tap")
				l.emit(domain.CmdNextTrack)
			case GestureNone:
				timer.Reset(interp.Window())
			}

		case <-timer.C:
			if interp.Expire() == GestureSingleTap {
				l.logger.Info("Single tap")
				l.emit(domain.CmdTogglePlayPause)
			}
		}
	}
}

// emit hands a command to the control loop without ever blocking the gesture
// goroutine; a full queue drops the command
func (l *Listener) emit(cmd domain.Command) {
	select {
	case l.commands <- cmd:
	default:
		l.logger.Warn("Command queue full, dropping gesture",
			zap.Stringer("command", cmd))
	}
}
