package fb

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"sonospi/internal/config"
	"sonospi/internal/domain"
)

const (
	fallbackWidth  = 720
	fallbackHeight = 720
	bytesPerPixel  = 4 // BGRA, 32bpp
)

// Framebuffer writes full frames to a raw framebuffer device and tracks what
// is currently on screen so redundant writes are suppressed (flicker
// avoidance: rendering the same track twice never rewrites the device).
//
// Blanking prefers a true panel off (sysfs scanout blank plus backlight power)
// and falls back to drawing a black frame when sysfs control is unavailable.
//
// Framebuffer is not safe for concurrent use; the control loop is its sole
// caller.
type Framebuffer struct {
	logger *zap.Logger
	file   *os.File

	device       string
	sysfsDir     string
	backlightDir string
	res          domain.PanelResolution

	savedBrightness int // -1 until captured

	// display state: mutated only after a successful device operation
	lastTrackID string
	blank       bool

	writes int // device writes performed, for tests
}

// New opens the framebuffer device and probes the panel geometry. Failure to
// open the device is fatal: the daemon has no purpose without a display sink.
func New(logger *zap.Logger, cfg *config.Config) (*Framebuffer, error) {
	file, err := os.OpenFile(cfg.Display.Device, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open framebuffer %s: %w", cfg.Display.Device, err)
	}

	f := &Framebuffer{
		logger:          logger,
		file:            file,
		device:          cfg.Display.Device,
		sysfsDir:        cfg.Display.SysfsDir,
		backlightDir:    cfg.Display.BacklightDir,
		savedBrightness: -1,
	}
	f.res = f.probeResolution(cfg)

	logger.Info("Framebuffer opened",
		zap.String("device", f.device),
		zap.Int("width", f.res.Width),
		zap.Int("height", f.res.Height))

	// Start from a known state: clear whatever the previous process left
	if err := f.writeFrame(make([]byte, f.frameSize())); err != nil {
		logger.Warn("Could not clear framebuffer on startup", zap.Error(err))
	} else {
		f.blank = true
	}

	return f, nil
}

// Resolution returns the panel's native resolution
func (f *Framebuffer) Resolution() domain.PanelResolution {
	return f.res
}

// Blanked reports whether the display is currently blank
func (f *Framebuffer) Blanked() bool {
	return f.blank
}

// Render writes the artwork to the device as a single full frame. Rendering
// the track already on screen is a no-op. Display state is updated only after
// the write succeeds, so a failed write is retried by the next attempt instead
// of being skipped by the suppression check.
func (f *Framebuffer) Render(art *domain.Artwork) error {
	if art.TrackID == f.lastTrackID && !f.blank {
		return nil
	}

	f.powerOn()

	if err := f.writeFrame(f.encodeBGRA(art)); err != nil {
		return fmt.Errorf("framebuffer write for %s: %w", art.TrackID, err)
	}

	f.lastTrackID = art.TrackID
	f.blank = false
	f.logger.Info("Frame rendered", zap.String("track", art.TrackID))
	return nil
}

// Blank turns the display off. Blanking an already blank display is a no-op.
func (f *Framebuffer) Blank() error {
	if f.blank {
		return nil
	}

	if f.powerOff() {
		f.blank = true
		f.lastTrackID = ""
		f.logger.Info("Screen off")
		return nil
	}

	// No sysfs power control: draw black instead
	if err := f.writeFrame(make([]byte, f.frameSize())); err != nil {
		return fmt.Errorf("blank framebuffer: %w", err)
	}
	f.blank = true
	f.lastTrackID = ""
	f.logger.Info("Screen blanked (framebuffer black)")
	return nil
}

// Close blanks the panel and releases the device handle
func (f *Framebuffer) Close() error {
	if err := f.Blank(); err != nil {
		f.logger.Warn("Blank on shutdown failed", zap.Error(err))
	}
	return f.file.Close()
}

func (f *Framebuffer) frameSize() int {
	return f.res.Width * f.res.Height * bytesPerPixel
}

// writeFrame writes a fully assembled frame in one call, so the device never
// sees a torn frame
func (f *Framebuffer) writeFrame(frame []byte) error {
	if _, err := f.file.WriteAt(frame, 0); err != nil {
		return err
	}
	f.writes++
	return nil
}

// encodeBGRA converts the artwork bitmap into the device's BGRA pixel order
func (f *Framebuffer) encodeBGRA(art *domain.Artwork) []byte {
	frame := make([]byte, f.frameSize())
	img := art.Image
	bounds := img.Bounds()

	width := min(f.res.Width, bounds.Dx())
	height := min(f.res.Height, bounds.Dy())

	for y := 0; y < height; y++ {
		srcRow := img.Pix[y*img.Stride:]
		dstRow := frame[y*f.res.Width*bytesPerPixel:]
		for x := 0; x < width; x++ {
			si := x * 4
			di := x * bytesPerPixel
			dstRow[di+0] = srcRow[si+2] // B
			dstRow[di+1] = srcRow[si+1] // G
			dstRow[di+2] = srcRow[si+0] // R
			dstRow[di+3] = srcRow[si+3] // A
		}
	}
	return frame
}

// probeResolution determines the panel geometry: explicit config wins, then
// the sysfs virtual_size node, then a 720x720 fallback
func (f *Framebuffer) probeResolution(cfg *config.Config) domain.PanelResolution {
	if cfg.Display.Width > 0 && cfg.Display.Height > 0 {
		return domain.PanelResolution{Width: cfg.Display.Width, Height: cfg.Display.Height}
	}

	res := domain.PanelResolution{Width: fallbackWidth, Height: fallbackHeight}
	if f.sysfsDir == "" {
		return res
	}

	if v := readSysfs(filepath.Join(f.sysfsDir, "virtual_size")); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) >= 2 {
			w, errW := strconv.Atoi(strings.TrimSpace(parts[0]))
			h, errH := strconv.Atoi(strings.TrimSpace(parts[1]))
			if errW == nil && errH == nil && w > 0 && h > 0 {
				res = domain.PanelResolution{Width: w, Height: h}
			}
		}
	}

	if v := readSysfs(filepath.Join(f.sysfsDir, "bits_per_pixel")); v != "" {
		if bpp, err := strconv.Atoi(v); err == nil && bpp != 32 {
			f.logger.Warn("Unexpected framebuffer depth, assuming 32bpp BGRA",
				zap.Int("bits_per_pixel", bpp))
		}
	}

	return res
}

// powerOff stops scanout and cuts the backlight, remembering the brightness
// for restore. Returns true if at least one control took effect.
func (f *Framebuffer) powerOff() bool {
	ok := false

	if f.sysfsDir != "" {
		if writeSysfs(filepath.Join(f.sysfsDir, "blank"), "1") == nil {
			ok = true
			f.logger.Debug("Scanout blanked")
		}
	}

	if f.backlightDir != "" {
		if cur, err := strconv.Atoi(readSysfs(filepath.Join(f.backlightDir, "brightness"))); err == nil {
			f.savedBrightness = cur
		}
		if writeSysfs(filepath.Join(f.backlightDir, "bl_power"), "1") == nil {
			ok = true
			f.logger.Debug("Backlight off (bl_power=1)")
		} else if writeSysfs(filepath.Join(f.backlightDir, "brightness"), "0") == nil {
			ok = true
			f.logger.Debug("Backlight off (brightness=0)")
		}
	}

	return ok
}

// powerOn restores scanout and backlight; harmless when already on
func (f *Framebuffer) powerOn() {
	if f.sysfsDir != "" {
		_ = writeSysfs(filepath.Join(f.sysfsDir, "blank"), "0")
	}
	if f.backlightDir != "" {
		_ = writeSysfs(filepath.Join(f.backlightDir, "bl_power"), "0")
		brightness := f.savedBrightness
		if brightness < 0 {
			brightness = 128
		}
		_ = writeSysfs(filepath.Join(f.backlightDir, "brightness"), strconv.Itoa(brightness))
	}
}

func readSysfs(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func writeSysfs(path, value string) error {
	return os.WriteFile(path, []byte(value), 0644)
}
