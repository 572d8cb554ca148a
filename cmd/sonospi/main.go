package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/soellman/pidfile"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sonospi/internal/artwork"
	"sonospi/internal/config"
	"sonospi/internal/domain"
	"sonospi/internal/engine"
	"sonospi/internal/fb"
	"sonospi/internal/sonos"
	"sonospi/internal/touch"
)

// AppOptions is the full dependency graph, shared with tests so the graph
// can be validated without starting the daemon
var AppOptions = fx.Options(
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log}
	}),

	fx.Provide(
		newLogger,
		newConfig,

		fb.New,
		func(f *fb.Framebuffer) domain.Renderer { return f },
		func(f *fb.Framebuffer) domain.PanelResolution { return f.Resolution() },

		artwork.NewFetcher,
		func(f *artwork.Fetcher) domain.ArtworkSource { return f },

		sonos.NewWatcher,
		func(w *sonos.Watcher) domain.Discoverer { return w },
		func(w *sonos.Watcher) domain.Controller { return w },

		touch.NewListener,
		func(l *touch.Listener) <-chan domain.Command { return l.Commands() },

		engine.NewEngine,
	),

	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(AppOptions)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// A failed startup (e.g. framebuffer cannot be opened) is fatal; a clean
	// shutdown signal exits zero
	if err := app.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "startup failed:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	if err := app.Stop(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "shutdown failed:", err)
		os.Exit(1)
	}
}

// newLogger creates the process-wide zap logger; the level is adjusted once
// configuration is loaded
func newLogger() (*zap.Logger, zap.AtomicLevel, error) {
	atom := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	zcfg := zap.NewProductionConfig()
	zcfg.Level = atom
	logger, err := zcfg.Build()
	if err != nil {
		return nil, atom, err
	}
	return logger, atom, nil
}

// newConfig loads the runtime configuration
func newConfig(logger *zap.Logger) (*config.Config, error) {
	return config.Load(logger)
}

// registerHooks ties the components to the application lifecycle
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	atom zap.AtomicLevel,
	cfg *config.Config,
	fbdev *fb.Framebuffer,
	listener *touch.Listener,
	eng *engine.Engine,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if level, err := zapcore.ParseLevel(cfg.Log.Level); err == nil {
				atom.SetLevel(level)
			} else {
				logger.Warn("Unknown log level, keeping info",
					zap.String("level", cfg.Log.Level))
			}

			if cfg.PIDFile != "" {
				if err := pidfile.Write(cfg.PIDFile); err != nil {
					return fmt.Errorf("write pid file: %w", err)
				}
			}

			if err := listener.Start(ctx); err != nil {
				return err
			}
			if err := eng.Start(ctx); err != nil {
				return err
			}

			logger.Info("sonospi started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")

			if err := eng.Stop(ctx); err != nil {
				logger.Warn("Engine stop failed", zap.Error(err))
			}
			if err := listener.Stop(ctx); err != nil {
				logger.Warn("Touch listener stop failed", zap.Error(err))
			}
			if err := fbdev.Close(); err != nil {
				logger.Warn("Framebuffer close failed", zap.Error(err))
			}
			if cfg.PIDFile != "" {
				_ = pidfile.Remove(cfg.PIDFile)
			}
			return nil
		},
	})
}
