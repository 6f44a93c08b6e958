package internal

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	pkgconfig "github.com/HyServers/hyservers-web/pkg/config"
)

const reloadDebounce = 200 * time.Millisecond

// WatchConfig reloads the config file at path whenever it changes and applies
// app.log_level to level. Other settings need a restart. It watches the
// parent directory so editors that replace the file are noticed. Returns
// when ctx is cancelled.
func WatchConfig(ctx context.Context, path string, level *slog.LevelVar, logger *slog.Logger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	logger.Info("config watcher: started", slog.String("path", abs))

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			logger.Info("config watcher: stopped")
			return nil

		case <-timerCh:
			applyConfig(abs, level, logger)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerCh = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher: error", slog.String("error", err.Error()))
		}
	}
}

// applyConfig reloads path and applies its log level. A config that fails to
// load or validate is ignored.
func applyConfig(path string, level *slog.LevelVar, logger *slog.Logger) {
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		logger.Warn("config reload rejected", slog.String("error", err.Error()))
		return
	}
	if old := level.Level(); old != cfg.App.LogLevel {
		level.Set(cfg.App.LogLevel)
		logger.Info("log level changed",
			slog.String("from", old.String()),
			slog.String("to", cfg.App.LogLevel.String()))
	}
}
