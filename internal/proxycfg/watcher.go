package proxycfg

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors the directory holding a config file and re-reads
// Verbose whenever that file changes, invoking onVerboseChange with the new
// value. Port and DataDir are never touched after startup, even if edited
// on disk.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	logger    *slog.Logger
}

// NewWatcher watches the directory containing configPath and calls
// onVerboseChange each time that file is written or created. The path is
// matched by base name so the caller can pass either an absolute or
// relative configPath.
func NewWatcher(configPath string, logger *slog.Logger, onVerboseChange func(verbose bool)) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}

	dir := filepath.Dir(configPath)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watching config directory %s: %w", dir, err)
	}

	w := &Watcher{
		fsWatcher: fw,
		done:      make(chan struct{}),
		logger:    logger,
	}
	go w.run(configPath, onVerboseChange)
	return w, nil
}

func (w *Watcher) run(configPath string, onVerboseChange func(verbose bool)) {
	name := filepath.Base(configPath)
	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			cfg, err := Load(configPath)
			if err != nil {
				w.logger.Warn("config reload failed", "error", err, "path", configPath)
				continue
			}
			w.logger.Info("config changed, applying verbose setting", "verbose", cfg.Verbose)
			onVerboseChange(cfg.Verbose)

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

// Close stops the watcher goroutine. Safe to call multiple times.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
		close(w.done)
	}
	return w.fsWatcher.Close()
}
