package config

import (
	"github.com/fsnotify/fsnotify"

	"github.com/wudi/stablegate/internal/logging"
	"go.uber.org/zap"
)

// Watcher hot-reloads a configuration file, invoking onChange with the
// newly parsed Config whenever the file is written or renamed into place.
type Watcher struct {
	path     string
	loader   *Loader
	fsw      *fsnotify.Watcher
	onChange func(*Config)
	done     chan struct{}
}

// NewWatcher starts watching path and calls onChange on every reload.
// Parse errors are logged and the previous configuration is kept in effect.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		loader:   NewLoader(),
		fsw:      fsw,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cfg, err := w.loader.Load(w.path)
			if err != nil {
				logging.Error("config reload failed", zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.onChange(cfg)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Error("config watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
