package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/koshercapital/kosher/internal/logging"
	"github.com/koshercapital/kosher/internal/util"
)

// reloadDebounce collapses the burst of events editors emit on save.
const reloadDebounce = 200 * time.Millisecond

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	done     chan struct{}
}

// Watch starts watching path. The parent directory is watched so that
// atomic rename-on-save is seen. onChange receives only configs that
// load and validate; a broken edit is logged and ignored.
func Watch(ctx context.Context, path string, onChange func(*Config)) (*Watcher, error) {
	path = filepath.Clean(expandPath(path))
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{path: path, watcher: fw, onChange: onChange, done: make(chan struct{})}
	util.SafeGoWithName("config-watcher", func() { w.loop(ctx) })
	return w, nil
}

// Close stops the watcher and waits for its goroutine.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var (
		timer  *time.Timer
		reload <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			reload = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("config watcher error", logging.Component("config"), logging.Err(err))
		case <-reload:
			reload = nil
			cfg, err := Load(w.path)
			if err != nil {
				logging.Warn("config reload rejected", logging.Component("config"), logging.Err(err))
				continue
			}
			logging.Info("config reloaded", logging.Component("config"), "path", w.path)
			w.onChange(cfg)
		}
	}
}
