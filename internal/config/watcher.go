package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// debounceWindow coalesces the burst of write events editors produce for a
// single save.
const debounceWindow = 500 * time.Millisecond

// WatchDefinitions watches the definitions directory and invokes onChange
// with the changed file path after the write burst settles. Blocks until
// stop is closed; run it in a goroutine.
func WatchDefinitions(dir string, onChange func(path string), stop <-chan struct{}, log *zap.SugaredLogger) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	log.Infow("watching definitions", "dir", dir)

	pending := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-stop:
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".json") {
				continue
			}
			pending[ev.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
			} else {
				timer.Reset(debounceWindow)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			for path := range pending {
				log.Debugw("definitions file changed", "path", path)
				onChange(path)
			}
			pending = make(map[string]struct{})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warnw("definitions watcher error", "error", err)
		}
	}
}
