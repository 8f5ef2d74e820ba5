package config

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	appLog "pefsched/internal/log"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads the config file whenever it changes on disk and hands the
// validated result to apply. Invalid files are logged and skipped so a bad
// edit never replaces a working configuration. Watch blocks until ctx is
// canceled.
//
// The parent directory is watched instead of the file because editors and
// Save() replace the file via rename.
func Watch(ctx context.Context, path string, apply func(*Config)) error {
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	appLog.Debug("config watcher started", "dir", dir, "file", file)

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	trigger := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			select {
			case reload <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			appLog.Warn("config watch error", "err", err, "dir", dir)
		case <-reload:
			cfg, err := Load(path)
			if err != nil {
				appLog.Error("config reload failed; keeping previous config", err, "path", path)
				continue
			}
			appLog.Info("config reloaded", "path", path)
			apply(cfg)
		}
	}
}
