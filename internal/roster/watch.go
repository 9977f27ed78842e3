package roster

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch calls onChange with the re-parsed names every time the roster file is
// written or replaced. It blocks until ctx is done.
func Watch(ctx context.Context, path string, onChange func([]string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	// Watch the directory so editors that rename-over the file are seen too.
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != target {
				continue
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(watchDebounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("roster watch error", "path", path, "error", err)
		case <-pending:
			pending = nil
			names, err := ReadFile(path)
			if err != nil {
				slog.Warn("roster reload failed", "path", path, "error", err)
				continue
			}
			slog.Info("roster reloaded", "path", path, "count", len(names))
			onChange(names)
		}
	}
}
