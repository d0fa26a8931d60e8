package config

import (
	"bufio"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"

	cb "github.com/gglite/corebus"
)

// WatchMarkerFile watches path for writes and reloads its contents into
// the key tree on change (SPEC_FULL.md §3.8/§2: "fsnotify-driven reload
// of a marker file"). The file format is one "key=value" pair per line;
// this stands in for the C daemon's SQLite-backed reload without
// implementing the excluded backing store itself. The returned stop
// function closes the underlying watcher; it is safe to call at most
// once.
func (d *Server) WatchMarkerFile(path string) (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cb.WrapError("config.watch_marker", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, cb.WrapError("config.watch_marker", err)
	}

	d.reloadMarkerFile(path)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					d.reloadMarkerFile(path)
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.log.Warn("config marker watch error", "error", werr)
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}

func (d *Server) reloadMarkerFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		d.log.Warn("config marker reload failed to open file", "path", path, "error", err)
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.Trim(strings.TrimSpace(key), keySep)
		if key == "" {
			continue
		}
		val := cb.NewBuffer(cb.BufferFromString(strings.TrimSpace(value)))

		d.mu.Lock()
		d.values[key] = val
		d.mu.Unlock()
		d.notifyWatchers(key, val)
	}
	if err := scanner.Err(); err != nil {
		d.log.Warn("config marker reload scan failed", "path", path, "error", err)
	}
	d.log.Info("config marker file reloaded", "path", path)
}
