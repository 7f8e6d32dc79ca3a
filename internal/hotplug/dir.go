package hotplug

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// DirWatcher applies event files dropped into a state directory. Each file
// holds one or more protocol lines; a file is applied when it is created or
// rewritten, and every existing file is applied once at start.
type DirWatcher struct {
	dir     string
	sink    Sink
	watcher *fsnotify.Watcher
}

// NewDirWatcher watches dir, creating it if needed.
func NewDirWatcher(dir string, sink Sink) (*DirWatcher, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("hotplug: state dir: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("hotplug: watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("hotplug: watch %s: %w", dir, err)
	}
	return &DirWatcher{dir: dir, sink: sink, watcher: w}, nil
}

// Run applies the existing files, then watches until ctx ends or Close is
// called.
func (d *DirWatcher) Run(ctx context.Context) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		slog.Warn("hotplug: reading state dir failed", "dir", d.dir, "err", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		d.apply(ctx, filepath.Join(d.dir, n))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				d.apply(ctx, event.Name)
			}
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("hotplug: state dir watcher error", "err", err)
		}
	}
}

// Close stops the watcher; a running Run returns.
func (d *DirWatcher) Close() error {
	return d.watcher.Close()
}

func (d *DirWatcher) apply(ctx context.Context, path string) {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("hotplug: reading event file failed", "path", path, "err", err)
		}
		return
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ev, err := ParseEvent(line)
		if err != nil {
			slog.Warn("hotplug: ignoring event file line", "path", path, "line", line, "err", err)
			continue
		}
		if err := Dispatch(ctx, d.sink, ev); err != nil {
			slog.Warn("hotplug: event not applied", "event", ev, "err", err)
		}
	}
}
