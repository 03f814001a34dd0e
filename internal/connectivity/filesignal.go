package connectivity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// ParseSignal interprets the content of a connectivity signal file.
func ParseSignal(content string) (online bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "online", "1", "true", "up":
		return true, true
	case "offline", "0", "false", "down":
		return false, true
	}
	return false, false
}

// WatchFile mirrors a signal file written by the desktop shell into m. The
// file holds "online" or "offline". The parent directory is watched so the
// file may be created later or replaced atomically. WatchFile blocks until
// ctx is done.
func WatchFile(ctx context.Context, m *Monitor, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	m.readSignal(path)

	name := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				m.readSignal(path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("signal file watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (m *Monitor) readSignal(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			m.log.Warn("failed to read signal file", map[string]interface{}{"path": path, "error": err.Error()})
		}
		return
	}
	online, ok := ParseSignal(string(raw))
	if !ok {
		// a write may be observed half done; the next event carries the rest
		return
	}
	m.Set(online)
}
