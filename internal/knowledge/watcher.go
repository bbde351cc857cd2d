package knowledge

import (
	"context"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Watch marks the index stale whenever a document in the knowledge directory
// changes. The flag is informational; rebuilds stay operator-driven.
func (m *Manager) Watch(ctx context.Context) error {
	if _, err := os.Stat(m.dataDir); err != nil {
		m.logger.Warn("knowledge directory missing, watcher disabled", "dir", m.dataDir)
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.dataDir); err != nil {
		watcher.Close()
		return err
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
					m.stale.Store(true)
					m.logger.Debug("knowledge document changed", "file", ev.Name, "op", ev.Op.String())
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				m.logger.Warn("knowledge watcher error", "error", err)
			}
		}
	}()
	return nil
}
