package proxyconfig

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchForExternalEdits watches the store's config directory for external
// edits to the active config file and debounces them into a Reload call.
// This supplements the /reload control endpoint (spec.md §4.10) with an
// automatic path; both converge on the same Store.Reload. Grounded on
// fsnotify being an indirect dependency of viper in the teacher's go.mod,
// promoted here to direct use. Stop the returned function to release the
// watcher.
func (s *Store) WatchForExternalEdits() (stop func(), err error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		var debounce *time.Timer
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				// The active file is resolved per event: a first Save on a
				// fresh install creates config.toml, which then takes
				// precedence over config.json.
				if filepath.Clean(ev.Name) != filepath.Clean(FilePath(s.dir)) {
					continue
				}
				if !(ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(250*time.Millisecond, func() {
					if err := s.Reload(); err != nil {
						log.Printf("proxyconfig: reload after external edit failed: %v", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("proxyconfig: watch error: %v", err)
			case <-done:
				if debounce != nil {
					debounce.Stop()
				}
				return
			}
		}
	}()

	return func() {
		close(done)
		watcher.Close()
	}, nil
}
