// Hot-swappable pricing source with file-watch reload.
package pricing

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Source provides the current pricing table to concurrent readers and swaps
// it atomically on reload, so a lookup never sees a half-updated table.
type Source struct {
	path  string
	table atomic.Pointer[Table]
}

// NewSource creates a source backed by the given file path. An empty path
// uses the built-in table and disables reloading.
func NewSource(path string) (*Source, error) {
	s := &Source{path: path}
	if path == "" {
		s.table.Store(DefaultTable())
		return s, nil
	}
	t, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s.table.Store(t)
	return s, nil
}

// Table returns the current pricing snapshot.
func (s *Source) Table() *Table {
	return s.table.Load()
}

// Reload rebuilds the table from disk and swaps it in as a whole.
func (s *Source) Reload() error {
	t, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.table.Store(t)
	log.Info().Str("path", s.path).Int("models", t.Len()).Msg("pricing table reloaded")
	return nil
}

// Watch reloads on file changes until ctx is done. Editors replace files
// rather than rewrite them, so the watch is on the directory and filtered by
// name. A failed reload keeps the previous table.
func (s *Source) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return err
	}

	go func() {
		defer func() { _ = watcher.Close() }()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
					continue
				}
				// Coalesce the write bursts editors produce.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					if err := s.Reload(); err != nil {
						log.Warn().Err(err).Str("path", s.path).Msg("pricing reload failed, keeping previous table")
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("pricing watcher error")
			}
		}
	}()
	return nil
}
