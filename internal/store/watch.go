package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch enables the decoded-reference cache and keeps it coherent with the
// baseline directory: a reference removed, renamed or rewritten outside the
// store is evicted so the next run sees the change. Watching stops (and the
// cache is dropped) when ctx is done.
func (s *FileBaselineStore) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := w.Add(s.dir); err != nil {
		w.Close()
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		w.Close()
		return fmt.Errorf("failed to list %s: %w", s.dir, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := w.Add(filepath.Join(s.dir, e.Name())); err != nil {
			w.Close()
			return fmt.Errorf("failed to watch %s: %w", e.Name(), err)
		}
	}

	s.setWatching(true)

	go func() {
		defer w.Close()
		defer s.setWatching(false)

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				s.handleEvent(w, ev)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Error().Err(err).Str("dir", s.dir).Msg("baseline watcher error")
			}
		}
	}()

	return nil
}

func (s *FileBaselineStore) handleEvent(w *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.Add(ev.Name); err != nil {
				log.Error().Err(err).Str("dir", ev.Name).Msg("failed to watch target directory")
			}
			return
		}
	}
	if ev.Op&(fsnotify.Remove|fsnotify.Rename|fsnotify.Write|fsnotify.Create) != 0 {
		log.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("reference changed on disk; evicting")
		s.evict(ev.Name)
	}
}
