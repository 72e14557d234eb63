package store

import (
	"context"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watch reloads the channel document when another process edits it and then
// calls onChange. Writes made through the Store are ignored. It blocks until
// ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	defer w.Close()

	// The directory is watched because atomic replacement swaps the file.
	if err := w.Add(s.dir); err != nil {
		return errors.Wrapf(err, "watch %s", s.dir)
	}

	var (
		debounce *time.Timer
		fire     = make(chan struct{}, 1)
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
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
			if filepath.Base(ev.Name) != ChannelsFile {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if s.ownWrite(ChannelsFile) {
				s.log.Debug().Msg("ignoring own write to channel document")
				continue
			}
			if err := s.ReloadChannels(); err != nil {
				s.log.Warn().Err(err).Msg("channel document changed but could not be reloaded")
				continue
			}
			s.log.Info().Msg("channel document reloaded after external edit")
			onChange()

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("watcher error")
		}
	}
}
