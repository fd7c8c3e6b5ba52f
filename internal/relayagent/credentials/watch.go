package credentials

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the credentials file whenever it changes on disk and calls
// onChange when the token differs from the current one. Writes made through
// Save do not trigger onChange. Watch returns when ctx is cancelled.
func (s *Store) Watch(ctx context.Context, onChange func(Credentials)) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory; editors and Save replace the file by rename.
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return err
	}
	s.logger.Info("Watching credentials file", "path", s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Credentials watcher error", "err", err)
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			s.reload(onChange)
		}
	}
}

func (s *Store) reload(onChange func(Credentials)) {
	c, err := s.read()
	if err != nil {
		s.logger.Debug("Credentials file not readable yet", "err", err)
		return
	}

	s.mu.Lock()
	changed := c.Token != s.creds.Token
	if changed {
		s.creds = c
	}
	s.mu.Unlock()

	if changed {
		s.logger.Info("Credentials changed on disk", "expiresAt", c.ExpiresAt)
		onChange(c)
	}
}
