package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	DefaultDebounce     = 200 * time.Millisecond
	DefaultPollInterval = 2 * time.Second
)

// WatchOption configures Store.Watch.
type WatchOption func(*watchOptions)

type watchOptions struct {
	debounce     time.Duration
	pollInterval time.Duration
	forcePoll    bool
}

func WithDebounce(d time.Duration) WatchOption {
	return func(o *watchOptions) { o.debounce = d }
}

func WithPollInterval(d time.Duration) WatchOption {
	return func(o *watchOptions) { o.pollInterval = d }
}

// WithForcePoll skips fsnotify and polls the file's mtime instead.
func WithForcePoll(force bool) WatchOption {
	return func(o *watchOptions) { o.forcePoll = force }
}

// Watch reloads the document when another process rewrites it and calls
// onChange with the new contents. Writes made through this Store do not
// trigger onChange. Watch blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func(Config), opts ...WatchOption) error {
	o := watchOptions{debounce: DefaultDebounce, pollInterval: DefaultPollInterval}
	for _, opt := range opts {
		opt(&o)
	}

	notify := func() {
		if s.Reload() {
			s.logger.Debug("config changed on disk", "path", s.path)
			if onChange != nil {
				onChange(s.Load())
			}
		}
	}

	if !o.forcePoll {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			// Watch the directory: atomic replacement swaps the inode.
			if err := fsw.Add(filepath.Dir(s.path)); err == nil {
				defer fsw.Close()
				return s.watchEvents(ctx, fsw, o.debounce, notify)
			}
			_ = fsw.Close()
		}
		s.logger.Debug("fsnotify unavailable, polling config", "path", s.path, "err", err)
	}
	return s.watchPolling(ctx, o.pollInterval, notify)
}

func (s *Store) watchEvents(ctx context.Context, fsw *fsnotify.Watcher, debounce time.Duration, notify func()) error {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("config watch error", "path", s.path, "err", err)
		case <-fire:
			fire = nil
			notify()
		}
	}
}

func (s *Store) watchPolling(ctx context.Context, interval time.Duration, notify func()) error {
	var lastMod time.Time
	var lastSize int64
	if info, err := os.Stat(s.path); err == nil {
		lastMod, lastSize = info.ModTime(), info.Size()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(s.path)
			if err != nil {
				continue
			}
			if info.ModTime().Equal(lastMod) && info.Size() == lastSize {
				continue
			}
			lastMod, lastSize = info.ModTime(), info.Size()
			notify()
		}
	}
}
