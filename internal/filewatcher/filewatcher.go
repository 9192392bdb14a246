// Package filewatcher reports writes to files with given suffixes in a directory,
// coalescing the bursts of writes made by editors into a single notification.
package filewatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"
)

// defaultSettle is the time allowed for multiple editor writes to complete.
const defaultSettle = 25 * time.Millisecond

// Watcher watches a directory for writes to files having the configured suffixes.
type Watcher struct {
	dir      string
	suffixes []string
	watcher  *fsnotify.Watcher
	changes  chan struct{}
	settle   time.Duration
}

// New registers a Watcher for dir. Suffixes provided without a leading "." have one
// prepended.
func New(dir string, suffixes ...string) (*Watcher, error) {

	if len(suffixes) < 1 {
		return nil, errors.New("at least one file suffix is needed")
	}

	dir = filepath.Clean(dir)
	check, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("dir %q not found: %w", dir, err)
	}
	if !check.IsDir() {
		return nil, fmt.Errorf("%q is not a directory", dir)
	}

	w := &Watcher{
		dir:     dir,
		changes: make(chan struct{}),
		settle:  defaultSettle,
	}
	for _, s := range suffixes {
		if s != "" && s[0] != '.' {
			s = "." + s
		}
		w.suffixes = append(w.suffixes, strings.ToLower(s))
	}

	w.watcher, err = fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify new watcher error: %w", err)
	}
	if err := w.watcher.Add(dir); err != nil {
		_ = w.watcher.Close()
		return nil, fmt.Errorf("fsnotify add error for dir %q: %w", dir, err)
	}
	return w, nil
}

// matches reports whether an event concerns a watched file.
func (w *Watcher) matches(e fsnotify.Event) bool {
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
		return false
	}
	base := filepath.Base(e.Name)
	if base == "" || base[0] == '.' {
		return false
	}
	base = strings.ToLower(base)
	for _, s := range w.suffixes {
		if strings.HasSuffix(base, s) {
			return true
		}
	}
	return false
}

// Watch blocks until ctx is cancelled or the underlying watcher fails, sending on
// Changes once the writes in a burst have settled. The Changes channel is closed when
// Watch returns.
func (w *Watcher) Watch(ctx context.Context) error {

	// writes buffers raw write events.
	writes := make(chan struct{})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(writes)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err, ok := <-w.watcher.Errors:
				if !ok {
					return errors.New("unexpected close from watcher errors")
				}
				return fmt.Errorf("unexpected notify error: %w", err)
			case e, ok := <-w.watcher.Events:
				if !ok {
					return errors.New("unexpected close from watcher events")
				}
				if !w.matches(e) {
					continue
				}
				select {
				case writes <- struct{}{}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	})

	// Stack writes arriving within the settle period.
	g.Go(func() error {
		pending := false
		timer := time.NewTicker(w.settle)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case _, ok := <-writes:
				if !ok {
					return nil
				}
				pending = true
				timer.Reset(w.settle)
			case <-timer.C:
				if !pending {
					continue
				}
				select {
				case w.changes <- struct{}{}:
				case <-ctx.Done():
					return ctx.Err()
				}
				pending = false
			}
		}
	})

	err := g.Wait()
	close(w.changes)
	_ = w.watcher.Close()
	return err
}

// Changes returns a channel signalling that watched files have changed.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}
