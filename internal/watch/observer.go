// Package watch observes a directory for new or rewritten activity files and
// emits each path once its writes have settled.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher error backoff bounds.
const (
	errInitBackoff = 1 * time.Second
	errMaxBackoff  = 30 * time.Second
	errBackoffMult = 2

	minTick = 50 * time.Millisecond
)

// FsWatcher is the subset of *fsnotify.Watcher the observer uses.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

// NewFsWatcher returns an FsWatcher backed by fsnotify.
func NewFsWatcher() (FsWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: creating watcher: %w", err)
	}

	return &fsnotifyWatcher{w: w}, nil
}

func (f *fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// Observer turns raw filesystem events under one directory into settled
// file paths. A path is emitted when no event has touched it for the settle
// delay. Only files whose extension is in the allow list are considered.
type Observer struct {
	watcher FsWatcher
	dir     string
	exts    map[string]bool
	settle  time.Duration
	logger  *slog.Logger

	now       func() time.Time
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewObserver creates an Observer for dir. Extensions are matched
// case-insensitively and must include the leading dot.
func NewObserver(watcher FsWatcher, dir string, exts []string, settle time.Duration, logger *slog.Logger) *Observer {
	if logger == nil {
		logger = slog.Default()
	}

	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		allowed[strings.ToLower(e)] = true
	}

	return &Observer{
		watcher:   watcher,
		dir:       dir,
		exts:      allowed,
		settle:    settle,
		logger:    logger,
		now:       time.Now,
		sleepFunc: timeSleep,
	}
}

// Run watches until ctx is canceled or the watcher closes, sending settled
// paths to out. Run closes the watcher but never closes out.
func (o *Observer) Run(ctx context.Context, out chan<- string) error {
	defer o.watcher.Close()

	info, err := os.Stat(o.dir)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("watch: %s is not a directory", o.dir)
	}

	if err := o.watcher.Add(o.dir); err != nil {
		return fmt.Errorf("watch: adding %s: %w", o.dir, err)
	}

	o.logger.Info("watching directory",
		slog.String("dir", o.dir),
		slog.Duration("settle_delay", o.settle),
	)

	return o.loop(ctx, out)
}

func (o *Observer) loop(ctx context.Context, out chan<- string) error {
	ticker := time.NewTicker(max(o.settle/2, minTick))
	defer ticker.Stop()

	pending := make(map[string]time.Time)
	errBackoff := errInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-o.watcher.Events():
			if !ok {
				return nil
			}

			o.handleEvent(ev, pending)

			errBackoff = errInitBackoff

		case watchErr, ok := <-o.watcher.Errors():
			if !ok {
				return nil
			}

			o.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if err := o.sleepFunc(ctx, errBackoff); err != nil {
				return nil
			}

			errBackoff = min(errBackoff*errBackoffMult, errMaxBackoff)

		case <-ticker.C:
			if err := o.flush(ctx, pending, out); err != nil {
				return nil
			}
		}
	}
}

// handleEvent records create/write events and forgets removed files.
func (o *Observer) handleEvent(ev fsnotify.Event, pending map[string]time.Time) {
	if !o.exts[strings.ToLower(filepath.Ext(ev.Name))] {
		return
	}

	switch {
	case ev.Has(fsnotify.Create), ev.Has(fsnotify.Write):
		if _, seen := pending[ev.Name]; !seen {
			o.logger.Debug("file changed", slog.String("path", ev.Name))
		}

		pending[ev.Name] = o.now()

	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		delete(pending, ev.Name)
	}
}

// flush emits every pending path whose last event is older than the settle
// delay and which still names a regular file.
func (o *Observer) flush(ctx context.Context, pending map[string]time.Time, out chan<- string) error {
	now := o.now()

	for path, last := range pending {
		if now.Sub(last) < o.settle {
			continue
		}

		delete(pending, path)

		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			o.logger.Debug("settled path is no longer a regular file", slog.String("path", path))
			continue
		}

		select {
		case out <- path:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
