// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package watch reports debounced filesystem changes through a non-blocking
// queue.
//
// fsnotify runs its own observation goroutine; a forwarding goroutine feeds
// each event into a per-path debounce timer, and when a path has been quiet
// for the debounce interval it is appended to the queue. Drain hands the
// queued events to the single consumer without ever blocking.
package watch

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"
)

// DefaultDebounce is used when Options.Debounce is not positive.
const DefaultDebounce = 2 * time.Second

// CodeWatch is the error code for failures to create or extend a watch.
const CodeWatch = "WATCH_FAILED"

// Event is one changed path after debounce coalescing.
type Event struct {
	Path string
	Op   fsnotify.Op
	Time time.Time
}

// Options controls watcher behavior.
type Options struct {
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher is the fsnotify-backed change source.
type Watcher struct {
	fs       *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent
	queue   []Event
	dirs    map[string]struct{}
	closed  bool

	ready chan struct{}
	done  chan struct{}
	wg    sync.WaitGroup
}

type pendingEvent struct {
	timer *time.Timer
	event Event
	last  time.Time
}

// New creates a Watcher and starts its forwarding goroutine.
func New(opts Options) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, oops.Code(CodeWatch).Wrapf(err, "create filesystem watcher")
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		fs:       fsw,
		debounce: debounce,
		logger:   logger.With("component", "watch"),
		pending:  make(map[string]*pendingEvent),
		dirs:     make(map[string]struct{}),
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	w.wg.Add(1)
	go w.forward()
	return w, nil
}

// Watch subscribes to changes in dir. Watching a directory twice is a no-op.
// With recursive set, every subdirectory present now is watched as well.
func (w *Watcher) Watch(dir string, recursive bool) error {
	dirs := []string{dir}
	if recursive {
		dirs = append(dirs, subdirectories(dir)...)
	}
	for _, d := range dirs {
		if err := w.add(d); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) add(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return oops.Code(CodeWatch).With("dir", dir).Errorf("watcher is closed")
	}
	if _, ok := w.dirs[dir]; ok {
		return nil
	}
	if err := w.fs.Add(dir); err != nil {
		return oops.Code(CodeWatch).With("dir", dir).Wrapf(err, "watch %s", dir)
	}
	w.dirs[dir] = struct{}{}
	activeWatches.Set(float64(len(w.dirs)))
	w.logger.Debug("watch added", "dir", dir, "active_watches", len(w.dirs))
	return nil
}

func subdirectories(root string) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || !entry.IsDir() || path == root {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs
}

// Dirs returns the watched directories, sorted.
func (w *Watcher) Dirs() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	dirs := make([]string, 0, len(w.dirs))
	for dir := range w.dirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)
	return dirs
}

// Drain returns every event queued since the previous call, in delivery
// order. It never blocks.
func (w *Watcher) Drain() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()

	events := w.queue
	w.queue = nil
	return events
}

// Ready is signalled whenever events are queued. A receive does not consume
// events; call Drain.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Close stops the watcher. Queued and pending events are discarded.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = nil
	w.queue = nil
	w.mu.Unlock()

	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()
	if err != nil {
		return oops.Code(CodeWatch).Wrapf(err, "close filesystem watcher")
	}
	return nil
}

func (w *Watcher) forward() {
	defer w.wg.Done()
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.schedule(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			watchErrors.Inc()
			w.logger.Warn("filesystem watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// schedule restarts the quiet period for the event's path.
func (w *Watcher) schedule(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	rawEvents.Inc()
	now := time.Now()
	if p, ok := w.pending[event.Name]; ok {
		p.event.Op |= event.Op
		p.event.Time = now.UTC()
		p.last = now
		p.timer.Reset(w.debounce)
		return
	}

	path := event.Name
	w.pending[path] = &pendingEvent{
		event: Event{Path: path, Op: event.Op, Time: now.UTC()},
		last:  now,
		timer: time.AfterFunc(w.debounce, func() { w.flush(path) }),
	}
}

func (w *Watcher) flush(path string) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	p, ok := w.pending[path]
	// A write that raced the timer re-armed it; wait for that firing.
	if !ok || time.Since(p.last) < w.debounce {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.queue = append(w.queue, p.event)
	w.mu.Unlock()

	debouncedEvents.Inc()
	select {
	case w.ready <- struct{}{}:
	default:
	}
}
