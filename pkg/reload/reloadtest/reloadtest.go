// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package reloadtest provides fakes for exercising reload.Manager without
// real shared objects or filesystem notifications.
package reloadtest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/holomush/libreload/pkg/reload"
	"github.com/holomush/libreload/pkg/reload/dynload"
)

// Magic is the prefix a file must start with for Loader to accept it.
const Magic = "LIBRELOAD-FAKE\n"

// ErrInvalidLibrary is returned by Loader for files without Magic.
var ErrInvalidLibrary = errors.New("invalid shared object header")

// ErrSymbolNotFound is returned for symbols a fake library does not define.
var ErrSymbolNotFound = errors.New("undefined symbol")

// LibraryContent returns file content Loader accepts. body is what
// Handle.Body reports, so tests can tell generations apart.
func LibraryContent(body string) []byte {
	return []byte(Magic + body)
}

// WriteLibrary writes a loadable fake library to path.
func WriteLibrary(path, body string) error {
	return os.WriteFile(path, LibraryContent(body), 0o600)
}

// Loader opens fake libraries: any file beginning with Magic. Every symbol
// name resolves to a stable address per handle.
type Loader struct {
	mu     sync.Mutex
	opened []*Handle
}

// NewLoader creates an empty Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Open implements dynload.Loader.
func (l *Loader) Open(path string) (dynload.Handle, error) {
	data, err := os.ReadFile(path) //nolint:gosec // test helper
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if !bytes.HasPrefix(data, []byte(Magic)) {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidLibrary)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	h := &Handle{path: path, body: string(data[len(Magic):]), id: uintptr(len(l.opened) + 1)}
	l.opened = append(l.opened, h)
	return h, nil
}

// Opened returns every handle opened so far, in order.
func (l *Loader) Opened() []*Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Handle(nil), l.opened...)
}

// Live returns the handles not yet closed.
func (l *Loader) Live() []*Handle {
	var out []*Handle
	for _, h := range l.Opened() {
		if !h.Closed() {
			out = append(out, h)
		}
	}
	return out
}

// Handle is a fake open library.
type Handle struct {
	path string
	body string
	id   uintptr

	mu     sync.Mutex
	closed bool
}

// Path returns the path the handle was opened from.
func (h *Handle) Path() string { return h.path }

// Body returns the file content after Magic.
func (h *Handle) Body() string { return h.body }

// Symbol implements dynload.Handle. The symbol "missing" never resolves.
func (h *Handle) Symbol(name string) (uintptr, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, errors.New("handle closed")
	}
	if name == "missing" {
		return 0, fmt.Errorf("%s: %w", name, ErrSymbolNotFound)
	}
	return h.id<<16 | uintptr(len(name)), nil
}

// Close implements dynload.Handle.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errors.New("handle closed twice")
	}
	h.closed = true
	return nil
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Source is a manually driven reload.EventSource.
type Source struct {
	mu      sync.Mutex
	queue   []reload.Event
	watched  []string
	watchErr error
	closed   bool
	ready    chan struct{}
}

// NewSource creates an empty Source.
func NewSource() *Source {
	return &Source{ready: make(chan struct{}, 1)}
}

// Push queues a change event for path.
func (s *Source) Push(path string) {
	s.mu.Lock()
	s.queue = append(s.queue, reload.Event{Path: path, Time: time.Now().UTC()})
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// SetWatchError makes later Watch calls fail with err. A nil err restores
// normal behaviour.
func (s *Source) SetWatchError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchErr = err
}

// Watch implements reload.EventSource.
func (s *Source) Watch(dir string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchErr != nil {
		return s.watchErr
	}
	for _, d := range s.watched {
		if d == dir {
			return nil
		}
	}
	s.watched = append(s.watched, dir)
	return nil
}

// Watched returns the directories passed to Watch.
func (s *Source) Watched() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.watched...)
}

// Drain implements reload.EventSource.
func (s *Source) Drain() []reload.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := s.queue
	s.queue = nil
	return events
}

// Ready implements reload.EventSource.
func (s *Source) Ready() <-chan struct{} {
	return s.ready
}

// Close implements reload.EventSource.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Call is one recorded handler invocation.
type Call struct {
	Phase   reload.Phase
	Library *reload.Library
	Err     error
}

// Recorder is a reload.Handler that records every call. Like a well-behaved
// host it retains libraries passed to After and releases on Before. Use
// Recorder.Keep to hand it the library returned by AddLibrary.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	held  []*reload.Library
}

// Keep records lib as held by the host.
func (r *Recorder) Keep(lib *reload.Library) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.held = append(r.held, lib)
}

// HandleReload implements reload.Handler.
func (r *Recorder) HandleReload(phase reload.Phase, lib *reload.Library, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Phase: phase, Library: lib, Err: err})

	switch phase {
	case reload.Before:
		kept := r.held[:0]
		for _, h := range r.held {
			if h.Equal(lib) {
				_ = h.Release()
				continue
			}
			kept = append(kept, h)
		}
		r.held = kept
	case reload.After:
		r.held = append(r.held, lib.Retain())
	}
}

// Calls returns the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Phases returns the recorded phases in order.
func (r *Recorder) Phases() []reload.Phase {
	calls := r.Calls()
	phases := make([]reload.Phase, len(calls))
	for i, c := range calls {
		phases[i] = c.Phase
	}
	return phases
}

// Held returns the libraries the recorder currently references.
func (r *Recorder) Held() []*reload.Library {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*reload.Library(nil), r.held...)
}

// Reset forgets recorded calls; held references are kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}
