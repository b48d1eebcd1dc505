// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package watch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/libreload/pkg/errutil"
)

const testDebounce = 50 * time.Millisecond

func newTestWatcher(t *testing.T) *Watcher {
	t.Helper()
	w, err := New(Options{Debounce: testDebounce})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

// collect drains until at least n events arrived or the deadline passes.
func collect(t *testing.T, w *Watcher, n int) []Event {
	t.Helper()
	var events []Event
	deadline := time.Now().Add(5 * time.Second)
	for len(events) < n && time.Now().Before(deadline) {
		events = append(events, w.Drain()...)
		time.Sleep(10 * time.Millisecond)
	}
	return events
}

func TestWatcher_CoalescesBurst(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t)
	require.NoError(t, w.Watch(dir, false))

	path := filepath.Join(dir, "libalpha.so")
	for i := range 5 {
		require.NoError(t, os.WriteFile(path, []byte{byte(i)}, 0o600))
	}

	events := collect(t, w, 1)
	require.Len(t, events, 1)
	assert.Equal(t, path, events[0].Path)
	assert.True(t, events[0].Op.Has(fsnotify.Write) || events[0].Op.Has(fsnotify.Create))

	// Nothing further arrives once the burst has been reported.
	time.Sleep(3 * testDebounce)
	assert.Empty(t, w.Drain())
}

func TestWatcher_SeparatePathsSeparateEvents(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t)
	require.NoError(t, w.Watch(dir, false))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "liba.so"), []byte("a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "libb.so"), []byte("b"), 0o600))

	events := collect(t, w, 2)
	require.Len(t, events, 2)
	paths := []string{events[0].Path, events[1].Path}
	assert.ElementsMatch(t, []string{filepath.Join(dir, "liba.so"), filepath.Join(dir, "libb.so")}, paths)
}

func TestWatcher_DrainIsNonBlocking(t *testing.T) {
	w := newTestWatcher(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Empty(t, w.Drain())
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Drain blocked with an empty queue")
	}
}

func TestWatcher_ReadySignalled(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t)
	require.NoError(t, w.Watch(dir, false))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "libready.so"), []byte("x"), 0o600))

	select {
	case <-w.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("Ready was not signalled")
	}
	assert.Len(t, w.Drain(), 1)
}

func TestWatcher_WatchIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := newTestWatcher(t)

	require.NoError(t, w.Watch(dir, false))
	require.NoError(t, w.Watch(dir, false))
	assert.Equal(t, []string{dir}, w.Dirs())
}

func TestWatcher_Recursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "nested", "deeper")
	require.NoError(t, os.MkdirAll(sub, 0o750))
	w := newTestWatcher(t)

	require.NoError(t, w.Watch(dir, true))
	assert.Equal(t, []string{dir, filepath.Join(dir, "nested"), sub}, w.Dirs())

	require.NoError(t, os.WriteFile(filepath.Join(sub, "libdeep.so"), []byte("x"), 0o600))
	events := collect(t, w, 1)
	require.Len(t, events, 1)
	assert.Equal(t, filepath.Join(sub, "libdeep.so"), events[0].Path)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := newTestWatcher(t)

	err := w.Watch(filepath.Join(t.TempDir(), "missing"), false)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeWatch)
}

func TestWatcher_CloseStopsEverything(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	dir := t.TempDir()
	w, err := New(Options{Debounce: time.Hour})
	require.NoError(t, err)
	require.NoError(t, w.Watch(dir, false))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "libpending.so"), []byte("x"), 0o600))
	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.pending) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second Close is a no-op")
	assert.Empty(t, w.Drain())

	err = w.Watch(dir, false)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeWatch)
}

func TestNew_DefaultDebounce(t *testing.T) {
	w, err := New(Options{})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()
	assert.Equal(t, DefaultDebounce, w.debounce)
}
