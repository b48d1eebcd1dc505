// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/libreload/internal/libname"
	"github.com/holomush/libreload/internal/observability"
	"github.com/holomush/libreload/pkg/reload"
	"github.com/holomush/libreload/pkg/reload/reloadtest"
)

// syncBuffer is a bytes.Buffer safe for one writer and concurrent readers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type runEnv struct {
	dir    string
	loader *reloadtest.Loader
	source *reloadtest.Source
	out    *syncBuffer
	cmd    *cobra.Command
	deps   *RunDeps
}

func newRunEnv(t *testing.T, flags ...string) *runEnv {
	t.Helper()
	isolate(t)

	env := &runEnv{
		dir:    t.TempDir(),
		loader: reloadtest.NewLoader(),
		source: reloadtest.NewSource(),
		out:    &syncBuffer{},
	}

	root := NewRootCmd()
	runCmd, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	runCmd.SetOut(env.out)
	runCmd.SetErr(new(syncBuffer))
	args := append([]string{"--search-path", env.dir, "--shadow-root", t.TempDir(), "--log-format=text"}, flags...)
	require.NoError(t, runCmd.ParseFlags(args))
	env.cmd = runCmd

	env.deps = &RunDeps{
		ManagerOptions: []reload.Option{
			reload.WithLoader(env.loader),
			reload.WithEventSource(env.source),
			reload.WithExecutable(func() (string, error) { return "", errors.New("none") }),
		},
		Call: func(lib *reload.Library, _ string) (int32, error) {
			return int32(len(lib.Name())), nil
		},
	}
	return env
}

func (e *runEnv) libPath(logical string) string {
	return filepath.Join(e.dir, libname.Name(libname.Current(), libname.Format, logical))
}

// start runs the host loop until the returned stop func is called.
func (e *runEnv) start(t *testing.T, opts *runOptions) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- runWithDeps(ctx, e.cmd, opts, e.deps)
	}()
	return func() error {
		cancel()
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("run did not stop")
			return nil
		}
	}
}

func TestRunOptions_Validate(t *testing.T) {
	assert.Error(t, (&runOptions{interval: time.Second}).Validate())
	assert.Error(t, (&runOptions{libs: []string{"a"}}).Validate())
	assert.NoError(t, (&runOptions{libs: []string{"a"}, interval: time.Second}).Validate())
}

func TestRun_ReloadsOnChange(t *testing.T) {
	env := newRunEnv(t)
	src := env.libPath("alpha")
	require.NoError(t, reloadtest.WriteLibrary(src, "v1"))

	stop := env.start(t, &runOptions{libs: []string{"alpha"}, symbol: "shared_fun", interval: 10 * time.Millisecond})

	require.Eventually(t, func() bool {
		return strings.Contains(env.out.String(), "alpha.shared_fun() = 5")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, reloadtest.WriteLibrary(src, "v2"))
	env.source.Push(src)

	require.Eventually(t, func() bool {
		return strings.Contains(env.out.String(), "after alpha")
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, stop())

	out := env.out.String()
	assert.Contains(t, out, "loaded alpha from ")
	assert.Contains(t, out, "before alpha")
	assert.Empty(t, env.loader.Live(), "every generation is unloaded on exit")
}

func TestRun_ReportsFailedReload(t *testing.T) {
	env := newRunEnv(t)
	src := env.libPath("alpha")
	require.NoError(t, reloadtest.WriteLibrary(src, "v1"))

	stop := env.start(t, &runOptions{libs: []string{"alpha"}, interval: 10 * time.Millisecond})

	require.Eventually(t, func() bool { return len(env.loader.Opened()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, writeGarbage(src))
	env.source.Push(src)

	require.Eventually(t, func() bool {
		return strings.Contains(env.out.String(), "reload_failed: ")
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, stop())
	assert.Empty(t, env.loader.Live())
}

func TestRun_MissingLibrary(t *testing.T) {
	env := newRunEnv(t)
	err := runWithDeps(context.Background(), env.cmd, &runOptions{libs: []string{"ghost"}, interval: time.Second}, env.deps)
	require.Error(t, err)
	assert.Equal(t, reload.CodeNotFound, reload.ErrorCode(err))
}

func TestRun_InvalidOptions(t *testing.T) {
	env := newRunEnv(t)
	err := runWithDeps(context.Background(), env.cmd, &runOptions{interval: time.Second}, env.deps)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid options")
}

func TestRun_MetricsServer(t *testing.T) {
	env := newRunEnv(t, "--metrics-addr=127.0.0.1:0")
	require.NoError(t, reloadtest.WriteLibrary(env.libPath("alpha"), "v1"))

	var mu sync.Mutex
	var srv *observability.Server
	var ready observability.ReadinessChecker
	env.deps.ObservabilityServerFactory = func(addr string, r observability.ReadinessChecker) ObservabilityServer {
		mu.Lock()
		defer mu.Unlock()
		srv = observability.NewServer(addr, r)
		ready = r
		return srv
	}

	stop := env.start(t, &runOptions{libs: []string{"alpha"}, symbol: "shared_fun", interval: 10 * time.Millisecond})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if srv == nil {
			return false
		}
		m := srv.Metrics()
		return testutil.ToFloat64(m.PollsTotal) > 0 &&
			testutil.ToFloat64(m.SymbolCallsTotal.WithLabelValues("alpha", "success")) > 0
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.True(t, ready(), "ready while watching")
	mu.Unlock()

	require.NoError(t, stop())
}

func writeGarbage(path string) error {
	return os.WriteFile(path, []byte("not a library"), 0o600)
}
