// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/holomush/libreload/internal/observability"
	"github.com/holomush/libreload/pkg/errutil"
	"github.com/holomush/libreload/pkg/reload"
	"github.com/holomush/libreload/pkg/reload/dynload"
)

const defaultPollInterval = 500 * time.Millisecond

// runOptions holds flags for the run command.
type runOptions struct {
	libs     []string
	exact    bool
	symbol   string
	interval time.Duration
}

// Validate checks that the options are usable.
func (o *runOptions) Validate() error {
	if len(o.libs) == 0 {
		return errors.New("at least one --lib is required")
	}
	if o.interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", o.interval)
	}
	return nil
}

// SymbolCaller calls a no-argument symbol returning a C int.
type SymbolCaller func(lib *reload.Library, symbol string) (int32, error)

// RunDeps holds injectable dependencies for the run command.
type RunDeps struct {
	// ManagerOptions are appended to the Manager's options.
	ManagerOptions []reload.Option
	// Call defaults to calling through dynload.
	Call SymbolCaller
	// ObservabilityServerFactory defaults to observability.NewServer.
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker) ObservabilityServer
}

// ObservabilityServer is the subset of observability.Server used by run.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func callSymbol(lib *reload.Library, symbol string) (int32, error) {
	addr, err := lib.Symbol(symbol)
	if err != nil {
		return 0, err
	}
	return int32(dynload.Call(addr)), nil //nolint:gosec // C int result in the low 32 bits
}

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Load libraries and reload them when they change",
		Long: `Load each --lib and poll for changes until interrupted. Every reload is
reported as a before phase followed by after or reload_failed. With --symbol,
the named int32(void) function is called in every loaded library on each tick.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWithDeps(ctx, cmd, opts, nil)
		},
	}

	cmd.Flags().StringArrayVar(&opts.libs, "lib", nil, "library to load (repeatable)")
	cmd.Flags().BoolVar(&opts.exact, "exact", false, "use --lib values as file names without platform formatting")
	cmd.Flags().StringVar(&opts.symbol, "symbol", "", "int32(void) symbol to call on every tick")
	cmd.Flags().DurationVar(&opts.interval, "interval", defaultPollInterval, "poll interval")

	return cmd
}

// runWithDeps runs the host loop with injectable dependencies.
// If deps is nil, default implementations are used.
func runWithDeps(ctx context.Context, cmd *cobra.Command, opts *runOptions, deps *RunDeps) error {
	if deps == nil {
		deps = &RunDeps{}
	}
	if deps.Call == nil {
		deps.Call = callSymbol
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready, reload.RegisterMetrics)
		}
	}

	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := setupLogging(cmd, cfg)
	if err != nil {
		return err
	}

	mopts := append([]reload.Option{reload.WithLogger(logger)}, deps.ManagerOptions...)
	m, err := reload.New(cfg.Reload(), mopts...)
	if err != nil {
		return fmt.Errorf("failed to create reload manager: %w", err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			errutil.LogError(logger, "reload manager close failed", closeErr)
		}
	}()

	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		srv := deps.ObservabilityServerFactory(cfg.MetricsAddr, m.Watching)
		errCh, startErr := srv.Start()
		if startErr != nil {
			return fmt.Errorf("failed to start observability server: %w", startErr)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Stop(stopCtx)
		}()
		go func() {
			for serveErr := range errCh {
				logger.Error("observability server failed", "error", serveErr)
			}
		}()
		metrics = srv.Metrics()
	}

	h := newHost(cmd.OutOrStdout(), logger)
	defer h.releaseAll()

	mode := nameMode(opts.exact)
	for _, name := range opts.libs {
		lib, addErr := m.AddLibrary(ctx, name, mode)
		if addErr != nil {
			return fmt.Errorf("failed to add library %s: %w", name, addErr)
		}
		h.keep(lib)
		fmt.Fprintf(h.out, "loaded %s from %s\n", lib.Name(), lib.LoadedPath())
	}

	logger.InfoContext(ctx, "host loop started",
		"libraries", len(opts.libs),
		"interval", opts.interval,
		"watching", m.Watching(),
		"shadow_dir", m.ShadowDir())

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	poll := func() {
		m.PollForReloads(ctx, h)
		if metrics != nil {
			metrics.PollsTotal.Inc()
		}
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info("host loop stopping")
			return nil
		case <-m.Events():
			poll()
		case <-ticker.C:
			poll()
			if opts.symbol != "" {
				h.callAll(opts.symbol, deps.Call, metrics)
			}
		}
	}
}

// host is the run command's reload.Handler. It holds one reference per
// loaded library and gives it up before each reload.
type host struct {
	out    io.Writer
	logger *slog.Logger

	mu   sync.Mutex
	libs []*reload.Library
}

func newHost(out io.Writer, logger *slog.Logger) *host {
	return &host{out: out, logger: logger}
}

func (h *host) keep(lib *reload.Library) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.libs = append(h.libs, lib)
}

// HandleReload implements reload.Handler.
func (h *host) HandleReload(phase reload.Phase, lib *reload.Library, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch phase {
	case reload.Before:
		fmt.Fprintf(h.out, "%s %s\n", phase, lib.Name())
		kept := h.libs[:0]
		for _, held := range h.libs {
			if held.Equal(lib) {
				_ = held.Release()
				continue
			}
			kept = append(kept, held)
		}
		h.libs = kept
	case reload.After:
		fmt.Fprintf(h.out, "%s %s from %s\n", phase, lib.Name(), lib.LoadedPath())
		h.libs = append(h.libs, lib.Retain())
	case reload.ReloadFailed:
		fmt.Fprintf(h.out, "%s: %v\n", phase, err)
	}
}

func (h *host) callAll(symbol string, call SymbolCaller, metrics *observability.Metrics) {
	h.mu.Lock()
	libs := append([]*reload.Library(nil), h.libs...)
	h.mu.Unlock()

	for _, lib := range libs {
		result, err := call(lib, symbol)
		outcome := "success"
		if err != nil {
			outcome = "error"
			h.logger.Warn("symbol call failed", "library", lib.Name(), "symbol", symbol, "error", err)
		} else {
			fmt.Fprintf(h.out, "%s.%s() = %d\n", lib.Name(), symbol, result)
		}
		if metrics != nil {
			metrics.SymbolCallsTotal.WithLabelValues(lib.Name(), outcome).Inc()
		}
	}
}

func (h *host) releaseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, lib := range h.libs {
		_ = lib.Release()
	}
	h.libs = nil
}
