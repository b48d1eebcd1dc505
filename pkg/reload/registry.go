// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package reload

import (
	"context"
	"path/filepath"
	"slices"
	"time"

	"github.com/holomush/libreload/pkg/errutil"
)

// registry is the set of tracked libraries. Order carries no meaning beyond
// "most recently added last"; membership and identity do.
type registry struct {
	libs []*Library
}

// add appends lib. A tracked library with the same original path is removed
// and returned so the caller can drop it.
func (r *registry) add(lib *Library) *Library {
	var replaced *Library
	if lib.shadowed {
		if i := slices.IndexFunc(r.libs, lib.Equal); i >= 0 {
			replaced = r.libs[i]
			r.libs = slices.Delete(r.libs, i, i+1)
		}
	}
	r.libs = append(r.libs, lib)
	return replaced
}

func (r *registry) remove(lib *Library) bool {
	i := slices.Index(r.libs, lib)
	if i < 0 {
		return false
	}
	r.libs = slices.Delete(r.libs, i, i+1)
	return true
}

// matching returns tracked libraries whose original file name equals the base
// name of path, most recently added first.
//
// File names rather than full paths are compared, so same-named libraries
// in different watched directories all reload when either changes.
func (r *registry) matching(path string) []*Library {
	name := filepath.Base(path)
	var out []*Library
	for i := len(r.libs) - 1; i >= 0; i-- {
		lib := r.libs[i]
		if lib.shadowed && filepath.Base(lib.originalPath) == name {
			out = append(out, lib)
		}
	}
	return out
}

func (r *registry) snapshot() []*Library {
	return slices.Clone(r.libs)
}

func (r *registry) drain() []*Library {
	libs := r.libs
	r.libs = nil
	return libs
}

// PollForReloads processes every change event queued since the last call and
// runs the reload protocol for each tracked library the event matches. It
// never waits for new events; call it periodically from the host's loop.
//
// For every match the handler sees Before with the old library, then exactly
// one of After with the new library or ReloadFailed with the error. Once
// Before has been signalled the reload always runs to completion; ctx only
// carries request-scoped values such as trace context.
//
// It returns the number of reloads attempted. A nested call from inside the
// handler returns 0 without processing anything.
func (m *Manager) PollForReloads(ctx context.Context, h Handler) int {
	if m.source == nil {
		return 0
	}
	if h == nil {
		h = noopHandler{}
	}
	if !m.pollMu.TryLock() {
		return 0
	}
	defer m.pollMu.Unlock()

	reloads := 0
	for _, ev := range m.source.Drain() {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return reloads
		}
		targets := m.reg.matching(ev.Path)
		m.mu.Unlock()

		if len(targets) > 0 {
			m.logger.DebugContext(ctx, "change event matched", "path", ev.Path, "op", ev.Op.String(), "libraries", len(targets))
		}
		for _, old := range targets {
			m.reload(ctx, old, h)
			reloads++
		}
	}
	return reloads
}

// reload runs Before, swap, then After or ReloadFailed for one library.
func (m *Manager) reload(ctx context.Context, old *Library, h Handler) {
	start := time.Now()
	m.logger.InfoContext(ctx, "reloading library", old.logAttrs()...)

	h.HandleReload(Before, old, nil)

	m.mu.Lock()
	removed := m.reg.remove(old)
	m.mu.Unlock()
	if removed {
		m.drop(old)
	}

	lib, err := m.load(context.WithoutCancel(ctx), old.name, old.originalPath)
	if err == nil {
		err = m.track(lib)
	}
	recordReload(old.name, err, time.Since(start))

	if err != nil {
		errutil.LogError(m.logger, "library reload failed", err, "library", old.name, "original_path", old.originalPath)
		h.HandleReload(ReloadFailed, nil, err)
		return
	}

	m.logger.InfoContext(ctx, "library reloaded",
		append(lib.logAttrs(), "previous_generation", old.generation.String(), "duration", time.Since(start))...)
	h.HandleReload(After, lib, nil)
}
