// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package reload

// Phase is a point in the reload protocol at which the host gets control.
type Phase int

// Reload phases, in the order a reload passes through them.
const (
	// Before is signalled with the old library, before it is removed.
	Before Phase = iota
	// After is signalled with the newly loaded library.
	After
	// ReloadFailed is signalled with the load error; nothing was reinserted.
	ReloadFailed
)

func (p Phase) String() string {
	switch p {
	case Before:
		return "before"
	case After:
		return "after"
	case ReloadFailed:
		return "reload_failed"
	default:
		return "unknown"
	}
}

// Handler receives reload notifications. It is called synchronously from
// PollForReloads.
//
// On Before the host must stop using lib and Release any reference it holds.
// On After, lib is owned by the registry; Retain it to keep a reference. On
// ReloadFailed, lib is nil and err describes the failure.
type Handler interface {
	HandleReload(phase Phase, lib *Library, err error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(phase Phase, lib *Library, err error)

// HandleReload calls f(phase, lib, err).
func (f HandlerFunc) HandleReload(phase Phase, lib *Library, err error) {
	f(phase, lib, err)
}

type noopHandler struct{}

func (noopHandler) HandleReload(Phase, *Library, error) {}
