// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package dynload opens shared libraries and resolves their symbols through
// the platform loader.
package dynload

import "errors"

// ErrUnsupported is returned on platforms without a dynamic loader binding.
var ErrUnsupported = errors.New("dynamic loading is not supported on this platform")

// Handle is an open shared library.
type Handle interface {
	// Symbol returns the address of the named symbol.
	Symbol(name string) (uintptr, error)
	// Close unloads the library. The handle is invalid afterwards.
	Close() error
}

// Loader opens shared libraries.
type Loader interface {
	Open(path string) (Handle, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(path string) (Handle, error)

// Open calls f(path).
func (f LoaderFunc) Open(path string) (Handle, error) {
	return f(path)
}

// System returns the loader backed by the operating system.
func System() Loader {
	return systemLoader{}
}
