// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package libname maps logical library names to platform file names.
package libname

import "runtime"

// Platform identifies a shared library naming convention.
type Platform int

// Supported naming conventions.
const (
	Unix Platform = iota
	Darwin
	Windows
)

func (p Platform) String() string {
	switch p {
	case Darwin:
		return "darwin"
	case Windows:
		return "windows"
	default:
		return "unix"
	}
}

// Mode controls whether a name is formatted or used as given.
type Mode int

const (
	// Format applies the platform convention ("foo" -> "libfoo.so").
	Format Mode = iota
	// AsIs uses the name unchanged, for callers that already pass a file name.
	AsIs
)

type template struct {
	prefix string
	suffix string
}

var templates = map[Platform]template{
	Unix:    {prefix: "lib", suffix: ".so"},
	Darwin:  {prefix: "lib", suffix: ".dylib"},
	Windows: {suffix: ".dll"},
}

var current = platformFor(runtime.GOOS)

// Current returns the naming convention of the running OS.
func Current() Platform {
	return current
}

func platformFor(goos string) Platform {
	switch goos {
	case "windows":
		return Windows
	case "darwin", "ios":
		return Darwin
	default:
		return Unix
	}
}

// Name returns the file name for logical under platform p.
//
//	Windows: foobar -> foobar.dll
//	Unix:    foobar -> libfoobar.so
//	Darwin:  foobar -> libfoobar.dylib
func Name(p Platform, mode Mode, logical string) string {
	if mode == AsIs {
		return logical
	}
	t, ok := templates[p]
	if !ok {
		t = templates[Unix]
	}
	return t.prefix + logical + t.suffix
}
