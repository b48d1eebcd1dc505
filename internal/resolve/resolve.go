// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package resolve locates shared library files on disk.
package resolve

import (
	"os"
	"path/filepath"

	"github.com/holomush/libreload/internal/libname"
)

// SearchMode controls how far the executable directory search reaches.
type SearchMode int

const (
	// SearchAncestors walks from the executable's directory up to the
	// filesystem root.
	SearchAncestors SearchMode = iota
	// SearchExecutableDir only looks in the executable's own directory.
	SearchExecutableDir
)

// Resolver finds a library file using a fixed priority order:
//
//  1. the file name relative to the working directory
//  2. the file name in each search path, in order
//  3. the file name in the executable's directory and then its ancestors
type Resolver struct {
	SearchPaths []string
	Platform    libname.Platform
	Search      SearchMode

	// Executable returns the path of the running binary. Defaults to os.Executable.
	Executable func() (string, error)
}

// Resolve returns the absolute path of the first candidate that is a regular
// file, or false when nothing in the search order matches.
func (r *Resolver) Resolve(logical string, mode libname.Mode) (string, bool) {
	name := libname.Name(r.Platform, mode, logical)

	if path, ok := regularFile(name); ok {
		return path, true
	}

	for _, dir := range r.SearchPaths {
		if path, ok := regularFile(filepath.Join(dir, name)); ok {
			return path, true
		}
	}

	return r.searchFromExecutable(name)
}

func (r *Resolver) searchFromExecutable(name string) (string, bool) {
	executable := r.Executable
	if executable == nil {
		executable = os.Executable
	}
	exe, err := executable()
	if err != nil || exe == "" {
		return "", false
	}

	dir := filepath.Dir(exe)
	for {
		if path, ok := regularFile(filepath.Join(dir, name)); ok {
			return path, true
		}
		if r.Search == SearchExecutableDir {
			return "", false
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// regularFile reports whether path names a regular file. Directories and
// special files never match.
func regularFile(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path, true
	}
	return abs, true
}

// NormalizeSearchPaths makes each path absolute and resolves symlinks where
// possible. Paths that cannot be resolved are kept as given.
func NormalizeSearchPaths(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			out = append(out, p)
			continue
		}
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			abs = real
		}
		out = append(out, abs)
	}
	return out
}
