// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package reload

import (
	"errors"

	"github.com/samber/oops"

	"github.com/holomush/libreload/internal/shadow"
	"github.com/holomush/libreload/pkg/errutil"
)

// Error codes carried by errors from this package. Use ErrorCode to read them.
const (
	// CodeNotFound: no candidate file was found by the resolver.
	CodeNotFound = "LIBRARY_NOT_FOUND"
	// CodeLoad: the platform loader rejected the binary.
	CodeLoad = "LIBRARY_LOAD_FAILED"
	// CodeCopy: an I/O error while staging the shadow copy.
	CodeCopy = shadow.CodeCopy
	// CodeCopyTimeout: the source never became non-empty within the retry budget.
	CodeCopyTimeout = shadow.CodeCopyTimeout
	// CodeShadowDir: the shadow directory could not be created or removed.
	CodeShadowDir = shadow.CodeDir
)

// Sentinel errors for programmatic error checking.
var (
	// ErrUnloaded is returned when resolving symbols on an unloaded library.
	ErrUnloaded = errors.New("library is unloaded")
	// ErrClosed is returned by a Manager after Close.
	ErrClosed = errors.New("reload manager is closed")
)

// ErrorCode returns the code of an error produced by this package, or "".
func ErrorCode(err error) string {
	return errutil.Code(err)
}

func errNotFound(name, fileName string) error {
	return oops.Code(CodeNotFound).
		With("name", name).
		With("file_name", fileName).
		Errorf("unable to find library %s (%s)", name, fileName)
}

func errLoad(name, path string, cause error) error {
	return oops.Code(CodeLoad).
		With("library", name).
		With("path", path).
		Wrapf(cause, "unable to load library %s", path)
}
