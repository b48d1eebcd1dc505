// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build !(darwin || freebsd || linux || netbsd || windows)

package dynload

type systemLoader struct{}

func (systemLoader) Open(string) (Handle, error) {
	return nil, ErrUnsupported
}

// Bind always fails on this platform.
func Bind(Handle, string, any) error {
	return ErrUnsupported
}

// Call panics on this platform; no handle can produce an address.
func Call(uintptr) uintptr {
	panic(ErrUnsupported)
}
