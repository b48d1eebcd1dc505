// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build darwin || freebsd || linux || netbsd

package dynload

import (
	"fmt"

	"github.com/ebitengine/purego"
)

type systemLoader struct{}

func (systemLoader) Open(path string) (Handle, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return nil, fmt.Errorf("dlopen %s: %w", path, err)
	}
	if h == 0 {
		return nil, fmt.Errorf("dlopen %s: nil handle", path)
	}
	return &sharedLibrary{handle: h}, nil
}

type sharedLibrary struct {
	handle uintptr
}

func (so *sharedLibrary) Symbol(name string) (uintptr, error) {
	addr, err := purego.Dlsym(so.handle, name)
	if err != nil {
		return 0, fmt.Errorf("dlsym %s: %w", name, err)
	}
	return addr, nil
}

func (so *sharedLibrary) Close() error {
	if err := purego.Dlclose(so.handle); err != nil {
		return fmt.Errorf("dlclose: %w", err)
	}
	return nil
}

// Bind resolves name in h and makes fnPtr, a pointer to a func variable,
// call it.
func Bind(h Handle, name string, fnPtr any) error {
	addr, err := h.Symbol(name)
	if err != nil {
		return err
	}
	purego.RegisterFunc(fnPtr, addr)
	return nil
}

// Call invokes the C function at addr with no arguments and returns its
// integer result.
func Call(addr uintptr) uintptr {
	r1, _, _ := purego.SyscallN(addr)
	return r1
}
