// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build windows

package dynload

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/windows"
)

type systemLoader struct{}

func (systemLoader) Open(path string) (Handle, error) {
	h, err := windows.LoadLibrary(path)
	if err != nil {
		return nil, fmt.Errorf("LoadLibrary %s: %w", path, err)
	}
	return &dll{handle: h}, nil
}

type dll struct {
	handle windows.Handle
}

func (d *dll) Symbol(name string) (uintptr, error) {
	addr, err := windows.GetProcAddress(d.handle, name)
	if err != nil {
		return 0, fmt.Errorf("GetProcAddress %s: %w", name, err)
	}
	return addr, nil
}

func (d *dll) Close() error {
	if err := windows.FreeLibrary(d.handle); err != nil {
		return fmt.Errorf("FreeLibrary: %w", err)
	}
	return nil
}

// Bind is not available on Windows; use Symbol and Call.
func Bind(_ Handle, _ string, _ any) error {
	return ErrUnsupported
}

// Call invokes the function at addr with no arguments and returns its
// integer result.
func Call(addr uintptr) uintptr {
	r1, _, _ := syscall.SyscallN(addr)
	return r1
}
