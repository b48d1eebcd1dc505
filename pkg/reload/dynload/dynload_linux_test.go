// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build linux

package dynload_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/libreload/pkg/reload/dynload"
)

func TestSystem_OpenLibc(t *testing.T) {
	h, err := dynload.System().Open("libc.so.6")
	if err != nil {
		t.Skipf("libc.so.6 not loadable here: %v", err)
	}
	defer func() { assert.NoError(t, h.Close()) }()

	addr, err := h.Symbol("getpid")
	require.NoError(t, err)
	require.NotZero(t, addr)

	assert.Equal(t, uintptr(os.Getpid()), dynload.Call(addr)) //nolint:gosec // pid fits in uintptr

	var getppid func() int32
	require.NoError(t, dynload.Bind(h, "getppid", &getppid))
	assert.Equal(t, int32(os.Getppid()), getppid()) //nolint:gosec // pid fits in int32
}

func TestSystem_MissingSymbol(t *testing.T) {
	h, err := dynload.System().Open("libc.so.6")
	if err != nil {
		t.Skipf("libc.so.6 not loadable here: %v", err)
	}
	defer func() { _ = h.Close() }()

	_, err = h.Symbol("libreload_no_such_symbol")
	assert.Error(t, err)
}

func TestSystem_RejectsNonLibrary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "libtext.so")
	require.NoError(t, os.WriteFile(path, []byte("this is not an ELF object"), 0o600))

	_, err := dynload.System().Open(path)
	assert.Error(t, err)
}
