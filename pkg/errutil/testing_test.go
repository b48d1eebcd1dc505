// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"fmt"
	"testing"

	"github.com/samber/oops"

	"github.com/holomush/libreload/pkg/errutil"
)

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("SHADOW_COPY_TIMEOUT").Errorf("timed out")
	errutil.AssertErrorCode(t, err, "SHADOW_COPY_TIMEOUT")
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("destination", "/shadow/1_libalpha.so").Errorf("copy failed")
	errutil.AssertErrorContext(t, err, "destination", "/shadow/1_libalpha.so")
}

func TestAssertErrorContext_ThroughWrapping(t *testing.T) {
	inner := oops.Code("LIBRARY_LOAD_FAILED").With("path", "/shadow/2_libalpha.so").Errorf("bad ELF")
	err := fmt.Errorf("reload: %w", inner)

	errutil.AssertErrorCode(t, err, "LIBRARY_LOAD_FAILED")
	errutil.AssertErrorContext(t, err, "path", "/shadow/2_libalpha.so")
}
