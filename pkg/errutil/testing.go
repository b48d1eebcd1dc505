// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode fails t unless err carries code. Codes are found through
// any wrapping, the same way Code reads them for logging.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorContext fails t unless the context Attrs would log for err
// holds key with value.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	require.Error(t, err)
	ctx := Context(err)
	require.Contains(t, ctx, key, "error: %v", err)
	assert.Equal(t, value, ctx[key])
}
