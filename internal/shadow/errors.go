// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package shadow

// Error codes for shadow staging failures.
const (
	CodeCopy        = "SHADOW_COPY_FAILED"
	CodeCopyTimeout = "SHADOW_COPY_TIMEOUT"
	CodeDir         = "SHADOW_DIR_FAILED"
)
