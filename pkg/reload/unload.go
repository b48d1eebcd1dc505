// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build !libreload_never_unload

package reload

// neverUnloadBuild is set by the libreload_never_unload build tag.
const neverUnloadBuild = false
