// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build libreload_never_unload

package reload

// neverUnloadBuild is set by the libreload_never_unload build tag. Libraries
// replaced or dropped by the registry keep their handle open for the life of
// the process, for libraries whose static teardown is unsafe to run.
const neverUnloadBuild = true
