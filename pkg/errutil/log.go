// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil extracts structured context from oops errors for logging
// and tests.
package errutil

import (
	"fmt"
	"log/slog"

	"github.com/samber/oops"
)

// Code returns the oops error code carried by err, or "" when err carries none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	if code := oopsErr.Code(); code != nil {
		return fmt.Sprint(code)
	}
	return ""
}

// Context returns the merged oops context of err, or nil when err is not an
// oops error or carries no context.
func Context(err error) map[string]any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		return ctx
	}
	return nil
}

// Attrs returns slog key/value pairs describing err: the message, plus the
// code and context for oops errors.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := Code(err); code != "" {
		attrs = append(attrs, "code", code)
	}
	if ctx := Context(err); ctx != nil {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}

// LogError logs err at error level with its structured context. Extra
// key/value pairs are appended after the error attributes.
func LogError(logger *slog.Logger, msg string, err error, args ...any) {
	logger.Error(msg, append(Attrs(err), args...)...)
}

// LogWarn is LogError at warning level, for failures the process survives.
func LogWarn(logger *slog.Logger, msg string, err error, args ...any) {
	logger.Warn(msg, append(Attrs(err), args...)...)
}
