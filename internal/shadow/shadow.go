// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package shadow stages private copies of shared libraries so the original
// file stays free for a build tool to overwrite while the copy is mapped.
package shadow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Default retry budget: a change notification can fire while the build tool
// still has the file open for writing.
const (
	DefaultAttempts = 10
	DefaultInterval = 100 * time.Millisecond
)

var errNotReady = errors.New("source not ready")

// Policy controls how staging waits for a source file to become readable.
type Policy struct {
	// Attempts is the total number of tries, including the first.
	Attempts int
	// Interval is the pause between attempts.
	Interval time.Duration
	// PlainNames stages under the bare file name instead of prefixing a
	// millisecond token. Successive generations then overwrite each other.
	PlainNames bool
}

// DefaultPolicy returns the 10 x 100ms policy.
func DefaultPolicy() Policy {
	return Policy{Attempts: DefaultAttempts, Interval: DefaultInterval}
}

// Dir is an exclusively owned scratch directory for staged copies.
type Dir struct {
	path string
}

// NewDir creates a fresh directory under root. Root itself is created if
// missing.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, oops.Code(CodeDir).With("root", root).Wrap(err)
	}
	path, err := os.MkdirTemp(root, "libreload-")
	if err != nil {
		return nil, oops.Code(CodeDir).With("root", root).Wrap(err)
	}
	return &Dir{path: path}, nil
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// Remove deletes the directory and everything staged in it.
func (d *Dir) Remove() error {
	if err := os.RemoveAll(d.path); err != nil {
		return oops.Code(CodeDir).With("dir", d.path).Wrap(err)
	}
	return nil
}

// Copier stages library files into a shadow directory.
type Copier struct {
	policy Policy
	now    func() time.Time

	mu        sync.Mutex
	lastToken int64
}

// NewCopier creates a Copier. Zero fields in policy take their defaults.
func NewCopier(policy Policy) *Copier {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultAttempts
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultInterval
	}
	return &Copier{policy: policy, now: time.Now}
}

// StagedName returns the destination path for src inside dir.
func (c *Copier) StagedName(dir, src string) string {
	base := filepath.Base(src)
	if c.policy.PlainNames {
		return filepath.Join(dir, base)
	}
	return filepath.Join(dir, fmt.Sprintf("%d_%s", c.nextToken(), base))
}

// nextToken returns the current time in milliseconds, bumped so it is
// strictly greater than any token handed out before.
func (c *Copier) nextToken() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	token := c.now().UnixMilli()
	if token <= c.lastToken {
		token = c.lastToken + 1
	}
	c.lastToken = token
	return token
}

// Stage copies src into dir and returns the staged path. It waits for src to
// report a non-zero size before copying, within the policy's budget.
func (c *Copier) Stage(ctx context.Context, src, dir string) (string, error) {
	dest := c.StagedName(dir, src)

	backoff := retry.WithMaxRetries(uint64(c.policy.Attempts-1), retry.NewConstant(c.policy.Interval)) //nolint:gosec // Attempts is clamped positive
	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		info, statErr := os.Stat(src)
		if statErr != nil || info.Size() == 0 {
			return retry.RetryableError(errNotReady)
		}
		return copyFile(src, dest)
	})

	switch {
	case err == nil:
		return dest, nil
	case errors.Is(err, errNotReady):
		return "", oops.Code(CodeCopyTimeout).
			With("source", src).
			With("destination", dest).
			With("attempts", c.policy.Attempts).
			Errorf("source %s did not become readable after %d attempts", src, c.policy.Attempts)
	case ctx.Err() != nil:
		return "", oops.Code(CodeCopyTimeout).
			With("source", src).
			With("destination", dest).
			Wrapf(err, "staging %s interrupted", src)
	default:
		return "", err
	}
}

// copyFile writes src to a temporary name next to dest and renames it into
// place, so dest never holds a partial copy.
func copyFile(src, dest string) (err error) {
	fail := func(cause error) error {
		return oops.Code(CodeCopy).
			With("source", src).
			With("destination", dest).
			Wrapf(cause, "copy %s to %s", src, dest)
	}

	in, err := os.Open(src) //nolint:gosec // src is a resolved library path
	if err != nil {
		return fail(err)
	}
	defer func() { _ = in.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".staging-*")
	if err != nil {
		return fail(err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return fail(err)
	}
	if err = tmp.Close(); err != nil {
		return fail(err)
	}
	if err = os.Chmod(tmp.Name(), 0o700); err != nil { //nolint:gosec // loaders need read and execute on the copy
		return fail(err)
	}
	if err = os.Rename(tmp.Name(), dest); err != nil {
		return fail(err)
	}
	return nil
}
