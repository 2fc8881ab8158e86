// Package iox holds cleanup helpers for deferred closes whose errors
// nobody can act on.
package iox

import "io"

// maxDrain bounds how much of an unread body DrainClose consumes.
const maxDrain = 64 << 10

// DiscardClose closes c and drops the error.
//
//	defer iox.DiscardClose(src)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DrainClose consumes at most 64 KiB of rc before closing it, so an HTTP
// client can put the connection back in its pool.
func DrainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, maxDrain))
	_ = rc.Close()
}

// DiscardErr runs a flush-style cleanup and drops its error.
//
//	defer iox.DiscardErr(logger.Sync)
func DiscardErr(fn func() error) { _ = fn() }
