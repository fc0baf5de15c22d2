// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"sync"
	"time"
)

// =============================================================================
// CONTENT BUFFER
// =============================================================================

// DefaultFlushInterval bounds publishes to one per interval.
const DefaultFlushInterval = 50 * time.Millisecond

// PublishFunc receives a batch of accumulated text. Called outside the
// buffer's lock; implementations may re-enter the buffer.
type PublishFunc func(text string)

// ContentBuffer coalesces delta fragments and publishes them at a bounded
// rate. Single-writer, single-reader; not shared across turns.
type ContentBuffer struct {
	mu sync.Mutex
	// PERFORMANCE: strings.Builder avoids quadratic allocations
	buf       strings.Builder
	lastFlush time.Time
	pending   *time.Timer

	interval time.Duration
	publish  PublishFunc
}

// NewContentBuffer creates a buffer publishing through fn at most once per
// interval. A non-positive interval falls back to the default.
func NewContentBuffer(interval time.Duration, fn PublishFunc) *ContentBuffer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &ContentBuffer{
		interval:  interval,
		publish:   fn,
		lastFlush: time.Now().Add(-interval), // first append publishes immediately
	}
}

// Append adds a delta fragment. If the throttle interval has elapsed the
// accumulated content is published immediately; otherwise a deferred flush
// is (re)scheduled for the remainder of the interval.
func (b *ContentBuffer) Append(text string) {
	if text == "" {
		return
	}

	b.mu.Lock()
	b.buf.WriteString(text)

	elapsed := time.Since(b.lastFlush)
	if elapsed >= b.interval {
		out := b.drainLocked()
		b.mu.Unlock()
		b.publish(out)
		return
	}

	if b.pending == nil {
		b.pending = time.AfterFunc(b.interval-elapsed, b.deferredFlush)
	}
	b.mu.Unlock()
}

// Flush synchronously publishes any pending content regardless of elapsed
// time and cancels the deferred timer. Used at stream end and before
// finalization so the last fragment is never stranded.
func (b *ContentBuffer) Flush() {
	b.mu.Lock()
	if b.buf.Len() == 0 {
		b.stopTimerLocked()
		b.mu.Unlock()
		return
	}
	out := b.drainLocked()
	b.mu.Unlock()
	b.publish(out)
}

// Reset discards pending content without publishing. Used on cancellation
// so the next turn starts clean.
func (b *ContentBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
	b.stopTimerLocked()
	b.lastFlush = time.Now().Add(-b.interval)
}

// Pending returns the number of buffered bytes awaiting publication.
func (b *ContentBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// deferredFlush is the timer callback.
func (b *ContentBuffer) deferredFlush() {
	b.mu.Lock()
	if b.buf.Len() == 0 {
		b.pending = nil
		b.mu.Unlock()
		return
	}
	out := b.drainLocked()
	b.mu.Unlock()
	b.publish(out)
}

// drainLocked extracts buffered content and resets flush state. Caller must
// hold the lock.
func (b *ContentBuffer) drainLocked() string {
	out := b.buf.String()
	b.buf.Reset()
	b.lastFlush = time.Now()
	b.stopTimerLocked()
	return out
}

// stopTimerLocked cancels any scheduled deferred flush. Caller must hold
// the lock.
func (b *ContentBuffer) stopTimerLocked() {
	if b.pending != nil {
		b.pending.Stop()
		b.pending = nil
	}
}
