// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"
	"sync"
	"testing"
	"time"
)

// collector gathers published batches.
type collector struct {
	mu      sync.Mutex
	batches []string
}

func (c *collector) publish(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, text)
}

func (c *collector) joined() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.batches, "")
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

// =============================================================================
// CONTENT BUFFER TESTS
// =============================================================================

func TestContentBuffer_NoDeltaLost(t *testing.T) {
	c := &collector{}
	b := NewContentBuffer(20*time.Millisecond, c.publish)

	fragments := []string{"The", " quick", " brown", " fox", " jumps"}
	for _, f := range fragments {
		b.Append(f)
		time.Sleep(5 * time.Millisecond)
	}
	b.Flush()

	if got, want := c.joined(), strings.Join(fragments, ""); got != want {
		t.Errorf("accumulated = %q, want %q", got, want)
	}
	if b.Pending() != 0 {
		t.Errorf("buffer should be clean after flush, pending = %d", b.Pending())
	}
}

func TestContentBuffer_ThrottlesPublishes(t *testing.T) {
	c := &collector{}
	b := NewContentBuffer(50*time.Millisecond, c.publish)

	// Burst of appends inside one interval: first publishes immediately,
	// the rest coalesce into the deferred flush.
	for i := 0; i < 20; i++ {
		b.Append("x")
	}
	time.Sleep(80 * time.Millisecond)

	if n := c.count(); n > 2 {
		t.Errorf("expected at most 2 publishes for a single-interval burst, got %d", n)
	}
	if got := c.joined(); got != strings.Repeat("x", 20) {
		t.Errorf("coalesced content = %q", got)
	}
}

func TestContentBuffer_ForceFlushDrainsSynchronously(t *testing.T) {
	c := &collector{}
	b := NewContentBuffer(time.Hour, c.publish) // deferred flush would never fire

	b.Append("a")
	b.Append("b")
	b.Flush()

	if got := c.joined(); got != "ab" {
		t.Errorf("force flush should drain pending content, got %q", got)
	}
}

func TestContentBuffer_FlushOnEmptyIsNoop(t *testing.T) {
	c := &collector{}
	b := NewContentBuffer(10*time.Millisecond, c.publish)

	b.Flush()
	if c.count() != 0 {
		t.Error("flushing an empty buffer must not publish")
	}
}

func TestContentBuffer_ResetDiscards(t *testing.T) {
	c := &collector{}
	b := NewContentBuffer(time.Hour, c.publish)

	b.Append("partial")
	b.Reset()
	b.Flush()

	if c.count() != 0 {
		t.Error("reset content must never be published")
	}

	// Next turn starts clean and publishes normally.
	b.Append("fresh")
	b.Flush()
	if got := c.joined(); got != "fresh" {
		t.Errorf("post-reset content = %q, want fresh", got)
	}
}

func TestContentBuffer_EmptyAppendIgnored(t *testing.T) {
	c := &collector{}
	b := NewContentBuffer(time.Hour, c.publish)

	b.Append("")
	if b.Pending() != 0 {
		t.Error("empty append should not buffer anything")
	}
}
