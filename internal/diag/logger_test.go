// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diag

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_WritesToFile(t *testing.T) {
	dir := t.TempDir()

	l, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	l.For(CategoryRegistry).Warn("persist failed")
	l.LogDispatch("chat", "anthropic", "claude-sonnet-4", "turn_1")
	l.Sync()

	data, err := os.ReadFile(filepath.Join(dir, "backchat.log"))
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	out := string(data)
	if !strings.Contains(out, `"category":"registry"`) {
		t.Errorf("missing registry category in %q", out)
	}
	if !strings.Contains(out, `"turn_id":"turn_1"`) {
		t.Errorf("missing dispatch trace in %q", out)
	}
}

func TestNop(t *testing.T) {
	l := Nop()
	// Must not panic or write anywhere.
	l.For(CategoryRouter).Error("dropped")
	l.Sync()
}
