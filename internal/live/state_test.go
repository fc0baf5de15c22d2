// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package live

import (
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jeranaias/backchat/internal/model"
)

// recorder captures published UI messages.
type recorder struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (r *recorder) Send(msg tea.Msg) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) all() []tea.Msg {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]tea.Msg(nil), r.msgs...)
}

func TestState_MirrorsOnlyOwningTurn(t *testing.T) {
	rec := &recorder{}
	s := NewState(rec)
	s.SetActiveSession("s1")
	s.BeginStream("s1", "turn_a")

	s.AppendText("turn_a", "hello")
	s.AppendText("turn_b", "intruder")
	s.AppendThinking("turn_a", "hmm")

	if got := s.Text(); got != "hello" {
		t.Errorf("text = %q, want hello", got)
	}
	if got := s.Thinking(); got != "hmm" {
		t.Errorf("thinking = %q, want hmm", got)
	}
	if n := len(rec.all()); n != 2 {
		t.Errorf("expected 2 published messages, got %d", n)
	}
}

func TestState_BeginStreamRefusedForBackgroundSession(t *testing.T) {
	s := NewState(nil)
	s.SetActiveSession("s1")

	s.BeginStream("s2", "turn_a")
	if s.OwnsStream("turn_a") {
		t.Error("projection must not be claimed by a background session")
	}
	s.AppendText("turn_a", "ignored")
	if s.Text() != "" {
		t.Error("background stream text must not be mirrored")
	}
}

func TestState_SwitchingSessionDropsProjection(t *testing.T) {
	s := NewState(nil)
	s.SetActiveSession("s1")
	s.BeginStream("s1", "turn_a")
	s.AppendText("turn_a", "partial")

	s.SetActiveSession("s2")

	if s.OwnsStream("turn_a") {
		t.Error("switching away must release the projection")
	}
	if s.Text() != "" {
		t.Error("switching away must clear mirrored text")
	}

	// Switching back does not resurrect the projection; the registry is
	// the authority and the caller re-renders from it.
	s.SetActiveSession("s1")
	if s.OwnsStream("turn_a") {
		t.Error("projection must not survive a round-trip switch")
	}
}

func TestState_ResumeStreamSeedsProjection(t *testing.T) {
	rec := &recorder{}
	s := NewState(rec)
	s.SetActiveSession("s1")

	s.ResumeStream("s1", "turn_a", "so far", "pondering", model.ExecRunning)

	if !s.OwnsStream("turn_a") {
		t.Fatal("resume must claim the projection")
	}
	if s.Text() != "so far" || s.Thinking() != "pondering" {
		t.Errorf("seeded state = %q / %q", s.Text(), s.Thinking())
	}
	var resumed bool
	for _, m := range rec.all() {
		if rm, ok := m.(StreamResumedMsg); ok {
			resumed = true
			if rm.Text != "so far" || rm.Status != model.ExecRunning {
				t.Errorf("unexpected resume payload: %+v", rm)
			}
		}
	}
	if !resumed {
		t.Error("resume must publish StreamResumedMsg")
	}

	// Later deltas continue from the seeded state.
	s.AppendText("turn_a", " and more")
	if got := s.Text(); got != "so far and more" {
		t.Errorf("text after resume = %q", got)
	}
}

func TestState_ResumeStreamRefusedForBackgroundSession(t *testing.T) {
	s := NewState(nil)
	s.SetActiveSession("s1")

	s.ResumeStream("s2", "turn_a", "hidden", "", model.ExecIdle)

	if s.OwnsStream("turn_a") || s.Text() != "" {
		t.Error("resume must be refused unless the session is foregrounded")
	}
}

func TestState_FinalizeClearsAndAnnounces(t *testing.T) {
	rec := &recorder{}
	s := NewState(rec)
	s.SetActiveSession("s1")
	s.BeginStream("s1", "turn_a")
	s.AppendText("turn_a", "body")

	msg := &model.Message{Role: model.RoleAssistant, Content: "body", TurnID: "turn_a"}
	s.Finalize("turn_a", msg)

	if s.OwnsStream("turn_a") || s.Text() != "" {
		t.Error("finalize must clear the projection")
	}
	var found bool
	for _, m := range rec.all() {
		if fm, ok := m.(StreamFinalizedMsg); ok {
			found = true
			if fm.SessionID != "s1" || fm.Message != msg {
				t.Errorf("unexpected finalized message payload: %+v", fm)
			}
		}
	}
	if !found {
		t.Error("finalize must publish StreamFinalizedMsg")
	}

	// Finalizing a turn that does not own the projection is a no-op.
	s.Finalize("turn_b", msg)
}

func TestState_ClearDiscards(t *testing.T) {
	rec := &recorder{}
	s := NewState(rec)
	s.SetActiveSession("s1")
	s.BeginStream("s1", "turn_a")
	s.AppendText("turn_a", "partial")

	s.Clear("turn_a")

	if s.Text() != "" || s.OwnsStream("turn_a") {
		t.Error("clear must discard the projection")
	}
	var cleared bool
	for _, m := range rec.all() {
		if _, ok := m.(StreamClearedMsg); ok {
			cleared = true
		}
	}
	if !cleared {
		t.Error("clear must publish StreamClearedMsg")
	}
}

func TestState_DiscoveryBadgeLifecycle(t *testing.T) {
	s := NewState(nil)

	s.SetDiscoveryStatus("s1", "turn_a", DiscoveryPending)
	if status, ok := s.DiscoveryStatusFor("turn_a"); !ok || status != DiscoveryPending {
		t.Errorf("badge = %v %v, want pending", status, ok)
	}

	s.SetDiscoveryStatus("s1", "turn_a", DiscoveryEmpty)
	if status, _ := s.DiscoveryStatusFor("turn_a"); status != DiscoveryEmpty {
		t.Errorf("badge = %v, want empty", status)
	}

	s.ClearDiscoveryStatus("turn_a")
	if _, ok := s.DiscoveryStatusFor("turn_a"); ok {
		t.Error("cleared badge must be gone")
	}
}

func TestState_DiscoveryItemsOnlyWhenActive(t *testing.T) {
	rec := &recorder{}
	s := NewState(rec)
	s.SetActiveSession("s1")

	items := []*model.DiscoveryItem{{Title: "a"}}
	s.PublishDiscoveryItems("s2", items)
	if len(rec.all()) != 0 {
		t.Error("items for a background session must not be published")
	}

	s.PublishDiscoveryItems("s1", items)
	if len(rec.all()) != 1 {
		t.Error("items for the active session must be published")
	}
}

func TestState_ExecutionMirrored(t *testing.T) {
	rec := &recorder{}
	s := NewState(rec)
	s.SetActiveSession("s1")
	s.BeginStream("s1", "turn_a")

	s.SetExecution("turn_a", model.ExecRunning)
	s.SetExecution("turn_b", model.ExecFailed) // dropped

	msgs := rec.all()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 execution message, got %d", len(msgs))
	}
	em, ok := msgs[0].(ExecutionMsg)
	if !ok || em.Status != model.ExecRunning {
		t.Errorf("unexpected execution message: %+v", msgs[0])
	}
}
