// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jeranaias/backchat/internal/diag"
	"github.com/jeranaias/backchat/internal/live"
	"github.com/jeranaias/backchat/internal/model"
	"github.com/jeranaias/backchat/internal/registry"
	"github.com/jeranaias/backchat/internal/store"
	"github.com/jeranaias/backchat/internal/turn"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeTrigger records discovery trigger calls.
type fakeTrigger struct {
	mu    sync.Mutex
	calls [][2]string // session id, turn id
}

func (f *fakeTrigger) TriggerAfterChat(sessionID, turnID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, [2]string{sessionID, turnID})
}

func (f *fakeTrigger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	router  *Router
	reg     *registry.Registry
	live    *live.State
	store   *store.Store
	pending *turn.PendingTracker
	trigger *fakeTrigger
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "backchat.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	lv := live.NewState(nil)
	reg := registry.New(st, lv, diag.Nop())
	pending := turn.NewPendingTracker()
	trigger := &fakeTrigger{}
	// Nanosecond interval: every foreground delta publishes synchronously.
	rt := New(reg, lv, pending, trigger, diag.Nop(), time.Nanosecond)
	return &harness{router: rt, reg: reg, live: lv, store: st, pending: pending, trigger: trigger}
}

func (h *harness) seedSession(t *testing.T) *model.Session {
	t.Helper()
	sess := model.NewSession(model.Settings{Model: "claude-sonnet-4"})
	sess.AppendMessage(model.NewUserMessage("turn_0", "hello"))
	if err := h.store.Save(sess); err != nil {
		t.Fatal(err)
	}
	return sess
}

// =============================================================================
// VISIBILITY RULE
// =============================================================================

func TestRouter_ForegroundDeltaDualWrites(t *testing.T) {
	h := newHarness(t)
	sess := h.seedSession(t)
	h.live.SetActiveSession(sess.ID)
	h.live.BeginStream(sess.ID, "turn_a")
	if err := h.reg.StartChatStream(sess.ID, "turn_a", "m"); err != nil {
		t.Fatal(err)
	}

	h.router.Handle(ChatTextDelta{SessionID: sess.ID, TurnID: "turn_a", Text: "visible"})

	snap, _ := h.reg.StreamByTurnID("turn_a")
	if snap.Text != "visible" {
		t.Errorf("registry text = %q", snap.Text)
	}
	if got := h.live.Text(); got != "visible" {
		t.Errorf("live text = %q, want mirrored delta", got)
	}
}

func TestRouter_BackgroundDeltaWritesRegistryOnly(t *testing.T) {
	h := newHarness(t)
	sess := h.seedSession(t)
	h.live.SetActiveSession("some-other-session")
	if err := h.reg.StartChatStream(sess.ID, "turn_a", "m"); err != nil {
		t.Fatal(err)
	}

	h.router.Handle(ChatTextDelta{SessionID: sess.ID, TurnID: "turn_a", Text: "hidden"})
	h.router.Handle(ChatThinkingDelta{SessionID: sess.ID, TurnID: "turn_a", Text: "quiet"})

	snap, _ := h.reg.StreamByTurnID("turn_a")
	if snap.Text != "hidden" || snap.Thinking != "quiet" {
		t.Errorf("registry must receive background deltas, got %+v", snap)
	}
	if h.live.Text() != "" || h.live.Thinking() != "" {
		t.Error("background deltas must not touch the live projection")
	}
}

// =============================================================================
// ORPHAN FALLBACK
// =============================================================================

func TestRouter_OrphanDeltaRequiresStrictPendingMatch(t *testing.T) {
	h := newHarness(t)
	sess := h.seedSession(t)
	h.live.SetActiveSession(sess.ID)

	// Pending send for turn_a; a delta for a stale turn_z must be dropped
	// even though the session is foregrounded.
	h.pending.Set(sess.ID, "turn_a")

	h.router.Handle(ChatTextDelta{SessionID: sess.ID, TurnID: "turn_z", Text: "stale"})
	if h.live.Text() != "" {
		t.Error("stale orphan delta must not reach the projection")
	}

	h.router.Handle(ChatTextDelta{SessionID: sess.ID, TurnID: "turn_a", Text: "early"})
	if got := h.live.Text(); got != "early" {
		t.Errorf("pending orphan delta should mirror, live text = %q", got)
	}
}

func TestRouter_OrphanDeltaDroppedWhenSessionBackground(t *testing.T) {
	h := newHarness(t)
	sess := h.seedSession(t)
	h.live.SetActiveSession("elsewhere")
	h.pending.Set(sess.ID, "turn_a")

	h.router.Handle(ChatTextDelta{SessionID: sess.ID, TurnID: "turn_a", Text: "early"})
	if h.live.Text() != "" {
		t.Error("orphan delta for a background session must be dropped")
	}
}

// =============================================================================
// TERMINATION
// =============================================================================

func TestRouter_DoneCompletesAndTriggersDiscovery(t *testing.T) {
	h := newHarness(t)
	sess := h.seedSession(t)
	h.pending.Set(sess.ID, "turn_a")
	if err := h.reg.StartChatStream(sess.ID, "turn_a", "m"); err != nil {
		t.Fatal(err)
	}
	h.router.Handle(ChatTextDelta{SessionID: sess.ID, TurnID: "turn_a", Text: "answer"})

	h.router.Handle(ChatDone{SessionID: sess.ID, TurnID: "turn_a"})

	got, _ := h.store.Load(sess.ID)
	if got.MessageByTurnID("turn_a", model.RoleAssistant) == nil {
		t.Error("done must materialize the message")
	}
	if h.pending.Get(sess.ID) != "" {
		t.Error("done must clear the pending record")
	}
	if h.trigger.count() != 1 {
		t.Errorf("discovery trigger called %d times, want 1", h.trigger.count())
	}
}

func TestRouter_OrphanDoneFinalizesProjection(t *testing.T) {
	h := newHarness(t)
	sess := h.seedSession(t)
	h.live.SetActiveSession(sess.ID)
	h.pending.Set(sess.ID, "turn_a")

	// The stream only ever existed in the projection via the orphan
	// fallback; done must still settle it.
	h.router.Handle(ChatTextDelta{SessionID: sess.ID, TurnID: "turn_a", Text: "early answer"})
	h.router.Handle(ChatDone{SessionID: sess.ID, TurnID: "turn_a"})

	if h.live.OwnsStream("turn_a") {
		t.Error("done must release the projection")
	}
	if h.pending.Get(sess.ID) != "" {
		t.Error("done must clear the pending record")
	}
}

func TestRouter_CancelledDiscardsWithoutPersisting(t *testing.T) {
	h := newHarness(t)
	sess := h.seedSession(t)
	h.live.SetActiveSession(sess.ID)
	h.live.BeginStream(sess.ID, "turn_a")
	h.pending.Set(sess.ID, "turn_a")
	if err := h.reg.StartChatStream(sess.ID, "turn_a", "m"); err != nil {
		t.Fatal(err)
	}
	h.router.Handle(ChatTextDelta{SessionID: sess.ID, TurnID: "turn_a", Text: "partial"})

	h.router.Handle(ChatCancelled{SessionID: sess.ID, TurnID: "turn_a"})

	got, _ := h.store.Load(sess.ID)
	if got.MessageByTurnID("turn_a", model.RoleAssistant) != nil {
		t.Error("cancelled turn must not persist")
	}
	if h.live.OwnsStream("turn_a") || h.live.Text() != "" {
		t.Error("cancelled turn must clear the projection")
	}
	if h.pending.Get(sess.ID) != "" {
		t.Error("cancelled turn must clear the pending record")
	}
	if h.trigger.count() != 0 {
		t.Error("cancellation must not trigger discovery")
	}
}

func TestRouter_ErrorSynthesizesMessage(t *testing.T) {
	h := newHarness(t)
	sess := h.seedSession(t)
	if err := h.reg.StartChatStream(sess.ID, "turn_a", "m"); err != nil {
		t.Fatal(err)
	}

	h.router.Handle(ChatError{SessionID: sess.ID, TurnID: "turn_a", Explanation: "Rate limit exceeded. Please wait a moment and try again."})

	got, _ := h.store.Load(sess.ID)
	msg := got.MessageByTurnID("turn_a", model.RoleAssistant)
	if msg == nil {
		t.Fatal("error must append an explanation message")
	}
	if !msg.IsError {
		t.Error("explanation must be marked as an error message")
	}
	if _, ok := h.reg.StreamByTurnID("turn_a"); ok {
		t.Error("failed stream must be removed")
	}
}

// =============================================================================
// EXECUTION AND METADATA EVENTS
// =============================================================================

func TestRouter_ExecutionEvents(t *testing.T) {
	h := newHarness(t)
	sess := h.seedSession(t)
	if err := h.reg.StartChatStream(sess.ID, "turn_a", "m"); err != nil {
		t.Fatal(err)
	}

	h.router.Handle(ChatTextDelta{SessionID: sess.ID, TurnID: "turn_a", Text: "calculating"})
	h.router.Handle(ChatExecutionStarted{SessionID: sess.ID, TurnID: "turn_a", ToolName: "python", Code: "1+1"})
	h.router.Handle(ChatExecutionOutput{SessionID: sess.ID, TurnID: "turn_a", Stdout: "2\n"})
	h.router.Handle(ChatExecutionDone{SessionID: sess.ID, TurnID: "turn_a", Files: []string{"out.csv"}})
	h.router.Handle(ChatDone{SessionID: sess.ID, TurnID: "turn_a"})

	got, _ := h.store.Load(sess.ID)
	msg := got.MessageByTurnID("turn_a", model.RoleAssistant)
	if msg == nil || msg.Execution == nil {
		t.Fatal("execution record missing")
	}
	if msg.Execution.Status != model.ExecCompleted || msg.Execution.Stdout != "2\n" {
		t.Errorf("execution = %+v", msg.Execution)
	}
}

func TestRouter_ContainerIDPersisted(t *testing.T) {
	h := newHarness(t)
	sess := h.seedSession(t)
	if err := h.reg.StartChatStream(sess.ID, "turn_a", "m"); err != nil {
		t.Fatal(err)
	}

	h.router.Handle(ChatContainerID{SessionID: sess.ID, TurnID: "turn_a", ContainerID: "cntr_9"})

	got, _ := h.store.Load(sess.ID)
	if got.ContainerID != "cntr_9" {
		t.Errorf("container id = %q, want cntr_9", got.ContainerID)
	}
}

// =============================================================================
// DISCOVERY EVENTS
// =============================================================================

func TestRouter_DiscoveryEvents(t *testing.T) {
	h := newHarness(t)
	sess := h.seedSession(t)
	if err := h.reg.StartDiscoveryStream(sess.ID, "turn_a", model.DiscoveryStandard); err != nil {
		t.Fatal(err)
	}

	h.router.Handle(DiscoveryItemEvent{SessionID: sess.ID, TurnID: "turn_a", Item: &model.DiscoveryItem{Title: "find", SourceURL: "https://x"}})
	h.router.Handle(DiscoveryDone{SessionID: sess.ID, TurnID: "turn_a"})

	got, _ := h.store.Load(sess.ID)
	if len(got.DiscoveryItems) != 1 {
		t.Fatalf("discovery items = %d, want 1", len(got.DiscoveryItems))
	}
	if status, _ := h.live.DiscoveryStatusFor("turn_a"); status != live.DiscoveryDone {
		t.Errorf("badge = %v, want done", status)
	}
}
