// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jeranaias/backchat/internal/config"
	"github.com/jeranaias/backchat/internal/diag"
	"github.com/jeranaias/backchat/internal/live"
	"github.com/jeranaias/backchat/internal/model"
	"github.com/jeranaias/backchat/internal/provider"
	"github.com/jeranaias/backchat/internal/registry"
	"github.com/jeranaias/backchat/internal/router"
	"github.com/jeranaias/backchat/internal/store"
	"github.com/jeranaias/backchat/internal/turn"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// scriptedDispatcher emits a canned event sequence for each dispatch. The
// terminal event is derived from whether cancel was called.
type scriptedDispatcher struct {
	mu        sync.Mutex
	script    func(req provider.ChatRequest, emit provider.Emitter)
	requests  []provider.ChatRequest
	cancelled bool
}

func (d *scriptedDispatcher) StreamChat(req provider.ChatRequest, emit provider.Emitter) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	script := d.script
	d.mu.Unlock()
	if script != nil {
		script(req, emit)
	}
}

func (d *scriptedDispatcher) CancelActive() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = true
}

func (d *scriptedDispatcher) lastRequest() provider.ChatRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) == 0 {
		return provider.ChatRequest{}
	}
	return d.requests[len(d.requests)-1]
}

type harness struct {
	coord *Coordinator
	store *store.Store
	live  *live.State
	reg   *registry.Registry
	disp  *scriptedDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "backchat.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	lv := live.NewState(nil)
	reg := registry.New(st, lv, diag.Nop())
	pending := turn.NewPendingTracker()
	disp := &scriptedDispatcher{}
	rt := router.New(reg, lv, pending, nil, diag.Nop(), time.Nanosecond)
	coord := New(cfg, st, lv, reg, pending, rt, disp, diag.Nop())
	t.Cleanup(coord.Wait)
	return &harness{coord: coord, store: st, live: lv, reg: reg, disp: disp}
}

// =============================================================================
// SEND
// =============================================================================

func TestSend_FullRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.disp.script = func(req provider.ChatRequest, emit provider.Emitter) {
		emit(router.ChatTextDelta{SessionID: req.SessionID, TurnID: req.TurnID, Text: "the reply"})
		emit(router.ChatDone{SessionID: req.SessionID, TurnID: req.TurnID})
	}

	sess, err := h.coord.NewSession()
	if err != nil {
		t.Fatal(err)
	}
	turnID, err := h.coord.Send(sess.ID, "a question")
	if err != nil {
		t.Fatal(err)
	}
	h.coord.Wait()

	got, err := h.store.Load(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.MessageByTurnID(turnID, model.RoleUser) == nil {
		t.Error("user message not persisted")
	}
	reply := got.MessageByTurnID(turnID, model.RoleAssistant)
	if reply == nil || reply.Content != "the reply" {
		t.Errorf("assistant reply = %+v", reply)
	}
	if got.Title == "" {
		t.Error("first send should title the session")
	}
	if h.reg.HasActiveStream(sess.ID) {
		t.Error("completed turn must leave no active stream")
	}
}

func TestSend_EmptyMessageRejected(t *testing.T) {
	h := newHarness(t)
	sess, _ := h.coord.NewSession()

	if _, err := h.coord.Send(sess.ID, ""); err != ErrEmptyMessage {
		t.Errorf("err = %v, want ErrEmptyMessage", err)
	}
}

func TestSend_UnknownSessionRejected(t *testing.T) {
	h := newHarness(t)
	if _, err := h.coord.Send("sess_missing", "hello"); err == nil {
		t.Error("send to unknown session must fail")
	}
}

func TestSend_RequestCarriesTranscriptAndContainer(t *testing.T) {
	h := newHarness(t)
	h.disp.script = func(req provider.ChatRequest, emit provider.Emitter) {
		emit(router.ChatDone{SessionID: req.SessionID, TurnID: req.TurnID})
	}

	sess, _ := h.coord.NewSession()
	sess.ContainerID = "cntr_7"
	sess.AppendMessage(&model.Message{
		ID: model.NewMessageID(), Role: model.RoleAssistant,
		Content: "synthesized failure", IsError: true,
	})
	if err := h.store.Save(sess); err != nil {
		t.Fatal(err)
	}

	if _, err := h.coord.Send(sess.ID, "next question"); err != nil {
		t.Fatal(err)
	}
	h.coord.Wait()

	req := h.disp.lastRequest()
	if req.ContainerID != "cntr_7" {
		t.Errorf("container id = %q, want forwarded", req.ContainerID)
	}
	if req.ModelID != config.Default().DefaultModel {
		t.Errorf("model = %q", req.ModelID)
	}
	for _, turn := range req.Turns {
		if turn.Content == "synthesized failure" {
			t.Error("error messages must not be sent to the provider")
		}
	}
	if len(req.Turns) != 1 || req.Turns[0].Content != "next question" {
		t.Errorf("turns = %+v", req.Turns)
	}
}

func TestSend_ForegroundSessionClaimsProjection(t *testing.T) {
	h := newHarness(t)
	block := make(chan struct{})
	h.disp.script = func(req provider.ChatRequest, emit provider.Emitter) {
		<-block
		emit(router.ChatDone{SessionID: req.SessionID, TurnID: req.TurnID})
	}

	sess, _ := h.coord.NewSession()
	if _, err := h.coord.OpenSession(sess.ID); err != nil {
		t.Fatal(err)
	}
	turnID, err := h.coord.Send(sess.ID, "hi")
	if err != nil {
		t.Fatal(err)
	}

	if !h.live.OwnsStream(turnID) {
		t.Error("send from the foregrounded session must claim the projection")
	}
	close(block)
	h.coord.Wait()
}

func TestSend_BackgroundSessionLeavesProjectionAlone(t *testing.T) {
	h := newHarness(t)
	block := make(chan struct{})
	h.disp.script = func(req provider.ChatRequest, emit provider.Emitter) {
		<-block
		emit(router.ChatDone{SessionID: req.SessionID, TurnID: req.TurnID})
	}

	foreground, _ := h.coord.NewSession()
	background, _ := h.coord.NewSession()
	if _, err := h.coord.OpenSession(foreground.ID); err != nil {
		t.Fatal(err)
	}

	turnID, err := h.coord.Send(background.ID, "hi from the back")
	if err != nil {
		t.Fatal(err)
	}
	if h.live.OwnsStream(turnID) {
		t.Error("background send must not claim the projection")
	}
	if ids := h.coord.ActiveSessionIDs(); len(ids) != 1 || ids[0] != background.ID {
		t.Errorf("active sessions = %v", ids)
	}
	close(block)
	h.coord.Wait()
}

func TestOpenSession_ReattachesInFlightStream(t *testing.T) {
	h := newHarness(t)
	first := make(chan struct{})
	block := make(chan struct{})
	h.disp.script = func(req provider.ChatRequest, emit provider.Emitter) {
		emit(router.ChatTextDelta{SessionID: req.SessionID, TurnID: req.TurnID, Text: "hello "})
		close(first)
		<-block
		emit(router.ChatTextDelta{SessionID: req.SessionID, TurnID: req.TurnID, Text: "tail"})
		emit(router.ChatDone{SessionID: req.SessionID, TurnID: req.TurnID})
	}

	s1, _ := h.coord.NewSession()
	s2, _ := h.coord.NewSession()
	if _, err := h.coord.OpenSession(s1.ID); err != nil {
		t.Fatal(err)
	}
	turnID, err := h.coord.Send(s1.ID, "hi")
	if err != nil {
		t.Fatal(err)
	}
	<-first

	// Navigate away mid-stream, then come back.
	if _, err := h.coord.OpenSession(s2.ID); err != nil {
		t.Fatal(err)
	}
	if h.live.OwnsStream(turnID) {
		t.Fatal("foregrounding another session must release the projection")
	}
	if _, err := h.coord.OpenSession(s1.ID); err != nil {
		t.Fatal(err)
	}

	if !h.live.OwnsStream(turnID) {
		t.Error("reopening the owning session must re-attach its stream")
	}
	if got := h.live.Text(); got != "hello " {
		t.Errorf("resumed projection text = %q, want replayed accumulation", got)
	}

	// Mirroring resumes for deltas after the re-attach.
	close(block)
	h.coord.Wait()
	got, _ := h.store.Load(s1.ID)
	reply := got.MessageByTurnID(turnID, model.RoleAssistant)
	if reply == nil || reply.Content != "hello tail" {
		t.Errorf("persisted reply = %+v", reply)
	}
}

func TestSend_ProviderErrorSynthesizesMessage(t *testing.T) {
	h := newHarness(t)
	h.disp.script = func(req provider.ChatRequest, emit provider.Emitter) {
		emit(router.ChatError{
			SessionID: req.SessionID, TurnID: req.TurnID,
			Explanation: "Network error. Check your connection and try again.",
		})
	}

	sess, _ := h.coord.NewSession()
	turnID, err := h.coord.Send(sess.ID, "doomed")
	if err != nil {
		t.Fatal(err)
	}
	h.coord.Wait()

	got, _ := h.store.Load(sess.ID)
	msg := got.MessageByTurnID(turnID, model.RoleAssistant)
	if msg == nil || !msg.IsError {
		t.Errorf("expected synthesized error message, got %+v", msg)
	}
	if h.reg.HasActiveStream(sess.ID) {
		t.Error("failed turn must be removed from the registry")
	}
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancelActive_ForwardsToDispatcher(t *testing.T) {
	h := newHarness(t)
	h.coord.CancelActive()
	if !h.disp.cancelled {
		t.Error("cancel must reach the dispatcher")
	}
}
