// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/backchat/internal/diag"
	"github.com/jeranaias/backchat/internal/live"
	"github.com/jeranaias/backchat/internal/model"
	"github.com/jeranaias/backchat/internal/registry"
	"github.com/jeranaias/backchat/internal/stream"
	"github.com/jeranaias/backchat/internal/turn"
)

// DiscoveryTrigger starts a discovery pass for a completed chat turn.
// Implementations decide whether the session's mode allows one.
type DiscoveryTrigger interface {
	TriggerAfterChat(sessionID, turnID string)
}

// Router routes stream events. One instance serves all in-flight streams;
// Handle is safe to call from any transport goroutine.
type Router struct {
	reg     *registry.Registry
	live    *live.State
	pending *turn.PendingTracker
	trigger DiscoveryTrigger
	log     *zap.Logger

	// Foreground text batching. The buffer belongs to one turn at a time;
	// switching turns force-flushes the old owner first.
	bufMu     sync.Mutex
	buf       *stream.ContentBuffer
	bufTurnID string
}

// New creates a router. trigger may be nil when discovery is not wired.
func New(reg *registry.Registry, lv *live.State, pending *turn.PendingTracker, trigger DiscoveryTrigger, logger *diag.Logger, flushInterval time.Duration) *Router {
	if logger == nil {
		logger = diag.Nop()
	}
	r := &Router{
		reg:     reg,
		live:    lv,
		pending: pending,
		trigger: trigger,
		log:     logger.For(diag.CategoryRouter),
	}
	r.buf = stream.NewContentBuffer(flushInterval, r.publishText)
	return r
}

// Handle routes one event.
func (r *Router) Handle(ev Event) {
	switch e := ev.(type) {
	case ChatTextDelta:
		r.handleText(e)
	case ChatThinkingDelta:
		r.handleThinking(e)
	case ChatThinkingDone:
		r.reg.SetThinkingDone(e.TurnID)
	case ChatExecutionStarted:
		r.reg.SetExecutionStarted(e.TurnID, e.ToolName, e.Code)
		r.mirrorExecution(e.TurnID, model.ExecRunning)
	case ChatExecutionOutput:
		r.reg.AppendExecutionOutput(e.TurnID, e.Stdout, e.Stderr)
	case ChatExecutionDone:
		if e.Failed {
			r.reg.SetExecutionFailed(e.TurnID, e.Error)
			r.mirrorExecution(e.TurnID, model.ExecFailed)
		} else {
			r.reg.SetExecutionCompleted(e.TurnID, e.Files)
			r.mirrorExecution(e.TurnID, model.ExecCompleted)
		}
	case ChatCitation:
		r.reg.AddCitation(e.TurnID, e.Citation)
	case ChatInlineCitation:
		r.reg.AddInlineCitation(e.TurnID, e.Citation)
	case ChatContainerID:
		r.reg.SaveContainerID(e.TurnID, e.ContainerID)
	case ChatDone:
		r.handleDone(e)
	case ChatCancelled:
		r.handleCancelled(e)
	case ChatError:
		r.handleError(e)
	case DiscoveryItemEvent:
		r.reg.AddDiscoveryItem(e.TurnID, e.Item)
	case DiscoveryDone:
		r.reg.CompleteDiscoveryStream(e.TurnID)
	case DiscoveryError:
		r.reg.FailDiscoveryStream(e.TurnID, e.Err)
	default:
		r.log.Warn("unroutable event", zap.String("turn_id", ev.Turn()))
	}
}

// =============================================================================
// CHAT DELTAS
// =============================================================================

func (r *Router) handleText(e ChatTextDelta) {
	_, registered := r.reg.StreamByTurnID(e.TurnID)
	if registered {
		r.reg.AppendText(e.TurnID, e.Text)
		if r.live.OwnsStream(e.TurnID) {
			r.bufferText(e.TurnID, e.Text)
		}
		return
	}

	// Orphan delta: no registry entry yet. Mirror to the foreground only
	// when this is provably the session's pending send; anything else is
	// a stale turn and is dropped.
	if r.pending.Matches(e.SessionID, e.TurnID) && r.live.IsActive(e.SessionID) {
		if !r.live.OwnsStream(e.TurnID) {
			r.live.BeginStream(e.SessionID, e.TurnID)
		}
		r.bufferText(e.TurnID, e.Text)
		return
	}
	r.log.Debug("orphan text delta dropped",
		zap.String("session_id", e.SessionID),
		zap.String("turn_id", e.TurnID))
}

func (r *Router) handleThinking(e ChatThinkingDelta) {
	r.reg.AppendThinking(e.TurnID, e.Text)
	if r.live.OwnsStream(e.TurnID) {
		r.live.AppendThinking(e.TurnID, e.Text)
	}
}

func (r *Router) mirrorExecution(turnID string, status model.ExecStatus) {
	if r.live.OwnsStream(turnID) {
		r.live.SetExecution(turnID, status)
	}
}

// =============================================================================
// TERMINATION
// =============================================================================

func (r *Router) handleDone(e ChatDone) {
	r.flushFor(e.TurnID)
	_, registered := r.reg.StreamByTurnID(e.TurnID)
	r.reg.CompleteChatStream(e.TurnID)
	if !registered && r.live.OwnsStream(e.TurnID) {
		// The turn only ever lived in the foreground projection (orphan
		// fallback). Settle it from what the projection accumulated.
		msg := &model.Message{
			ID:        model.NewMessageID(),
			Role:      model.RoleAssistant,
			Content:   r.live.Text(),
			TurnID:    e.TurnID,
			Timestamp: time.Now(),
		}
		r.live.Finalize(e.TurnID, msg)
	}
	r.pending.Clear(e.SessionID, e.TurnID)
	if r.trigger != nil {
		// Discovery belongs to the originating session even if the user
		// has foregrounded another one by now.
		r.trigger.TriggerAfterChat(e.SessionID, e.TurnID)
	}
}

func (r *Router) handleCancelled(e ChatCancelled) {
	r.discardFor(e.TurnID)
	r.reg.CancelChatStream(e.TurnID)
	// Covers the orphan-fallback case where no entry existed; Clear is a
	// no-op unless the turn owns the projection.
	r.live.Clear(e.TurnID)
	r.pending.Clear(e.SessionID, e.TurnID)
}

func (r *Router) handleError(e ChatError) {
	r.discardFor(e.TurnID)
	r.reg.FailChatStream(e.TurnID, e.Explanation)
	r.live.Clear(e.TurnID)
	r.pending.Clear(e.SessionID, e.TurnID)
}

// =============================================================================
// FOREGROUND TEXT BATCHING
// =============================================================================

// bufferText routes foreground text through the throttled buffer. A turn
// change flushes the previous owner's remainder first so ordering holds.
func (r *Router) bufferText(turnID, text string) {
	r.bufMu.Lock()
	if r.bufTurnID != turnID {
		if r.bufTurnID != "" {
			// Drain under the old owner before reassigning.
			r.bufMu.Unlock()
			r.buf.Flush()
			r.bufMu.Lock()
		}
		r.bufTurnID = turnID
	}
	r.bufMu.Unlock()
	r.buf.Append(text)
}

// flushFor drains the buffer if turnID owns it, so the final fragment lands
// before finalization.
func (r *Router) flushFor(turnID string) {
	r.bufMu.Lock()
	owns := r.bufTurnID == turnID
	r.bufMu.Unlock()
	if owns {
		r.buf.Flush()
	}
}

// discardFor drops buffered text if turnID owns the buffer. Cancelled and
// failed turns must not leak a late batch into the projection.
func (r *Router) discardFor(turnID string) {
	r.bufMu.Lock()
	owns := r.bufTurnID == turnID
	if owns {
		r.bufTurnID = ""
	}
	r.bufMu.Unlock()
	if owns {
		r.buf.Reset()
	}
}

// publishText is the buffer's sink. The owning turn is re-read at publish
// time; a turn switch between batch and publish drops the batch, which is
// safe because the registry copy is already complete.
func (r *Router) publishText(text string) {
	r.bufMu.Lock()
	turnID := r.bufTurnID
	r.bufMu.Unlock()
	if turnID == "" {
		return
	}
	r.live.AppendText(turnID, text)
}
