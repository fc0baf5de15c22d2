// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package registry

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jeranaias/backchat/internal/model"
	"github.com/jeranaias/backchat/internal/store"
)

// =============================================================================
// CHAT STREAM LIFECYCLE
// =============================================================================

// StartChatStream registers a chat turn. The entry exists before the first
// provider byte arrives, so deltas always have a home.
func (r *Registry) StartChatStream(sessionID, turnID, modelID string) error {
	if sessionID == "" {
		return ErrEmptySessionID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.chats[turnID]; exists {
		return ErrTurnExists
	}
	r.chats[turnID] = &chatEntry{
		sessionID: sessionID,
		turnID:    turnID,
		modelID:   modelID,
		startedAt: time.Now(),
	}
	r.log.Debug("chat stream registered",
		zap.String("session_id", sessionID),
		zap.String("turn_id", turnID),
		zap.String("model", modelID))
	return nil
}

// AppendText accumulates response text. Unknown turn ids are dropped; the
// delta raced a completion or cancellation.
func (r *Registry) AppendText(turnID, text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.chats[turnID]; ok {
		e.text.WriteString(text)
	}
}

// AppendThinking accumulates thinking text, starting the thinking clock on
// the first fragment.
func (r *Registry) AppendThinking(turnID, text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.chats[turnID]; ok {
		setOnce(&e.thinkingStartedAt)
		e.thinking.WriteString(text)
	}
}

// SetThinkingStarted starts the thinking clock. First event wins; providers
// that emit repeated block starts never shift the timestamp.
func (r *Registry) SetThinkingStarted(turnID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.chats[turnID]; ok {
		setOnce(&e.thinkingStartedAt)
	}
}

// SetThinkingDone stops the thinking clock. First event wins.
func (r *Registry) SetThinkingDone(turnID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.chats[turnID]; ok {
		setOnce(&e.thinkingEndedAt)
	}
}

// SetExecutionStarted records a tool invocation. The execution clock starts
// on the first invocation; code from later invocations in the same turn is
// concatenated. The text offset is captured once so output can be
// interleaved where execution began.
func (r *Registry) SetExecutionStarted(turnID, toolName, code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.chats[turnID]
	if !ok {
		return
	}
	if e.execStatus == model.ExecIdle {
		e.textOffset = e.text.Len()
	}
	setOnce(&e.execStartedAt)
	if toolName != "" {
		e.execToolName = toolName
	}
	e.execCode.WriteString(code)
	e.execStatus = model.ExecRunning
}

// AppendExecutionOutput accumulates stdout/stderr from a running execution.
func (r *Registry) AppendExecutionOutput(turnID, stdout, stderr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.chats[turnID]; ok {
		e.execStdout.WriteString(stdout)
		e.execStderr.WriteString(stderr)
	}
}

// SetExecutionCompleted marks the execution finished and records any files
// it produced.
func (r *Registry) SetExecutionCompleted(turnID string, files []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.chats[turnID]; ok {
		e.execStatus = model.ExecCompleted
		e.execFiles = append(e.execFiles, files...)
		setOnce(&e.execEndedAt)
	}
}

// SetExecutionFailed marks the execution failed with a provider error
// description.
func (r *Registry) SetExecutionFailed(turnID, errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.chats[turnID]; ok {
		e.execStatus = model.ExecFailed
		e.execError = errText
		setOnce(&e.execEndedAt)
	}
}

// AddCitation records a legacy citation. Duplicates are kept here and
// deduplicated by URL at materialization.
func (r *Registry) AddCitation(turnID string, c model.Citation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.chats[turnID]; ok {
		e.citations = append(e.citations, c)
	}
}

// AddInlineCitation records a positioned citation. Never deduplicated;
// the character offset is part of its meaning.
func (r *Registry) AddInlineCitation(turnID string, c model.InlineCitation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.chats[turnID]; ok {
		e.inlineCitations = append(e.inlineCitations, c)
	}
}

// =============================================================================
// COMPLETION
// =============================================================================

// CompleteChatStream materializes a finished turn into its session's
// transcript and removes the registry entry. A turn that produced no text
// is discarded silently. Persistence failures are logged and swallowed.
func (r *Registry) CompleteChatStream(turnID string) {
	r.mu.Lock()
	e, ok := r.chats[turnID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.chats, turnID)
	r.mu.Unlock()

	text := e.text.String()
	if text == "" {
		// Nothing to materialize. Drop the projection too if this turn
		// owned it.
		if r.live != nil {
			r.live.Clear(turnID)
		}
		r.log.Debug("empty stream discarded", zap.String("turn_id", turnID))
		return
	}

	msg := materialize(e, text)

	if r.live != nil {
		r.live.Finalize(turnID, msg)
	}
	r.persistMessage(e.sessionID, turnID, msg)
}

// FailChatStream replaces a broken turn with a synthesized error message.
// The explanation is appended to the transcript like a normal assistant
// message so the user sees why the answer never arrived, even if the
// session was off-screen at the time.
func (r *Registry) FailChatStream(turnID, explanation string) {
	r.mu.Lock()
	e, ok := r.chats[turnID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.chats, turnID)
	r.mu.Unlock()

	msg := model.NewErrorMessage(turnID, explanation)
	if r.live != nil {
		r.live.Finalize(turnID, msg)
	}
	r.persistMessage(e.sessionID, turnID, msg)
	r.log.Warn("chat stream failed",
		zap.String("session_id", e.sessionID),
		zap.String("turn_id", turnID),
		zap.String("explanation", explanation))
}

// CancelChatStream removes a turn's entry without materializing anything.
// Safe for unknown turn ids; cancellation races completion by design of the
// transport.
func (r *Registry) CancelChatStream(turnID string) {
	r.mu.Lock()
	e, ok := r.chats[turnID]
	if ok {
		delete(r.chats, turnID)
	}
	r.mu.Unlock()
	if r.live != nil {
		r.live.Clear(turnID)
	}
	if ok {
		r.log.Debug("chat stream cancelled",
			zap.String("session_id", e.sessionID),
			zap.String("turn_id", turnID))
	}
}

// SaveContainerID persists a provider-issued sandbox handle for the turn's
// session. Forwarded on later requests so the provider reuses the sandbox.
func (r *Registry) SaveContainerID(turnID, containerID string) {
	if containerID == "" {
		return
	}
	r.mu.Lock()
	e, ok := r.chats[turnID]
	r.mu.Unlock()
	if !ok {
		return
	}
	if err := r.store.SaveContainerID(e.sessionID, containerID); err != nil {
		r.log.Warn("container id persist failed",
			zap.String("session_id", e.sessionID),
			zap.Error(err))
	}
}

// materialize builds the immutable transcript message from an entry.
func materialize(e *chatEntry, text string) *model.Message {
	msg := &model.Message{
		ID:              model.NewMessageID(),
		Role:            model.RoleAssistant,
		Content:         text,
		Timestamp:       time.Now(),
		TurnID:          e.turnID,
		Citations:       dedupeCitations(e.citations),
		InlineCitations: e.inlineCitations,
		Thinking:        e.thinking.String(),
	}

	if msg.Thinking != "" && !e.thinkingStartedAt.IsZero() {
		end := e.thinkingEndedAt
		if end.IsZero() {
			end = time.Now()
		}
		d := end.Sub(e.thinkingStartedAt).Milliseconds()
		msg.ThinkingDurationMs = &d
	}

	if e.execStatus != model.ExecIdle {
		exec := &model.Execution{
			ToolName:   e.execToolName,
			Code:       e.execCode.String(),
			Stdout:     e.execStdout.String(),
			Stderr:     e.execStderr.String(),
			Status:     e.execStatus,
			Error:      e.execError,
			Files:      e.execFiles,
			TextOffset: e.textOffset,
		}
		if !e.execStartedAt.IsZero() {
			end := e.execEndedAt
			if end.IsZero() {
				end = time.Now()
			}
			exec.DurationMs = end.Sub(e.execStartedAt).Milliseconds()
		}
		msg.Execution = exec
	}
	return msg
}

// dedupeCitations drops repeated URLs, keeping first-occurrence order.
// Providers re-announce a source every time they quote it.
func dedupeCitations(in []model.Citation) []model.Citation {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]model.Citation, 0, len(in))
	for _, c := range in {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		out = append(out, c)
	}
	return out
}

// persistMessage appends msg to its session and saves. The turn-id guard
// makes the append exactly-once even if completion is delivered twice.
func (r *Registry) persistMessage(sessionID, turnID string, msg *model.Message) {
	sess, err := r.store.Load(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			r.log.Warn("session vanished before materialization",
				zap.String("session_id", sessionID),
				zap.String("turn_id", turnID))
		} else {
			r.log.Error("session load failed",
				zap.String("session_id", sessionID),
				zap.Error(err))
		}
		return
	}
	if sess.MessageByTurnID(turnID, model.RoleAssistant) != nil {
		return
	}
	sess.AppendMessage(msg)
	if err := r.store.Save(sess); err != nil {
		r.log.Error("session save failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
	}
}
