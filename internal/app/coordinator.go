// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package app

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

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

// ErrEmptyMessage rejects a send with nothing in it.
var ErrEmptyMessage = errors.New("app: empty message")

// ChatDispatcher runs chat dispatches. *provider.Client satisfies it.
type ChatDispatcher interface {
	StreamChat(req provider.ChatRequest, emit provider.Emitter)
	CancelActive()
}

// Coordinator is the application core behind the UI.
type Coordinator struct {
	cfg        *config.Config
	store      *store.Store
	live       *live.State
	reg        *registry.Registry
	pending    *turn.PendingTracker
	router     *router.Router
	dispatcher ChatDispatcher
	log        *zap.Logger

	wg sync.WaitGroup
}

// New wires a coordinator from its parts.
func New(cfg *config.Config, st *store.Store, lv *live.State, reg *registry.Registry, pending *turn.PendingTracker, rt *router.Router, dispatcher ChatDispatcher, logger *diag.Logger) *Coordinator {
	if logger == nil {
		logger = diag.Nop()
	}
	return &Coordinator{
		cfg:        cfg,
		store:      st,
		live:       lv,
		reg:        reg,
		pending:    pending,
		router:     rt,
		dispatcher: dispatcher,
		log:        logger.For(diag.CategorySession),
	}
}

// =============================================================================
// SESSIONS
// =============================================================================

// NewSession creates and persists a session with the configured defaults.
func (c *Coordinator) NewSession() (*model.Session, error) {
	sess := model.NewSession(model.Settings{
		Model:          c.cfg.DefaultModel,
		DiscoveryMode:  c.cfg.DiscoveryModeValue(),
		DiscoveryModel: c.cfg.Discovery.Model,
	})
	if err := c.store.Save(sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// OpenSession loads a session and foregrounds it. In-flight streams for
// other sessions keep running.
func (c *Coordinator) OpenSession(id string) (*model.Session, error) {
	sess, err := c.store.Load(id)
	if err != nil {
		return nil, err
	}
	c.live.SetActiveSession(id)
	// Re-attach the session's in-flight stream so mirroring resumes from
	// where the registry left off.
	if snap, ok := c.reg.StreamForSession(id); ok {
		c.live.ResumeStream(snap.SessionID, snap.TurnID, snap.Text, snap.Thinking, snap.ExecStatus)
	}
	return sess, nil
}

// CloseSession backgrounds the foregrounded session without touching its
// streams.
func (c *Coordinator) CloseSession() {
	c.live.SetActiveSession("")
}

// ListSessions returns stored session metadata, most recent first.
func (c *Coordinator) ListSessions() ([]store.SessionMeta, error) {
	return c.store.List()
}

// DeleteSession removes a session from the store. Streams still in flight
// for it will fail persistence and be logged, nothing more.
func (c *Coordinator) DeleteSession(id string) error {
	return c.store.Delete(id)
}

// =============================================================================
// SENDING
// =============================================================================

// Send appends the user message, registers the stream, and dispatches.
// Returns the minted turn id. Provider failures after this point surface
// as a synthesized error message in the transcript, not as an error here.
func (c *Coordinator) Send(sessionID, content string) (string, error) {
	if content == "" {
		return "", ErrEmptyMessage
	}
	sess, err := c.store.Load(sessionID)
	if err != nil {
		return "", err
	}

	turnID := turn.Mint()
	sess.AppendMessage(model.NewUserMessage(turnID, content))
	if err := c.store.Save(sess); err != nil {
		return "", fmt.Errorf("failed to persist message: %w", err)
	}

	c.pending.Set(sessionID, turnID)
	if err := c.reg.StartChatStream(sessionID, turnID, sess.Settings.Model); err != nil {
		c.pending.Clear(sessionID, turnID)
		return "", err
	}
	if c.live.IsActive(sessionID) {
		c.live.BeginStream(sessionID, turnID)
	}

	req := provider.ChatRequest{
		SessionID:    sessionID,
		TurnID:       turnID,
		ModelID:      sess.Settings.Model,
		SystemPrompt: sess.Settings.SystemPrompt,
		ContainerID:  sess.ContainerID,
		Turns:        wireTurns(sess),
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.dispatcher.StreamChat(req, c.router.Handle)
	}()

	c.log.Info("turn dispatched",
		zap.String("session_id", sessionID),
		zap.String("turn_id", turnID),
		zap.String("model", req.ModelID))
	return turnID, nil
}

// CancelActive cancels the stream the user is watching. The transport
// acknowledges with a cancelled event; cleanup happens there.
func (c *Coordinator) CancelActive() {
	c.dispatcher.CancelActive()
}

// Wait blocks until in-flight dispatches finish. Shutdown only.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// =============================================================================
// BADGES
// =============================================================================

// ActiveSessionIDs returns sessions with streams in flight, so a frontend
// can restore activity badges after a restart.
func (c *Coordinator) ActiveSessionIDs() []string {
	return c.reg.ActiveSessionIDs()
}

// wireTurns flattens the transcript for dispatch. Synthesized error
// messages stay local; the provider never sees them.
func wireTurns(sess *model.Session) []provider.ChatTurn {
	turns := make([]provider.ChatTurn, 0, len(sess.Messages))
	for _, m := range sess.Messages {
		if m.IsError || m.Content == "" {
			continue
		}
		switch m.Role {
		case model.RoleUser, model.RoleAssistant:
			turns = append(turns, provider.ChatTurn{Role: string(m.Role), Content: m.Content})
		}
	}
	return turns
}
