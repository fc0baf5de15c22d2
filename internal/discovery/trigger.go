// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package discovery

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/jeranaias/backchat/internal/config"
	"github.com/jeranaias/backchat/internal/diag"
	"github.com/jeranaias/backchat/internal/model"
	"github.com/jeranaias/backchat/internal/registry"
	"github.com/jeranaias/backchat/internal/router"
	"github.com/jeranaias/backchat/internal/store"
	"github.com/jeranaias/backchat/internal/util"
)

// =============================================================================
// PROMPTS
// =============================================================================

const defaultSystemPrompt = `You analyze a conversation and surface tangential resources the user did not ask for but would find valuable. Respond with a JSON array of objects, each with: title, oneLiner, fullSummary, relevanceExplanation, sourceUrl, sourceDomain, category, relevanceScore (1-100). No prose outside the array.`

const deepSuffix = ` Prefer primary sources, contrarian viewpoints, and adjacent fields the user has likely never encountered.`

// transcriptLimit bounds how much of each message goes into the analysis
// prompt.
const transcriptLimit = 2000

// =============================================================================
// DISPATCH
// =============================================================================

// Request describes one discovery dispatch.
type Request struct {
	SessionID    string
	TurnID       string
	Mode         model.DiscoveryMode
	ModelID      string
	SystemPrompt string
	MaxResults   int
	Transcript   string
}

// Dispatcher streams a discovery analysis. Chunks of raw model output are
// delivered in order on a single goroutine.
type Dispatcher interface {
	DispatchDiscovery(ctx context.Context, req Request, onChunk func(text string)) error
}

// =============================================================================
// TRIGGER
// =============================================================================

// Trigger starts discovery passes after chat turns. Each pass runs on its
// own goroutine; Close cancels in-flight passes and waits for them.
type Trigger struct {
	store      *store.Store
	reg        *registry.Registry
	dispatcher Dispatcher
	cfg        config.DiscoveryConfig
	log        *zap.Logger

	// emit delivers pass events. Defaults to applying them straight to
	// the registry; SetEmitter points it at the stream router.
	emit func(ev router.Event)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTrigger creates a trigger.
func NewTrigger(st *store.Store, reg *registry.Registry, d Dispatcher, cfg config.DiscoveryConfig, logger *diag.Logger) *Trigger {
	if logger == nil {
		logger = diag.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Trigger{
		store:      st,
		reg:        reg,
		dispatcher: d,
		cfg:        cfg,
		log:        logger.For(diag.CategoryDiscovery),
		ctx:        ctx,
		cancel:     cancel,
	}
	t.emit = t.applyLocal
	return t
}

// SetEmitter routes pass events through the stream router so discovery and
// chat events share one routing path. Call before the first trigger.
func (t *Trigger) SetEmitter(emit func(ev router.Event)) {
	t.emit = emit
}

// TriggerAfterChat starts a discovery pass for a completed chat turn. The
// session's mode is captured here, once; later settings changes do not
// affect a pass already in flight. Disabled mode is a no-op.
func (t *Trigger) TriggerAfterChat(sessionID, turnID string) {
	sess, err := t.store.Load(sessionID)
	if err != nil {
		t.log.Warn("discovery skipped, session unavailable",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	mode := sess.Settings.DiscoveryMode
	if !mode.Valid() {
		mode = model.DiscoveryMode(t.cfg.Mode)
	}
	if mode == model.DiscoveryDisabled {
		return
	}

	req := t.buildRequest(sess, turnID, mode)

	// Register before dispatch so the first item always has a home.
	if err := t.reg.StartDiscoveryStream(sessionID, turnID, mode); err != nil {
		t.log.Warn("discovery registration refused",
			zap.String("session_id", sessionID),
			zap.String("turn_id", turnID),
			zap.Error(err))
		return
	}

	t.wg.Add(1)
	go t.run(req)
}

// Wait blocks until all in-flight passes finish.
func (t *Trigger) Wait() {
	t.wg.Wait()
}

// Close cancels in-flight passes and waits for them to unwind.
func (t *Trigger) Close() {
	t.cancel()
	t.wg.Wait()
}

// run executes one pass.
func (t *Trigger) run(req Request) {
	defer t.wg.Done()

	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()

	extractor := NewItemExtractor()
	accepted := 0

	err := t.dispatcher.DispatchDiscovery(ctx, req, func(chunk string) {
		for _, item := range extractor.Feed(chunk) {
			if accepted >= req.MaxResults {
				// Budget reached; stop the stream instead of draining it.
				cancel()
				return
			}
			t.emit(router.DiscoveryItemEvent{SessionID: req.SessionID, TurnID: req.TurnID, Item: item})
			accepted++
		}
	})

	if err != nil && ctx.Err() == nil && t.ctx.Err() == nil {
		t.emit(router.DiscoveryError{SessionID: req.SessionID, TurnID: req.TurnID, Err: err})
		return
	}
	t.emit(router.DiscoveryDone{SessionID: req.SessionID, TurnID: req.TurnID})
}

// applyLocal applies pass events straight to the registry. Default until a
// router is bound.
func (t *Trigger) applyLocal(ev router.Event) {
	switch e := ev.(type) {
	case router.DiscoveryItemEvent:
		t.reg.AddDiscoveryItem(e.TurnID, e.Item)
	case router.DiscoveryDone:
		t.reg.CompleteDiscoveryStream(e.TurnID)
	case router.DiscoveryError:
		t.reg.FailDiscoveryStream(e.TurnID, e.Err)
	}
}

// buildRequest assembles the dispatch from session state and config.
func (t *Trigger) buildRequest(sess *model.Session, turnID string, mode model.DiscoveryMode) Request {
	prompt := t.cfg.SystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	maxResults := t.cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 5
	}
	if mode == model.DiscoveryDeep {
		prompt += deepSuffix
		maxResults *= 2
	}

	modelID := sess.Settings.DiscoveryModel
	if modelID == "" {
		modelID = t.cfg.Model
	}

	return Request{
		SessionID:    sess.ID,
		TurnID:       turnID,
		Mode:         mode,
		ModelID:      modelID,
		SystemPrompt: prompt,
		MaxResults:   maxResults,
		Transcript:   buildTranscript(sess),
	}
}

// buildTranscript renders the whole conversation for analysis. Tangents
// often trace back to ground covered many turns ago, so nothing is
// windowed; each message is individually bounded instead.
func buildTranscript(sess *model.Session) string {
	var b strings.Builder
	for _, m := range sess.Messages {
		if m.IsError || m.Content == "" {
			continue
		}
		switch m.Role {
		case model.RoleUser:
			b.WriteString("User: ")
		case model.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(util.TruncateRunes(m.Content, transcriptLimit))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
