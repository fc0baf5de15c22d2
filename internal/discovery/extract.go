// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package discovery

import (
	"encoding/json"
	"strings"

	"github.com/jeranaias/backchat/internal/model"
)

// =============================================================================
// INCREMENTAL ITEM EXTRACTION
// =============================================================================

// ItemExtractor pulls complete discovery items out of a streamed model
// response as it accumulates. The model is asked for a JSON array, but the
// extractor tolerates prose, code fences, and truncation around it: it
// scans for balanced top-level objects and ignores everything between
// them, so items surface one by one without waiting for the closing
// bracket.
type ItemExtractor struct {
	buf strings.Builder

	// Scanner state, resumed across Feed calls.
	pos      int // next unscanned byte
	start    int // start of the current object, -1 when outside one
	depth    int
	inString bool
	escaped  bool
}

// NewItemExtractor creates an extractor with empty state.
func NewItemExtractor() *ItemExtractor {
	return &ItemExtractor{start: -1}
}

// Feed appends a chunk and returns any items whose objects completed.
// Objects that fail to parse or lack required fields are skipped; the
// stream goes on.
func (x *ItemExtractor) Feed(chunk string) []*model.DiscoveryItem {
	if chunk == "" {
		return nil
	}
	x.buf.WriteString(chunk)
	s := x.buf.String()

	var items []*model.DiscoveryItem
	for ; x.pos < len(s); x.pos++ {
		c := s[x.pos]

		if x.inString {
			switch {
			case x.escaped:
				x.escaped = false
			case c == '\\':
				x.escaped = true
			case c == '"':
				x.inString = false
			}
			continue
		}

		switch c {
		case '"':
			if x.start >= 0 {
				x.inString = true
			}
		case '{':
			if x.start < 0 {
				x.start = x.pos
			}
			x.depth++
		case '}':
			if x.start < 0 {
				continue
			}
			x.depth--
			if x.depth == 0 {
				if item := parseItem(s[x.start : x.pos+1]); item != nil {
					items = append(items, item)
				}
				x.start = -1
			}
		}
	}
	return items
}

// parseItem decodes one candidate object. Items without a title are
// garbage the model hallucinated around the payload.
func parseItem(raw string) *model.DiscoveryItem {
	var item model.DiscoveryItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		return nil
	}
	if strings.TrimSpace(item.Title) == "" {
		return nil
	}
	return &item
}
