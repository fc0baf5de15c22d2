// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package discovery

import (
	"testing"

	"github.com/jeranaias/backchat/internal/model"
)

func TestItemExtractor_SplitAcrossChunks(t *testing.T) {
	x := NewItemExtractor()

	items := x.Feed(`[{"title":"First","oneLiner":"a","sourceUrl":"https://a","relevan`)
	if len(items) != 0 {
		t.Fatalf("incomplete object must not yield, got %d", len(items))
	}

	items = x.Feed(`ceScore":80},{"title":"Sec`)
	if len(items) != 1 || items[0].Title != "First" {
		t.Fatalf("first object should complete, got %+v", items)
	}
	if items[0].RelevanceScore != 80 {
		t.Errorf("field split across chunks lost: score = %d", items[0].RelevanceScore)
	}

	items = x.Feed(`ond","sourceUrl":"https://b"}]`)
	if len(items) != 1 || items[0].Title != "Second" {
		t.Fatalf("second object should complete, got %+v", items)
	}
}

func TestItemExtractor_IgnoresProseAndFences(t *testing.T) {
	x := NewItemExtractor()

	items := x.Feed("Here are some resources:\n```json\n[{\"title\":\"Find\",\"sourceUrl\":\"https://x\"}]\n```\nHope this helps!")
	if len(items) != 1 || items[0].Title != "Find" {
		t.Fatalf("extractor must tolerate surrounding prose, got %+v", items)
	}
}

func TestItemExtractor_BracesInsideStrings(t *testing.T) {
	x := NewItemExtractor()

	items := x.Feed(`[{"title":"Tricky {braces}","oneLiner":"has \" and } inside","sourceUrl":"https://x"}]`)
	if len(items) != 1 {
		t.Fatalf("string-embedded braces must not confuse depth tracking, got %d items", len(items))
	}
	if items[0].OneLiner != `has " and } inside` {
		t.Errorf("oneLiner = %q", items[0].OneLiner)
	}
}

func TestItemExtractor_SkipsGarbageObjects(t *testing.T) {
	x := NewItemExtractor()

	items := x.Feed(`[{"title":""},{"not":"an item"},{"title":"Real","sourceUrl":"https://x"},{broken]`)
	if len(items) != 1 || items[0].Title != "Real" {
		t.Fatalf("untitled and malformed objects must be skipped, got %+v", items)
	}
}

func TestItemExtractor_FullFields(t *testing.T) {
	x := NewItemExtractor()

	items := x.Feed(`{"title":"T","oneLiner":"O","fullSummary":"F","relevanceExplanation":"R","sourceUrl":"https://u","sourceDomain":"u","category":"tool","relevanceScore":95}`)
	if len(items) != 1 {
		t.Fatal("single bare object should parse")
	}
	want := model.DiscoveryItem{
		Title: "T", OneLiner: "O", FullSummary: "F",
		RelevanceExplanation: "R", SourceURL: "https://u",
		SourceDomain: "u", Category: "tool", RelevanceScore: 95,
	}
	if *items[0] != want {
		t.Errorf("item = %+v, want %+v", *items[0], want)
	}
}
