// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"
	"strings"

	"github.com/jeranaias/backchat/internal/model"
)

// =============================================================================
// DELTA SINK
// =============================================================================

// deltaSink receives decoded stream deltas. The chat path adapts it onto
// router events; the discovery path keeps only the text.
type deltaSink interface {
	Text(s string)
	Thinking(s string)
	ThinkingDone()
	ExecStarted(tool, code string)
	ExecOutput(stdout, stderr string)
	ExecDone(failed bool, errText string, files []string)
	Citation(c model.Citation)
	InlineCitation(c model.InlineCitation)
	ContainerID(id string)
}

// textOnlySink keeps response text and drops everything else.
type textOnlySink struct {
	onText func(string)
}

func (s textOnlySink) Text(t string)                       { s.onText(t) }
func (s textOnlySink) Thinking(string)                     {}
func (s textOnlySink) ThinkingDone()                       {}
func (s textOnlySink) ExecStarted(string, string)          {}
func (s textOnlySink) ExecOutput(string, string)           {}
func (s textOnlySink) ExecDone(bool, string, []string)     {}
func (s textOnlySink) Citation(model.Citation)             {}
func (s textOnlySink) InlineCitation(model.InlineCitation) {}
func (s textOnlySink) ContainerID(string)                  {}

// decoder consumes one provider's SSE events.
type decoder interface {
	// decode handles one event. Returns true when the stream is finished.
	decode(eventType string, data []byte, sink deltaSink) bool
}

func decoderFor(p Name) decoder {
	switch p {
	case OpenAI:
		return &openaiDecoder{}
	case Google:
		return &geminiDecoder{}
	default:
		return &anthropicDecoder{blocks: make(map[int]*anthropicBlock)}
	}
}

// =============================================================================
// ANTHROPIC
// =============================================================================

type anthropicBlock struct {
	kind     string
	toolName string
	// partialJSON accumulates input_json_delta fragments for tool blocks.
	partialJSON strings.Builder
}

type anthropicDecoder struct {
	blocks map[int]*anthropicBlock
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	ContentBlock struct {
		Type    string          `json:"type"`
		Name    string          `json:"name"`
		Content json.RawMessage `json:"content"`
	} `json:"content_block"`

	Delta struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		Thinking    string `json:"thinking"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
		Citation    struct {
			URL            string `json:"url"`
			Title          string `json:"title"`
			CitedText      string `json:"cited_text"`
			StartCharIndex *int   `json:"start_char_index"`
		} `json:"citation"`
	} `json:"delta"`

	Container struct {
		ID string `json:"id"`
	} `json:"container"`
}

type anthropicToolResult struct {
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	ReturnCode int    `json:"return_code"`
	Content    []struct {
		Type     string `json:"type"`
		FileID   string `json:"file_id"`
		Filename string `json:"filename"`
	} `json:"content"`
}

func (d *anthropicDecoder) decode(eventType string, data []byte, sink deltaSink) bool {
	var ev anthropicEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return false
	}
	if ev.Type == "" {
		ev.Type = eventType
	}

	switch ev.Type {
	case "content_block_start":
		block := &anthropicBlock{kind: ev.ContentBlock.Type, toolName: ev.ContentBlock.Name}
		d.blocks[ev.Index] = block
		switch block.kind {
		case "server_tool_use":
			sink.ExecStarted(block.toolName, "")
		case "code_execution_tool_result", "bash_code_execution_tool_result":
			d.handleToolResult(ev.ContentBlock.Content, sink)
		}

	case "content_block_delta":
		switch ev.Delta.Type {
		case "text_delta":
			sink.Text(ev.Delta.Text)
		case "thinking_delta":
			sink.Thinking(ev.Delta.Thinking)
		case "input_json_delta":
			if b := d.blocks[ev.Index]; b != nil {
				b.partialJSON.WriteString(ev.Delta.PartialJSON)
			}
		case "citations_delta":
			c := ev.Delta.Citation
			if c.StartCharIndex != nil {
				sink.InlineCitation(model.InlineCitation{
					URL: c.URL, Title: c.Title, CitedText: c.CitedText,
					CharOffset: *c.StartCharIndex,
				})
			} else {
				sink.Citation(model.Citation{URL: c.URL, Title: c.Title, CitedText: c.CitedText})
			}
		}

	case "content_block_stop":
		b := d.blocks[ev.Index]
		if b == nil {
			return false
		}
		switch b.kind {
		case "thinking":
			sink.ThinkingDone()
		case "server_tool_use":
			// Tool input is complete; surface the code now.
			var input struct {
				Code string `json:"code"`
			}
			if json.Unmarshal([]byte(b.partialJSON.String()), &input) == nil && input.Code != "" {
				sink.ExecStarted("", input.Code)
			}
		}
		delete(d.blocks, ev.Index)

	case "message_delta":
		if ev.Container.ID != "" {
			sink.ContainerID(ev.Container.ID)
		}

	case "message_stop":
		return true
	}
	return false
}

func (d *anthropicDecoder) handleToolResult(raw json.RawMessage, sink deltaSink) {
	var res anthropicToolResult
	if json.Unmarshal(raw, &res) != nil {
		return
	}
	sink.ExecOutput(res.Stdout, res.Stderr)
	var files []string
	for _, c := range res.Content {
		if c.Filename != "" {
			files = append(files, c.Filename)
		}
	}
	failed := res.ReturnCode != 0
	errText := ""
	if failed {
		errText = strings.TrimSpace(res.Stderr)
	}
	sink.ExecDone(failed, errText, files)
}

// =============================================================================
// OPENAI
// =============================================================================

type openaiDecoder struct{}

type openaiChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (d *openaiDecoder) decode(_ string, data []byte, sink deltaSink) bool {
	if string(data) == "[DONE]" {
		return true
	}
	var chunk openaiChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return false
	}
	if len(chunk.Choices) == 0 {
		return false
	}
	if c := chunk.Choices[0].Delta.Content; c != "" {
		sink.Text(c)
	}
	return chunk.Choices[0].FinishReason != ""
}

// =============================================================================
// GEMINI
// =============================================================================

// geminiDecoder diffs against the text already emitted: depending on API
// version Gemini streams either increments or the cumulative text so far,
// and re-emitting the overlap would duplicate output.
type geminiDecoder struct {
	seen strings.Builder
}

type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

func (d *geminiDecoder) decode(_ string, data []byte, sink deltaSink) bool {
	var chunk geminiChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return false
	}
	if len(chunk.Candidates) == 0 {
		return false
	}
	cand := chunk.Candidates[0]

	var b strings.Builder
	for _, p := range cand.Content.Parts {
		b.WriteString(p.Text)
	}
	text := b.String()

	if text != "" {
		prev := d.seen.String()
		if strings.HasPrefix(text, prev) {
			// Cumulative payload: emit only the new suffix.
			delta := text[len(prev):]
			if delta != "" {
				sink.Text(delta)
			}
			d.seen.Reset()
			d.seen.WriteString(text)
		} else {
			sink.Text(text)
			d.seen.WriteString(text)
		}
	}

	return cand.FinishReason != "" && cand.FinishReason != "FINISH_REASON_UNSPECIFIED"
}
