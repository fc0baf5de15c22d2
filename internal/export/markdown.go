// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"

	"github.com/jeranaias/backchat/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders a session as a readable Markdown document.
type MarkdownExporter struct {
	opts *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{opts: opts}
}

// FileExtension returns ".md".
func (e *MarkdownExporter) FileExtension() string { return ".md" }

// Export renders the session.
func (e *MarkdownExporter) Export(sess *model.Session) ([]byte, error) {
	var b strings.Builder

	title := sess.Title
	if title == "" {
		title = "Untitled session"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if e.opts.IncludeMetadata {
		b.WriteString("| | |\n|---|---|\n")
		fmt.Fprintf(&b, "| Model | %s |\n", sess.Settings.Model)
		fmt.Fprintf(&b, "| Created | %s |\n", formatTimestamp(sess.CreatedAt))
		fmt.Fprintf(&b, "| Updated | %s |\n", formatTimestamp(sess.UpdatedAt))
		fmt.Fprintf(&b, "| Messages | %d |\n\n", len(sess.Messages))
	}

	for _, msg := range sess.Messages {
		e.writeMessage(&b, msg)
	}

	if e.opts.IncludeDiscovery && len(sess.DiscoveryItems) > 0 {
		b.WriteString("---\n\n## Discovered along the way\n\n")
		for _, item := range sess.DiscoveryItems {
			fmt.Fprintf(&b, "- [%s](%s)", item.Title, item.SourceURL)
			if item.OneLiner != "" {
				b.WriteString(" - " + item.OneLiner)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	return []byte(b.String()), nil
}

func (e *MarkdownExporter) writeMessage(b *strings.Builder, msg *model.Message) {
	switch msg.Role {
	case model.RoleUser:
		b.WriteString("## You\n\n")
	case model.RoleAssistant:
		if msg.IsError {
			b.WriteString("## Assistant (error)\n\n")
		} else {
			b.WriteString("## Assistant\n\n")
		}
	default:
		return
	}

	if e.opts.IncludeThinking && msg.Thinking != "" {
		label := "Thinking"
		if msg.ThinkingDurationMs != nil {
			label = fmt.Sprintf("Thinking (%s)", formatDuration(*msg.ThinkingDurationMs))
		}
		fmt.Fprintf(b, "<details><summary>%s</summary>\n\n%s\n\n</details>\n\n", label, msg.Thinking)
	}

	b.WriteString(msg.Content)
	b.WriteString("\n\n")

	if exec := msg.Execution; exec != nil && exec.Code != "" {
		fmt.Fprintf(b, "```%s\n%s\n```\n\n", codeFenceLang(exec.ToolName), strings.TrimRight(exec.Code, "\n"))
		if exec.Stdout != "" {
			fmt.Fprintf(b, "```\n%s\n```\n\n", strings.TrimRight(exec.Stdout, "\n"))
		}
		if exec.Status == model.ExecFailed && exec.Error != "" {
			fmt.Fprintf(b, "> Execution failed: %s\n\n", exec.Error)
		}
	}

	if len(msg.Citations) > 0 {
		b.WriteString("Sources:\n")
		for _, c := range msg.Citations {
			title := c.Title
			if title == "" {
				title = c.URL
			}
			fmt.Fprintf(b, "- [%s](%s)\n", title, c.URL)
		}
		b.WriteString("\n")
	}
}

// codeFenceLang guesses a fence language from the tool name.
func codeFenceLang(tool string) string {
	switch {
	case strings.Contains(tool, "python"), strings.Contains(tool, "code_execution"):
		return "python"
	case strings.Contains(tool, "bash"):
		return "bash"
	default:
		return ""
	}
}
