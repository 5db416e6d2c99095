// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown. In compare sessions every
// answer to a question gets its own heading named after the model.
func (e *MarkdownExporter) Export(conv *Conversation) ([]byte, error) {
	if err := conv.validate(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	title := conv.Title()

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		fmt.Fprintf(&sb, "title: %s\n", escapeYAML(title))
		fmt.Fprintf(&sb, "session: %s\n", conv.Session.ID)
		fmt.Fprintf(&sb, "mode: %s\n", conv.Session.Mode)
		fmt.Fprintf(&sb, "models: [%s]\n", strings.Join(conv.Models(), ", "))
		fmt.Fprintf(&sb, "date: %s\n", conv.Session.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "updated: %s\n", conv.Session.UpdatedAt.Format(time.RFC3339))
		fmt.Fprintf(&sb, "messages: %d\n", len(conv.Messages))
		fmt.Fprintf(&sb, "cost: %s\n", conv.TotalCost().String())
		fmt.Fprintf(&sb, "exported: %s\n", e.options.now().Format(time.RFC3339))
		sb.WriteString("generator: neurochat\n")
		sb.WriteString("---\n\n")
	}

	fmt.Fprintf(&sb, "# %s\n\n", escapeMarkdown(title))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		fmt.Fprintf(&sb, "- **Mode**: %s\n", conv.Session.Mode)
		fmt.Fprintf(&sb, "- **Models**: %s\n", strings.Join(conv.Models(), ", "))
		fmt.Fprintf(&sb, "- **Created**: %s\n", formatTimestamp(conv.Session.CreatedAt))
		fmt.Fprintf(&sb, "- **Last Updated**: %s\n", formatTimestamp(conv.Session.UpdatedAt))
		fmt.Fprintf(&sb, "- **Messages**: %d\n", len(conv.Messages))
		fmt.Fprintf(&sb, "- **Estimated Cost**: %s\n", formatCost(conv.TotalCost()))
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("## Conversation\n\n")

	for i, msg := range conv.Messages {
		label := roleLabel(msg.Role, msg.Model)
		if e.options.IncludeTimestamps {
			fmt.Fprintf(&sb, "### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.CreatedAt))
		} else {
			fmt.Fprintf(&sb, "### %s\n\n", label)
		}

		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if msg.Role == "assistant" && e.options.IncludeMetadata {
			if parts := statParts(&msg); len(parts) > 0 {
				fmt.Fprintf(&sb, "<sub>%s</sub>\n\n", strings.Join(parts, " · "))
			}
		}

		// A rule separates turns, not the answers within one.
		if i < len(conv.Messages)-1 && conv.Messages[i+1].Role == "user" {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	fmt.Fprintf(&sb, "*Exported from NeuroChat on %s*\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// roleLabel names the author of a message: "You", the answering model,
// or the capitalized role.
func roleLabel(role, model string) string {
	switch role {
	case "":
		return "Unknown"
	case "user":
		return "You"
	case "assistant":
		if model != "" {
			return model
		}
		return "Assistant"
	default:
		runes := []rune(role)
		return strings.ToUpper(string(runes[0])) + string(runes[1:])
	}
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only characters that would break formatting in headings.
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML escapes special YAML characters in values.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
