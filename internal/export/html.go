// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/neurochat/internal/registry"
	"github.com/jeranaias/neurochat/internal/store"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a standalone HTML page.
type HTMLExporter struct {
	options *Options
	colors  map[string]string
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	colors := make(map[string]string)
	for _, p := range registry.Providers() {
		colors[p.ID] = p.Color
	}
	return &HTMLExporter{options: opts, colors: colors}
}

// Export converts a conversation to HTML.
func (e *HTMLExporter) Export(conv *Conversation) ([]byte, error) {
	if err := conv.validate(); err != nil {
		return nil, err
	}

	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}
	title := html.EscapeString(conv.Title())

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	fmt.Fprintf(&sb, "    <title>%s</title>\n", title)
	sb.WriteString("    <meta name=\"generator\" content=\"neurochat\">\n")
	fmt.Fprintf(&sb, "    <meta name=\"date\" content=\"%s\">\n", conv.Session.CreatedAt.Format(time.RFC3339))
	sb.WriteString(css)
	sb.WriteString("</head>\n")
	fmt.Fprintf(&sb, "<body class=\"%s-theme\">\n", theme)
	sb.WriteString("    <div class=\"container\">\n")

	if e.options.IncludeMetadata {
		sb.WriteString(e.renderHeader(conv))
	}

	sb.WriteString("        <main class=\"conversation\">\n")
	for i := range conv.Messages {
		sb.WriteString(e.renderMessage(&conv.Messages[i]))
	}
	sb.WriteString("        </main>\n")

	sb.WriteString("        <footer class=\"footer\">\n")
	fmt.Fprintf(&sb, "            <p>Exported from <strong>NeuroChat</strong> on %s</p>\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM"))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderHeader(conv *Conversation) string {
	var sb strings.Builder
	sb.WriteString("        <header class=\"header\">\n")
	fmt.Fprintf(&sb, "            <h1>%s</h1>\n", html.EscapeString(conv.Title()))
	sb.WriteString("            <div class=\"metadata\">\n")
	meta := [][2]string{
		{"Mode", string(conv.Session.Mode)},
		{"Models", strings.Join(conv.Models(), ", ")},
		{"Created", formatTimestamp(conv.Session.CreatedAt)},
		{"Messages", fmt.Sprint(len(conv.Messages))},
		{"Estimated cost", formatCost(conv.TotalCost())},
	}
	for _, m := range meta {
		fmt.Fprintf(&sb, "                <span class=\"meta-item\"><strong>%s:</strong> %s</span>\n", m[0], html.EscapeString(m[1]))
	}
	sb.WriteString("            </div>\n")
	sb.WriteString("        </header>\n")
	return sb.String()
}

func (e *HTMLExporter) renderMessage(msg *store.Message) string {
	var sb strings.Builder

	roleClass := "other"
	switch msg.Role {
	case "user", "assistant", "system":
		roleClass = msg.Role
	}
	style := ""
	if msg.Role == "assistant" {
		if c, ok := e.colors[messageProvider(msg)]; ok {
			style = fmt.Sprintf(" style=\"border-left-color: %s\"", html.EscapeString(c))
		}
	}
	fmt.Fprintf(&sb, "            <div class=\"message %s-message\"%s>\n", roleClass, style)

	sb.WriteString("                <div class=\"message-header\">\n")
	fmt.Fprintf(&sb, "                    <span class=\"role-label\">%s</span>\n", html.EscapeString(roleLabel(msg.Role, msg.Model)))
	if e.options.IncludeTimestamps {
		fmt.Fprintf(&sb, "                    <span class=\"timestamp\">%s</span>\n", formatShortTimestamp(msg.CreatedAt))
	}
	sb.WriteString("                </div>\n")

	sb.WriteString("                <div class=\"message-content\">\n")
	sb.WriteString(formatContent(msg.Content))
	sb.WriteString("\n                </div>\n")

	if msg.Role == "assistant" && e.options.IncludeMetadata {
		if parts := statParts(msg); len(parts) > 0 {
			sb.WriteString("                <div class=\"message-stats\">\n")
			for _, p := range parts {
				fmt.Fprintf(&sb, "                    <span class=\"stat\">%s</span>\n", html.EscapeString(p))
			}
			sb.WriteString("                </div>\n")
		}
	}

	sb.WriteString("            </div>\n")
	return sb.String()
}

// =============================================================================
// CONTENT FORMATTING
// =============================================================================

var (
	codeBlockRegex   = regexp.MustCompile("```([a-zA-Z0-9_+-]*)\n([\\s\\S]*?)```")
	inlineCodeRegex  = regexp.MustCompile("`([^`\n]+)`")
	placeholderRegex = regexp.MustCompile("\x00([0-9]+)\x00")
)

// formatContent escapes content and turns fenced code blocks, inline code
// and blank-line separated paragraphs into HTML. Everything is escaped
// before markup is added.
func formatContent(content string) string {
	content = strings.TrimSpace(content)

	// Fenced blocks are swapped for placeholders so paragraph handling
	// leaves them alone.
	var blocks []string
	content = codeBlockRegex.ReplaceAllStringFunc(content, func(match string) string {
		parts := codeBlockRegex.FindStringSubmatch(match)
		lang, code := parts[1], parts[2]
		label := ""
		if lang != "" {
			label = fmt.Sprintf("<div class=\"code-lang\">%s</div>", html.EscapeString(lang))
		}
		blocks = append(blocks, fmt.Sprintf("<div class=\"code-block\">%s<pre><code class=\"language-%s\">%s</code></pre></div>",
			label, html.EscapeString(lang), html.EscapeString(strings.TrimRight(code, "\n"))))
		return fmt.Sprintf("\x00%d\x00", len(blocks)-1)
	})
	restore := func(s string) string {
		return placeholderRegex.ReplaceAllStringFunc(s, func(m string) string {
			idx, err := strconv.Atoi(strings.Trim(m, "\x00"))
			if err != nil || idx >= len(blocks) {
				return ""
			}
			return blocks[idx]
		})
	}

	var out []string
	for _, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if placeholderRegex.FindString(para) == para {
			out = append(out, restore(para))
			continue
		}
		para = html.EscapeString(para)
		para = inlineCodeRegex.ReplaceAllString(para, "<code class=\"inline-code\">$1</code>")
		para = strings.ReplaceAll(para, "\n", "<br>\n")
		out = append(out, "<p>"+restore(para)+"</p>")
	}
	return strings.Join(out, "\n")
}

// =============================================================================
// EMBEDDED CSS
// =============================================================================

const css = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        :root {
            --font-sans: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, "Helvetica Neue", Arial, sans-serif;
            --font-mono: "SF Mono", "Monaco", "Inconsolata", "Fira Code", "Source Code Pro", monospace;
        }
        .dark-theme {
            --bg-primary: #1a1b26; --bg-secondary: #24283b; --bg-code: #16161e;
            --text-primary: #c0caf5; --text-secondary: #9aa5ce; --border: #414868;
            --accent: #7aa2f7; --user-bg: #2a2f45;
        }
        .light-theme {
            --bg-primary: #ffffff; --bg-secondary: #f6f8fa; --bg-code: #f0f2f4;
            --text-primary: #1f2328; --text-secondary: #59636e; --border: #d0d7de;
            --accent: #0969da; --user-bg: #eef4ff;
        }
        body { font-family: var(--font-sans); background: var(--bg-primary); color: var(--text-primary); line-height: 1.6; padding: 20px; }
        .container { max-width: 960px; margin: 0 auto; }
        .header { padding: 24px; border-bottom: 1px solid var(--border); margin-bottom: 16px; }
        .header h1 { font-size: 1.6rem; margin-bottom: 8px; }
        .metadata { display: flex; flex-wrap: wrap; gap: 16px; color: var(--text-secondary); font-size: 0.9rem; }
        .conversation { display: flex; flex-direction: column; gap: 16px; }
        .message { background: var(--bg-secondary); border: 1px solid var(--border); border-left: 4px solid var(--accent); border-radius: 8px; padding: 16px 20px; }
        .user-message { background: var(--user-bg); border-left-color: var(--text-secondary); }
        .message-header { display: flex; justify-content: space-between; margin-bottom: 8px; font-weight: 600; }
        .timestamp { color: var(--text-secondary); font-weight: normal; font-size: 0.85rem; }
        .message-content p { margin-bottom: 8px; }
        .message-stats { display: flex; flex-wrap: wrap; gap: 12px; margin-top: 8px; color: var(--text-secondary); font-size: 0.8rem; }
        .code-block { margin: 8px 0; background: var(--bg-code); border-radius: 6px; overflow-x: auto; }
        .code-lang { padding: 4px 12px; font-size: 0.75rem; color: var(--text-secondary); border-bottom: 1px solid var(--border); }
        pre { padding: 12px; font-family: var(--font-mono); font-size: 0.85rem; }
        .inline-code { font-family: var(--font-mono); background: var(--bg-code); padding: 1px 4px; border-radius: 4px; }
        .footer { margin-top: 24px; padding: 16px; text-align: center; color: var(--text-secondary); font-size: 0.85rem; }
        @media print { .message { page-break-inside: avoid; } }
    </style>
`
