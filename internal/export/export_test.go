// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/neurochat/internal/store"
)

var (
	created    = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	exportTime = time.Date(2025, 3, 2, 15, 4, 5, 0, time.UTC)
)

func compareConversation() *Conversation {
	return &Conversation{
		Session: store.Session{
			ID:        "sess-1",
			UserID:    "local",
			Mode:      store.ModeCompare,
			Title:     "Rust vs Go",
			CreatedAt: created,
			UpdatedAt: created.Add(5 * time.Minute),
		},
		Messages: []store.Message{
			{ID: "m1", SessionID: "sess-1", Role: "user", Content: "Which is faster?", CreatedAt: created},
			{ID: "m2", SessionID: "sess-1", Role: "assistant", Model: "gpt-4o", Content: "Go compiles faster.",
				TokensIn: 100, TokensOut: 50, LatencyMs: 1200, CreatedAt: created.Add(2 * time.Second)},
			{ID: "m3", SessionID: "sess-1", Role: "assistant", Model: "claude-3-5-sonnet", Content: "Rust runs faster.",
				TokensIn: 100, TokensOut: 40, LatencyMs: 800, CreatedAt: created.Add(3 * time.Second)},
			{ID: "m4", SessionID: "sess-1", Role: "user", Content: "Thanks", CreatedAt: created.Add(time.Minute)},
			{ID: "m5", SessionID: "sess-1", Role: "assistant", Model: "gpt-4o", Content: "Welcome",
				TokensIn: 10, TokensOut: 2, LatencyMs: 300, CreatedAt: created.Add(time.Minute + time.Second)},
		},
	}
}

func fixedOptions() *Options {
	opts := DefaultOptions()
	opts.Now = exportTime
	return opts
}

// =============================================================================
// CONVERSATION
// =============================================================================

func TestConversation_Summary(t *testing.T) {
	conv := compareConversation()
	assert.Equal(t, "Rust vs Go", conv.Title())
	assert.Equal(t, []string{"gpt-4o", "claude-3-5-sonnet"}, conv.Models())
	// 0.75 + 0.90 + 0.045
	assert.True(t, conv.TotalCost().Equal(decimal.RequireFromString("1.695")), conv.TotalCost().String())

	conv.Session.Title = "   "
	assert.Equal(t, "Untitled session", conv.Title())
}

func TestConversation_Validate(t *testing.T) {
	var nilConv *Conversation
	assert.Error(t, nilConv.validate())

	empty := compareConversation()
	empty.Messages = nil
	assert.ErrorContains(t, empty.validate(), "no messages")

	noTime := compareConversation()
	noTime.Session.CreatedAt = time.Time{}
	assert.ErrorContains(t, noTime.validate(), "timestamp")

	assert.NoError(t, compareConversation().validate())
}

// =============================================================================
// MARKDOWN
// =============================================================================

func TestMarkdownExport(t *testing.T) {
	out, err := NewMarkdownExporter(fixedOptions()).Export(compareConversation())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\ntitle: Rust vs Go\nsession: sess-1\nmode: compare\n"))
	assert.Contains(t, md, "models: [gpt-4o, claude-3-5-sonnet]\n")
	assert.Contains(t, md, "cost: 1.695\n")
	assert.Contains(t, md, "generator: neurochat\n")
	assert.Contains(t, md, "# Rust vs Go\n")
	assert.Contains(t, md, "- **Mode**: compare\n")

	assert.Contains(t, md, "### You <sub>10:00:00</sub>\n\nWhich is faster?")
	assert.Contains(t, md, "### gpt-4o <sub>10:00:02</sub>\n\nGo compiles faster.")
	assert.Contains(t, md, "### claude-3-5-sonnet <sub>10:00:03</sub>\n\nRust runs faster.")
	assert.Contains(t, md, "<sub>openai · 1.20s · 100 in / 50 out · $0.75</sub>")
	assert.Contains(t, md, "<sub>anthropic · 800ms · 100 in / 40 out · $0.90</sub>")
	assert.Contains(t, md, "*Exported from NeuroChat on March 2, 2025 at 3:04 PM*")

	// Answers to the same question share a turn; a rule precedes the next question.
	first := strings.Index(md, "### gpt-4o")
	second := strings.Index(md, "### claude-3-5-sonnet")
	third := strings.Index(md, "### You <sub>10:01:00</sub>")
	require.True(t, first < second && second < third)
	assert.NotContains(t, md[first:second], "---")
	assert.Contains(t, md[second:third], "---\n\n")
}

func TestMarkdownExport_Minimal(t *testing.T) {
	opts := fixedOptions()
	opts.IncludeMetadata = false
	opts.IncludeTimestamps = false

	conv := compareConversation()
	conv.Session.Title = "C# [draft]"
	out, err := NewMarkdownExporter(opts).Export(conv)
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "# C\\# \\[draft\\]\n"))
	assert.NotContains(t, md, "Session Information")
	assert.NotContains(t, md, "<sub>")
	assert.Contains(t, md, "### You\n\nWhich is faster?")
}

func TestMarkdownExport_RequiresMessages(t *testing.T) {
	conv := compareConversation()
	conv.Messages = nil
	_, err := NewMarkdownExporter(nil).Export(conv)
	assert.Error(t, err)
}

func TestRoleLabel(t *testing.T) {
	assert.Equal(t, "You", roleLabel("user", ""))
	assert.Equal(t, "gpt-4o", roleLabel("assistant", "gpt-4o"))
	assert.Equal(t, "Assistant", roleLabel("assistant", ""))
	assert.Equal(t, "System", roleLabel("system", ""))
	assert.Equal(t, "Unknown", roleLabel("", ""))
}

func TestEscapeYAML(t *testing.T) {
	assert.Equal(t, "plain title", escapeYAML("plain title"))
	assert.Equal(t, `"a: b"`, escapeYAML("a: b"))
	assert.Equal(t, `"say \"hi\"\nnow"`, escapeYAML("say \"hi\"\nnow"))
}

// =============================================================================
// JSON
// =============================================================================

func TestJSONExport(t *testing.T) {
	conv := compareConversation()
	out, err := NewJSONExporter(fixedOptions()).Export(conv)
	require.NoError(t, err)

	var doc struct {
		Session  store.Session   `json:"session"`
		Messages []store.Message `json:"messages"`
		Export   *struct {
			Generator  string          `json:"generator"`
			ExportedAt time.Time       `json:"exportedAt"`
			Models     []string        `json:"models"`
			TotalCost  decimal.Decimal `json:"totalCost"`
		} `json:"export"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))

	assert.Equal(t, conv.Session.ID, doc.Session.ID)
	assert.Equal(t, store.ModeCompare, doc.Session.Mode)
	require.Len(t, doc.Messages, 5)
	assert.Equal(t, "claude-3-5-sonnet", doc.Messages[2].Model)
	assert.Equal(t, 40, doc.Messages[2].TokensOut)

	require.NotNil(t, doc.Export)
	assert.Equal(t, "neurochat", doc.Export.Generator)
	assert.True(t, doc.Export.ExportedAt.Equal(exportTime))
	assert.Equal(t, []string{"gpt-4o", "claude-3-5-sonnet"}, doc.Export.Models)
	assert.True(t, doc.Export.TotalCost.Equal(decimal.RequireFromString("1.695")))
}

func TestJSONExport_WithoutMetadata(t *testing.T) {
	opts := fixedOptions()
	opts.IncludeMetadata = false

	conv := compareConversation()
	conv.Messages = nil
	out, err := NewJSONExporter(opts).Export(conv)
	require.NoError(t, err, "empty sessions export as JSON")

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.Contains(t, raw, "session")
	assert.NotContains(t, raw, "export")

	_, err = NewJSONExporter(nil).Export(nil)
	assert.Error(t, err)
}

// =============================================================================
// HTML
// =============================================================================

func TestHTMLExport(t *testing.T) {
	conv := compareConversation()
	conv.Session.Title = "<b>bold</b>"
	conv.Messages[0].Content = "<script>alert(1)</script>"
	conv.Messages[1].Content = "Try `a<b` first.\n\n```go\nfmt.Println(\"<hi>\")\n```"

	out, err := NewHTMLExporter(fixedOptions()).Export(conv)
	require.NoError(t, err)
	page := string(out)

	assert.True(t, strings.HasPrefix(page, "<!DOCTYPE html>"))
	assert.Contains(t, page, "<title>&lt;b&gt;bold&lt;/b&gt;</title>")
	assert.Contains(t, page, `<body class="dark-theme">`)
	assert.NotContains(t, page, "<script>")
	assert.Contains(t, page, "&lt;script&gt;alert(1)&lt;/script&gt;")

	assert.Contains(t, page, `<code class="inline-code">a&lt;b</code>`)
	assert.Contains(t, page, `<div class="code-lang">go</div>`)
	assert.Contains(t, page, `<code class="language-go">fmt.Println(&#34;&lt;hi&gt;&#34;)</code>`)

	assert.Contains(t, page, `border-left-color: #10a37f`, "openai answers are tinted")
	assert.Contains(t, page, `border-left-color: #d97706`, "anthropic answers are tinted")
	assert.Contains(t, page, `<span class="role-label">claude-3-5-sonnet</span>`)
	assert.Contains(t, page, `<span class="stat">100 in / 50 out</span>`)
	assert.Contains(t, page, "March 2, 2025 at 3:04 PM")
}

func TestHTMLExport_LightThemeWithoutMetadata(t *testing.T) {
	opts := fixedOptions()
	opts.Theme = "light"
	opts.IncludeMetadata = false

	out, err := NewHTMLExporter(opts).Export(compareConversation())
	require.NoError(t, err)
	page := string(out)

	assert.Contains(t, page, `<body class="light-theme">`)
	assert.NotContains(t, page, `<header class="header">`)
	assert.NotContains(t, page, `class="message-stats"`)
}

func TestFormatContent(t *testing.T) {
	got := formatContent("one\ntwo\n\nthree")
	assert.Equal(t, "<p>one<br>\ntwo</p>\n<p>three</p>", got)

	// A fence without a blank line before it still renders as a block.
	got = formatContent("intro\n```\nx := 1\n```")
	assert.Contains(t, got, `<pre><code class="language-">x := 1</code></pre>`)
	assert.NotContains(t, got, "\x00")
}

// =============================================================================
// FILES
// =============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		format string
		ext    string
	}{
		{"", ".md"},
		{"markdown", ".md"},
		{"MD", ".md"},
		{"json", ".json"},
		{"html", ".html"},
		{"htm", ".html"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			exp, err := New(tt.format, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.ext, exp.FileExtension())
		})
	}

	_, err := New("pdf", nil)
	assert.ErrorContains(t, err, "unsupported export format")
}

func TestExportToFile(t *testing.T) {
	opts := fixedOptions()
	opts.OutputDir = t.TempDir()

	exp, err := New("json", opts)
	require.NoError(t, err)
	path, err := ExportToFile(compareConversation(), exp, opts)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(opts.OutputDir, "neurochat_Rust_vs_Go_20250302_150405.json"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}
}

func TestExportToFile_PropagatesExportError(t *testing.T) {
	opts := fixedOptions()
	opts.OutputDir = t.TempDir()

	conv := compareConversation()
	conv.Messages = nil
	_, err := ExportToFile(conv, NewMarkdownExporter(opts), opts)
	assert.ErrorContains(t, err, "export failed")

	entries, err := os.ReadDir(opts.OutputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b-c-", sanitizeFilename("a/b:c?"))
	assert.Equal(t, "two_words", sanitizeFilename("two words"))
	assert.Equal(t, "session", sanitizeFilename(""))
	assert.Len(t, []rune(sanitizeFilename(strings.Repeat("é", 80))), 50)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "500ms", formatDuration(500))
	assert.Equal(t, "1.50s", formatDuration(1500))
	assert.Equal(t, "2m 5s", formatDuration(125000))

	assert.Equal(t, "$0.0042", formatCost(decimal.RequireFromString("0.0042")))
	assert.Equal(t, "$1.50", formatCost(decimal.RequireFromString("1.5")))

	parts := statParts(&store.Message{Role: "assistant", Model: "not-a-model", TokensIn: 3, TokensOut: 4})
	assert.Equal(t, []string{"3 in / 4 out"}, parts)
}
