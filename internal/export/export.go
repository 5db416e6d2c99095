// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/neurochat/internal/registry"
	"github.com/jeranaias/neurochat/internal/store"
	"github.com/jeranaias/neurochat/internal/util"
)

// =============================================================================
// CONVERSATION
// =============================================================================

// Conversation is a session together with its messages in creation order.
type Conversation struct {
	Session  store.Session   `json:"session"`
	Messages []store.Message `json:"messages"`
}

// Title returns the session title, or a placeholder for untitled sessions.
func (c *Conversation) Title() string {
	if t := strings.TrimSpace(c.Session.Title); t != "" {
		return t
	}
	return "Untitled session"
}

// Models returns the distinct models that answered, in order of first use.
func (c *Conversation) Models() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range c.Messages {
		if m.Model == "" || seen[m.Model] {
			continue
		}
		seen[m.Model] = true
		out = append(out, m.Model)
	}
	return out
}

// TotalCost prices every assistant message from the model catalog.
func (c *Conversation) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for _, m := range c.Messages {
		total = total.Add(messageCost(&m))
	}
	return total
}

func (c *Conversation) validate() error {
	if c == nil {
		return errors.New("conversation is nil")
	}
	if len(c.Messages) == 0 {
		return errors.New("conversation has no messages")
	}
	if c.Session.CreatedAt.IsZero() {
		return errors.New("conversation has invalid creation timestamp")
	}
	return nil
}

func messageCost(m *store.Message) decimal.Decimal {
	if m.Model == "" {
		return decimal.Zero
	}
	return registry.Cost(m.Model, m.TokensIn, m.TokensOut)
}

func messageProvider(m *store.Message) string {
	if d, ok := registry.Lookup(m.Model); ok {
		return d.Provider
	}
	return registry.UnknownProvider
}

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a conversation in one format.
type Exporter interface {
	// Export converts a conversation to the target format and returns the content.
	Export(conv *Conversation) ([]byte, error)

	// FileExtension returns the appropriate file extension (e.g., ".md", ".html").
	FileExtension() string

	// MimeType returns the MIME type for the exported format.
	MimeType() string
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is the directory where files will be saved.
	// Default: current working directory
	OutputDir string

	// OpenAfterExport opens the file in the default application.
	OpenAfterExport bool

	// IncludeMetadata includes the session header and per-answer stats.
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool

	// Theme for HTML export ("light" or "dark").
	// Default: "dark"
	Theme string

	// Now is the export time shown in footers. Zero means time.Now.
	Now time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
	}
}

func (o *Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// Formats lists the accepted format names.
var Formats = []string{"markdown", "json", "html"}

// New returns the exporter for format ("markdown"/"md", "json",
// "html"/"htm").
func New(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case "markdown", "md", "":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s (want %s)", format, strings.Join(Formats, ", "))
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile exports a conversation to a new file in opts.OutputDir and
// returns its path. The file name is derived from the session title and
// the export time.
func ExportToFile(conv *Conversation, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(conv)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	filename := fmt.Sprintf("neurochat_%s_%s%s",
		sanitizeFilename(conv.Title()),
		opts.now().Format("20060102_150405"),
		exporter.FileExtension(),
	)

	dir := opts.OutputDir
	if dir == "" {
		dir = "."
	}
	outputPath := filepath.Join(dir, filename)
	// Conversations may hold private content.
	if err := util.AtomicWriteFile(outputPath, content, 0600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	if opts.OpenAfterExport {
		if err := openFile(outputPath); err != nil {
			return outputPath, fmt.Errorf("open %s: %w", outputPath, err)
		}
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	s = util.TruncateRunes(s, 50)

	replacer := map[rune]rune{
		'/':  '-',
		'\\': '-',
		':':  '-',
		'*':  '-',
		'?':  '-',
		'"':  '-',
		'<':  '-',
		'>':  '-',
		'|':  '-',
		' ':  '_',
		'\t': '_',
		'\n': '_',
		'\r': '_',
	}

	result := []rune{}
	for _, r := range s {
		if replacement, found := replacer[r]; found {
			result = append(result, replacement)
		} else if r < 32 || r == 127 {
			result = append(result, '-')
		} else {
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "session"
	}
	return string(result)
}

// openFile opens a file in the default application for the OS.
func openFile(path string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "windows":
		// Quoted empty string is the window title; the path must come last.
		cmd = exec.Command("cmd", "/c", "start", `""`, path)
	case "darwin":
		cmd = exec.Command("open", path)
	case "linux":
		cmd = exec.Command("xdg-open", path)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}

// formatDuration formats a duration in milliseconds to a human-readable string.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	if seconds < 60 {
		return fmt.Sprintf("%.2fs", seconds)
	}
	minutes := int(seconds / 60)
	remainingSeconds := int(seconds) % 60
	return fmt.Sprintf("%dm %ds", minutes, remainingSeconds)
}

// formatCost renders a USD amount; sub-cent amounts keep four decimals.
func formatCost(d decimal.Decimal) string {
	if d.LessThan(decimal.NewFromFloat(0.01)) {
		return "$" + d.StringFixed(4)
	}
	return "$" + d.StringFixed(2)
}

// formatTimestamp formats a timestamp for display.
func formatTimestamp(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

// formatShortTimestamp formats a timestamp for inline display.
func formatShortTimestamp(t time.Time) string {
	return t.Format("15:04:05")
}

// statParts lists the stats of an assistant message.
func statParts(m *store.Message) []string {
	var parts []string
	if p := messageProvider(m); p != registry.UnknownProvider {
		parts = append(parts, p)
	}
	if m.LatencyMs > 0 {
		parts = append(parts, formatDuration(m.LatencyMs))
	}
	if m.TokensIn > 0 || m.TokensOut > 0 {
		parts = append(parts, fmt.Sprintf("%d in / %d out", m.TokensIn, m.TokensOut))
	}
	if cost := messageCost(m); cost.IsPositive() {
		parts = append(parts, formatCost(cost))
	}
	return parts
}
