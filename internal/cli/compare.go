// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/jeranaias/neurochat/internal/chat"
	"github.com/jeranaias/neurochat/internal/registry"
	"github.com/jeranaias/neurochat/internal/util"
)

// minColumnWidth is the narrowest comparison column, borders included.
// Narrower terminals get the results stacked.
const minColumnWidth = 32

// compare asks several models the same message. Terminal output shows
// each model as it finishes, then the answers side by side.
func (a *app) compare(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)
	message := p.Text(0)
	if message == "" {
		message = a.readPipedMessage()
	}
	if message == "" {
		return ErrMissingArgument("message", `neurochat compare [-m a,b,c] "your question"`)
	}

	models := p.FlagList("models", "model", "m")
	if len(models) == 0 {
		models = registry.DefaultModels()
	}
	req := CompareRequest{SessionID: p.Flag("session", "s"), Models: models, Message: message}
	c := a.client(args)

	if args.JSON {
		resp, err := c.Compare(ctx, req)
		if err != nil {
			return err
		}
		return a.writeJSON(CmdCompare, resp)
	}

	results := make([]chat.ComparisonResult, len(models))
	for i, m := range models {
		results[i] = chat.ComparisonResult{Model: m, Error: true, ErrorMessage: "no result"}
	}

	sessionID, err := c.CompareStream(ctx, req, func(f CompareFrame) error {
		if !f.Done || f.Result == nil || f.Index < 0 || f.Index >= len(results) {
			return nil
		}
		results[f.Index] = *f.Result
		a.progress(f)
		return nil
	})
	if err != nil {
		return err
	}

	if isTerminal(a.out) {
		fmt.Fprint(a.out, renderComparison(results, terminalWidth(a.out)))
	} else {
		writeComparisonPlain(a.out, results)
	}
	fmt.Fprintln(a.errOut, DimStyle.Render(compareSummary(results, sessionID)))
	return nil
}

// progress reports one finished model on stderr.
func (a *app) progress(f CompareFrame) {
	if !isTerminal(a.errOut) {
		return
	}
	mark := SuccessStyle.Render("✓")
	if f.Result.Error {
		mark = ErrorStyle.Render("✗")
	}
	fmt.Fprintf(a.errOut, "%s %s %s\n", mark, f.Model, DimStyle.Render(formatLatency(f.Result.LatencyMs)))
}

// compareSummary is the one-line footer of a comparison.
func compareSummary(results []chat.ComparisonResult, sessionID string) string {
	total := decimal.Zero
	failed := 0
	for _, r := range results {
		total = total.Add(r.Cost)
		if r.Error {
			failed++
		}
	}
	s := fmt.Sprintf("%d models · %d failed · total %s", len(results), failed, formatCost(total))
	if sessionID != "" {
		s += " · session " + sessionID
	}
	return s
}

// =============================================================================
// LAYOUT
// =============================================================================

// renderComparison lays the results out in columns across width cells,
// or stacked when the columns would be narrower than minColumnWidth.
func renderComparison(results []chat.ComparisonResult, width int) string {
	n := len(results)
	if n == 0 {
		return ""
	}

	colWidth := (width - columnGap*(n-1)) / n
	if colWidth < minColumnWidth {
		var b strings.Builder
		for _, r := range results {
			b.WriteString(renderColumn(r, width))
			b.WriteByte('\n')
		}
		return b.String()
	}

	gap := strings.Repeat(" ", columnGap)
	blocks := make([]string, 0, 2*n-1)
	for i, r := range results {
		if i > 0 {
			blocks = append(blocks, gap)
		}
		blocks = append(blocks, renderColumn(r, colWidth))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, blocks...) + "\n"
}

// renderColumn renders one boxed result, width cells wide including the
// border.
func renderColumn(r chat.ComparisonResult, width int) string {
	style := ColumnStyle
	if r.Error {
		style = ColumnFailedStyle
	}
	// Border takes one cell per side; padding is inside Width.
	inner := width - 2 - style.GetHorizontalPadding()

	header := providerStyle(r.Provider).Render(util.TruncateWidth(r.Model, inner))
	meta := fmt.Sprintf("%s · %s · %s/%s tok",
		formatLatency(r.LatencyMs), formatCost(r.Cost),
		formatTokens(r.Tokens.Input), formatTokens(r.Tokens.Output))
	meta = DimStyle.Render(util.TruncateWidth(meta, inner))

	body := r.Content
	if r.Error {
		body = ErrorStyle.Render(r.ErrorMessage)
	}

	return style.Width(width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, header, meta, "", body))
}

// writeComparisonPlain is the layout for piped output: one markdown
// section per model.
func writeComparisonPlain(w io.Writer, results []chat.ComparisonResult) {
	for _, r := range results {
		fmt.Fprintf(w, "## %s\n\n", r.Model)
		if r.Error {
			fmt.Fprintf(w, "error: %s\n\n", r.ErrorMessage)
			continue
		}
		fmt.Fprintf(w, "%s\n\n", strings.TrimSpace(r.Content))
	}
}
