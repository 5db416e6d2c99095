// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jeranaias/neurochat/internal/export"
	"github.com/jeranaias/neurochat/internal/provider"
	"github.com/jeranaias/neurochat/internal/registry"
	"github.com/jeranaias/neurochat/internal/store"
	"github.com/jeranaias/neurochat/internal/util"
)

// =============================================================================
// TABLES
// =============================================================================

// column is one column of a plain text table.
type column struct {
	title string
	width int
}

// writeTable writes rows padded to the column widths. The last column is
// not padded.
func writeTable(w io.Writer, cols []column, rows [][]string) {
	line := func(cells []string, style func(string) string) {
		var b strings.Builder
		for i, c := range cols {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			if i == len(cols)-1 {
				b.WriteString(util.TruncateWidth(cell, c.width))
			} else {
				b.WriteString(util.PadWidth(cell, c.width))
				b.WriteString("  ")
			}
		}
		fmt.Fprintln(w, style(strings.TrimRight(b.String(), " ")))
	}

	titles := make([]string, len(cols))
	for i, c := range cols {
		titles[i] = c.title
	}
	line(titles, func(s string) string { return LabelStyle.UnsetWidth().Render(s) })
	for _, r := range rows {
		line(r, func(s string) string { return s })
	}
}

// writeModelTable lists models with their per-token prices.
func writeModelTable(w io.Writer, models []registry.ModelDescriptor) {
	cols := []column{{"ID", 22}, {"NAME", 18}, {"PROVIDER", 10}, {"CONTEXT", 9}, {"IN/TOKEN", 10}, {"OUT/TOKEN", 10}}
	rows := make([][]string, 0, len(models))
	for _, m := range models {
		rows = append(rows, []string{
			m.ID, m.Name, m.Provider, formatTokens(m.ContextWindow),
			formatPrice(m.InputPrice), formatPrice(m.OutputPrice),
		})
	}
	writeTable(w, cols, rows)
}

// =============================================================================
// MODELS
// =============================================================================

// models lists the catalog, or one model when an id is given.
func (a *app) models(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)
	c := a.client(args)

	if id := p.Positional(0); id != "" {
		m, err := c.Model(ctx, id)
		if err != nil {
			return err
		}
		if args.JSON {
			return a.writeJSON(CmdModels, m)
		}
		writeModelTable(a.out, []registry.ModelDescriptor{*m})
		return nil
	}

	list, err := c.Models(ctx)
	if err != nil {
		return err
	}
	if args.JSON {
		return a.writeJSON(CmdModels, list)
	}
	writeModelTable(a.out, list.Models)
	fmt.Fprintln(a.errOut, DimStyle.Render("compare defaults: "+strings.Join(list.Defaults, ", ")))
	return nil
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionsUsage = "neurochat sessions [list|show|new|rename|mode|delete|export] ..."

// sessions dispatches the session subcommands. With no subcommand it
// lists recent sessions.
func (a *app) sessions(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, "stdout", "open", "no-metadata")
	c := a.client(args)

	switch sub := p.Positional(0); sub {
	case "", "list", "ls":
		limit, err := p.FlagInt("limit", 0)
		if err != nil {
			return err
		}
		list, err := c.Sessions(ctx, limit)
		if err != nil {
			return err
		}
		if args.JSON {
			return a.writeJSON(CmdSessions, list)
		}
		a.writeSessionList(list, time.Now())
		return nil

	case "show", "get":
		id := p.Positional(1)
		if id == "" {
			return ErrMissingArgument("id", "neurochat sessions show <id>")
		}
		d, err := c.Session(ctx, id)
		if err != nil {
			return err
		}
		if args.JSON {
			return a.writeJSON(CmdSessions, d)
		}
		a.writeSessionDetail(d)
		return nil

	case "new", "create":
		mode := p.FlagOrDefault("mode", string(store.ModeSingle))
		sess, err := c.CreateSession(ctx, mode, p.Flag("title"))
		if err != nil {
			return err
		}
		if args.JSON {
			return a.writeJSON(CmdSessions, sess)
		}
		fmt.Fprintln(a.out, sess.ID)
		return nil

	case "rename":
		id, title := p.Positional(1), p.Text(2)
		if id == "" || title == "" {
			return ErrMissingArgument("title", "neurochat sessions rename <id> <title>")
		}
		return a.updated(args, c.UpdateSession(ctx, id, "", title), id)

	case "mode":
		id, mode := p.Positional(1), p.Positional(2)
		if id == "" || mode == "" {
			return ErrMissingArgument("mode", "neurochat sessions mode <id> single|compare")
		}
		if !store.Mode(mode).Valid() {
			return NewValidationError("mode", mode, "must be single or compare")
		}
		return a.updated(args, c.UpdateSession(ctx, id, mode, ""), id)

	case "delete", "rm":
		id := p.Positional(1)
		if id == "" {
			return ErrMissingArgument("id", "neurochat sessions delete <id>")
		}
		if err := c.DeleteSession(ctx, id); err != nil {
			return err
		}
		if args.JSON {
			return a.writeJSON(CmdSessions, map[string]string{"deleted": id})
		}
		fmt.Fprintf(a.out, "%s deleted %s\n", RenderStatus("ok"), id)
		return nil

	case "export":
		return a.exportSession(ctx, args, p, c)

	default:
		return &ValidationError{Field: "subcommand", Value: sub, Reason: "unknown sessions subcommand", Example: sessionsUsage}
	}
}

// ExportResult is the JSON answer of sessions export.
type ExportResult struct {
	Session string `json:"session"`
	Format  string `json:"format"`
	Path    string `json:"path"`
}

// exportSession renders a session as markdown, json or html, into a file
// or onto stdout with --stdout.
func (a *app) exportSession(ctx context.Context, args Args, p *ArgParser, c *Client) error {
	id := p.Positional(1)
	if id == "" {
		return ErrMissingArgument("id", "neurochat sessions export <id> [--format markdown|json|html]")
	}

	opts := export.DefaultOptions()
	opts.OutputDir = p.FlagOrDefault("dir", ".")
	opts.OpenAfterExport = p.BoolFlag("open")
	opts.IncludeMetadata = !p.BoolFlag("no-metadata")
	opts.Theme = p.FlagOrDefault("theme", "dark")

	format := p.FlagOrDefault("format", "markdown")
	exp, err := export.New(format, opts)
	if err != nil {
		return NewValidationError("format", format, "must be one of "+strings.Join(export.Formats, ", "))
	}

	d, err := c.Session(ctx, id)
	if err != nil {
		return err
	}
	conv := &export.Conversation{Session: d.Session, Messages: d.Messages}

	if p.BoolFlag("stdout") {
		data, err := exp.Export(conv)
		if err != nil {
			return err
		}
		_, err = a.out.Write(data)
		return err
	}

	path, err := export.ExportToFile(conv, exp, opts)
	if err != nil {
		return err
	}
	if args.JSON {
		return a.writeJSON(CmdSessions, ExportResult{Session: id, Format: strings.TrimPrefix(exp.FileExtension(), "."), Path: path})
	}
	fmt.Fprintf(a.out, "%s exported %s\n", RenderStatus("ok"), path)
	return nil
}

func (a *app) updated(args Args, err error, id string) error {
	if err != nil {
		return err
	}
	if args.JSON {
		return a.writeJSON(CmdSessions, map[string]string{"updated": id})
	}
	fmt.Fprintf(a.out, "%s updated %s\n", RenderStatus("ok"), id)
	return nil
}

func (a *app) writeSessionList(list []store.SessionSummary, now time.Time) {
	if len(list) == 0 {
		fmt.Fprintln(a.out, DimStyle.Render("no sessions yet"))
		return
	}
	cols := []column{{"ID", 36}, {"MODE", 7}, {"MSGS", 5}, {"AGE", 5}, {"TITLE", 40}}
	rows := make([][]string, 0, len(list))
	for _, s := range list {
		title := s.Title
		if title == "" && s.LastMessage != nil {
			title = util.FirstLine(s.LastMessage.Content)
		}
		rows = append(rows, []string{
			s.ID, string(s.Mode), strconv.Itoa(s.MessageCount), formatAge(s.UpdatedAt, now), title,
		})
	}
	writeTable(a.out, cols, rows)
}

func (a *app) writeSessionDetail(d *SessionDetail) {
	title := d.Session.Title
	if title == "" {
		title = "(untitled)"
	}
	fmt.Fprintln(a.out, TitleStyle.Render(title))
	fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Session"), d.Session.ID)
	fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Mode"), d.Session.Mode)
	fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Created"), d.Session.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintln(a.out, RenderSeparator(min(terminalWidth(a.out), 80)))

	for _, m := range d.Messages {
		who := "you"
		if m.Role == string(provider.RoleAssistant) {
			who = m.Model
			if m.LatencyMs > 0 {
				who += " · " + formatLatency(m.LatencyMs)
			}
		}
		fmt.Fprintln(a.out, PromptStyle.Render(who))
		fmt.Fprintln(a.out, strings.TrimSpace(m.Content))
		fmt.Fprintln(a.out)
	}
}

// =============================================================================
// ANALYTICS
// =============================================================================

// analytics prints usage totals and per-model usage.
func (a *app) analytics(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)
	limit, err := p.FlagInt("limit", 0)
	if err != nil {
		return err
	}
	an, err := a.client(args).Analytics(ctx, p.Flag("range", "timeRange"), limit)
	if err != nil {
		return err
	}
	if args.JSON {
		return a.writeJSON(CmdAnalytics, an)
	}

	fmt.Fprintln(a.out, TitleStyle.Render("Usage, last "+an.TimeRange))
	st := an.UserStats
	fmt.Fprintf(a.out, "%s%d\n", RenderLabel("Messages"), st.TotalMessages)
	fmt.Fprintf(a.out, "%s%d\n", RenderLabel("Active sessions"), st.ActiveSessions)
	fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Total cost"), formatCost(st.TotalCost))
	fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Avg latency"), formatLatency(int64(st.AvgLatency)))

	if len(an.ModelUsage) > 0 {
		fmt.Fprintln(a.out)
		cols := []column{{"MODEL", 22}, {"PROVIDER", 10}, {"CALLS", 6}, {"TOKENS", 10}, {"COST", 10}}
		rows := make([][]string, 0, len(an.ModelUsage))
		for _, u := range an.ModelUsage {
			rows = append(rows, []string{
				u.Model, u.Provider, strconv.Itoa(u.Count), formatTokens(u.Tokens), formatCost(u.Cost),
			})
		}
		writeTable(a.out, cols, rows)
	}
	return nil
}

// =============================================================================
// STATUS
// =============================================================================

// status prints the server's health.
func (a *app) status(ctx context.Context, args Args) error {
	c := a.client(args)
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	if args.JSON {
		return a.writeJSON(CmdStatus, h)
	}
	fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Server"), c.BaseURL())
	fmt.Fprintf(a.out, "%s%s %s\n", RenderLabel("Status"), RenderStatus(h.Status), h.Status)
	if h.Version != "" {
		fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Version"), h.Version)
	}
	fmt.Fprintf(a.out, "%s%s %s\n", RenderLabel("Store"), RenderStatus(h.Store), h.Store)
	return nil
}
