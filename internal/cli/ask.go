// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// renderMarkdown renders content for a terminal of the given width. It
// returns content unchanged when rendering fails.
func renderMarkdown(content string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(min(width-4, 100)),
	)
	if err != nil {
		return content
	}
	out, err := r.Render(content)
	if err != nil {
		return content
	}
	return out
}

// =============================================================================
// ASK
// =============================================================================

// AskResult is the --json form of the ask command.
type AskResult struct {
	SessionID string `json:"sessionId"`
	Model     string `json:"model"`
	Content   string `json:"content"`
	Error     string `json:"error,omitempty"`
}

// ask sends one message. On a terminal the answer is collected and
// rendered as markdown; piped output receives fragments as they arrive.
func (a *app) ask(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)
	message := p.Text(0)
	if message == "" {
		message = a.readPipedMessage()
	}
	if message == "" {
		return ErrMissingArgument("message", `neurochat ask [-m model] "your question"`)
	}

	req := ChatRequest{
		SessionID: p.Flag("session", "s"),
		Model:     p.Flag("model", "m"),
		Message:   message,
	}
	if req.Model == "" {
		req.Model = a.defaultModel(args)
	}

	c := a.client(args)
	live := !args.JSON && !isTerminal(a.out)

	var content strings.Builder
	sessionID, err := c.Chat(ctx, req, func(fragment string) error {
		content.WriteString(fragment)
		if live {
			_, werr := io.WriteString(a.out, fragment)
			return werr
		}
		return nil
	})

	var streamErr *StreamError
	if err != nil && !errors.As(err, &streamErr) {
		return err
	}

	if args.JSON {
		res := AskResult{SessionID: sessionID, Model: req.Model, Content: content.String()}
		if streamErr != nil {
			res.Error = streamErr.Message
		}
		if werr := a.writeJSON(CmdAsk, res); werr != nil {
			return werr
		}
		if err != nil {
			return reportedError{err}
		}
		return nil
	}

	switch {
	case live:
		if content.Len() > 0 && !strings.HasSuffix(content.String(), "\n") {
			fmt.Fprintln(a.out)
		}
	case content.Len() > 0:
		fmt.Fprint(a.out, renderMarkdown(content.String(), terminalWidth(a.out)))
	}

	if sessionID != "" {
		fmt.Fprintln(a.errOut, DimStyle.Render(fmt.Sprintf("%s · session %s", req.Model, sessionID)))
	}
	return err
}

// readPipedMessage reads the message from stdin when it is not a
// terminal, so "cat notes.md | neurochat ask" works.
func (a *app) readPipedMessage() string {
	if a.in == nil || CanPrompt() {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(a.in, 1<<20))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
