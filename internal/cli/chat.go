// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/shopspring/decimal"

	"github.com/jeranaias/neurochat/internal/config"
	"github.com/jeranaias/neurochat/internal/registry"
)

// =============================================================================
// LINE EDITING
// =============================================================================

// lineReader provides history and line editing for the REPL.
type lineReader struct {
	line        *liner.State
	historyFile string
}

func newLineReader() *lineReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeCommand)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &lineReader{line: line, historyFile: filepath.Join(dir, "chat_history")}
	if f, err := os.Open(r.historyFile); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}
	return r
}

// Prompt reads one line and records non-empty input in the history.
func (r *lineReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves the history with owner-only permissions and restores the
// terminal.
func (r *lineReader) Close() {
	if err := os.MkdirAll(filepath.Dir(r.historyFile), 0700); err == nil {
		if f, err := os.OpenFile(r.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			_, _ = r.line.WriteHistory(f)
			f.Close()
		}
	}
	r.line.Close()
}

var slashCommands = []string{"/help", "/model ", "/models", "/new", "/session", "/cost", "/quit"}

func completeCommand(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range slashCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	if rest, ok := strings.CutPrefix(line, "/model "); ok {
		for _, m := range registry.All() {
			if strings.HasPrefix(m.ID, rest) {
				out = append(out, "/model "+m.ID)
			}
		}
	}
	return out
}

// =============================================================================
// REPL
// =============================================================================

// chatSession is the state of one REPL.
type chatSession struct {
	client    *Client
	model     string
	sessionID string
	turns     int
	// cost is estimated from the registry; the server is authoritative.
	cost decimal.Decimal
}

const chatHelp = `Commands:
  /model <id>   switch model (the session continues)
  /models       list models
  /new          start a new session
  /session      show the current session id
  /cost         estimated cost so far
  /quit         leave (Ctrl+D also works)
`

// chat runs the interactive REPL. Each line is sent to the current model
// in the current session; Ctrl+C cancels an answer in progress.
func (a *app) chat(ctx context.Context, args Args) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}
	p := NewArgParser(args.Raw)
	s := &chatSession{
		client:    a.client(args),
		model:     p.Flag("model", "m"),
		sessionID: p.Flag("session", "s"),
		cost:      decimal.Zero,
	}
	if s.model == "" {
		s.model = a.defaultModel(args)
	}

	lr := newLineReader()
	defer lr.Close()

	fmt.Fprintf(a.out, "%s %s\n", TitleStyle.Render("neurochat"), DimStyle.Render("model "+s.model+" · /help for commands"))

	for {
		input, err := lr.Prompt("you> ")
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D and closed stdin all end the REPL.
			fmt.Fprintln(a.out)
			a.chatSummary(s)
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			if !a.slashCommand(s, input) {
				a.chatSummary(s)
				return nil
			}
			continue
		}
		if err := a.chatTurn(ctx, s, input); err != nil {
			DisplayError(a.errOut, "chat", err, false)
		}
	}
}

// chatTurn sends one message and prints the answer as it streams.
func (a *app) chatTurn(ctx context.Context, s *chatSession, message string) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Fprint(a.out, PromptStyle.Render(s.model+"> "))
	var out strings.Builder
	sessionID, err := s.client.Chat(turnCtx, ChatRequest{
		SessionID: s.sessionID,
		Model:     s.model,
		Message:   message,
	}, func(fragment string) error {
		out.WriteString(fragment)
		_, werr := io.WriteString(a.out, fragment)
		return werr
	})
	fmt.Fprintln(a.out)

	if sessionID != "" {
		s.sessionID = sessionID
	}
	if errors.Is(turnCtx.Err(), context.Canceled) && ctx.Err() == nil {
		fmt.Fprintln(a.errOut, WarningStyle.Render("[cancelled]"))
		return nil
	}
	if out.Len() > 0 {
		s.turns++
		if m, ok := registry.Lookup(s.model); ok {
			// Prior turns resent as context are not counted.
			s.cost = s.cost.Add(m.Cost(estimateTokens(message), estimateTokens(out.String())))
		}
	}
	return err
}

// estimateTokens approximates a token count at four bytes per token.
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// slashCommand handles a /command. It returns false to leave the REPL.
func (a *app) slashCommand(s *chatSession, input string) bool {
	cmd, arg, _ := strings.Cut(input, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit", "/exit", "/q":
		return false
	case "/help", "/?":
		fmt.Fprint(a.out, chatHelp)
	case "/model":
		if arg == "" {
			fmt.Fprintf(a.out, "model: %s\n", s.model)
			break
		}
		if _, ok := registry.Lookup(arg); !ok {
			fmt.Fprintln(a.errOut, WarningStyle.Render("unknown model "+arg+"; it will be routed as-is"))
		}
		s.model = arg
		fmt.Fprintf(a.out, "model: %s\n", s.model)
	case "/models":
		writeModelTable(a.out, registry.All())
	case "/new":
		s.sessionID = ""
		fmt.Fprintln(a.out, "new session")
	case "/session":
		if s.sessionID == "" {
			fmt.Fprintln(a.out, "no session yet")
		} else {
			fmt.Fprintln(a.out, s.sessionID)
		}
	case "/cost":
		fmt.Fprintf(a.out, "~%s over %d turns\n", formatCost(s.cost), s.turns)
	default:
		fmt.Fprintln(a.errOut, WarningStyle.Render("unknown command "+cmd+"; /help lists commands"))
	}
	return true
}

func (a *app) chatSummary(s *chatSession) {
	if s.turns == 0 {
		return
	}
	fmt.Fprintln(a.errOut, DimStyle.Render(fmt.Sprintf("%d turns · ~%s · session %s", s.turns, formatCost(s.cost), s.sessionID)))
}
