// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"runtime"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/neurochat/internal/config"
)

// Version information, set at build time with -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// COMMANDS
// =============================================================================

// Command identifies a CLI subcommand.
type Command int

const (
	CmdUnknown Command = iota
	CmdServe
	CmdAsk
	CmdCompare
	CmdChat
	CmdModels
	CmdSessions
	CmdAnalytics
	CmdStatus
	CmdConfig
	CmdToken
	CmdPurge
	CmdVersion
	CmdHelp
)

var commandNames = map[string]Command{
	"serve":     CmdServe,
	"ask":       CmdAsk,
	"compare":   CmdCompare,
	"chat":      CmdChat,
	"models":    CmdModels,
	"sessions":  CmdSessions,
	"session":   CmdSessions,
	"analytics": CmdAnalytics,
	"status":    CmdStatus,
	"config":    CmdConfig,
	"token":     CmdToken,
	"purge":     CmdPurge,
	"version":   CmdVersion,
	"--version": CmdVersion,
	"help":      CmdHelp,
	"-h":        CmdHelp,
	"--help":    CmdHelp,
}

// String returns the canonical command name.
func (c Command) String() string {
	switch c {
	case CmdServe:
		return "serve"
	case CmdAsk:
		return "ask"
	case CmdCompare:
		return "compare"
	case CmdChat:
		return "chat"
	case CmdModels:
		return "models"
	case CmdSessions:
		return "sessions"
	case CmdAnalytics:
		return "analytics"
	case CmdStatus:
		return "status"
	case CmdConfig:
		return "config"
	case CmdToken:
		return "token"
	case CmdPurge:
		return "purge"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Args holds the global flags and the arguments of the command.
type Args struct {
	// ServerURL overrides the server address (--server).
	ServerURL string
	// Token is the bearer token sent to the server (--token).
	Token string
	// ConfigPath overrides the config file location (--config).
	ConfigPath string
	// JSON switches every command to the JSON envelope (--json).
	JSON bool
	// Raw holds the command's own arguments, global flags removed.
	Raw []string
}

// =============================================================================
// USAGE
// =============================================================================

const usageText = `neurochat - multi-model LLM chat

USAGE:
  neurochat [global flags] <command> [arguments]

SERVER:
  serve [--addr host:port]           Run the HTTP API server

CHAT:
  ask [-m model] [-s session] <message>
                                     Send one message and print the answer
  compare [-m a,b,c] [-s session] <message>
                                     Ask several models side by side
  chat [-m model] [-s session]       Interactive chat

DATA:
  models [id]                        List the model catalog
  sessions [list] [--limit N]        Recent sessions
  sessions show <id>                 A session with its messages
  sessions new [--mode single|compare] [--title T]
  sessions rename <id> <title>
  sessions mode <id> single|compare
  sessions delete <id>
  sessions export <id> [--format markdown|json|html] [--dir D] [--stdout] [--open]
  analytics [--range 7d|30d|90d] [--limit N]
  status                             Server health

ADMIN:
  config init [--force]              Write a default config file
  config show                        Print the effective config (secrets redacted)
  config get <key>                   Print one value, e.g. chat.max_tokens
  config set <key> <value>           Change one value
  config path                        Print the config file location
  token [--user id] [--save]         Create an API token and its hash
  purge --older-than 90d [--yes]     Delete old sessions from the store

  version                            Version information
  help                               This text

GLOBAL FLAGS:
  --server URL      Server address (env NEUROCHAT_SERVER)
  --token T         API token (env NEUROCHAT_TOKEN)
  --config PATH     Config file (default ~/.neurochat/config.toml)
  --json            Machine-readable output

EXAMPLES:
  neurochat serve
  neurochat ask -m claude-3-5-sonnet "Explain CRDTs briefly"
  neurochat compare -m gpt-4o,gemini-2.0-flash "Write a haiku about Go"
  neurochat sessions show 6f1c2b4e-0d7a-4c55-9a0e-1b2f3c4d5e6f
`

// PrintUsage writes the help text to w.
func PrintUsage(w io.Writer) {
	fmt.Fprint(w, usageText)
}

// VersionData is the --json form of the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"gitCommit"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
}

// =============================================================================
// PARSING
// =============================================================================

// Parse splits argv (without the program name) into a command and its
// arguments. Global flags may appear anywhere before a "--".
func Parse(argv []string) (Command, Args, error) {
	args, rest, err := parseGlobalFlags(argv)
	if err != nil {
		return CmdUnknown, args, err
	}
	if len(rest) == 0 {
		return CmdHelp, args, nil
	}

	name := strings.ToLower(rest[0])
	args.Raw = rest[1:]
	cmd, ok := commandNames[name]
	if !ok {
		return CmdUnknown, args, &ValidationError{
			Field:   "command",
			Value:   rest[0],
			Reason:  "unknown command",
			Example: "neurochat help",
		}
	}
	return cmd, args, nil
}

// parseGlobalFlags removes the global flags from argv.
func parseGlobalFlags(argv []string) (Args, []string, error) {
	var args Args
	var rest []string

	value := func(i int, flag string) (string, error) {
		if i+1 >= len(argv) {
			return "", ErrMissingArgument(flag, "neurochat "+flag+" <value> ...")
		}
		return argv[i+1], nil
	}

	for i := 0; i < len(argv); i++ {
		arg := argv[i]
		if arg == "--" {
			rest = append(rest, argv[i:]...)
			break
		}

		name, inline, hasInline := strings.Cut(arg, "=")
		var dst *string
		switch name {
		case "--server":
			dst = &args.ServerURL
		case "--token":
			dst = &args.Token
		case "--config":
			dst = &args.ConfigPath
		case "--json":
			args.JSON = true
			continue
		default:
			rest = append(rest, arg)
			continue
		}

		if hasInline {
			*dst = inline
			continue
		}
		v, err := value(i, name)
		if err != nil {
			return args, nil, err
		}
		*dst = v
		i++
	}
	return args, rest, nil
}

// =============================================================================
// RUN
// =============================================================================

// app carries the process environment so commands can be tested with
// buffers in place of the terminal.
type app struct {
	out    io.Writer
	errOut io.Writer
	in     io.Reader
	getenv func(string) string
}

func newApp(out, errOut io.Writer, in io.Reader) *app {
	return &app{out: out, errOut: errOut, in: in, getenv: os.Getenv}
}

// Run executes the command line and returns the process exit code.
// Costs and prices are written as JSON numbers by every command, the
// server's responses included.
func Run(ctx context.Context, argv []string) int {
	decimal.MarshalJSONWithoutQuotes = true
	return newApp(os.Stdout, os.Stderr, os.Stdin).run(ctx, argv)
}

func (a *app) run(ctx context.Context, argv []string) int {
	cmd, args, err := Parse(argv)
	if err == nil {
		err = a.dispatch(ctx, cmd, args)
	}
	if err != nil {
		var reported reportedError
		if !errors.As(err, &reported) {
			w := a.errOut
			if args.JSON {
				w = a.out
			}
			DisplayError(w, cmd.String(), err, args.JSON)
		}
		return GetExitCode(err)
	}
	return ExitSuccess
}

func (a *app) dispatch(ctx context.Context, cmd Command, args Args) error {
	switch cmd {
	case CmdServe:
		return a.serve(ctx, args)
	case CmdAsk:
		return a.ask(ctx, args)
	case CmdCompare:
		return a.compare(ctx, args)
	case CmdChat:
		return a.chat(ctx, args)
	case CmdModels:
		return a.models(ctx, args)
	case CmdSessions:
		return a.sessions(ctx, args)
	case CmdAnalytics:
		return a.analytics(ctx, args)
	case CmdStatus:
		return a.status(ctx, args)
	case CmdConfig:
		return a.config(args)
	case CmdToken:
		return a.token(args)
	case CmdPurge:
		return a.purge(ctx, args)
	case CmdVersion:
		return a.version(args)
	default:
		PrintUsage(a.out)
		return nil
	}
}

func (a *app) version(args Args) error {
	if args.JSON {
		return a.writeJSON(CmdVersion, VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		})
	}
	fmt.Fprintf(a.out, "neurochat %s (commit %s, built %s, %s)\n", Version, GitCommit, BuildDate, runtime.Version())
	return nil
}

// writeJSON prints data in the --json envelope.
func (a *app) writeJSON(cmd Command, data any) error {
	return NewJSONResponse(cmd.String(), data).Write(a.out)
}

// =============================================================================
// CONFIG AND CLIENT RESOLUTION
// =============================================================================

// loadConfig loads the config file named by --config or the default one.
func (a *app) loadConfig(args Args) (*config.Config, error) {
	cfg, err := config.Load(args.ConfigPath)
	if err != nil {
		return nil, &ConfigError{Path: args.ConfigPath, Err: err}
	}
	return cfg, nil
}

// serverURL resolves the server address: --server, then
// NEUROCHAT_SERVER, then the config file's listen address.
func (a *app) serverURL(args Args) string {
	if args.ServerURL != "" {
		return args.ServerURL
	}
	if v := a.getenv("NEUROCHAT_SERVER"); v != "" {
		return v
	}
	cfg, err := a.loadConfig(args)
	if err != nil {
		return DefaultServerURL
	}
	return urlForAddr(cfg.Server.Addr, cfg.Server.BasePath)
}

// urlForAddr turns a listen address into a URL a local client can dial.
// Wildcard hosts are replaced with the loopback address.
func urlForAddr(addr, basePath string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return DefaultServerURL
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + strings.TrimRight(basePath, "/")
}

// client builds an API client from the global flags and environment.
func (a *app) client(args Args) *Client {
	token := args.Token
	if token == "" {
		token = a.getenv("NEUROCHAT_TOKEN")
	}
	return NewClient(a.serverURL(args), token)
}

// defaultModel is the model used when -m is absent.
func (a *app) defaultModel(args Args) string {
	if cfg, err := a.loadConfig(args); err == nil && cfg.Chat.DefaultModel != "" {
		return cfg.Chat.DefaultModel
	}
	return config.Default().Chat.DefaultModel
}
