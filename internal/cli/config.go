// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Local administration commands: config, token and purge.
//
// These commands work on the config file and the store directly and do
// not need a running server.
//
// Examples:
//
//	neurochat config init
//	neurochat config set chat.max_tokens 2000
//	neurochat config set server.cors_origins https://chat.example.com,https://admin.example.com
//	neurochat token --user alice --save
//	neurochat purge --older-than 90d --yes

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/neurochat/internal/auth"
	"github.com/jeranaias/neurochat/internal/config"
	"github.com/jeranaias/neurochat/internal/store"
)

// secretKeys are never echoed by config get.
var secretKeys = map[string]bool{
	"providers.openrouter_key": true,
	"providers.openai_key":     true,
	"providers.anthropic_key":  true,
	"providers.gemini_key":     true,
	"providers.mistral_key":    true,
	"providers.deepseek_key":   true,
	"store.dsn":                true,
}

// configPath resolves --config or the default location.
func configPath(args Args) (string, error) {
	if args.ConfigPath != "" {
		return args.ConfigPath, nil
	}
	p, err := config.ConfigPath()
	if err != nil {
		return "", &ConfigError{Err: err}
	}
	return p, nil
}

// loadFileConfig reads only the file at path over the defaults, so that
// values from the environment are not written back by Save.
func loadFileConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, &ConfigError{Path: path, Err: err}
	}
	if err := config.LoadTOML(cfg, path); err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// =============================================================================
// CONFIG
// =============================================================================

func (a *app) config(args Args) error {
	p := NewArgParser(args.Raw, "force")
	path, err := configPath(args)
	if err != nil {
		return err
	}

	switch sub := p.Positional(0); sub {
	case "", "show":
		cfg, err := a.loadConfig(args)
		if err != nil {
			return err
		}
		if args.JSON {
			return a.writeJSON(CmdConfig, json.RawMessage(cfg.String()))
		}
		fmt.Fprintln(a.out, DimStyle.Render("# "+path))
		fmt.Fprintln(a.out, cfg.String())
		return nil

	case "path":
		if args.JSON {
			return a.writeJSON(CmdConfig, map[string]string{"path": path})
		}
		fmt.Fprintln(a.out, path)
		return nil

	case "init":
		if _, err := os.Stat(path); err == nil && !p.BoolFlag("force") {
			return &ValidationError{Field: "config", Value: path, Reason: "file already exists", Example: "neurochat config init --force"}
		}
		if err := config.Save(config.Default(), path); err != nil {
			return &ConfigError{Path: path, Err: err}
		}
		return a.configDone(args, "wrote", path)

	case "get":
		key := p.Positional(1)
		if key == "" {
			return ErrMissingArgument("key", "neurochat config get chat.max_tokens")
		}
		cfg, err := a.loadConfig(args)
		if err != nil {
			return err
		}
		v, err := cfg.Get(key)
		if err != nil {
			return NewValidationError("key", key, err.Error())
		}
		if secretKeys[strings.ToLower(key)] {
			v = "[REDACTED]"
		}
		if args.JSON {
			return a.writeJSON(CmdConfig, map[string]any{"key": key, "value": v})
		}
		fmt.Fprintln(a.out, v)
		return nil

	case "set":
		key, value := p.Positional(1), p.Text(2)
		if key == "" || p.PositionalCount() < 3 {
			return ErrMissingArgument("value", "neurochat config set <key> <value>")
		}
		cfg, err := loadFileConfig(path)
		if err != nil {
			return err
		}
		if err := cfg.Set(key, value); err != nil {
			return NewValidationError("key", key, err.Error())
		}
		check := cfg.Clone()
		check.SetDefaults()
		if err := check.Validate(); err != nil {
			return NewValidationError(key, value, err.Error())
		}
		if err := config.Save(cfg, path); err != nil {
			return &ConfigError{Path: path, Err: err}
		}
		return a.configDone(args, "set "+key+" in", path)

	default:
		return &ValidationError{Field: "subcommand", Value: sub, Reason: "unknown config subcommand", Example: "neurochat config init|show|get|set|path"}
	}
}

func (a *app) configDone(args Args, what, path string) error {
	if args.JSON {
		return a.writeJSON(CmdConfig, map[string]string{"path": path})
	}
	fmt.Fprintf(a.out, "%s %s %s\n", RenderStatus("ok"), what, path)
	return nil
}

// =============================================================================
// TOKEN
// =============================================================================

// TokenResult is the --json form of the token command.
type TokenResult struct {
	User      string `json:"user"`
	Token     string `json:"token"`
	TokenHash string `json:"tokenHash"`
	Saved     bool   `json:"saved"`
}

// token creates an API token. Only the bcrypt hash goes into the config;
// the token itself is shown once.
func (a *app) token(args Args) error {
	p := NewArgParser(args.Raw, "save")
	user := p.FlagOrDefault("user", "")
	if user == "" {
		user = p.Positional(0)
	}
	if user == "" {
		return ErrMissingArgument("user", "neurochat token --user alice [--save]")
	}

	tok, err := auth.GenerateToken()
	if err != nil {
		return err
	}
	hash, err := auth.HashToken(tok)
	if err != nil {
		return err
	}
	res := TokenResult{User: user, Token: tok, TokenHash: hash}

	if p.BoolFlag("save") {
		path, err := a.saveUserToken(args, user, hash)
		if err != nil {
			return err
		}
		res.Saved = true
		if !args.JSON {
			fmt.Fprintf(a.errOut, "%s saved user %s to %s\n", RenderStatus("ok"), user, path)
		}
	}

	if args.JSON {
		return a.writeJSON(CmdToken, res)
	}
	fmt.Fprintf(a.out, "%s%s\n", RenderLabel("Token"), tok)
	if !res.Saved {
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, DimStyle.Render("# add to config.toml:"))
		_ = toml.NewEncoder(a.out).Encode(map[string]any{
			"auth": map[string]any{
				"users": []config.UserConfig{{ID: user, TokenHash: hash}},
			},
		})
	}
	fmt.Fprintln(a.errOut, WarningStyle.Render("The token is not stored anywhere; copy it now."))
	return nil
}

// saveUserToken adds or replaces user in the config file and turns
// authentication on.
func (a *app) saveUserToken(args Args, user, hash string) (string, error) {
	path, err := configPath(args)
	if err != nil {
		return "", err
	}
	cfg, err := loadFileConfig(path)
	if err != nil {
		return "", err
	}

	replaced := false
	for i := range cfg.Auth.Users {
		if cfg.Auth.Users[i].ID == user {
			cfg.Auth.Users[i].TokenHash = hash
			replaced = true
		}
	}
	if !replaced {
		cfg.Auth.Users = append(cfg.Auth.Users, config.UserConfig{ID: user, TokenHash: hash})
	}
	cfg.Auth.Disabled = false

	if err := config.Save(cfg, path); err != nil {
		return "", &ConfigError{Path: path, Err: err}
	}
	return path, nil
}

// =============================================================================
// PURGE
// =============================================================================

// PurgeResult is the --json form of the purge command.
type PurgeResult struct {
	Cutoff  time.Time `json:"cutoff"`
	Deleted int64     `json:"deleted"`
}

// purge deletes every session created before now minus --older-than,
// for all users.
func (a *app) purge(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw, "yes", "y")
	raw := p.Flag("older-than")
	if raw == "" {
		return ErrMissingArgument("older-than", "neurochat purge --older-than 90d")
	}
	age, err := parseAge(raw)
	if err != nil {
		return err
	}
	cutoff := time.Now().UTC().Add(-age)

	if !p.BoolFlag("yes", "y") {
		if !CanPrompt() {
			return &ValidationError{Field: "yes", Reason: "confirmation required when not interactive", Example: "neurochat purge --older-than " + raw + " --yes"}
		}
		answer := promptInput(a.errOut, a.in, fmt.Sprintf("Delete every session created before %s? [y/N] ", cutoff.Local().Format(time.DateTime)))
		if ok, _ := ParseBoolString(answer); !ok {
			return errors.New("purge cancelled")
		}
	}

	cfg, err := a.loadConfig(args)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	n, err := st.Purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	if args.JSON {
		return a.writeJSON(CmdPurge, PurgeResult{Cutoff: cutoff, Deleted: n})
	}
	fmt.Fprintf(a.out, "%s deleted %d sessions created before %s\n", RenderStatus("ok"), n, cutoff.Local().Format(time.DateTime))
	return nil
}
