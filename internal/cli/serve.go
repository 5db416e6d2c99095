// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"

	"github.com/jeranaias/neurochat/internal/auth"
	"github.com/jeranaias/neurochat/internal/chat"
	"github.com/jeranaias/neurochat/internal/config"
	"github.com/jeranaias/neurochat/internal/logging"
	"github.com/jeranaias/neurochat/internal/provider"
	"github.com/jeranaias/neurochat/internal/server"
	"github.com/jeranaias/neurochat/internal/store"
)

// shutdownTimeout bounds graceful shutdown; open streams are cut after it.
const shutdownTimeout = 15 * time.Second

// serve runs the HTTP API until SIGINT or SIGTERM. Edits to the config
// file are applied live: rate limits, tokens and chat limits.
func (a *app) serve(ctx context.Context, args Args) error {
	p := NewArgParser(args.Raw)

	cfg, err := a.loadConfig(args)
	if err != nil {
		return err
	}
	if addr := p.Flag("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	config.SetGlobal(cfg)

	log := logging.New(cfg.Log.Level, cfg.Log.Format).WithName("neurochat")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	models, err := provider.FromConfig(ctx, cfg.Providers, cfg.Chat, log.WithName("provider"))
	if err != nil {
		return fmt.Errorf("configure providers: %w", err)
	}

	svc := chat.NewService(st, models, log.WithName("chat"), chat.LimitsFromConfig(cfg.Chat)).
		WithSystemPrompt(cfg.Chat.SystemPrompt)
	srv := server.New(server.Options{
		Config:  cfg.Server,
		Chat:    svc,
		Store:   st,
		Auth:    auth.New(cfg.Auth),
		Log:     log,
		Version: Version,
	})

	if cfg.Auth.Disabled {
		log.Info("AUTH_DISABLED", "default_user", cfg.Auth.DefaultUser)
	}

	go a.watchConfig(ctx, args, log, srv)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	fmt.Fprintf(a.errOut, "%s listening on %s\n", TitleStyle.Render("neurochat"), urlForAddr(cfg.Server.Addr, cfg.Server.BasePath))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// watchConfig reloads the config file on change. It is a no-op when
// the server runs on defaults with no file on disk.
func (a *app) watchConfig(ctx context.Context, args Args, log logr.Logger, srv *server.Server) {
	path := args.ConfigPath
	if path == "" {
		p, err := config.ConfigPath()
		if err != nil {
			return
		}
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		log.V(1).Info("CONFIG_WATCH_SKIPPED", "path", path, "reason", "no config file")
		return
	}

	err := config.Watch(ctx, path, log.WithName("config"), func(cfg *config.Config) {
		config.SetGlobal(cfg)
		srv.Reload(cfg)
	})
	if err != nil {
		log.Error(err, "CONFIG_WATCH_FAILED", "path", path)
	}
}
