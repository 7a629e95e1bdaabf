package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/crewdeck/crewdeck/internal/bus"
	"github.com/crewdeck/crewdeck/internal/completion"
	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/crew"
	"github.com/crewdeck/crewdeck/internal/notify"
	"github.com/crewdeck/crewdeck/internal/store"
	"github.com/crewdeck/crewdeck/internal/vault"
	"github.com/crewdeck/crewdeck/internal/web"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("crewdeck %s\n", version)
	case "serve":
		if err := runServe(); err != nil {
			slog.Error("serve failed", "error", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Usage: crewdeck <command>\n\nCommands:\n  serve      Start the Crewdeck service\n  version    Print version\n")
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting crewdeck", "version", version, "model", cfg.Provider.Model)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Session run cache
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	b, err := bus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer b.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	events, err := bus.NewClient(b)
	if err != nil {
		return fmt.Errorf("init nats client: %w", err)
	}
	defer events.Close()

	// Credential vault
	v, err := vault.New(cfg.Vault.Passphrase)
	if err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	// Sequential dispatcher
	provider := cfg.Provider
	dispatcher := crew.NewDispatcher(db, events, v, func(apiKey string) crew.Completer {
		return completion.New(provider.BaseURL, provider.Model, apiKey)
	})
	if provider.APIKey != "" {
		if err := dispatcher.SetCredential(provider.APIKey); err != nil {
			return fmt.Errorf("seal configured credential: %w", err)
		}
		slog.Info("credential loaded from environment")
	}

	// Telegram notifier
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		notifier, err := notify.New(cfg.Telegram, db, b)
		if err != nil {
			return fmt.Errorf("init notifier: %w", err)
		}
		go func() {
			if err := notifier.Start(ctx); err != nil {
				slog.Error("notifier error", "error", err)
			}
		}()
		slog.Info("telegram notifier started", "chat", cfg.Telegram.ChatID)
	} else {
		slog.Warn("telegram not configured, notifications disabled")
	}

	// Web UI
	if cfg.Web.Enabled {
		srv := web.NewServer(db, b, dispatcher, cfg.Web, cfg.Provider, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
		slog.Info("web server started", "port", cfg.Web.Port)
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()

	return nil
}
