// Package notify pushes run completion notices to Telegram when a bot
// token and chat id are configured.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/nats-io/nats.go"

	"github.com/crewdeck/crewdeck/internal/bus"
	"github.com/crewdeck/crewdeck/internal/config"
	"github.com/crewdeck/crewdeck/internal/store"
)

// Telegram message size limit.
const maxMessageLen = 4096

type Notifier struct {
	bot    *telego.Bot
	store  *store.Store
	client *bus.Client
	cfg    config.TelegramConfig
}

func New(cfg config.TelegramConfig, st *store.Store, b *bus.Bus) (*Notifier, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	client, err := bus.NewClient(b)
	if err != nil {
		return nil, fmt.Errorf("notifier nats client: %w", err)
	}

	return &Notifier{
		bot:    bot,
		store:  st,
		client: client,
		cfg:    cfg,
	}, nil
}

// Start subscribes to run events and blocks until the context ends.
func (n *Notifier) Start(ctx context.Context) error {
	sub, err := n.client.Subscribe(bus.TopicEventsRun, func(msg *nats.Msg) {
		event, err := decodeRunEvent(msg.Data)
		if err != nil {
			slog.Warn("notifier: invalid run event", "error", err)
			return
		}
		n.handleEvent(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("subscribe run events: %w", err)
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
	n.client.Close()
	return nil
}

type runEvent struct {
	Type  string         `json:"type"`
	RunID string         `json:"run_id"`
	Data  map[string]any `json:"data"`
}

func decodeRunEvent(data []byte) (runEvent, error) {
	var event runEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return runEvent{}, err
	}
	return event, nil
}

func (n *Notifier) handleEvent(ctx context.Context, event runEvent) {
	switch event.Type {
	case "run_completed":
		run, err := n.store.GetRun(event.RunID)
		if err != nil || run == nil {
			slog.Warn("notifier: completed run not found", "run", event.RunID, "error", err)
			return
		}
		text := fmt.Sprintf("Crew run %s completed.\n\n%s", shortID(event.RunID), run.Report)
		n.send(ctx, text)
	case "run_failed":
		reason := "unknown error"
		if v, ok := event.Data["error"].(string); ok && v != "" {
			reason = v
		}
		n.send(ctx, fmt.Sprintf("Crew run %s failed: %s", shortID(event.RunID), reason))
	}
}

func (n *Notifier) send(ctx context.Context, text string) {
	for _, chunk := range chunkMessage(text, maxMessageLen) {
		msg := tu.Message(tu.ID(n.cfg.ChatID), chunk)
		if _, err := n.bot.SendMessage(ctx, msg); err != nil {
			slog.Error("failed to send telegram notification", "chat", n.cfg.ChatID, "error", err)
			return
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
