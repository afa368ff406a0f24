// Package telegram implements the Telegram long-poll ingress bridge,
// feeding inbound messages into the shared channel pipeline and replying
// through the Bot API.
package telegram

import (
	"context"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"engram/internal/channels"
	"engram/internal/observability"
)

// maxMessageLen is Telegram's per-message character ceiling.
const maxMessageLen = 4096

// Config configures one Telegram bridge instance.
type Config struct {
	Token   string
	AgentID string
}

// Bridge owns one Telegram long-poll loop.
type Bridge struct {
	cfg  Config
	deps channels.Deps
}

// New constructs a Bridge without connecting.
func New(cfg Config, deps channels.Deps) *Bridge {
	return &Bridge{cfg: cfg, deps: deps}
}

// Run starts long-polling for updates and blocks until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	log := observability.LoggerWithTrace(ctx)

	bot, err := telego.NewBot(b.cfg.Token)
	if err != nil {
		return err
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{Timeout: 30})
	if err != nil {
		return err
	}

	log.Info().Msg("telegram_bridge_connected")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, bot, update)
		}
	}
}

func (b *Bridge) handleUpdate(ctx context.Context, bot *telego.Bot, update telego.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.From.IsBot {
		return
	}
	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	log := observability.LoggerWithTrace(ctx)
	chatID := update.Message.Chat.ID

	reply, err := channels.RunChannelAgent(ctx, b.deps, channels.Request{
		ChannelPrefix:  "telegram",
		ChannelContext: "chat " + update.Message.Chat.Title,
		Text:           text,
		UserID:         strconv.FormatInt(update.Message.From.ID, 10),
		AgentID:        b.cfg.AgentID,
	})
	if err != nil {
		log.Error().Err(err).Msg("telegram_turn_failed")
		return
	}

	for _, chunk := range splitMessage(reply, maxMessageLen) {
		if _, err := bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			log.Error().Err(err).Msg("telegram_send_failed")
			return
		}
	}
}

func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, text[:cut])
		text = strings.TrimPrefix(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}
