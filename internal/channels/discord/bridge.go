// Package discord implements the Discord gateway ingress bridge: connect,
// subscribe to message-create events, and hand each inbound message to the
// shared channel pipeline, replying with platform-appropriate message
// splitting.
package discord

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cenkalti/backoff/v5"

	"engram/internal/channels"
	"engram/internal/observability"
)

// maxMessageLen is Discord's hard per-message character ceiling; replies
// longer than this are split on the nearest preceding newline.
const maxMessageLen = 2000

// Config configures one Discord bridge instance.
type Config struct {
	Token         string
	AgentID       string
	AllowedGuilds map[string]bool // empty means all guilds allowed
	ReconnectCap  time.Duration
	MaxReconnects int
}

// Bridge owns one Discord gateway session.
type Bridge struct {
	cfg  Config
	deps channels.Deps
	sess *discordgo.Session
}

// New constructs a Bridge without connecting.
func New(cfg Config, deps channels.Deps) *Bridge {
	return &Bridge{cfg: cfg, deps: deps}
}

// Run dials the gateway and blocks until ctx is cancelled or a fatal
// authentication/intent failure occurs.
func (b *Bridge) Run(ctx context.Context) error {
	log := observability.LoggerWithTrace(ctx)

	sess, err := discordgo.New("Bot " + b.cfg.Token)
	if err != nil {
		return err
	}
	sess.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent | discordgo.IntentDirectMessages
	sess.AddHandler(b.onMessageCreate)

	b.sess = sess

	boff := backoff.NewExponentialBackOff()
	if b.cfg.ReconnectCap > 0 {
		boff.MaxInterval = b.cfg.ReconnectCap
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		openErr := sess.Open()
		if openErr != nil && isFatalDiscordErr(openErr) {
			return struct{}{}, backoff.Permanent(openErr)
		}
		return struct{}{}, openErr
	}, backoff.WithBackOff(boff), backoff.WithMaxTries(maxTries(b.cfg.MaxReconnects)))
	if err != nil {
		return err
	}
	defer sess.Close()

	log.Info().Msg("discord_bridge_connected")
	<-ctx.Done()
	return ctx.Err()
}

func maxTries(n int) uint {
	if n <= 0 {
		return 10
	}
	return uint(n)
}

// isFatalDiscordErr classifies gateway close codes that will never succeed
// on retry (bad auth, disallowed privileged intents) versus transient
// network failures worth retrying.
func isFatalDiscordErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication failed") ||
		strings.Contains(msg, "disallowed intent") ||
		strings.Contains(msg, "4004") ||
		strings.Contains(msg, "4014")
}

func (b *Bridge) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == s.State.User.ID {
		return
	}
	if len(b.cfg.AllowedGuilds) > 0 && !b.cfg.AllowedGuilds[m.GuildID] {
		return
	}
	if strings.TrimSpace(m.Content) == "" {
		return
	}

	ctx := context.Background()
	log := observability.LoggerWithTrace(ctx)

	channelCtx := "channel " + m.ChannelID
	if m.GuildID != "" {
		channelCtx = "guild " + m.GuildID + ", " + channelCtx
	}

	text, err := channels.RunChannelAgent(ctx, b.deps, channels.Request{
		ChannelPrefix:  "discord",
		ChannelContext: channelCtx,
		Text:           m.Content,
		UserID:         m.Author.ID,
		AgentID:        b.cfg.AgentID,
	})
	if err != nil {
		log.Error().Err(err).Msg("discord_turn_failed")
		return
	}

	for _, chunk := range splitMessage(text, maxMessageLen) {
		if _, err := s.ChannelMessageSend(m.ChannelID, chunk); err != nil {
			log.Error().Err(err).Msg("discord_send_failed")
			return
		}
	}
}

// splitMessage breaks text into chunks no longer than limit, preferring to
// break on the last newline before the limit so replies don't get cut
// mid-sentence.
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
