package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

// discordMaxMessage is Discord's per-message character limit.
const discordMaxMessage = 2000

// DiscordAdapter implements GatewayAdapter for Discord using the bot gateway.
// It answers direct messages and messages that mention the bot.
type DiscordAdapter struct {
	token   string
	session *discordgo.Session
	handler MessageHandler
	status  statusTracker
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewDiscordAdapter creates a Discord gateway adapter.
func NewDiscordAdapter(token string, logger *zap.Logger) *DiscordAdapter {
	return &DiscordAdapter{
		token:  token,
		status: statusTracker{platform: "discord"},
		logger: logger,
	}
}

func (a *DiscordAdapter) Platform() string { return "discord" }

func (a *DiscordAdapter) OnMessage(h MessageHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Connect opens the Discord gateway websocket.
func (a *DiscordAdapter) Connect(_ context.Context) error {
	session, err := discordgo.New("Bot " + a.token)
	if err != nil {
		a.status.failed(fmt.Errorf("session create: %w", err))
		return fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent
	session.AddHandler(a.onMessageCreate)

	if err := session.Open(); err != nil {
		a.status.failed(fmt.Errorf("open failed: %w", err))
		return fmt.Errorf("discord open: %w", err)
	}

	a.mu.Lock()
	a.session = session
	a.mu.Unlock()
	a.status.connected()

	guildCount := len(session.State.Guilds)
	a.status.details(fmt.Sprintf("bot=%s, guilds=%d", session.State.User.Username, guildCount))
	if guildCount == 0 {
		a.logger.Warn("discord bot not added to any server, only DMs will reach it")
	}
	a.logger.Info("discord adapter connected",
		zap.String("user", session.State.User.Username),
		zap.Int("guilds", guildCount))
	return nil
}

func (a *DiscordAdapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == s.State.User.ID {
		return
	}
	a.mu.RLock()
	h := a.handler
	a.mu.RUnlock()
	if h == nil {
		return
	}

	content, ok := addressedContent(m.Content, m.GuildID == "", s.State.User.ID)
	if !ok {
		return
	}
	h(&InboundMessage{
		Platform:  "discord",
		ChannelID: m.ChannelID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Content:   content,
		Timestamp: m.Timestamp,
		ReplyTo:   m.ID,
	})
}

// addressedContent strips the bot mention. Guild messages that do not
// mention the bot are ignored.
func addressedContent(content string, direct bool, botID string) (string, bool) {
	mentioned := false
	for _, tag := range []string{"<@" + botID + ">", "<@!" + botID + ">"} {
		if strings.Contains(content, tag) {
			mentioned = true
			content = strings.ReplaceAll(content, tag, "")
		}
	}
	if !direct && !mentioned {
		return "", false
	}
	return strings.TrimSpace(content), true
}

// Send posts a message to a Discord channel, as a reply when ReplyTo is set.
// Long answers are split across messages.
func (a *DiscordAdapter) Send(_ context.Context, msg *OutboundMessage) error {
	a.mu.RLock()
	session := a.session
	a.mu.RUnlock()
	if session == nil {
		return fmt.Errorf("discord send: not connected")
	}

	for i, chunk := range splitMessage(msg.Content, discordMaxMessage) {
		send := &discordgo.MessageSend{Content: chunk}
		if i == 0 && msg.ReplyTo != "" {
			send.Reference = &discordgo.MessageReference{MessageID: msg.ReplyTo, ChannelID: msg.ChannelID}
		}
		if _, err := session.ChannelMessageSendComplex(msg.ChannelID, send); err != nil {
			a.logger.Error("discord send failed",
				zap.String("channel", msg.ChannelID), zap.Error(err))
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

// splitMessage breaks s into chunks of at most limit runes, preferring line
// boundaries.
func splitMessage(s string, limit int) []string {
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}
	var out []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimRight(string(runes[:cut]), "\n"))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// Close shuts down the Discord session.
func (a *DiscordAdapter) Close() error {
	a.status.disconnected()
	a.mu.Lock()
	session := a.session
	a.session = nil
	a.mu.Unlock()
	if session != nil {
		return session.Close()
	}
	return nil
}

// Status reports the gateway connection state.
func (a *DiscordAdapter) Status() AdapterStatus { return a.status.snapshot() }
