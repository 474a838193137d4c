package gateway

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

var slackMention = regexp.MustCompile(`<@[A-Z0-9]+>`)

// SlackAdapter implements GatewayAdapter for Slack using Socket Mode.
// It answers direct messages and channel mentions, replying in thread.
type SlackAdapter struct {
	client  *slack.Client
	socket  *socketmode.Client
	handler MessageHandler
	status  statusTracker
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewSlackAdapter creates a Slack gateway adapter.
// botToken is the Bot User OAuth Token (xoxb-...).
// appToken is the App-Level Token (xapp-...) for Socket Mode.
func NewSlackAdapter(botToken, appToken string, logger *zap.Logger) *SlackAdapter {
	client := slack.New(botToken,
		slack.OptionAppLevelToken(appToken),
	)

	socket := socketmode.New(client,
		socketmode.OptionLog(zap.NewStdLog(logger)),
	)

	return &SlackAdapter{
		client: client,
		socket: socket,
		status: statusTracker{platform: "slack"},
		logger: logger,
	}
}

func (a *SlackAdapter) Platform() string { return "slack" }

func (a *SlackAdapter) OnMessage(h MessageHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// Status reports whether the socket is up.
func (a *SlackAdapter) Status() AdapterStatus { return a.status.snapshot() }

// Connect checks the bot token, then starts the Socket Mode event loop in
// the background.
func (a *SlackAdapter) Connect(ctx context.Context) error {
	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		a.status.failed(err)
		return fmt.Errorf("slack auth: %w", err)
	}
	a.status.details(fmt.Sprintf("team=%s bot=%s", auth.Team, auth.User))

	go a.handleEvents(ctx)
	go func() {
		if err := a.socket.RunContext(ctx); err != nil && ctx.Err() == nil {
			a.status.failed(err)
			a.logger.Error("slack socket mode error", zap.Error(err))
		}
	}()
	a.logger.Info("slack adapter started socket mode", zap.String("team", auth.Team))
	return nil
}

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			a.status.disconnected()
			return
		case evt, ok := <-a.socket.Events:
			if !ok {
				a.status.disconnected()
				return
			}
			a.processEvent(evt)
		}
	}
}

func (a *SlackAdapter) processEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnected:
		a.status.connected()
	case socketmode.EventTypeConnectionError:
		a.status.failed(fmt.Errorf("socket mode connection error"))
	case socketmode.EventTypeEventsAPI:
		eventsAPI, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		a.socket.Ack(*evt.Request)

		if eventsAPI.Type != slackevents.CallbackEvent {
			return
		}
		switch inner := eventsAPI.InnerEvent.Data.(type) {
		case *slackevents.AppMentionEvent:
			if inner.BotID != "" {
				return
			}
			a.dispatch(inner.Channel, inner.User, inner.Text, inner.ThreadTimeStamp, inner.TimeStamp)
		case *slackevents.MessageEvent:
			// Channel messages arrive as app_mention too; only DMs go here.
			if inner.BotID != "" || inner.SubType != "" || inner.ChannelType != "im" {
				return
			}
			a.dispatch(inner.Channel, inner.User, inner.Text, inner.ThreadTimeStamp, inner.TimeStamp)
		}
	}
}

func (a *SlackAdapter) dispatch(channel, user, text, threadTS, ts string) {
	a.mu.RLock()
	h := a.handler
	a.mu.RUnlock()
	if h == nil {
		return
	}
	if threadTS == "" {
		threadTS = ts
	}
	h(&InboundMessage{
		Platform:  "slack",
		ChannelID: channel,
		UserID:    user,
		UserName:  user,
		Content:   stripSlackMentions(text),
		Timestamp: time.Now(),
		ReplyTo:   threadTS,
	})
}

func stripSlackMentions(text string) string {
	return strings.TrimSpace(slackMention.ReplaceAllString(text, ""))
}

// Send posts a message to a Slack channel, in thread when ReplyTo is set.
func (a *SlackAdapter) Send(ctx context.Context, msg *OutboundMessage) error {
	opts := []slack.MsgOption{
		slack.MsgOptionText(msg.Content, false),
	}
	if msg.ReplyTo != "" {
		opts = append(opts, slack.MsgOptionTS(msg.ReplyTo))
	}

	_, _, err := a.client.PostMessageContext(ctx, msg.ChannelID, opts...)
	if err != nil {
		a.logger.Error("slack send failed",
			zap.String("channel", msg.ChannelID), zap.Error(err))
		return fmt.Errorf("slack send: %w", err)
	}
	return nil
}

// Close marks the adapter disconnected; cancelling the Connect context stops
// the socket.
func (a *SlackAdapter) Close() error {
	a.status.disconnected()
	return nil
}
