package router

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nidhogg/finsight/internal/command"
	"github.com/nidhogg/finsight/internal/gateway"
	"github.com/nidhogg/finsight/internal/orchestrator"
)

const apologyReply = "Sorry, something went wrong while answering. Please try again."

// Answerer answers one chat message.
type Answerer interface {
	Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Reply, error)
	Forget(sessionID string) bool
}

// Sender delivers a reply to a platform.
type Sender interface {
	Send(ctx context.Context, msg *gateway.OutboundMessage) error
}

// MessageRouter routes inbound chat messages to slash commands or the
// assistant. Each platform:channel:user conversation keeps its own session,
// and messages within one conversation are answered in arrival order.
type MessageRouter struct {
	sender   Sender
	steward  Answerer
	commands *command.Registry
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]string                     // conversation key -> session id
	queues   map[string][]*gateway.InboundMessage // conversation key -> messages waiting
	wg       sync.WaitGroup
}

// New creates a MessageRouter. commands may be nil.
func New(sender Sender, steward Answerer, commands *command.Registry, logger *zap.Logger) *MessageRouter {
	return &MessageRouter{
		sender:   sender,
		steward:  steward,
		commands: commands,
		logger:   logger,
		sessions: make(map[string]string),
		queues:   make(map[string][]*gateway.InboundMessage),
	}
}

// SetCommands replaces the command registry. Builtins such as /forget need
// the router itself, so the registry is usually attached after New.
func (mr *MessageRouter) SetCommands(reg *command.Registry) {
	mr.mu.Lock()
	mr.commands = reg
	mr.mu.Unlock()
}

// Handle routes an inbound message without blocking the adapter's event loop.
// Signature matches gateway.MessageHandler.
func (mr *MessageRouter) Handle(msg *gateway.InboundMessage) {
	key := msg.ConversationKey()
	mr.mu.Lock()
	pending, busy := mr.queues[key]
	mr.queues[key] = append(pending, msg)
	if !busy {
		mr.wg.Add(1)
		go mr.drain(key)
	}
	mr.mu.Unlock()
}

// drain answers a conversation's queued messages one at a time and exits
// once the queue is empty.
func (mr *MessageRouter) drain(key string) {
	defer mr.wg.Done()
	for {
		mr.mu.Lock()
		pending := mr.queues[key]
		if len(pending) == 0 {
			delete(mr.queues, key)
			mr.mu.Unlock()
			return
		}
		msg := pending[0]
		mr.queues[key] = pending[1:]
		mr.mu.Unlock()

		mr.route(context.Background(), msg)
	}
}

// Wait blocks until every message handed to Handle has been answered.
func (mr *MessageRouter) Wait() { mr.wg.Wait() }

// Forget drops the session of a conversation. It reports whether one existed.
func (mr *MessageRouter) Forget(conversationKey string) bool {
	mr.mu.Lock()
	id, ok := mr.sessions[conversationKey]
	delete(mr.sessions, conversationKey)
	mr.mu.Unlock()
	if !ok {
		return false
	}
	mr.steward.Forget(id)
	return true
}

// SessionFor returns the session bound to a conversation, if any.
func (mr *MessageRouter) SessionFor(conversationKey string) (string, bool) {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	id, ok := mr.sessions[conversationKey]
	return id, ok
}

func (mr *MessageRouter) route(ctx context.Context, msg *gateway.InboundMessage) {
	key := msg.ConversationKey()
	content := strings.TrimSpace(msg.Content)
	mr.logger.Info("routing message",
		zap.String("platform", msg.Platform),
		zap.String("channel", msg.ChannelID),
		zap.String("user", msg.UserName),
	)

	mr.mu.Lock()
	commands := mr.commands
	sessionID := mr.sessions[key]
	mr.mu.Unlock()

	if commands != nil && command.IsCommand(content) {
		cc := &command.CommandContext{
			Platform:        msg.Platform,
			ChannelID:       msg.ChannelID,
			UserID:          msg.UserID,
			UserName:        msg.UserName,
			SessionID:       sessionID,
			ConversationKey: key,
		}
		result, err := commands.Dispatch(ctx, content, cc)
		if err != nil {
			mr.logger.Error("command dispatch error", zap.String("command", content), zap.Error(err))
			mr.sendReply(ctx, msg, "Command error: "+err.Error(), nil)
			return
		}
		mr.sendReply(ctx, msg, result.Content, nil)
		return
	}

	if content == "" {
		mr.sendReply(ctx, msg, "Ask me about your spending, or type /help.", nil)
		return
	}

	reply, err := mr.steward.Handle(ctx, orchestrator.Request{
		Message:   content,
		SessionID: sessionID,
		Source:    msg.Platform,
	})
	if err != nil {
		mr.logger.Error("assistant failed", zap.String("conversation", key), zap.Error(err))
		mr.sendReply(ctx, msg, apologyReply, nil)
		return
	}

	if reply.SessionID != "" && reply.SessionID != sessionID {
		mr.mu.Lock()
		mr.sessions[key] = reply.SessionID
		mr.mu.Unlock()
	}
	mr.sendReply(ctx, msg, reply.Response, reply)
}

// sendReply sends a text reply back to the originating platform/channel.
func (mr *MessageRouter) sendReply(ctx context.Context, orig *gateway.InboundMessage, text string, reply *orchestrator.Reply) {
	out := &gateway.OutboundMessage{
		Platform:  orig.Platform,
		ChannelID: orig.ChannelID,
		Content:   text,
		ReplyTo:   orig.ReplyTo,
	}
	if reply != nil {
		out.SessionID = reply.SessionID
		out.Intent = string(reply.Intent)
	}
	if err := mr.sender.Send(ctx, out); err != nil {
		mr.logger.Error("send reply failed", zap.String("platform", orig.Platform), zap.Error(err))
	}
}
