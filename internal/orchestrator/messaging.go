package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/finsight/internal/trace"
)

const (
	streamPrefix = "finsight:trace:"
	// DefaultStreamMaxLen bounds each session stream; trimming is approximate.
	DefaultStreamMaxLen = 1000
)

// MessageBus publishes execution traces to Redis Streams so that other
// processes can tail a session while it is being answered.
type MessageBus struct {
	rdb    *redis.Client
	ttl    time.Duration
	maxLen int64
	logger *zap.Logger
}

// NewMessageBus connects to redisURL. Streams expire ttl after their last
// write, so a trace never outlives the session it belongs to. maxLen <= 0
// means DefaultStreamMaxLen.
func NewMessageBus(redisURL string, ttl time.Duration, maxLen int64, logger *zap.Logger) (*MessageBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &MessageBus{rdb: rdb, ttl: ttl, maxLen: maxLen, logger: logger}, nil
}

// StreamKey returns the stream a session's events are written to.
func StreamKey(sessionID string) string {
	return streamPrefix + sessionID
}

// TraceMessage is the stream payload for one event.
type TraceMessage struct {
	TraceID   string      `json:"trace_id"`
	SessionID string      `json:"session_id"`
	Event     trace.Event `json:"event"`
}

// PublishTrace appends every event of tr to the session stream in one
// pipeline.
func (mb *MessageBus) PublishTrace(ctx context.Context, tr *trace.Trace) error {
	events := tr.Events()
	if len(events) == 0 {
		return nil
	}
	sum := tr.Summarize()
	stream := StreamKey(sum.SessionID)

	pipe := mb.rdb.Pipeline()
	for _, e := range events {
		data, err := json.Marshal(TraceMessage{TraceID: sum.TraceID, SessionID: sum.SessionID, Event: e})
		if err != nil {
			return fmt.Errorf("encode %s event: %w", e.Type, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			MaxLen: mb.maxLen,
			Approx: true,
			Values: map[string]interface{}{
				"type": string(e.Type),
				"data": string(data),
			},
		})
	}
	if mb.ttl > 0 {
		pipe.Expire(ctx, stream, mb.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	mb.logger.Debug("published trace",
		zap.String("trace", sum.TraceID),
		zap.String("stream", stream),
		zap.Int("events", len(events)))
	return nil
}

// Subscribe tails a session stream starting after from ("$" for new
// events only, "0" to replay). The channel closes when ctx is done.
func (mb *MessageBus) Subscribe(ctx context.Context, sessionID, from string) <-chan *TraceMessage {
	ch := make(chan *TraceMessage, 16)
	stream := StreamKey(sessionID)
	if from == "" {
		from = "$"
	}

	go func() {
		defer close(ch)
		lastID := from

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := mb.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return
				}
				if !errors.Is(err, redis.Nil) {
					mb.logger.Debug("xread failed", zap.String("stream", stream), zap.Error(err))
					select {
					case <-time.After(500 * time.Millisecond):
					case <-ctx.Done():
						return
					}
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var tm TraceMessage
					if json.Unmarshal([]byte(data), &tm) != nil {
						continue
					}
					select {
					case ch <- &tm:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (mb *MessageBus) Close() error {
	return mb.rdb.Close()
}
