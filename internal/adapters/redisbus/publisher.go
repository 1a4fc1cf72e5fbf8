// Package redisbus connects the engine to the Redis message bus shared with the
// execution side: modify_stop intents go out, condition readings come in.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tradeLifecycle/internal/ports"
)

// DefaultStopChannel is the channel the execution side consumes order intents from.
const DefaultStopChannel = "order.request"

// Envelope is the message-bus wrapper every service publishes.
type Envelope struct {
	Timestamp string          `json:"timestamp"`
	Channel   string          `json:"channel"`
	Data      json.RawMessage `json:"data"`
}

// publishClient is the subset of the go-redis client the publisher uses.
type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Publisher implements ports.StopAdjustmentPublisher over Redis pub/sub.
type Publisher struct {
	client  publishClient
	channel string
	logger  ports.Logger
	now     func() time.Time
}

// NewPublisher wraps an existing client. An empty channel uses DefaultStopChannel.
func NewPublisher(client publishClient, channel string, logger ports.Logger) (*Publisher, error) {
	if client == nil || logger == nil {
		return nil, fmt.Errorf("%w: redis client and logger are required", ports.ErrConfigurationError)
	}
	if channel == "" {
		channel = DefaultStopChannel
	}
	return &Publisher{client: client, channel: channel, logger: logger, now: time.Now}, nil
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %w", ports.ErrConfigurationError, err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: redis ping: %w", ports.ErrConnectionFailed, err)
	}
	return client, nil
}

// EncodeEnvelope wraps data in the bus envelope.
func EncodeEnvelope(channel string, data interface{}, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Timestamp: at.UTC().Format(ports.MessageTimeLayout),
		Channel:   channel,
		Data:      raw,
	})
}

// PublishStopAdjustment sends one modify_stop intent. Failures are returned
// wrapped in ports.ErrPublishFailure; the caller decides whether to retry.
func (p *Publisher) PublishStopAdjustment(ctx context.Context, msg ports.StopAdjustmentMessage) error {
	if msg.Action == "" {
		msg.Action = ports.ActionModifyStop
	}
	if msg.Timestamp == "" {
		msg.Timestamp = ports.FormatMessageTime(p.now())
	}
	payload, err := EncodeEnvelope(p.channel, msg, p.now())
	if err != nil {
		return fmt.Errorf("%w: encode: %w", ports.ErrPublishFailure, err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
	if err != nil {
		return fmt.Errorf("%w: channel %s: %w", ports.ErrPublishFailure, p.channel, err)
	}
	p.logger.Debug(ctx, "Stop adjustment published", map[string]interface{}{
		"symbol":    msg.Symbol,
		"stop":      msg.NewStopPrice,
		"reason":    msg.Reason,
		"receivers": receivers,
	})
	return nil
}
