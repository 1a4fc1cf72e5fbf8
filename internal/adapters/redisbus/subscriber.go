package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/ports"
)

// DefaultConditionChannel carries migration/condition readings.
const DefaultConditionChannel = "condition.update"

// ConditionSink stores the latest reading per instrument, e.g. exits.ConditionBoard.
type ConditionSink interface {
	Set(symbol string, sig domain.ConditionSignal)
}

type conditionPayload struct {
	Symbol        string                 `json:"symbol"`
	OverallSignal string                 `json:"overallSignal"`
	Timestamp     string                 `json:"timestamp"`
	Details       map[string]interface{} `json:"details"`
}

// DecodeCondition parses one condition message, enveloped or bare.
func DecodeCondition(raw []byte) (string, domain.ConditionSignal, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		raw = env.Data
	}
	var p conditionPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", domain.ConditionSignal{}, fmt.Errorf("%w: condition payload: %w", ports.ErrInvalidRequest, err)
	}
	if p.Symbol == "" {
		return "", domain.ConditionSignal{}, fmt.Errorf("%w: condition payload without symbol", ports.ErrInvalidRequest)
	}

	sig := domain.ConditionSignal{Details: p.Details}
	switch outlook := domain.ConditionOutlook(strings.ToLower(p.OverallSignal)); outlook {
	case domain.ConditionDeteriorating, domain.ConditionImproving, domain.ConditionNeutral:
		sig.OverallSignal = outlook
	default:
		return "", domain.ConditionSignal{}, fmt.Errorf("%w: unknown overall signal %q", ports.ErrInvalidRequest, p.OverallSignal)
	}
	if p.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339Nano, p.Timestamp)
		if err != nil {
			return "", domain.ConditionSignal{}, fmt.Errorf("%w: condition timestamp: %w", ports.ErrInvalidRequest, err)
		}
		sig.Timestamp = ts.UTC()
	}
	return p.Symbol, sig, nil
}

// ConditionSubscriber feeds condition readings from Redis into a sink.
type ConditionSubscriber struct {
	client  *redis.Client
	channel string
	sink    ConditionSink
	logger  ports.Logger
}

// NewConditionSubscriber creates a subscriber. An empty channel uses DefaultConditionChannel.
func NewConditionSubscriber(client *redis.Client, channel string, sink ConditionSink, logger ports.Logger) (*ConditionSubscriber, error) {
	if client == nil || sink == nil || logger == nil {
		return nil, fmt.Errorf("%w: redis client, sink and logger are required", ports.ErrConfigurationError)
	}
	if channel == "" {
		channel = DefaultConditionChannel
	}
	return &ConditionSubscriber{client: client, channel: channel, sink: sink, logger: logger}, nil
}

// Run consumes messages until ctx is done. Malformed messages are logged and skipped.
func (s *ConditionSubscriber) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("%w: subscribe %s: %w", ports.ErrConnectionFailed, s.channel, err)
	}
	s.logger.Info(ctx, "Subscribed to condition feed", map[string]interface{}{"channel": s.channel})

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("%w: condition feed closed", ports.ErrConnectionFailed)
			}
			s.Handle(ctx, []byte(msg.Payload))
		}
	}
}

// Handle applies one raw message to the sink.
func (s *ConditionSubscriber) Handle(ctx context.Context, raw []byte) {
	symbol, sig, err := DecodeCondition(raw)
	if err != nil {
		s.logger.Warn(ctx, "Dropped condition message", map[string]interface{}{"error": err.Error()})
		return
	}
	s.sink.Set(symbol, sig)
	s.logger.Debug(ctx, "Condition updated", map[string]interface{}{"symbol": symbol, "overall": sig.OverallSignal})
}
