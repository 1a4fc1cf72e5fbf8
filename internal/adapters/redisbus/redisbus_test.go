package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/exits"
	"tradeLifecycle/internal/ports"
)

type mockLogger struct {
	warnMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// mockClient records published messages.
type mockClient struct {
	channel string
	message []byte
	err     error
}

func (m *mockClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	m.channel = channel
	m.message, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if m.err != nil {
		cmd.SetErr(m.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

var fixed = time.Date(2024, 3, 4, 14, 32, 0, 123000000, time.UTC)

func stopMessage() ports.StopAdjustmentMessage {
	return ports.StopAdjustmentMessage{
		Symbol:          "ES",
		NewStopPrice:    102,
		Reason:          "trailing",
		OrderStrategyID: "os-1",
		OrderID:         "o-7",
		Metadata: ports.StopAdjustmentMetadata{
			EntryPrice:      100,
			BarsHeld:        2,
			MFE:             3,
			MAE:             0.5,
			PreviousStop:    97,
			AdjustmentCount: 1,
		},
	}
}

func TestPublisher_PublishStopAdjustment(t *testing.T) {
	client := &mockClient{}
	p, err := NewPublisher(client, "", &mockLogger{})
	require.NoError(t, err)
	p.now = func() time.Time { return fixed }

	require.NoError(t, p.PublishStopAdjustment(context.Background(), stopMessage()))
	assert.Equal(t, DefaultStopChannel, client.channel)

	assert.JSONEq(t, `{
		"timestamp": "2024-03-04T14:32:00.123Z",
		"channel": "order.request",
		"data": {
			"action": "modify_stop",
			"symbol": "ES",
			"new_stop_price": 102,
			"reason": "trailing",
			"order_strategy_id": "os-1",
			"order_id": "o-7",
			"metadata": {
				"entryPrice": 100,
				"barsHeld": 2,
				"mfe": 3,
				"mae": 0.5,
				"previousStop": 97,
				"adjustmentCount": 1
			},
			"timestamp": "2024-03-04T14:32:00.123Z"
		}
	}`, string(client.message))
}

func TestPublisher_Failure(t *testing.T) {
	p, err := NewPublisher(&mockClient{err: errors.New("connection reset")}, "stops", &mockLogger{})
	require.NoError(t, err)

	err = p.PublishStopAdjustment(context.Background(), stopMessage())
	assert.ErrorIs(t, err, ports.ErrPublishFailure)
}

func TestNewPublisher_Invalid(t *testing.T) {
	_, err := NewPublisher(nil, "", &mockLogger{})
	assert.ErrorIs(t, err, ports.ErrConfigurationError)
}

func TestDecodeCondition(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		symbol  string
		outlook domain.ConditionOutlook
		wantErr bool
	}{
		{
			name:    "enveloped",
			raw:     `{"timestamp":"x","channel":"condition.update","data":{"symbol":"ES","overallSignal":"deteriorating","timestamp":"2024-03-04T14:32:00Z"}}`,
			symbol:  "ES",
			outlook: domain.ConditionDeteriorating,
		},
		{
			name:    "bare upper case",
			raw:     `{"symbol":"NQ","overallSignal":"IMPROVING","details":{"score":0.4}}`,
			symbol:  "NQ",
			outlook: domain.ConditionImproving,
		},
		{name: "missing symbol", raw: `{"overallSignal":"neutral"}`, wantErr: true},
		{name: "unknown outlook", raw: `{"symbol":"ES","overallSignal":"sideways"}`, wantErr: true},
		{name: "bad timestamp", raw: `{"symbol":"ES","overallSignal":"neutral","timestamp":"yesterday"}`, wantErr: true},
		{name: "not json", raw: `nope`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			symbol, sig, err := DecodeCondition([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.symbol, symbol)
			assert.Equal(t, tt.outlook, sig.OverallSignal)
		})
	}
}

func TestConditionSubscriber_Handle(t *testing.T) {
	board := exits.NewConditionBoard()
	logger := &mockLogger{}
	s, err := NewConditionSubscriber(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "", board, logger)
	require.NoError(t, err)

	payload, err := EncodeEnvelope(DefaultConditionChannel, map[string]interface{}{
		"symbol":        "ES",
		"overallSignal": "deteriorating",
	}, fixed)
	require.NoError(t, err)

	s.Handle(context.Background(), payload)
	got, ok := board.Condition("ES")
	require.True(t, ok)
	assert.Equal(t, domain.ConditionDeteriorating, got.OverallSignal)

	s.Handle(context.Background(), []byte(`{"symbol":"ES"}`))
	assert.Equal(t, []string{"Dropped condition message"}, logger.warnMsgs)
	got, _ = board.Condition("ES")
	assert.Equal(t, domain.ConditionDeteriorating, got.OverallSignal, "a bad message keeps the last reading")
}

func TestEncodeEnvelope(t *testing.T) {
	raw, err := EncodeEnvelope("x", map[string]int{"a": 1}, fixed)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "x", env.Channel)
	assert.Equal(t, "2024-03-04T14:32:00.123Z", env.Timestamp)
	assert.JSONEq(t, `{"a":1}`, string(env.Data))
}
