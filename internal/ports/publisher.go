package ports

import (
	"context"
	"time"
)

// StopAdjustmentMessage is the modify_stop intent sent to the execution side.
// Field names and JSON layout are an interoperability contract.
type StopAdjustmentMessage struct {
	Action          string                 `json:"action"`
	Symbol          string                 `json:"symbol"`
	NewStopPrice    float64                `json:"new_stop_price"`
	Reason          string                 `json:"reason"`
	OrderStrategyID string                 `json:"order_strategy_id"`
	OrderID         string                 `json:"order_id"`
	Metadata        StopAdjustmentMetadata `json:"metadata"`
	Timestamp       string                 `json:"timestamp"`
}

// StopAdjustmentMetadata carries the position context of a modify_stop intent.
type StopAdjustmentMetadata struct {
	EntryPrice      float64 `json:"entryPrice"`
	BarsHeld        int     `json:"barsHeld"`
	MFE             float64 `json:"mfe"`
	MAE             float64 `json:"mae"`
	PreviousStop    float64 `json:"previousStop"`
	AdjustmentCount int     `json:"adjustmentCount"`
}

// ActionModifyStop is the only action the engine emits.
const ActionModifyStop = "modify_stop"

// MessageTimeLayout is the ISO-8601 layout (UTC, milliseconds) used for message timestamps.
const MessageTimeLayout = "2006-01-02T15:04:05.000Z"

// FormatMessageTime renders t in MessageTimeLayout.
func FormatMessageTime(t time.Time) string {
	return t.UTC().Format(MessageTimeLayout)
}

// StopAdjustmentPublisher delivers modify_stop intents to the message bus.
type StopAdjustmentPublisher interface {
	PublishStopAdjustment(ctx context.Context, msg StopAdjustmentMessage) error
}
