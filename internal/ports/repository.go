package ports

import (
	"context"

	"tradeLifecycle/internal/domain"
)

// TradeRepository defines the interface for storing and retrieving completed trades.
type TradeRepository interface {
	// CreateTrade saves a new trade record and returns its assigned ID.
	CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error)
	// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
	FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error)
	// CountByReason counts stored trades for a symbol grouped by exit reason.
	CountByReason(ctx context.Context, symbol string) (map[domain.ExitReason]int, error)
}

// StopAdjustmentRepository persists the stop-adjustment log of live positions.
type StopAdjustmentRepository interface {
	// SaveStopAdjustment appends one adjustment for the given position.
	SaveStopAdjustment(ctx context.Context, positionID, symbol string, adj domain.StopAdjustment) error
	// FindStopAdjustments returns the adjustments of a position in insertion order.
	FindStopAdjustments(ctx context.Context, positionID string) ([]domain.StopAdjustment, error)
}
