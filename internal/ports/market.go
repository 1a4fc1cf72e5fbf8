package ports

import (
	"context"
	"time"

	"tradeLifecycle/internal/domain"
)

// MarketDataClient abstracts the vendor that supplies historical and streaming bars.
type MarketDataClient interface {
	// GetBars retrieves the most recent historical bars for the given symbol.
	GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error)

	// GetBarsRange retrieves all bars between start and end, oldest first.
	GetBarsRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error)

	// StreamBars starts a bar stream. The handler is called for every bar update;
	// errHandler receives translated stream errors. doneCh is closed when the stream
	// ends; sending on stopCh stops it.
	StreamBars(ctx context.Context, symbol, interval string, handler func(bar domain.Bar), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error)
}
