// Package binanceclient supplies historical and streaming bars from Binance futures.
package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	maxKlinesPerRequest = 1500
)

// Client implements ports.MarketDataClient using the go-binance library.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	reconnectDelay       time.Duration
	maxReconnectAttempts int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	Logger               ports.Logger
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
}

// New creates a new Binance market data adapter. Keys are optional; bars are public.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for Binance client", ports.ErrConfigurationError)
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
	} else {
		client.BaseURL = baseURLProduction
	}
	cfg.Logger.Info(context.Background(), "Binance market data client configured", map[string]interface{}{"baseURL": client.BaseURL})

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
	}, nil
}

// classifyError maps Binance and transport failures to ports errors.
func classifyError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -1003:
			return ports.ErrRateLimited
		case -1021:
			return ports.ErrTimeout
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1120, -1121:
			return ports.ErrInvalidRequest
		default:
			return ports.ErrMarketDataUnavailable
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ports.ErrTimeout
	case errors.Is(err, context.Canceled):
		return ports.ErrContextCanceled
	case strings.Contains(err.Error(), "use of closed network connection"),
		strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"):
		return ports.ErrConnectionFailed
	default:
		return ports.ErrUnknown
	}
}

func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	fields := map[string]interface{}{"operation": operation}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
	}
	c.logger.Error(ctx, err, operation+" failed", fields)
	return fmt.Errorf("%s failed: %w: %w", operation, classifyError(err), err)
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, err, "Ping")
	}
	return nil
}

// GetBars retrieves the most recent historical bars, oldest first.
func (c *Client) GetBars(ctx context.Context, symbol, interval string, limit int) ([]domain.Bar, error) {
	op := "GetBars"
	klines, err := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	bars := make([]domain.Bar, 0, len(klines))
	for _, k := range klines {
		bar, err := translateKline(k, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// GetBarsRange pages through all bars between start and end.
func (c *Client) GetBarsRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]domain.Bar, error) {
	op := "GetBarsRange"
	var bars []domain.Bar
	from := start

	for {
		klines, err := c.futuresClient.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(from.UnixMilli()).
			EndTime(end.UnixMilli()).
			Limit(maxKlinesPerRequest).
			Do(ctx)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		for _, k := range klines {
			bar, err := translateKline(k, symbol, interval)
			if err != nil {
				return nil, c.handleError(ctx, err, op)
			}
			bars = append(bars, bar)
		}
		if len(klines) < maxKlinesPerRequest {
			break
		}
		from = time.UnixMilli(klines[len(klines)-1].CloseTime + 1)
		if from.After(end) {
			break
		}
		c.logger.Debug(ctx, "Fetched bar page", map[string]interface{}{"symbol": symbol, "interval": interval, "total": len(bars)})
	}
	return bars, nil
}

// StreamBars streams kline updates, reconnecting with exponential backoff.
// doneCh closes when streaming ends; closing or sending on stopCh ends it.
func (c *Client) StreamBars(ctx context.Context, symbol, interval string, handler func(bar domain.Bar), errHandler func(err error)) (doneCh chan struct{}, stopCh chan struct{}, err error) {
	op := "StreamBars"
	wsCtx, cancelWs := context.WithCancel(ctx)
	fields := map[string]interface{}{"symbol": symbol, "interval": interval}

	onEvent := func(event *futures.WsKlineEvent) {
		bar, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(wsCtx, err, "Failed to translate kline event", fields)
			return
		}
		handler(bar)
	}
	onError := func(err error) {
		errHandler(c.handleError(wsCtx, err, op))
	}

	go func() {
		defer cancelWs()
		attempt := 0
		for wsCtx.Err() == nil {
			innerDone, innerStop, connectErr := futures.WsKlineServe(symbol, interval, onEvent, onError)
			if connectErr != nil {
				c.handleError(wsCtx, connectErr, op+" connect")
				attempt++
				if attempt >= c.maxReconnectAttempts {
					c.logger.Error(wsCtx, connectErr, "Max reconnection attempts exceeded", fields)
					return
				}
				select {
				case <-time.After(c.reconnectDelay * time.Duration(1<<uint(attempt-1))):
					continue
				case <-wsCtx.Done():
					return
				}
			}

			c.logger.Info(wsCtx, "Bar stream connected", fields)
			attempt = 0
			select {
			case <-innerDone:
				c.logger.Warn(wsCtx, "Bar stream closed, reconnecting", fields)
			case <-wsCtx.Done():
				select {
				case innerStop <- struct{}{}:
				default:
				}
				return
			}
		}
	}()

	doneCh = make(chan struct{})
	stopCh = make(chan struct{})
	go func() {
		select {
		case <-stopCh:
			cancelWs()
		case <-wsCtx.Done():
		}
	}()
	go func() {
		<-wsCtx.Done()
		c.logger.Info(ctx, "Bar stream stopped", fields)
		close(doneCh)
	}()
	return doneCh, stopCh, nil
}

// --- Translation Helpers ---

func parseOHLCV(open, high, low, cls, vol string) (o, h, l, c, v float64, err error) {
	values := []*float64{&o, &h, &l, &c, &v}
	for i, s := range []string{open, high, low, cls, vol} {
		f, perr := strconv.ParseFloat(s, 64)
		if perr != nil {
			return 0, 0, 0, 0, 0, fmt.Errorf("parsing %q: %w", s, perr)
		}
		*values[i] = f
	}
	return o, h, l, c, v, nil
}

func translateKline(k *futures.Kline, symbol, interval string) (domain.Bar, error) {
	if k == nil {
		return domain.Bar{}, errors.New("received nil historical kline")
	}
	o, h, l, c, v, err := parseOHLCV(k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return domain.Bar{}, err
	}
	return domain.Bar{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Symbol:    symbol,
		Interval:  interval,
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
		IsFinal:   true,
	}, nil
}

func translateWsKline(event *futures.WsKlineEvent) (domain.Bar, error) {
	if event == nil {
		return domain.Bar{}, errors.New("received nil kline event")
	}
	k := event.Kline
	o, h, l, c, v, err := parseOHLCV(k.Open, k.High, k.Low, k.Close, k.Volume)
	if err != nil {
		return domain.Bar{}, err
	}
	return domain.Bar{
		Timestamp: time.UnixMilli(k.StartTime).UTC(),
		Symbol:    k.Symbol,
		Interval:  k.Interval,
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
		IsFinal:   k.IsFinal,
	}, nil
}
