package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.TradeRepository and ports.StopAdjustmentRepository interfaces using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("%w: logger is required for SQLite repository", ports.ErrConfigurationError)
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trades.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("%w: open '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: ping '%s': %w", ports.ErrDBConnection, dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// One writer; the driver serialises through this connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite trade store ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL UNIQUE,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		strategy TEXT NOT NULL DEFAULT '',
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		quantity REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		exit_reason TEXT NOT NULL,
		points_pnl REAL NOT NULL,
		dollar_pnl REAL NOT NULL,
		commission REAL NOT NULL DEFAULT 0,
		bars_held INTEGER NOT NULL,
		mfe REAL NOT NULL,
		mae REAL NOT NULL,
		metadata TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS stop_adjustments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		bar INTEGER NOT NULL,
		from_stop REAL NOT NULL,
		to_stop REAL NOT NULL,
		reason TEXT NOT NULL,
		mfe REAL NOT NULL,
		adjusted_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol_exit_time ON trades (symbol, exit_time);
	CREATE INDEX IF NOT EXISTS idx_stop_adjustments_position ON stop_adjustments (position_id);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: schema: %w", ports.ErrQueryFailed, err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	r.logger.Info(context.Background(), "Closing SQLite database connection")
	return r.db.Close()
}

// --- TradeRepository Implementation ---

// CreateTrade saves a completed trade and returns its assigned ID.
// The trade itself is not modified; a second trade for the same position is rejected.
func (r *Repository) CreateTrade(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (position_id, symbol, side, strategy, entry_price, exit_price, quantity,
	                    entry_time, exit_time, exit_reason, points_pnl, dollar_pnl, commission,
	                    bars_held, mfe, mae, metadata)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var metadata sql.NullString
	if len(trade.Metadata) > 0 {
		raw, err := json.Marshal(trade.Metadata)
		if err != nil {
			return 0, fmt.Errorf("%w: encode metadata of position %s: %w", ports.ErrInvalidRequest, trade.PositionID, err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}

	var exists int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trades WHERE position_id = ?`, trade.PositionID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("%w: check position %s: %w", ports.ErrQueryFailed, trade.PositionID, err)
	}
	if exists > 0 {
		return 0, fmt.Errorf("%w: trade for position %s", ports.ErrDuplicateEntry, trade.PositionID)
	}

	result, err := r.db.ExecContext(ctx, query,
		trade.PositionID, trade.Symbol, string(trade.Side), trade.Strategy, trade.EntryPrice, trade.ExitPrice, trade.Quantity,
		trade.EntryTime.UTC(), trade.ExitTime.UTC(), string(trade.ExitReason), trade.PointsPnL, trade.DollarPnL, trade.Commission,
		trade.BarsHeld, trade.MFE, trade.MAE, metadata)
	if err != nil {
		return 0, fmt.Errorf("%w: insert trade for symbol %s: %w", ports.ErrQueryFailed, trade.Symbol, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: last insert id for trade %s: %w", ports.ErrQueryFailed, trade.PositionID, err)
	}
	r.logger.Debug(ctx, "Trade stored", map[string]interface{}{"tradeID": id, "symbol": trade.Symbol, "reason": trade.ExitReason})
	return id, nil
}

// FindBySymbol retrieves the most recent trades for a given symbol, up to a limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	const query = `
	SELECT id, position_id, symbol, side, strategy, entry_price, exit_price, quantity,
	       entry_time, exit_time, exit_reason, points_pnl, dollar_pnl, commission,
	       bars_held, mfe, mae, metadata
	FROM trades
	WHERE symbol = ? ORDER BY exit_time DESC, id DESC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: trades for symbol %s: %w", ports.ErrQueryFailed, symbol, err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan trade: %w", ports.ErrQueryFailed, err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate trades: %w", ports.ErrQueryFailed, err)
	}
	return trades, nil
}

// CountByReason counts stored trades for a symbol grouped by exit reason.
func (r *Repository) CountByReason(ctx context.Context, symbol string) (map[domain.ExitReason]int, error) {
	const query = `SELECT exit_reason, COUNT(*) FROM trades WHERE symbol = ? GROUP BY exit_reason`

	rows, err := r.db.QueryContext(ctx, query, symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: count trades for symbol %s: %w", ports.ErrQueryFailed, symbol, err)
	}
	defer rows.Close()

	counts := make(map[domain.ExitReason]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, fmt.Errorf("%w: scan reason count: %w", ports.ErrQueryFailed, err)
		}
		counts[domain.ExitReason(reason)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate reason counts: %w", ports.ErrQueryFailed, err)
	}
	return counts, nil
}

// --- StopAdjustmentRepository Implementation ---

// SaveStopAdjustment appends one adjustment for the given position.
func (r *Repository) SaveStopAdjustment(ctx context.Context, positionID, symbol string, adj domain.StopAdjustment) error {
	const query = `
	INSERT INTO stop_adjustments (position_id, symbol, bar, from_stop, to_stop, reason, mfe, adjusted_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, query, positionID, symbol, adj.Bar, adj.From, adj.To, adj.Reason, adj.MFE, adj.Timestamp.UTC()); err != nil {
		return fmt.Errorf("%w: insert stop adjustment for position %s: %w", ports.ErrQueryFailed, positionID, err)
	}
	return nil
}

// FindStopAdjustments returns the adjustments of a position in insertion order.
func (r *Repository) FindStopAdjustments(ctx context.Context, positionID string) ([]domain.StopAdjustment, error) {
	const query = `
	SELECT bar, from_stop, to_stop, reason, mfe, adjusted_at
	FROM stop_adjustments WHERE position_id = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, positionID)
	if err != nil {
		return nil, fmt.Errorf("%w: stop adjustments for position %s: %w", ports.ErrQueryFailed, positionID, err)
	}
	defer rows.Close()

	var out []domain.StopAdjustment
	for rows.Next() {
		var a domain.StopAdjustment
		if err := rows.Scan(&a.Bar, &a.From, &a.To, &a.Reason, &a.MFE, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: scan stop adjustment: %w", ports.ErrQueryFailed, err)
		}
		a.Timestamp = a.Timestamp.UTC()
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate stop adjustments: %w", ports.ErrQueryFailed, err)
	}
	return out, nil
}

// --- Helper Scan Functions ---

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, reason string
	var metadata sql.NullString
	err := s.Scan(
		&t.ID, &t.PositionID, &t.Symbol, &side, &t.Strategy, &t.EntryPrice, &t.ExitPrice, &t.Quantity,
		&t.EntryTime, &t.ExitTime, &reason, &t.PointsPnL, &t.DollarPnL, &t.Commission,
		&t.BarsHeld, &t.MFE, &t.MAE, &metadata)
	if err != nil {
		return nil, err
	}
	t.Side = domain.Side(side)
	t.ExitReason = domain.ExitReason(reason)
	t.EntryTime = t.EntryTime.UTC()
	t.ExitTime = t.ExitTime.UTC()
	t.Duration = t.ExitTime.Sub(t.EntryTime)
	if metadata.Valid {
		if err := json.Unmarshal([]byte(metadata.String), &t.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return t, nil
}
