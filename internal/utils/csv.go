// Package utils reads and writes the CSV files used by the command-line tools.
package utils

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"tradeLifecycle/internal/domain"
)

var barHeader = []string{"timestamp", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteBarsToCSV writes bars to filename, oldest first as given.
func WriteBarsToCSV(bars []domain.Bar, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteBars(file, bars)
}

// WriteBars writes bars with a header row.
func WriteBars(w io.Writer, bars []domain.Bar) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(barHeader); err != nil {
		return err
	}
	for _, b := range bars {
		if err := writer.Write([]string{
			b.Timestamp.UTC().Format(time.RFC3339),
			b.Symbol,
			b.Interval,
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			formatFloat(b.Volume),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadBarsFromCSV reads bars from filename.
func ReadBarsFromCSV(filename string) ([]domain.Bar, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	bars, err := ReadBars(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return bars, nil
}

// ReadBars reads bars from a CSV with a header row. Columns are matched by
// name; the bar time may be called timestamp, open_time or ts_event and holds
// RFC 3339 text or Unix milliseconds. Symbol, interval and volume are optional.
func ReadBars(r io.Reader) ([]domain.Bar, error) {
	rows, col, err := readTable(r)
	if err != nil {
		return nil, err
	}
	tsCol, ok := col.first("timestamp", "open_time", "ts_event")
	if !ok {
		return nil, errors.New("missing timestamp column")
	}
	for _, name := range []string{"open", "high", "low", "close"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing %s column", name)
		}
	}

	bars := make([]domain.Bar, 0, len(rows))
	for i, row := range rows {
		line := i + 2
		ts, err := parseTime(row[tsCol])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		b := domain.Bar{
			Timestamp: ts,
			Symbol:    col.get(row, "symbol"),
			Interval:  col.get(row, "interval"),
			IsFinal:   true,
		}
		fields := []struct {
			name string
			dst  *float64
		}{
			{"open", &b.Open}, {"high", &b.High}, {"low", &b.Low}, {"close", &b.Close}, {"volume", &b.Volume},
		}
		for _, f := range fields {
			raw := col.get(row, f.name)
			if raw == "" && f.name == "volume" {
				continue
			}
			if *f.dst, err = strconv.ParseFloat(raw, 64); err != nil {
				return nil, fmt.Errorf("line %d: invalid %s %q", line, f.name, raw)
			}
		}
		bars = append(bars, b)
	}
	return bars, nil
}

// ReadSignalsFromCSV reads precomputed signals keyed by the timestamp of the
// coarse bar they were decided on.
func ReadSignalsFromCSV(filename string) (map[time.Time]domain.Signal, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	signals, err := ReadSignals(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return signals, nil
}

// ReadSignals parses columns timestamp, side, entry, stop, target and the
// optional trail_trigger, trail_offset, max_hold_bars, max_hold_minutes,
// quantity, strategy. Blank optional cells leave the field unset.
func ReadSignals(r io.Reader) (map[time.Time]domain.Signal, error) {
	rows, col, err := readTable(r)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"timestamp", "side", "entry", "stop", "target"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing %s column", name)
		}
	}

	out := make(map[time.Time]domain.Signal, len(rows))
	for i, row := range rows {
		line := i + 2
		ts, err := parseTime(col.get(row, "timestamp"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		sig := domain.Signal{
			Side:     domain.Side(strings.ToLower(col.get(row, "side"))),
			Strategy: col.get(row, "strategy"),
		}
		for _, f := range []struct {
			name string
			dst  *float64
		}{{"entry", &sig.EntryPrice}, {"stop", &sig.StopLoss}, {"target", &sig.TakeProfit}} {
			if *f.dst, err = strconv.ParseFloat(col.get(row, f.name), 64); err != nil {
				return nil, fmt.Errorf("line %d: invalid %s %q", line, f.name, col.get(row, f.name))
			}
		}
		if sig.TrailingTrigger, err = optionalFloat(col.get(row, "trail_trigger")); err != nil {
			return nil, fmt.Errorf("line %d: trail_trigger: %w", line, err)
		}
		if sig.TrailingOffset, err = optionalFloat(col.get(row, "trail_offset")); err != nil {
			return nil, fmt.Errorf("line %d: trail_offset: %w", line, err)
		}
		if sig.MaxHoldBars, err = optionalInt(col.get(row, "max_hold_bars")); err != nil {
			return nil, fmt.Errorf("line %d: max_hold_bars: %w", line, err)
		}
		if sig.MaxHoldMinutes, err = optionalInt(col.get(row, "max_hold_minutes")); err != nil {
			return nil, fmt.Errorf("line %d: max_hold_minutes: %w", line, err)
		}
		if q, err := optionalFloat(col.get(row, "quantity")); err != nil {
			return nil, fmt.Errorf("line %d: quantity: %w", line, err)
		} else if q != nil {
			sig.Quantity = *q
		}
		out[ts] = sig
	}
	return out, nil
}

// ReadRegimesFromCSV reads raw regime labels keyed by coarse bar timestamp.
func ReadRegimesFromCSV(filename string) (map[time.Time]domain.RawRegime, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	regimes, err := ReadRegimes(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return regimes, nil
}

// ReadRegimes parses columns timestamp, regime, confidence.
func ReadRegimes(r io.Reader) (map[time.Time]domain.RawRegime, error) {
	rows, col, err := readTable(r)
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"timestamp", "regime", "confidence"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing %s column", name)
		}
	}
	out := make(map[time.Time]domain.RawRegime, len(rows))
	for i, row := range rows {
		ts, err := parseTime(col.get(row, "timestamp"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, err)
		}
		conf, err := strconv.ParseFloat(col.get(row, "confidence"), 64)
		if err != nil || conf < 0 || conf > 1 {
			return nil, fmt.Errorf("line %d: confidence must be a number in [0, 1], got %q", i+2, col.get(row, "confidence"))
		}
		out[ts] = domain.RawRegime{Regime: col.get(row, "regime"), Confidence: conf}
	}
	return out, nil
}

var tradeHeader = []string{
	"id", "position_id", "symbol", "side", "strategy", "entry_time", "exit_time",
	"entry_price", "exit_price", "quantity", "exit_reason", "points_pnl", "dollar_pnl",
	"commission", "bars_held", "mfe", "mae",
}

// WriteTradesToCSV writes completed trades to filename.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()
	return WriteTrades(file, trades)
}

// WriteTrades writes trades with a header row.
func WriteTrades(w io.Writer, trades []*domain.Trade) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		if err := writer.Write([]string{
			strconv.FormatInt(t.ID, 10),
			t.PositionID,
			t.Symbol,
			string(t.Side),
			t.Strategy,
			t.EntryTime.UTC().Format(time.RFC3339),
			t.ExitTime.UTC().Format(time.RFC3339),
			formatFloat(t.EntryPrice),
			formatFloat(t.ExitPrice),
			formatFloat(t.Quantity),
			string(t.ExitReason),
			formatFloat(t.PointsPnL),
			formatFloat(t.DollarPnL),
			formatFloat(t.Commission),
			strconv.Itoa(t.BarsHeld),
			formatFloat(t.MFE),
			formatFloat(t.MAE),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadTradesFromCSV reads a trades file written by WriteTradesToCSV.
func ReadTradesFromCSV(filename string) ([]*domain.Trade, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	trades, err := ReadTrades(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return trades, nil
}

// ReadTrades parses the trade CSV layout.
func ReadTrades(r io.Reader) ([]*domain.Trade, error) {
	rows, col, err := readTable(r)
	if err != nil {
		return nil, err
	}
	for _, name := range tradeHeader {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing %s column", name)
		}
	}

	trades := make([]*domain.Trade, 0, len(rows))
	for i, row := range rows {
		p := fieldParser{row: row, col: col}
		t := &domain.Trade{
			ID:         p.int64("id"),
			PositionID: col.get(row, "position_id"),
			Symbol:     col.get(row, "symbol"),
			Side:       domain.Side(col.get(row, "side")),
			Strategy:   col.get(row, "strategy"),
			EntryTime:  p.time("entry_time"),
			ExitTime:   p.time("exit_time"),
			EntryPrice: p.float("entry_price"),
			ExitPrice:  p.float("exit_price"),
			Quantity:   p.float("quantity"),
			ExitReason: domain.ExitReason(col.get(row, "exit_reason")),
			PointsPnL:  p.float("points_pnl"),
			DollarPnL:  p.float("dollar_pnl"),
			Commission: p.float("commission"),
			BarsHeld:   int(p.int64("bars_held")),
			MFE:        p.float("mfe"),
			MAE:        p.float("mae"),
		}
		if p.err != nil {
			return nil, fmt.Errorf("line %d: %w", i+2, p.err)
		}
		t.Duration = t.ExitTime.Sub(t.EntryTime)
		trades = append(trades, t)
	}
	return trades, nil
}

// columns maps lower-cased header names to their index.
type columns map[string]int

func (c columns) first(names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := c[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func (c columns) get(row []string, name string) string {
	i, ok := c[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func readTable(r io.Reader) ([][]string, columns, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, errors.New("empty file")
	}
	col := make(columns, len(records[0]))
	for i, name := range records[0] {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return records[1:], col, nil
}

// fieldParser keeps the first conversion error of a row.
type fieldParser struct {
	row []string
	col columns
	err error
}

func (p *fieldParser) float(name string) float64 {
	v, err := strconv.ParseFloat(p.col.get(p.row, name), 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q", name, p.col.get(p.row, name))
	}
	return v
}

func (p *fieldParser) int64(name string) int64 {
	v, err := strconv.ParseInt(p.col.get(p.row, name), 10, 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q", name, p.col.get(p.row, name))
	}
	return v
}

func (p *fieldParser) time(name string) time.Time {
	v, err := parseTime(p.col.get(p.row, name))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("%s: %w", name, err)
	}
	return v
}

// parseTime accepts RFC 3339 text or Unix milliseconds and returns UTC.
func parseTime(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UTC(), nil
}

func optionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return domain.Float(v), nil
}

func optionalInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return domain.Int(v), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
