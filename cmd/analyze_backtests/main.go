package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"tradeLifecycle/internal/adapters/logger"
	"tradeLifecycle/internal/adapters/sqlite"
	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/strategy/analytics"
	"tradeLifecycle/internal/utils"
)

func main() {
	dir := flag.String("dir", "data", "directory holding trade CSV files")
	prefix := flag.String("prefix", "backtest_trades", "trade file name prefix")
	dbPath := flag.String("db", "", "analyze trades stored in this SQLite database instead of CSV files")
	symbol := flag.String("symbol", "", "symbol to load from the database")
	limit := flag.Int("limit", 10000, "most recent trades loaded from the database")
	initial := flag.Float64("initial", 0, "starting balance for the equity curve")
	daily := flag.Bool("daily", false, "print the net result of each trading day")
	flag.Parse()

	sets := make(map[string][]*domain.Trade)
	if *dbPath != "" {
		trades, err := loadFromDB(*dbPath, *symbol, *limit)
		if err != nil {
			log.Fatalf("Error reading trades from %s: %v", *dbPath, err)
		}
		sets[filepath.Base(*dbPath)] = trades
	} else {
		files, err := findBacktestFiles(*dir, *prefix)
		if err != nil {
			log.Fatalf("Error finding backtest files: %v", err)
		}
		if len(files) == 0 {
			log.Println("No backtest files found. Run the backtest runner first.")
			return
		}
		for _, file := range files {
			trades, err := utils.ReadTradesFromCSV(file)
			if err != nil {
				log.Printf("Error reading trades from %s: %v", file, err)
				continue
			}
			sets[filepath.Base(file)] = trades
		}
	}

	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight|tabwriter.Debug)
	fmt.Fprintln(w, "Source\tTrades\tWinRate\tAvgWin\tAvgLoss\tTotalPnL\tPoints\tMaxDD\tPF\tExpectancy\tMFECapture\t")
	results := make(map[string]*analytics.PerformanceMetrics, len(sets))
	for _, name := range names {
		m := analytics.AnalyzePerformance(sets[name], *initial)
		results[name] = m
		fmt.Fprintf(w, "%s\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t\n",
			name,
			m.TotalTrades,
			m.WinRate*100,
			m.AverageWin,
			m.AverageLoss,
			m.TotalProfit,
			m.TotalPoints,
			m.MaxDrawdown,
			m.ProfitFactor,
			m.Expectancy,
			m.MFECapture,
		)
	}
	w.Flush()

	fmt.Println("\n## Exit Reason Analysis")
	for _, name := range names {
		printExitReasons(name, sets[name], results[name])
		if *daily {
			for _, d := range results[name].GetDailyReturns() {
				fmt.Printf("%s\t%.2f\n", d.Day.Format("2006-01-02"), d.Return)
			}
		}
	}
}

func loadFromDB(path, symbol string, limit int) ([]*domain.Trade, error) {
	if symbol == "" {
		return nil, fmt.Errorf("-symbol is required with -db")
	}
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: path,
		Logger: logger.New(os.Stderr, logger.ParseLevel("warn"), logger.FormatConsole),
	})
	if err != nil {
		return nil, err
	}
	defer repo.Close()
	return repo.FindBySymbol(context.Background(), symbol, limit)
}

// findBacktestFiles finds all backtest trade files in the specified directory
func findBacktestFiles(dir, prefix string) ([]string, error) {
	var files []string

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), prefix) && strings.HasSuffix(entry.Name(), ".csv") {
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// printExitReasons breaks a trade set down by exit reason.
func printExitReasons(name string, trades []*domain.Trade, m *analytics.PerformanceMetrics) {
	pnl := make(map[domain.ExitReason]float64)
	for _, t := range trades {
		pnl[t.ExitReason] += t.DollarPnL
	}

	var reasons []domain.ExitReason
	for reason := range m.ExitReasons {
		reasons = append(reasons, reason)
	}
	sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })

	fmt.Printf("\nSource: %s\n", name)
	fmt.Println("Exit Reason\tCount\tTotal PnL\tAvg PnL")
	for _, reason := range reasons {
		count := m.ExitReasons[reason]
		fmt.Printf("%s\t%d\t%.2f\t%.2f\n", reason, count, pnl[reason], pnl[reason]/float64(count))
	}
	fmt.Printf("Avg MFE %.2f, avg MAE %.2f, avg bars held %.1f, avg duration %s\n",
		m.AverageMFE, m.AverageMAE, m.AverageBarsHeld, m.AverageTradeDuration)
}
