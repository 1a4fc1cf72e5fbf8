package backtesting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"tradeLifecycle/internal/domain"
	"tradeLifecycle/internal/ports"
)

// Reconciler slices fine-resolution bars into the coarse decision periods they belong to.
type Reconciler struct {
	fine       []domain.Bar
	period     time.Duration
	duplicates int
}

// NewReconciler validates fine bars for chronological order.
// Exact duplicates are dropped (first occurrence kept); a bar earlier than its
// predecessor, or a second bar with the same timestamp but different prices, is rejected.
func NewReconciler(ctx context.Context, fine []domain.Bar, period time.Duration, logger ports.Logger) (*Reconciler, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: coarse period must be positive", ports.ErrConfigurationError)
	}

	clean := make([]domain.Bar, 0, len(fine))
	dups := 0
	for i, b := range fine {
		if len(clean) > 0 {
			prev := clean[len(clean)-1]
			switch {
			case b.Timestamp.Before(prev.Timestamp):
				return nil, fmt.Errorf("%w: fine bar %d at %s precedes %s", ports.ErrOutOfOrderBar, i,
					b.Timestamp.Format(time.RFC3339), prev.Timestamp.Format(time.RFC3339))
			case b.Timestamp.Equal(prev.Timestamp):
				if !sameBar(b, prev) {
					return nil, fmt.Errorf("%w: conflicting fine bars at %s", ports.ErrOutOfOrderBar, b.Timestamp.Format(time.RFC3339))
				}
				dups++
				continue
			}
		}
		clean = append(clean, b)
	}
	if dups > 0 && logger != nil {
		logger.Warn(ctx, "Dropped duplicate fine bars", map[string]interface{}{"count": dups})
	}
	return &Reconciler{fine: clean, period: period, duplicates: dups}, nil
}

func sameBar(a, b domain.Bar) bool {
	return a.Open == b.Open && a.High == b.High && a.Low == b.Low && a.Close == b.Close && a.Volume == b.Volume
}

// Duplicates returns how many exact duplicate bars were dropped.
func (r *Reconciler) Duplicates() int { return r.duplicates }

// HasFineData reports whether any fine bars are available.
func (r *Reconciler) HasFineData() bool { return len(r.fine) > 0 }

// SignalTime is the earliest time a decision made on coarse may fill:
// the close of its period.
func (r *Reconciler) SignalTime(coarse domain.Bar) time.Time {
	return coarse.Timestamp.Add(r.period)
}

// Window returns the fine bars inside coarse's period that are at or after eligibleFrom.
// When no fine bar covers the period, the coarse bar itself is returned and degraded is true.
func (r *Reconciler) Window(coarse domain.Bar, eligibleFrom time.Time) (bars []domain.Bar, degraded bool) {
	start := coarse.Timestamp
	end := start.Add(r.period)
	if eligibleFrom.After(start) {
		start = eligibleFrom
	}

	lo := sort.Search(len(r.fine), func(i int) bool { return !r.fine[i].Timestamp.Before(coarse.Timestamp) })
	hi := sort.Search(len(r.fine), func(i int) bool { return !r.fine[i].Timestamp.Before(end) })
	if lo == hi {
		if coarse.Timestamp.Before(eligibleFrom) {
			return nil, true
		}
		return []domain.Bar{coarse}, true
	}

	from := sort.Search(len(r.fine), func(i int) bool { return !r.fine[i].Timestamp.Before(start) })
	if from < lo {
		from = lo
	}
	if from >= hi {
		return nil, false
	}
	return r.fine[from:hi], false
}

// LastBefore returns the last fine bar starting before t.
func (r *Reconciler) LastBefore(t time.Time) (domain.Bar, bool) {
	i := sort.Search(len(r.fine), func(i int) bool { return !r.fine[i].Timestamp.Before(t) })
	if i == 0 {
		return domain.Bar{}, false
	}
	return r.fine[i-1], true
}
