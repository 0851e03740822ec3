// Package lookup provides point-in-time reads over candle slices already
// sorted by timestamp ascending. Callers fetch a window once and answer
// repeated queries in memory instead of going back to the store.
package lookup

import (
	"sort"

	"bracket-lab/internal/domain"
)

// LatestBefore returns the last candle with Timestamp <= ts, or nil when
// every candle is later than ts.
func LatestBefore(candles []*domain.Candle, ts int64) *domain.Candle {
	// First index strictly after ts
	idx := sort.Search(len(candles), func(i int) bool {
		return candles[i].Timestamp > ts
	})
	if idx == 0 {
		return nil
	}
	return candles[idx-1]
}

// CloseAt returns the close of the candle exactly at ts. The second return
// is false when no candle carries that timestamp.
func CloseAt(candles []*domain.Candle, ts int64) (float64, bool) {
	idx := sort.Search(len(candles), func(i int) bool {
		return candles[i].Timestamp >= ts
	})
	if idx < len(candles) && candles[idx].Timestamp == ts {
		return candles[idx].Close, true
	}
	return 0, false
}

// Range returns the subslice of candles with Timestamp in [start, end).
// The result aliases the input; callers must not mutate it.
func Range(candles []*domain.Candle, start, end int64) []*domain.Candle {
	lo := sort.Search(len(candles), func(i int) bool {
		return candles[i].Timestamp >= start
	})
	hi := sort.Search(len(candles), func(i int) bool {
		return candles[i].Timestamp >= end
	})
	return candles[lo:hi]
}
