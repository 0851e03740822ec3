package kalshi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/lookup"
	"bracket-lab/internal/storage"
)

// DefaultLookbackPeriods controls how far GetLatestBefore searches back,
// in multiples of the requested granularity.
const DefaultLookbackPeriods = 48

// HistorySource exposes exchange candlestick history as a candle source,
// usable directly behind the cache or as the upstream of an archiver.
// Instrument names are market tickers; the series ticker is the segment
// before the first dash (e.g. "INXD-24AUG26-B5450" belongs to "INXD").
// Candle timestamps are period-end Unix seconds, matching the exchange,
// and prices are probabilities in [0, 1].
type HistorySource struct {
	client          *Client
	lookbackPeriods int
}

// HistorySourceOption configures HistorySource.
type HistorySourceOption func(*HistorySource)

// WithLookbackPeriods sets how many periods GetLatestBefore scans back.
func WithLookbackPeriods(n int) HistorySourceOption {
	return func(s *HistorySource) {
		s.lookbackPeriods = n
	}
}

// NewHistorySource creates a candle source backed by the exchange API.
func NewHistorySource(client *Client, opts ...HistorySourceOption) *HistorySource {
	s := &HistorySource{
		client:          client,
		lookbackPeriods: DefaultLookbackPeriods,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SeriesTicker derives the series ticker from a market ticker.
func SeriesTicker(marketTicker string) string {
	if idx := strings.Index(marketTicker, "-"); idx > 0 {
		return marketTicker[:idx]
	}
	return marketTicker
}

// GetRange returns candles with timestamps in [start, end), ascending.
func (s *HistorySource) GetRange(ctx context.Context, instrument string, start, end int64, granularityMinutes int) ([]*domain.Candle, error) {
	if end <= start {
		return nil, fmt.Errorf("%w: end must be after start", storage.ErrInvalidInput)
	}

	// The API treats end_ts as inclusive on end-period timestamps.
	sticks, err := s.client.GetCandlesticks(ctx, SeriesTicker(instrument), instrument, start, end-1, granularityMinutes)
	if err != nil {
		return nil, fmt.Errorf("fetch candlesticks: %w", err)
	}

	candles := make([]*domain.Candle, 0, len(sticks))
	for i := range sticks {
		if sticks[i].EndPeriodTs < start || sticks[i].EndPeriodTs >= end {
			continue
		}
		candles = append(candles, toCandle(instrument, &sticks[i]))
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})
	return candles, nil
}

// GetLatestBefore returns the most recent candle strictly before ts,
// scanning back a bounded lookback window. Returns storage.ErrNotFound
// when the window holds no history.
func (s *HistorySource) GetLatestBefore(ctx context.Context, instrument string, ts int64, granularityMinutes int) (*domain.Candle, error) {
	lookback := int64(s.lookbackPeriods) * int64(granularityMinutes) * 60
	sticks, err := s.client.GetCandlesticks(ctx, SeriesTicker(instrument), instrument, ts-lookback, ts-1, granularityMinutes)
	if err != nil {
		return nil, fmt.Errorf("fetch candlesticks: %w", err)
	}

	candles := make([]*domain.Candle, 0, len(sticks))
	for i := range sticks {
		candles = append(candles, toCandle(instrument, &sticks[i]))
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})

	c := lookup.LatestBefore(candles, ts-1)
	if c == nil {
		return nil, storage.ErrNotFound
	}
	return c, nil
}

func toCandle(instrument string, cs *Candlestick) *domain.Candle {
	return &domain.Candle{
		Instrument: instrument,
		Timestamp:  cs.EndPeriodTs,
		Open:       float64(cs.Price.Open) / 100,
		High:       float64(cs.Price.High) / 100,
		Low:        float64(cs.Price.Low) / 100,
		Close:      cs.FillPrice(),
		Volume:     float64(cs.Volume),
	}
}
