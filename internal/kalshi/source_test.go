package kalshi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"bracket-lab/internal/storage"
)

func candlestickHandler(t *testing.T, sticks []Candlestick) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"candlesticks": sticks})
	})
}

func TestSeriesTicker(t *testing.T) {
	if got := SeriesTicker("INXD-26AUG25-B5450"); got != "INXD" {
		t.Errorf("SeriesTicker = %s, want INXD", got)
	}
	if got := SeriesTicker("INXD"); got != "INXD" {
		t.Errorf("SeriesTicker without dash = %s, want INXD", got)
	}
}

func TestHistorySourceGetRange(t *testing.T) {
	c, srv := newTestClient(candlestickHandler(t, []Candlestick{
		{EndPeriodTs: 7200, YesBid: OHLC{Close: 40}, YesAsk: OHLC{Close: 44}, Volume: 5},
		{EndPeriodTs: 3600, Price: OHLC{Open: 50, High: 58, Low: 48, Close: 55}, Volume: 10},
		{EndPeriodTs: 10800, Price: OHLC{Close: 61}}, // outside [start, end)
	}))
	defer srv.Close()

	src := NewHistorySource(c)
	candles, err := src.GetRange(context.Background(), "INXD-26AUG25-B5450", 3600, 10800, 60)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}

	// Sorted ascending, cents converted to probabilities
	if candles[0].Timestamp != 3600 || candles[1].Timestamp != 7200 {
		t.Errorf("unexpected order: %d, %d", candles[0].Timestamp, candles[1].Timestamp)
	}
	if candles[0].Close != 0.55 {
		t.Errorf("traded close = %v, want 0.55", candles[0].Close)
	}
	if candles[1].Close != 0.42 {
		t.Errorf("bid/ask mid = %v, want 0.42", candles[1].Close)
	}
	if candles[0].Instrument != "INXD-26AUG25-B5450" {
		t.Errorf("instrument = %s", candles[0].Instrument)
	}
}

func TestHistorySourceGetRangeInvalidWindow(t *testing.T) {
	c, srv := newTestClient(candlestickHandler(t, nil))
	defer srv.Close()

	src := NewHistorySource(c)
	if _, err := src.GetRange(context.Background(), "X-1", 100, 100, 60); err == nil {
		t.Fatal("expected error for empty window")
	}
}

func TestHistorySourceGetLatestBefore(t *testing.T) {
	c, srv := newTestClient(candlestickHandler(t, []Candlestick{
		{EndPeriodTs: 3600, Price: OHLC{Close: 30}},
		{EndPeriodTs: 7200, Price: OHLC{Close: 35}},
	}))
	defer srv.Close()

	src := NewHistorySource(c)
	candle, err := src.GetLatestBefore(context.Background(), "X-1", 8000, 60)
	if err != nil {
		t.Fatalf("GetLatestBefore: %v", err)
	}
	if candle.Timestamp != 7200 || candle.Close != 0.35 {
		t.Errorf("unexpected candle: %+v", candle)
	}
}

func TestHistorySourceGetLatestBeforeEmpty(t *testing.T) {
	c, srv := newTestClient(candlestickHandler(t, nil))
	defer srv.Close()

	src := NewHistorySource(c)
	_, err := src.GetLatestBefore(context.Background(), "X-1", 8000, 60)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got: %v", err)
	}
}
