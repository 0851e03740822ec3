package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"bracket-lab/internal/calendar"
	"bracket-lab/internal/domain"
	"bracket-lab/internal/storage"
)

// Fixture defaults.
const (
	FixtureSeed      = 42
	FixtureBasePrice = 5000.0
	FixtureLadderW   = 25.0
	FixtureRungs     = 5
)

// SeedCandles fills a store with a deterministic synthetic daily series:
// a seeded random walk around FixtureBasePrice, one bar per calendar day
// starting at start. The same seed always produces the same series, so
// fixture runs are byte-reproducible.
func SeedCandles(ctx context.Context, store storage.CandleStore, instrument string, start time.Time, days int) error {
	rng := rand.New(rand.NewSource(FixtureSeed))
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)

	price := FixtureBasePrice
	candles := make([]*domain.Candle, 0, days)
	for i := 0; i < days; i++ {
		move := 1 + 0.008*rng.NormFloat64()
		next := price * move

		open := price
		closeP := next
		high := math.Max(open, closeP) * (1 + 0.002*rng.Float64())
		low := math.Min(open, closeP) * (1 - 0.002*rng.Float64())

		candles = append(candles, &domain.Candle{
			Instrument: instrument,
			Timestamp:  day.AddDate(0, 0, i).Unix(),
			Open:       open,
			High:       high,
			Low:        low,
			Close:      closeP,
			Volume:     float64(100 + rng.Intn(900)),
		})
		price = next
	}

	return store.InsertBulk(ctx, candles, domain.GranularityDay)
}

// FixtureProvider builds a bracket ladder around the last close before each
// run date: rungs of equal width centered on the reference price, plus
// open-ended tail brackets on both sides. Quotes decay with distance from
// the center rung, so close-to-the-money contracts price near even odds and
// the tails price cheap.
func FixtureProvider(store storage.CandleStore, instrument string, width float64, rungs int) calendar.ProviderFunc {
	if width <= 0 {
		width = FixtureLadderW
	}
	if rungs <= 0 {
		rungs = FixtureRungs
	}

	return func(ctx context.Context, runDate, settlementDate int64) ([]domain.ContractDef, error) {
		latest, err := store.GetLatestBefore(ctx, instrument, runDate, domain.GranularityDay)
		if err != nil {
			return nil, fmt.Errorf("fixture provider at %d: %w", runDate, err)
		}

		// Center the ladder on the reference close, snapped to the width.
		center := math.Floor(latest.Close/width) * width
		half := rungs / 2
		low := center - float64(half)*width

		contracts := make([]domain.ContractDef, 0, rungs+2)
		contracts = append(contracts, domain.ContractDef{
			StrikeFloor: math.Inf(-1),
			StrikeCap:   low,
			Side:        domain.SideYes,
			QuotedPrice: fixtureQuote(half + 1),
		})
		for i := 0; i < rungs; i++ {
			floor := low + float64(i)*width
			dist := i - half
			if dist < 0 {
				dist = -dist
			}
			contracts = append(contracts, domain.ContractDef{
				StrikeFloor: floor,
				StrikeCap:   floor + width,
				Side:        domain.SideYes,
				QuotedPrice: fixtureQuote(dist),
			})
		}
		contracts = append(contracts, domain.ContractDef{
			StrikeFloor: low + float64(rungs)*width,
			StrikeCap:   math.Inf(1),
			Side:        domain.SideYes,
			QuotedPrice: fixtureQuote(half + 1),
		})
		return contracts, nil
	}
}

// fixtureQuote prices a rung by its distance from the center of the ladder.
func fixtureQuote(dist int) float64 {
	q := 0.35 - 0.10*float64(dist)
	if q < 0.03 {
		q = 0.03
	}
	return q
}
