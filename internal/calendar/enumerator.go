package calendar

import (
	"context"
	"fmt"
	"time"

	"bracket-lab/internal/domain"
	"bracket-lab/internal/idhash"
)

// ContractProvider supplies the tradable contracts for one event. Strikes,
// side and quoted price come from the provider; contract IDs are assigned
// by the enumerator.
type ContractProvider interface {
	ContractsFor(ctx context.Context, runDate, settlementDate int64) ([]domain.ContractDef, error)
}

// ProviderFunc adapts a function to the ContractProvider interface.
type ProviderFunc func(ctx context.Context, runDate, settlementDate int64) ([]domain.ContractDef, error)

func (f ProviderFunc) ContractsFor(ctx context.Context, runDate, settlementDate int64) ([]domain.ContractDef, error) {
	return f(ctx, runDate, settlementDate)
}

// Default enumerator configuration.
const (
	DefaultHorizonTradingDays = 1
)

// Enumerator produces the ordered event sequence for a date range: one
// MarketEvent per trading day, deterministic and restartable for the same
// range, calendar and provider output.
type Enumerator struct {
	instrument   string
	cal          TradingCalendar
	provider     ContractProvider
	decisionTime time.Duration // offset from midnight UTC
	horizon      int           // trading days between run and settlement
}

// EnumeratorOptions contains configuration for creating an Enumerator.
type EnumeratorOptions struct {
	Instrument   string
	Calendar     TradingCalendar
	Provider     ContractProvider
	DecisionTime time.Duration
	Horizon      int
}

// NewEnumerator creates an event enumerator.
func NewEnumerator(opts EnumeratorOptions) *Enumerator {
	cal := opts.Calendar
	if cal == nil {
		cal = NewWeekdays()
	}
	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizonTradingDays
	}
	return &Enumerator{
		instrument:   opts.Instrument,
		cal:          cal,
		provider:     opts.Provider,
		decisionTime: opts.DecisionTime,
		horizon:      horizon,
	}
}

// Events returns one event per trading day in [start, end] (dates, inclusive),
// ordered by run_date ASC. run_date = trading day + decision time-of-day;
// settlement_date = run day advanced by the horizon in trading days, same
// time-of-day.
func (e *Enumerator) Events(ctx context.Context, start, end time.Time) ([]*domain.MarketEvent, error) {
	if e.instrument == "" {
		return nil, fmt.Errorf("enumerate events: instrument is required")
	}
	if e.provider == nil {
		return nil, fmt.Errorf("enumerate events: contract provider is required")
	}

	var events []*domain.MarketEvent
	endDay := midnightUTC(end)

	for day := midnightUTC(start); !day.After(endDay); day = day.AddDate(0, 0, 1) {
		if !e.cal.IsTradingDay(day) {
			continue
		}

		runDate := day.Add(e.decisionTime).Unix()
		settlementDay, err := AddTradingDays(e.cal, day, e.horizon)
		if err != nil {
			return nil, fmt.Errorf("settlement day for run %s: %w", day.Format("2006-01-02"), err)
		}
		settlementDate := settlementDay.Add(e.decisionTime).Unix()
		eventID := idhash.ComputeEventID(e.instrument, runDate, settlementDate)

		contracts, err := e.provider.ContractsFor(ctx, runDate, settlementDate)
		if err != nil {
			return nil, fmt.Errorf("contracts for event %s (run %d): %w", eventID, runDate, err)
		}
		for i := range contracts {
			contracts[i].ContractID = idhash.ComputeContractID(
				eventID, contracts[i].StrikeFloor, contracts[i].StrikeCap, contracts[i].Side)
		}

		events = append(events, &domain.MarketEvent{
			EventID:        eventID,
			RunDate:        runDate,
			SettlementDate: settlementDate,
			Contracts:      contracts,
		})
	}

	return events, nil
}
