package backtest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"bracket-lab/internal/candles"
	"bracket-lab/internal/domain"
)

// Estimator produces one likelihood estimate per contract of an event.
type Estimator interface {
	Estimate(event *domain.MarketEvent, reference []*domain.Candle) ([]*domain.LikelihoodEstimate, error)
}

// Default engine configuration.
const (
	DefaultLookbackDays = 365
)

// Engine walks events through PRICED, DECIDED and SETTLED, emitting one
// BacktestRow per contract. Row order is (event order, contract order) and
// is stable for the same input.
type Engine struct {
	cache              *candles.Cache
	estimator          Estimator
	rule               DecisionRule
	fees               FeeModel
	instrument         string
	granularityMinutes int
	lookbackDays       int
	includeLatest      bool
	logger             *log.Logger
}

// EngineOptions contains configuration for creating an Engine.
type EngineOptions struct {
	Cache              *candles.Cache
	Estimator          Estimator
	Rule               DecisionRule
	Fees               FeeModel
	Instrument         string
	GranularityMinutes int
	LookbackDays       int

	// IncludeLatestBeforeStart requests the marker candle on reference
	// fetches, for estimators that need the close just prior to the window.
	IncludeLatestBeforeStart bool

	Logger *log.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(opts EngineOptions) *Engine {
	granularity := opts.GranularityMinutes
	if granularity <= 0 {
		granularity = domain.GranularityDay
	}
	lookback := opts.LookbackDays
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	fees := opts.Fees
	if fees == nil {
		fees = NoFee{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		cache:              opts.Cache,
		estimator:          opts.Estimator,
		rule:               opts.Rule,
		fees:               fees,
		instrument:         opts.Instrument,
		granularityMinutes: granularity,
		lookbackDays:       lookback,
		includeLatest:      opts.IncludeLatestBeforeStart,
		logger:             logger,
	}
}

// Rule returns the decision rule the engine was built with.
func (e *Engine) Rule() DecisionRule { return e.rule }

// Fees returns the fee model the engine was built with.
func (e *Engine) Fees() FeeModel { return e.fees }

// Instrument returns the instrument the engine runs over.
func (e *Engine) Instrument() string { return e.instrument }

// Run executes the backtest over events in order. A reference-window fetch
// failure aborts the run; missing settlement data downgrades the affected
// rows to UNSETTLED instead.
func (e *Engine) Run(ctx context.Context, runID string, events []*domain.MarketEvent) ([]*domain.BacktestRow, error) {
	if e.cache == nil || e.estimator == nil || e.rule == nil {
		return nil, fmt.Errorf("backtest run: cache, estimator and rule are required")
	}
	if e.instrument == "" {
		return nil, fmt.Errorf("backtest run: instrument is required")
	}

	var rows []*domain.BacktestRow
	seq := 0

	for _, event := range events {
		// PRICED: reference candles scoped to [run_date - lookback, run_date)
		windowStart := event.RunDate - int64(e.lookbackDays)*86400
		reference, err := e.cache.Get(ctx, candles.Key{
			Instrument:               e.instrument,
			WindowStart:              windowStart,
			WindowEnd:                event.RunDate,
			GranularityMinutes:       e.granularityMinutes,
			IncludeLatestBeforeStart: e.includeLatest,
		})
		if err != nil {
			return nil, fmt.Errorf("pricing event %s window [%d,%d): %w",
				event.EventID, windowStart, event.RunDate, err)
		}

		estimates, err := e.estimator.Estimate(event, reference)
		if err != nil {
			return nil, fmt.Errorf("pricing event %s: %w", event.EventID, err)
		}
		byContract := make(map[string]*domain.LikelihoodEstimate, len(estimates))
		for _, est := range estimates {
			byContract[est.ContractID] = est
		}

		// SETTLED: the settlement bar may legitimately be missing
		settlement, haveSettlement, err := e.settlementValue(ctx, event)
		if err != nil {
			return nil, fmt.Errorf("settling event %s: %w", event.EventID, err)
		}
		if !haveSettlement {
			e.logger.Printf("event %s: no settlement data at %d, rows marked UNSETTLED",
				event.EventID, event.SettlementDate)
		}

		// DECIDED: one row per contract, in contract order
		for i := range event.Contracts {
			contract := &event.Contracts[i]
			est, ok := byContract[contract.ContractID]
			if !ok {
				return nil, fmt.Errorf("deciding event %s: no estimate for contract %s",
					event.EventID, contract.ContractID)
			}

			decision := e.rule.Decide(est, contract)
			row := &domain.BacktestRow{
				RunID:         runID,
				Seq:           seq,
				EventID:       event.EventID,
				ContractID:    contract.ContractID,
				Side:          contract.Side,
				Probability:   WinProbability(est.Probability, contract.Side),
				LowConfidence: est.LowConfidence,
				Action:        decision.Action,
				Size:          decision.Size,
				EntryPrice:    decision.EntryPrice,
				Edge:          decision.Edge,
			}
			e.resolve(row, contract, settlement, haveSettlement)

			rows = append(rows, row)
			seq++
		}
	}

	e.logger.Printf("run %s: %d events, %d rows", runID, len(events), len(rows))
	return rows, nil
}

// settlementValue returns the close of the bar starting at the event's
// settlement date. False without error when the bar is not available yet.
func (e *Engine) settlementValue(ctx context.Context, event *domain.MarketEvent) (float64, bool, error) {
	period := int64(e.granularityMinutes) * 60
	window, err := e.cache.Get(ctx, candles.Key{
		Instrument:         e.instrument,
		WindowStart:        event.SettlementDate,
		WindowEnd:          event.SettlementDate + period,
		GranularityMinutes: e.granularityMinutes,
	})
	if err != nil {
		if errors.Is(err, candles.ErrDataUnavailable) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return window[0].Close, true, nil
}

// resolve fills outcome, settlement value and pnl. Outcomes are resolved
// for SKIP rows too: a prediction is measurable whether or not it was
// traded.
func (e *Engine) resolve(row *domain.BacktestRow, contract *domain.ContractDef, settlement float64, settled bool) {
	if !settled {
		row.Outcome = domain.OutcomeUnsettled
		return
	}

	row.SettlementValue = settlement
	inRange := settlement >= contract.StrikeFloor && settlement <= contract.StrikeCap
	sideWins := inRange
	if contract.Side == domain.SideNo {
		sideWins = !inRange
	}
	if sideWins {
		row.Outcome = domain.OutcomeWin
	} else {
		row.Outcome = domain.OutcomeLoss
	}

	if row.Action != domain.ActionBuy {
		return
	}

	fee := e.fees.Fee(row.Size, row.EntryPrice)
	if sideWins {
		row.PnL = row.Size*(1-row.EntryPrice) - fee
	} else {
		row.PnL = -row.Size*row.EntryPrice - fee
	}
}
