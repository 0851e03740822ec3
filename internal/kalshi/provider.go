package kalshi

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"bracket-lab/internal/domain"
)

// EventTickerFunc builds the venue event ticker for a settlement date.
// Most series encode the date as an upper-case DDMMMYY suffix.
type EventTickerFunc func(seriesTicker string, settlementDate time.Time) string

// DefaultEventTicker formats "SERIES-25AUG26" style tickers.
func DefaultEventTicker(seriesTicker string, settlementDate time.Time) string {
	return seriesTicker + "-" + strings.ToUpper(settlementDate.UTC().Format("02Jan06"))
}

// ContractProvider builds bracket contract definitions from the venue's
// live market listings, one event lookup per settlement date. It satisfies
// calendar.ContractProvider.
type ContractProvider struct {
	client       *Client
	seriesTicker string
	ticker       EventTickerFunc
	side         domain.Side
}

// ContractProviderOption configures ContractProvider.
type ContractProviderOption func(*ContractProvider)

// WithEventTicker overrides the event ticker derivation.
func WithEventTicker(f EventTickerFunc) ContractProviderOption {
	return func(p *ContractProvider) {
		p.ticker = f
	}
}

// WithSide sets the side taken on every bracket (default YES).
func WithSide(side domain.Side) ContractProviderOption {
	return func(p *ContractProvider) {
		p.side = side
	}
}

// NewContractProvider creates a provider over one venue series.
func NewContractProvider(client *Client, seriesTicker string, opts ...ContractProviderOption) *ContractProvider {
	p := &ContractProvider{
		client:       client,
		seriesTicker: seriesTicker,
		ticker:       DefaultEventTicker,
		side:         domain.SideYes,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ContractsFor lists the markets of the event settling on settlementDate
// and maps each to a contract definition, ordered by strike floor ascending.
func (p *ContractProvider) ContractsFor(ctx context.Context, runDate, settlementDate int64) ([]domain.ContractDef, error) {
	eventTicker := p.ticker(p.seriesTicker, time.Unix(settlementDate, 0))

	markets, err := p.client.GetMarkets(ctx, eventTicker)
	if err != nil {
		return nil, fmt.Errorf("markets for event %s: %w", eventTicker, err)
	}

	contracts := make([]domain.ContractDef, 0, len(markets))
	for _, m := range markets {
		floor, cap := strikes(&m)
		quote := quotedPrice(&m, p.side)
		contracts = append(contracts, domain.ContractDef{
			Ticker:      m.Ticker,
			StrikeFloor: floor,
			StrikeCap:   cap,
			Side:        p.side,
			QuotedPrice: quote,
		})
	}

	sort.Slice(contracts, func(i, j int) bool {
		return contracts[i].StrikeFloor < contracts[j].StrikeFloor
	})
	return contracts, nil
}

// strikes maps the venue's strike encoding to an inclusive [floor, cap]
// range, open-ended sides as infinities.
func strikes(m *Market) (float64, float64) {
	switch m.StrikeType {
	case "greater":
		return m.FloorStrike, math.Inf(1)
	case "less":
		return math.Inf(-1), m.CapStrike
	default:
		floor, cap := m.FloorStrike, m.CapStrike
		if cap == 0 && floor != 0 {
			cap = math.Inf(1)
		}
		if floor == 0 && cap != 0 {
			floor = math.Inf(-1)
		}
		return floor, cap
	}
}

// quotedPrice derives the entry quote in [0, 1] for the requested side,
// preferring the bid/ask midpoint over the last trade.
func quotedPrice(m *Market, side domain.Side) float64 {
	var yes float64
	if m.YesBid > 0 && m.YesAsk > 0 {
		yes = float64(m.YesBid+m.YesAsk) / 2 / 100
	} else {
		yes = float64(m.LastPrice) / 100
	}
	if side == domain.SideNo {
		return 1 - yes
	}
	return yes
}
