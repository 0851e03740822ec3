package backtest

import (
	"errors"
	"fmt"
)

// FeeModel prices the venue fee charged on a filled order.
type FeeModel interface {
	// Fee returns the fee for buying size contracts at the given price.
	Fee(size, price float64) float64

	// ID returns the fee model identifier (includes parameters).
	ID() string
}

// NoFee charges nothing.
type NoFee struct{}

func (NoFee) Fee(_, _ float64) float64 { return 0 }
func (NoFee) ID() string               { return "NO_FEE" }

// FlatFee charges a fixed amount per contract.
type FlatFee struct {
	PerContract float64
}

func (f FlatFee) Fee(size, _ float64) float64 { return f.PerContract * size }
func (f FlatFee) ID() string                  { return fmt.Sprintf("FLAT_FEE_%g", f.PerContract) }

// VenueFee charges rate * size * price * (1 - price), the exchange's
// quadratic maker/taker schedule: maximal at even odds, vanishing at the
// extremes.
type VenueFee struct {
	Rate float64
}

// DefaultVenueFeeRate matches the exchange's published trading fee rate.
const DefaultVenueFeeRate = 0.07

// NewVenueFee creates a VenueFee, using the default rate when rate is 0.
func NewVenueFee(rate float64) VenueFee {
	if rate == 0 {
		rate = DefaultVenueFeeRate
	}
	return VenueFee{Rate: rate}
}

func (v VenueFee) Fee(size, price float64) float64 {
	return v.Rate * size * price * (1 - price)
}

func (v VenueFee) ID() string { return fmt.Sprintf("VENUE_FEE_%g", v.Rate) }

var (
	_ FeeModel = NoFee{}
	_ FeeModel = FlatFee{}
	_ FeeModel = VenueFee{}
)

// ErrUnknownFeeType is returned by FeeFromConfig for an unrecognized fee type.
var ErrUnknownFeeType = errors.New("unknown fee type")

// FeeConfig selects and parameterizes a fee model.
type FeeConfig struct {
	FeeType     string  `yaml:"fee_type"`
	PerContract float64 `yaml:"per_contract"`
	Rate        float64 `yaml:"rate"`
}

// Fee type identifiers.
const (
	FeeTypeNone  = "NONE"
	FeeTypeFlat  = "FLAT"
	FeeTypeVenue = "VENUE"
)

// FeeFromConfig creates a FeeModel from config. An empty fee type means no
// fees.
func FeeFromConfig(cfg FeeConfig) (FeeModel, error) {
	switch cfg.FeeType {
	case "", FeeTypeNone:
		return NoFee{}, nil
	case FeeTypeFlat:
		return FlatFee{PerContract: cfg.PerContract}, nil
	case FeeTypeVenue:
		return NewVenueFee(cfg.Rate), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFeeType, cfg.FeeType)
	}
}
