package domain

// Candle represents one OHLC bar of the underlying index.
// Sequences are time-ascending with no duplicate timestamps; a candle is
// immutable once fetched.
type Candle struct {
	Instrument string  // underlying instrument identifier (e.g. series ticker)
	Timestamp  int64   // bar start time, Unix seconds (UTC)
	Open       float64 // first traded value in the bar
	High       float64 // highest value in the bar
	Low        float64 // lowest value in the bar
	Close      float64 // last traded value in the bar
	Volume     float64 // contracts traded in the bar
}

// Supported candle granularities (in minutes).
const (
	GranularityMinute = 1
	GranularityHour   = 60
	GranularityDay    = 1440
)
