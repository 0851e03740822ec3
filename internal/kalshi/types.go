package kalshi

// Event is an exchange event: a dated question with one market per bracket.
type Event struct {
	EventTicker  string `json:"event_ticker"`
	SeriesTicker string `json:"series_ticker"`
	Title        string `json:"title"`
	Category     string `json:"category"`
	StrikeDate   string `json:"strike_date,omitempty"`
}

// Market is a single binary bracket inside an event. Strike fields are in
// the underlying's native unit; quote fields are in cents.
type Market struct {
	Ticker      string  `json:"ticker"`
	EventTicker string  `json:"event_ticker"`
	Title       string  `json:"title"`
	Status      string  `json:"status"`
	StrikeType  string  `json:"strike_type,omitempty"`
	FloorStrike float64 `json:"floor_strike,omitempty"`
	CapStrike   float64 `json:"cap_strike,omitempty"`
	YesBid      int64   `json:"yes_bid"`
	YesAsk      int64   `json:"yes_ask"`
	LastPrice   int64   `json:"last_price"`
	Volume      int64   `json:"volume"`
	OpenTime    string  `json:"open_time,omitempty"`
	CloseTime   string  `json:"close_time,omitempty"`
	Result      string  `json:"result,omitempty"`
}

// OHLC is one side of a candlestick, in cents.
type OHLC struct {
	Open  int64 `json:"open"`
	Low   int64 `json:"low"`
	High  int64 `json:"high"`
	Close int64 `json:"close"`
}

// Candlestick is one period of a market's price history. EndPeriodTs is the
// Unix second at which the period ends; Price carries traded prices while
// YesBid/YesAsk carry the quote at period end.
type Candlestick struct {
	EndPeriodTs  int64 `json:"end_period_ts"`
	Price        OHLC  `json:"price"`
	YesBid       OHLC  `json:"yes_bid"`
	YesAsk       OHLC  `json:"yes_ask"`
	Volume       int64 `json:"volume"`
	OpenInterest int64 `json:"open_interest"`
}

// FillPrice returns the candle's representative fill price as a probability
// in [0, 1]. Preference order: mid of closing bid/ask, traded close, then
// the traded high/low midpoint.
func (c *Candlestick) FillPrice() float64 {
	if c.YesBid.Close > 0 && c.YesAsk.Close > 0 {
		return float64(c.YesBid.Close+c.YesAsk.Close) / 2 / 100
	}
	if c.Price.Close > 0 {
		return float64(c.Price.Close) / 100
	}
	return float64(c.Price.High+c.Price.Low) / 2 / 100
}

// TickerUpdate is a ticker channel message from the WebSocket feed.
// Price fields are in cents.
type TickerUpdate struct {
	MarketTicker string `json:"market_ticker"`
	Price        int64  `json:"price"`
	YesBid       int64  `json:"yes_bid"`
	YesAsk       int64  `json:"yes_ask"`
	Volume       int64  `json:"volume"`
	OpenInterest int64  `json:"open_interest"`
	Ts           int64  `json:"ts"`
}

// Mid returns the bid/ask midpoint as a probability, falling back to the
// last traded price when either quote side is empty.
func (u *TickerUpdate) Mid() float64 {
	if u.YesBid > 0 && u.YesAsk > 0 {
		return float64(u.YesBid+u.YesAsk) / 2 / 100
	}
	return float64(u.Price) / 100
}
