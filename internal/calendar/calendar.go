package calendar

import (
	"errors"
	"fmt"
	"time"
)

// TradingCalendar reports whether a day counts as a trading day.
// Implementations must be deterministic: the same day always yields the
// same answer.
type TradingCalendar interface {
	IsTradingDay(day time.Time) bool
}

// Weekdays trades Monday through Friday, minus an optional holiday list.
type Weekdays struct {
	holidays map[string]struct{}
}

// NewWeekdays creates a weekday calendar excluding the given holidays.
func NewWeekdays(holidays ...time.Time) *Weekdays {
	h := make(map[string]struct{}, len(holidays))
	for _, d := range holidays {
		h[d.UTC().Format("2006-01-02")] = struct{}{}
	}
	return &Weekdays{holidays: h}
}

// IsTradingDay returns true for non-holiday weekdays.
func (w *Weekdays) IsTradingDay(day time.Time) bool {
	day = day.UTC()
	if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := w.holidays[day.Format("2006-01-02")]
	return !holiday
}

// EveryDay trades all seven days. Used for venues that settle daily data
// without an exchange session.
type EveryDay struct{}

// IsTradingDay always returns true.
func (EveryDay) IsTradingDay(time.Time) bool { return true }

// Weekly trades exactly one weekday. A Weekly{Day: time.Sunday} calendar
// reproduces weekly settlement cadence through the same predicate.
type Weekly struct {
	Day time.Weekday
}

// IsTradingDay returns true only on the configured weekday.
func (w Weekly) IsTradingDay(day time.Time) bool {
	return day.UTC().Weekday() == w.Day
}

// maxTradingDayScan bounds the forward search for a trading day. A year plus
// a leap day is enough for any real calendar; a calendar that trades less
// often than that is misconfigured.
const maxTradingDayScan = 366

// ErrNoTradingDay reports a calendar with no trading day within
// maxTradingDayScan days, such as a weekday calendar where every weekday is
// listed as a holiday.
var ErrNoTradingDay = errors.New("no trading day within scan window")

// NextTradingDay returns the first trading day strictly after day.
func NextTradingDay(cal TradingCalendar, day time.Time) (time.Time, error) {
	d := midnightUTC(day)
	for i := 0; i < maxTradingDayScan; i++ {
		d = d.AddDate(0, 0, 1)
		if cal.IsTradingDay(d) {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("next trading day after %s: %w",
		midnightUTC(day).Format("2006-01-02"), ErrNoTradingDay)
}

// AddTradingDays advances day by n trading days. n must be >= 0; n == 0
// returns the day unchanged.
func AddTradingDays(cal TradingCalendar, day time.Time, n int) (time.Time, error) {
	d := midnightUTC(day)
	for i := 0; i < n; i++ {
		next, err := NextTradingDay(cal, d)
		if err != nil {
			return time.Time{}, err
		}
		d = next
	}
	return d, nil
}

func midnightUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
