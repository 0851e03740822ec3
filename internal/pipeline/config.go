package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"bracket-lab/internal/backtest"
	"bracket-lab/internal/calendar"
	"bracket-lab/internal/domain"
)

// Config validation errors.
var (
	ErrMissingInstrument = errors.New("config: instrument is required")
	ErrMissingWindow     = errors.New("config: start and end dates are required")
	ErrWindowInverted    = errors.New("config: end date before start date")
	ErrUnknownCalendar   = errors.New("config: unknown calendar")
)

// Calendar identifiers accepted in config files.
const (
	CalendarWeekdays = "WEEKDAYS"
	CalendarEveryDay = "EVERY_DAY"
	CalendarWeekly   = "WEEKLY"
)

// Config is the YAML-driven description of one baseline run: the window and
// instrument, the estimator and decision parameters, and the artifact
// destination. Zero values fall back to the same defaults the component
// constructors apply.
type Config struct {
	Label      string `yaml:"label"`
	Instrument string `yaml:"instrument"`

	// Window, as "2006-01-02" dates. Both bounds are trading days, inclusive.
	Start string `yaml:"start"`
	End   string `yaml:"end"`

	GranularityMinutes int `yaml:"granularity_minutes"`
	LookbackDays       int `yaml:"lookback_days"`
	MinSamples         int `yaml:"min_samples"`

	// Calendar selects the trading calendar; WeeklyWeekday only applies to
	// WEEKLY (time.Weekday value, 0 = Sunday).
	Calendar           string `yaml:"calendar"`
	WeeklyWeekday      int    `yaml:"weekly_weekday"`
	HorizonTradingDays int    `yaml:"horizon_trading_days"`

	// DecisionTime is the time-of-day offset of run_date from midnight UTC,
	// as "15:00".
	DecisionTime string `yaml:"decision_time"`

	Rule backtest.RuleConfig `yaml:"rule"`
	Fee  backtest.FeeConfig  `yaml:"fee"`

	OutputDir string `yaml:"output_dir"`

	// CompareRunID names a previously stored run to diff the new run
	// against. Empty disables the comparison step.
	CompareRunID string `yaml:"compare_run_id"`
}

// LoadConfig reads and validates a YAML config file. The returned hash is
// the SHA-256 hex of the file bytes, recorded on the run summary so a stored
// run can be matched to the exact config that produced it.
func LoadConfig(path string) (*Config, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, "", fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	sum := sha256.Sum256(raw)
	return &cfg, hex.EncodeToString(sum[:]), nil
}

// Validate checks the fields that have no usable zero value.
func (c *Config) Validate() error {
	if c.Instrument == "" {
		return ErrMissingInstrument
	}
	if c.Start == "" || c.End == "" {
		return ErrMissingWindow
	}
	start, end, err := c.Window()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return ErrWindowInverted
	}
	if _, err := c.TradingCalendar(); err != nil {
		return err
	}
	if _, err := c.DecisionTimeOffset(); err != nil {
		return err
	}
	if c.Rule.RuleType != "" {
		if _, err := backtest.RuleFromConfig(c.Rule); err != nil {
			return err
		}
	}
	if _, err := backtest.FeeFromConfig(c.Fee); err != nil {
		return err
	}
	return nil
}

// Window parses the start and end dates as midnight UTC.
func (c *Config) Window() (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", c.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: start: %w", err)
	}
	end, err := time.Parse("2006-01-02", c.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: end: %w", err)
	}
	return start.UTC(), end.UTC(), nil
}

// TradingCalendar builds the configured calendar. Empty means weekdays.
func (c *Config) TradingCalendar() (calendar.TradingCalendar, error) {
	switch c.Calendar {
	case "", CalendarWeekdays:
		return calendar.NewWeekdays(), nil
	case CalendarEveryDay:
		return calendar.EveryDay{}, nil
	case CalendarWeekly:
		return calendar.Weekly{Day: time.Weekday(c.WeeklyWeekday)}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCalendar, c.Calendar)
	}
}

// DecisionTimeOffset parses the decision time-of-day as an offset from
// midnight UTC. Empty means midnight.
func (c *Config) DecisionTimeOffset() (time.Duration, error) {
	if c.DecisionTime == "" {
		return 0, nil
	}
	t, err := time.Parse("15:04", c.DecisionTime)
	if err != nil {
		return 0, fmt.Errorf("config: decision_time: %w", err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// DecisionRule builds the configured rule. An absent rule block means the
// default edge-threshold rule.
func (c *Config) DecisionRule() (backtest.DecisionRule, error) {
	if c.Rule.RuleType == "" {
		minEdge := 0.05
		size := 1.0
		return backtest.NewEdgeThresholdRule(minEdge, size, true), nil
	}
	return backtest.RuleFromConfig(c.Rule)
}

// FeeModel builds the configured fee model.
func (c *Config) FeeModel() (backtest.FeeModel, error) {
	return backtest.FeeFromConfig(c.Fee)
}

// Granularity returns the configured granularity, defaulting to daily.
func (c *Config) Granularity() int {
	if c.GranularityMinutes <= 0 {
		return domain.GranularityDay
	}
	return c.GranularityMinutes
}
