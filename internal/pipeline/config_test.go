package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bracket-lab/internal/backtest"
)

const testConfigYAML = `label: baseline-q1
instrument: INXD
start: "2024-02-01"
end: "2024-02-20"
granularity_minutes: 1440
lookback_days: 60
min_samples: 10
calendar: EVERY_DAY
horizon_trading_days: 1
decision_time: "15:00"
rule:
  rule_type: EDGE_THRESHOLD
  min_edge: 0.05
  size: 1.0
  skip_low_confidence: true
fee:
  fee_type: VENUE
  rate: 0.07
output_dir: out/baseline-q1
compare_run_id: run-prev
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, testConfigYAML)

	cfg, hash, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Label != "baseline-q1" {
		t.Errorf("Label = %q", cfg.Label)
	}
	if cfg.Instrument != "INXD" {
		t.Errorf("Instrument = %q", cfg.Instrument)
	}
	if cfg.CompareRunID != "run-prev" {
		t.Errorf("CompareRunID = %q", cfg.CompareRunID)
	}
	if len(hash) != 64 {
		t.Errorf("hash length = %d, want 64", len(hash))
	}

	start, end, err := cfg.Window()
	if err != nil {
		t.Fatalf("Window: %v", err)
	}
	if !start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", start)
	}
	if !end.Equal(time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("end = %v", end)
	}

	offset, err := cfg.DecisionTimeOffset()
	if err != nil {
		t.Fatalf("DecisionTimeOffset: %v", err)
	}
	if offset != 15*time.Hour {
		t.Errorf("offset = %v, want 15h", offset)
	}

	rule, err := cfg.DecisionRule()
	if err != nil {
		t.Fatalf("DecisionRule: %v", err)
	}
	if rule.ID() != "EDGE_THRESHOLD_0.0500_1" {
		t.Errorf("rule ID = %q", rule.ID())
	}

	fees, err := cfg.FeeModel()
	if err != nil {
		t.Fatalf("FeeModel: %v", err)
	}
	if fees.ID() != "VENUE_FEE_0.07" {
		t.Errorf("fee ID = %q", fees.ID())
	}
}

func TestLoadConfig_HashStable(t *testing.T) {
	path := writeConfig(t, testConfigYAML)

	_, h1, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	_, h2, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Errorf("hash not stable: %s vs %s", h1, h2)
	}
}

func TestConfig_Validate(t *testing.T) {
	base := func() Config {
		return Config{
			Instrument: "INXD",
			Start:      "2024-02-01",
			End:        "2024-02-20",
		}
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Errorf("minimal config: %v", err)
	}

	cfg = base()
	cfg.Instrument = ""
	if err := cfg.Validate(); !errors.Is(err, ErrMissingInstrument) {
		t.Errorf("missing instrument: %v", err)
	}

	cfg = base()
	cfg.End = "2024-01-01"
	if err := cfg.Validate(); !errors.Is(err, ErrWindowInverted) {
		t.Errorf("inverted window: %v", err)
	}

	cfg = base()
	cfg.Calendar = "LUNAR"
	if err := cfg.Validate(); !errors.Is(err, ErrUnknownCalendar) {
		t.Errorf("unknown calendar: %v", err)
	}

	cfg = base()
	cfg.Rule = backtest.RuleConfig{RuleType: "MARTINGALE"}
	if err := cfg.Validate(); !errors.Is(err, backtest.ErrUnknownRuleType) {
		t.Errorf("unknown rule: %v", err)
	}

	cfg = base()
	cfg.Fee = backtest.FeeConfig{FeeType: "REBATE"}
	if err := cfg.Validate(); !errors.Is(err, backtest.ErrUnknownFeeType) {
		t.Errorf("unknown fee: %v", err)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{Instrument: "INXD", Start: "2024-02-01", End: "2024-02-20"}

	if cfg.Granularity() != 1440 {
		t.Errorf("Granularity = %d, want 1440", cfg.Granularity())
	}

	cal, err := cfg.TradingCalendar()
	if err != nil {
		t.Fatal(err)
	}
	// Default calendar skips weekends: 2024-02-03 was a Saturday.
	if cal.IsTradingDay(time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)) {
		t.Error("default calendar trades Saturday")
	}

	offset, err := cfg.DecisionTimeOffset()
	if err != nil || offset != 0 {
		t.Errorf("default offset = %v, %v", offset, err)
	}

	rule, err := cfg.DecisionRule()
	if err != nil {
		t.Fatal(err)
	}
	if rule.ID() != "EDGE_THRESHOLD_0.0500_1" {
		t.Errorf("default rule = %q", rule.ID())
	}

	fees, err := cfg.FeeModel()
	if err != nil {
		t.Fatal(err)
	}
	if fees.ID() != "NO_FEE" {
		t.Errorf("default fee = %q", fees.ID())
	}
}
