package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"bracket-lab/internal/domain"
)

// rowsCSVHeader is the column order of the rows artifact. ParseRowsCSV
// refuses files whose header deviates.
var rowsCSVHeader = []string{
	"run_id", "seq", "event_id", "contract_id",
	"side", "probability", "low_confidence", "action",
	"size", "entry_price", "edge",
	"outcome", "settlement_value", "pnl",
}

// RenderRowsCSV renders backtest rows as a CSV string. Floats use the
// shortest exact representation so a parsed file reproduces the original
// rows bit for bit.
func RenderRowsCSV(rows []*domain.BacktestRow) string {
	var sb strings.Builder

	sb.WriteString(strings.Join(rowsCSVHeader, ","))
	sb.WriteString("\n")

	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%d,%s,%s,%s,%g,%t,%s,%g,%g,%g,%s,%g,%g\n",
			r.RunID,
			r.Seq,
			r.EventID,
			r.ContractID,
			r.Side,
			r.Probability,
			r.LowConfidence,
			r.Action,
			r.Size,
			r.EntryPrice,
			r.Edge,
			r.Outcome,
			r.SettlementValue,
			r.PnL,
		))
	}

	return sb.String()
}

// ParseRowsCSV parses a rows artifact written by RenderRowsCSV back into
// backtest rows, preserving order.
func ParseRowsCSV(r io.Reader) ([]*domain.BacktestRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(rowsCSVHeader)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading csv header: %w", err)
	}
	for i, want := range rowsCSVHeader {
		if header[i] != want {
			return nil, fmt.Errorf("unexpected csv header: column %d is %q, want %q", i, header[i], want)
		}
	}

	var rows []*domain.BacktestRow
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading csv line %d: %w", line, err)
		}
		row, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("parsing csv line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRow(record []string) (*domain.BacktestRow, error) {
	seq, err := strconv.Atoi(record[1])
	if err != nil {
		return nil, fmt.Errorf("seq: %w", err)
	}
	lowConfidence, err := strconv.ParseBool(record[6])
	if err != nil {
		return nil, fmt.Errorf("low_confidence: %w", err)
	}

	floats := make([]float64, 0, 6)
	for _, idx := range []int{5, 8, 9, 10, 12, 13} {
		v, err := strconv.ParseFloat(record[idx], 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", rowsCSVHeader[idx], err)
		}
		floats = append(floats, v)
	}

	side := domain.Side(record[4])
	if side != domain.SideYes && side != domain.SideNo {
		return nil, fmt.Errorf("unknown side %q", record[4])
	}
	action := domain.Action(record[7])
	if action != domain.ActionBuy && action != domain.ActionSkip {
		return nil, fmt.Errorf("unknown action %q", record[7])
	}
	outcome := domain.Outcome(record[11])
	switch outcome {
	case domain.OutcomeWin, domain.OutcomeLoss, domain.OutcomeUnsettled:
	default:
		return nil, fmt.Errorf("unknown outcome %q", record[11])
	}

	return &domain.BacktestRow{
		RunID:           record[0],
		Seq:             seq,
		EventID:         record[2],
		ContractID:      record[3],
		Side:            side,
		Probability:     floats[0],
		LowConfidence:   lowConfidence,
		Action:          action,
		Size:            floats[1],
		EntryPrice:      floats[2],
		Edge:            floats[3],
		Outcome:         outcome,
		SettlementValue: floats[4],
		PnL:             floats[5],
	}, nil
}
