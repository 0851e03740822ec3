package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"bracket-lab/internal/domain"
)

// ComputeInputHash computes the content hash of a backtest row sequence.
// The hash covers every field that feeds KPI computation, serialized in row
// order, so two runs over byte-identical inputs hash identically no matter
// when they were generated.
// Returns hex-encoded SHA256 (64 characters).
func ComputeInputHash(rows []*domain.BacktestRow) string {
	h := sha256.New()
	for _, r := range rows {
		part := fmt.Sprintf("%s|%s|%s|%.9f|%t|%s|%.9f|%.9f|%.9f|%s|%.9f|%.9f\n",
			r.EventID,
			r.ContractID,
			string(r.Side),
			r.Probability,
			r.LowConfidence,
			string(r.Action),
			r.Size,
			r.EntryPrice,
			r.Edge,
			string(r.Outcome),
			r.SettlementValue,
			r.PnL,
		)
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}
