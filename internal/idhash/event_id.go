package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ComputeEventID computes a deterministic event_id using SHA256.
// Formula: SHA256(instrument|run_date|settlement_date)
// Returns hex-encoded hash (64 characters).
func ComputeEventID(instrument string, runDate, settlementDate int64) string {
	data := fmt.Sprintf("%s|%d|%d", instrument, runDate, settlementDate)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
