package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"bracket-lab/internal/domain"
)

// ComputeContractID computes a deterministic contract_id using SHA256.
// Formula: SHA256(event_id|strike_floor|strike_cap|side)
// Strikes are formatted with %g so open-ended brackets (+Inf/-Inf) hash
// stably across platforms.
// Returns hex-encoded hash (64 characters).
func ComputeContractID(eventID string, strikeFloor, strikeCap float64, side domain.Side) string {
	data := fmt.Sprintf("%s|%g|%g|%s", eventID, strikeFloor, strikeCap, string(side))

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
