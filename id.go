package taskforce

import (
	"time"

	"github.com/google/uuid"
)

// NewRunID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// A run's directory, log, and checkpoint are all named by this id.
func NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowEpoch returns the current time as fractional Unix seconds, the
// timestamp format shared by run events, checkpoints, and index entries.
func NowEpoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
