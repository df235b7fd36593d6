package dsp

import (
	"errors"
	"fmt"
)

// Parameter numbers (RCNs) the device accepts.
const (
	MinRCN = 1
	MaxRCN = 10000
)

var (
	// ErrInvalidRCN reports a parameter number outside [MinRCN, MaxRCN].
	// Raised before any socket activity.
	ErrInvalidRCN = errors.New("parameter number out of range")

	// ErrTimeout reports that a command produced no terminal reply within
	// the configured bound. Timed-out commands are retried before this
	// surfaces to the caller.
	ErrTimeout = errors.New("command timed out")
)

// ValidateRCN rejects parameter numbers the device would not accept.
func ValidateRCN(rcn int) error {
	if rcn < MinRCN || rcn > MaxRCN {
		return fmt.Errorf("%w: %d", ErrInvalidRCN, rcn)
	}
	return nil
}
