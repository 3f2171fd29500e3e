// Package cdr persists call-detail records: one row per call leg with its
// vendor identifiers, direction, and start/end timestamps. A PostgreSQL
// store serves deployments with a database; an in-memory ring buffer
// serves everything else.
package cdr

import (
	"context"
	"time"
)

// Record is one call leg's history entry.
type Record struct {
	// ID is the agent-assigned record identifier.
	ID string `json:"id"`

	// CallSID is the vendor-assigned call identifier.
	CallSID string `json:"callSid"`

	// Direction is "outbound" or "inbound".
	Direction string `json:"direction"`

	To   string `json:"to,omitempty"`
	From string `json:"from,omitempty"`

	StartedAt time.Time `json:"startedAt"`

	// EndedAt is nil while the call is still up.
	EndedAt *time.Time `json:"endedAt,omitempty"`
}

// Duration returns the call length, or zero while the call is still up.
func (r Record) Duration() time.Duration {
	if r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Store persists call records.
type Store interface {
	// Started inserts a new record for a call that just connected.
	Started(ctx context.Context, rec Record) error

	// Ended stamps the end time on the most recent open record for callSID.
	// Ending an unknown call is not an error.
	Ended(ctx context.Context, callSID string, at time.Time) error

	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
}
