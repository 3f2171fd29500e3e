package cdr

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/airdial/airdial/pkg/telephony"
)

// writeTimeout bounds each background store write.
const writeTimeout = 5 * time.Second

// Recorder adapts a [Store] to the session controller's callback path.
// Writes happen on a background goroutine so a slow database can never
// stall a vendor callback; failures are logged, never surfaced.
type Recorder struct {
	store Store
	log   *slog.Logger
	newID func() string
}

// NewRecorder wraps a store for use from the session controller.
func NewRecorder(store Store, log *slog.Logger) *Recorder {
	return &Recorder{store: store, log: log, newID: uuid.NewString}
}

// CallStarted records a connected call leg.
func (r *Recorder) CallStarted(info telephony.CallInfo, at time.Time) {
	rec := Record{
		ID:        r.newID(),
		CallSID:   info.CallSID,
		Direction: string(info.Direction),
		To:        info.To,
		From:      info.From,
		StartedAt: at,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.store.Started(ctx, rec); err != nil {
			r.log.Error("call record insert failed", "call_sid", rec.CallSID, "error", err)
		}
	}()
}

// CallEnded stamps the end of a call leg.
func (r *Recorder) CallEnded(callSID string, at time.Time) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		if err := r.store.Ended(ctx, callSID, at); err != nil {
			r.log.Error("call record close failed", "call_sid", callSID, "error", err)
		}
	}()
}
