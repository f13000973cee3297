// Package audit defines the fire-and-forget audit trail the bidding
// core appends to. Implementations must never block a committed bid:
// a failed append is the implementation's problem, not the caller's.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Entry struct {
	Kind    string    `msgpack:"kind"`
	EventID uuid.UUID `msgpack:"eventId"`
	ItemID  uuid.UUID `msgpack:"itemId"`
	BidID   uuid.UUID `msgpack:"bidId"`
	ActorID uuid.UUID `msgpack:"actorId"`
	Amount  int64     `msgpack:"amount"`
	Detail  string    `msgpack:"detail"`
	At      time.Time `msgpack:"at"`
}

type Logger interface {
	Log(ctx context.Context, entry Entry) error
}

// NopLogger discards every entry. Used when no sink is configured and
// in tests that do not care about the trail.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, entry Entry) error { return nil }
