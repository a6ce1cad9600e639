package actor

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by StateStore.Load when no state exists for a key.
var ErrNotFound = errors.New("actor state not found")

// StateStore is a per-actor key-value slot. Each actor exclusively owns its
// slot: read once at start-up, written after every state mutation,
// last-writer-wins.
type StateStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Ping(ctx context.Context) error
}

// Scheduler registers at most one future wake per actor key. Registering
// again overwrites the pending wake.
type Scheduler interface {
	WakeAt(key string, t time.Time, fn func())
	Cancel(key string)
}
