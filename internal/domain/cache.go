package domain

import (
	"context"
	"io"
	"time"
)

// PriceCache stores the latest observed price per instrument so the scan loop
// and the status API read a consistent recent price without re-querying
// venues.
type PriceCache interface {
	SetPrice(ctx context.Context, symbol string, price float64, ts time.Time) error
	// GetPrice returns ErrNotFound when no price has been cached.
	GetPrice(ctx context.Context, symbol string) (float64, time.Time, error)
}

// SignalBus publishes position lifecycle events for external consumers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// LockManager provides distributed locks so at most one process runs the scan
// loop against a shared store. Acquire returns ErrLockHeld when another
// holder owns the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads archive objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
