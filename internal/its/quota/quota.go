// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package quota bounds the number of payload bytes that may be resident
// between a device callback copying a buffer out and the response writer
// putting it on the wire.
package quota

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/itsd/internal/metrics"
)

// Gate is a weighted byte limiter. Every reservation taken from a gate must be
// released exactly once; Reservation makes the release idempotent.
type Gate struct {
	sem      *semaphore.Weighted
	capacity int64

	held          atomic.Int64
	totalAcquired atomic.Int64
	totalReleased atomic.Int64
}

// New returns a gate with the given capacity in bytes. A non-positive
// capacity yields a gate of one byte, which serializes all payloads.
func New(capacity int64) *Gate {
	if capacity <= 0 {
		capacity = 1
	}
	return &Gate{
		sem:      semaphore.NewWeighted(capacity),
		capacity: capacity,
	}
}

// Capacity returns the configured capacity.
func (g *Gate) Capacity() int64 { return g.capacity }

// Acquired returns the number of bytes currently reserved.
func (g *Gate) Acquired() int64 { return g.held.Load() }

// Totals returns the cumulative acquired and released byte counts.
func (g *Gate) Totals() (acquired, released int64) {
	return g.totalAcquired.Load(), g.totalReleased.Load()
}

// Acquire blocks until n bytes are available or ctx is done. Requests larger
// than the capacity are clamped to the capacity so a single oversized payload
// waits for the gate to drain instead of blocking forever.
func (g *Gate) Acquire(ctx context.Context, n int64) (*Reservation, error) {
	if n < 0 {
		n = 0
	}
	if n > g.capacity {
		n = g.capacity
	}
	if n > 0 {
		if err := g.sem.Acquire(ctx, n); err != nil {
			return nil, err
		}
	}
	g.held.Add(n)
	g.totalAcquired.Add(n)
	metrics.QuotaInFlightBytes.Add(float64(n))
	return &Reservation{gate: g, n: n}, nil
}

// TryAcquire reserves n bytes without blocking.
func (g *Gate) TryAcquire(n int64) (*Reservation, bool) {
	if n < 0 {
		n = 0
	}
	if n > g.capacity {
		n = g.capacity
	}
	if n > 0 && !g.sem.TryAcquire(n) {
		return nil, false
	}
	g.held.Add(n)
	g.totalAcquired.Add(n)
	metrics.QuotaInFlightBytes.Add(float64(n))
	return &Reservation{gate: g, n: n}, true
}

// Swap replaces a reservation with one of a different size, for a payload
// whose final size is only known after it has been computed. The old
// reservation is released before the new one is acquired so a substitution
// can never deadlock against itself.
func (g *Gate) Swap(ctx context.Context, old *Reservation, n int64) (*Reservation, error) {
	old.Release()
	return g.Acquire(ctx, n)
}

func (g *Gate) release(n int64) {
	if n == 0 {
		return
	}
	g.held.Add(-n)
	g.totalReleased.Add(n)
	metrics.QuotaInFlightBytes.Sub(float64(n))
	g.sem.Release(n)
}

// Reservation is a block of bytes held against a Gate.
type Reservation struct {
	gate *Gate
	n    int64
	once sync.Once
}

// Size returns the number of bytes held.
func (r *Reservation) Size() int64 {
	if r == nil {
		return 0
	}
	return r.n
}

// Release returns the bytes to the gate. It is safe to call on a nil
// reservation and safe to call more than once.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	r.once.Do(func() { r.gate.release(r.n) })
}
