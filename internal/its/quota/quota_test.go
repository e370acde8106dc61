// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const mb = 1 << 20

func TestGate_ThirdAcquireBlocksUntilRelease(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	g := New(10 * mb)
	ctx := context.Background()

	r1, err := g.Acquire(ctx, 4*mb)
	require.NoError(t, err)
	r2, err := g.Acquire(ctx, 4*mb)
	require.NoError(t, err)

	acquired := make(chan *Reservation, 1)
	go func() {
		r3, err := g.Acquire(ctx, 4*mb)
		if err == nil {
			acquired <- r3
		}
	}()

	select {
	case <-acquired:
		t.Fatal("third acquire must block while 8MB of 10MB are held")
	case <-time.After(50 * time.Millisecond):
	}

	r1.Release()

	select {
	case r3 := <-acquired:
		assert.Equal(t, int64(8*mb), g.Acquired())
		r3.Release()
	case <-time.After(time.Second):
		t.Fatal("third acquire did not proceed after release")
	}
	r2.Release()
	assert.Zero(t, g.Acquired())
}

func TestGate_AcquireHonoursContext(t *testing.T) {
	g := New(10)
	r, err := g.Acquire(context.Background(), 10)
	require.NoError(t, err)
	defer r.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Acquire(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(10), g.Acquired())
}

func TestGate_OversizedRequestIsClamped(t *testing.T) {
	g := New(100)
	r, err := g.Acquire(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(100), r.Size())
	assert.Equal(t, int64(100), g.Acquired())
	r.Release()
	assert.Zero(t, g.Acquired())
}

func TestReservation_ReleaseIsIdempotent(t *testing.T) {
	g := New(100)
	r, err := g.Acquire(context.Background(), 60)
	require.NoError(t, err)

	r.Release()
	r.Release()
	assert.Zero(t, g.Acquired())

	acq, rel := g.Totals()
	assert.Equal(t, int64(60), acq)
	assert.Equal(t, int64(60), rel)

	var nilRes *Reservation
	assert.NotPanics(t, nilRes.Release)
	assert.Zero(t, nilRes.Size())
}

func TestGate_SwapSubstitutesReservation(t *testing.T) {
	g := New(100)
	ctx := context.Background()

	r, err := g.Acquire(ctx, 80)
	require.NoError(t, err)

	r2, err := g.Swap(ctx, r, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(30), g.Acquired())

	// The old reservation must not release twice.
	r.Release()
	assert.Equal(t, int64(30), g.Acquired())

	r2.Release()
	acq, rel := g.Totals()
	assert.Equal(t, acq, rel)
}

func TestGate_NeverExceedsCapacityUnderContention(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const capacity = 64
	g := New(capacity)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		maxSeen int64
	)
	for i := range 32 {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			r, err := g.Acquire(ctx, n)
			if err != nil {
				return
			}
			mu.Lock()
			if cur := g.Acquired(); cur > maxSeen {
				maxSeen = cur
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			r.Release()
		}(int64(i%8 + 1))
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen, int64(capacity))
	acq, rel := g.Totals()
	assert.Equal(t, acq, rel, "every acquire must be matched by a release")
	assert.Zero(t, g.Acquired())
}

func TestGate_TryAcquire(t *testing.T) {
	g := New(10)
	r, ok := g.TryAcquire(8)
	require.True(t, ok)
	_, ok = g.TryAcquire(4)
	assert.False(t, ok)
	r.Release()
	r2, ok := g.TryAcquire(4)
	require.True(t, ok)
	r2.Release()
}
