package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCadenceJobsNeverOverlap(t *testing.T) {
	pipeline := make(chan time.Time)
	sweep := make(chan time.Time)
	reset := make(chan time.Time)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	var runs []string
	job := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			inFlight++
			if inFlight > maxInFlight {
				maxInFlight = inFlight
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inFlight--
			runs = append(runs, name)
			mu.Unlock()
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runCadences(ctx,
			cadence{name: "pipeline", c: pipeline, fn: job("pipeline")},
			cadence{name: "housekeeping", c: sweep, fn: job("housekeeping")},
			cadence{name: "daily-reset", c: reset, fn: job("daily-reset")},
		)
	}()

	// The channels are unbuffered, so each send completes only once the loop
	// is back in its select, i.e. after the previous job body returned. Job
	// bodies mutate shared store state with plain read-modify-writes, so any
	// overlap here is a correctness bug, not a flake.
	for i := 0; i < 5; i++ {
		pipeline <- time.Time{}
		sweep <- time.Time{}
		reset <- time.Time{}
	}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, 1, maxInFlight)
	assert.Len(t, runs, 15)
}

func TestOneShotCadenceRearms(t *testing.T) {
	reset := make(chan time.Time)
	rearmed := 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runCadences(ctx,
			cadence{name: "pipeline", fn: func(context.Context) error { return nil }},
			cadence{name: "housekeeping", fn: func(context.Context) error { return nil }},
			cadence{name: "daily-reset", c: reset, fn: func(context.Context) error { return nil }, rearm: func() { rearmed++ }},
		)
	}()

	reset <- time.Time{}
	reset <- time.Time{}
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	assert.Equal(t, 2, rearmed)
}

func TestUntilNextMidnightUTC(t *testing.T) {
	assert.Equal(t, 90*time.Minute,
		untilNextMidnightUTC(time.Date(2026, 8, 23, 22, 30, 0, 0, time.UTC)))

	// Local wall times convert before the boundary is computed.
	est := time.FixedZone("EST", -5*60*60)
	assert.Equal(t, 90*time.Minute,
		untilNextMidnightUTC(time.Date(2026, 8, 23, 17, 30, 0, 0, est)))
}
