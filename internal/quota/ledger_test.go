package quota

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"linkdigest/internal/clock"
	"linkdigest/internal/infra/memstore"
)

var t0 = time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T, lim Limits) (*Ledger, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(t0)
	l := New(memstore.New(fc), fc, "")
	l.SetPollInterval(time.Second)
	require.NoError(t, l.Init(context.Background(), lim))
	return l, fc
}

func TestInitIsIdempotent(t *testing.T) {
	l, _ := newTestLedger(t, Limits{TokensPerMinute: 600, RequestsPerMinute: 10, RequestsPerDay: 100})
	ctx := context.Background()

	// A second Init must not clobber persisted state.
	require.NoError(t, l.Init(ctx, Limits{TokensPerMinute: 1, RequestsPerMinute: 1, RequestsPerDay: 1}))

	lim, err := l.Limits(ctx)
	require.NoError(t, err)
	assert.Equal(t, 600.0, lim.TokensPerMinute)
}

func TestTokenRefillIsTimeProportionalAndClamped(t *testing.T) {
	l, fc := newTestLedger(t, Limits{TokensPerMinute: 600, RequestsPerMinute: 10, RequestsPerDay: 100})
	ctx := context.Background()

	// Drain the full budget.
	res, err := l.ReserveTokens(ctx, 600, 0)
	require.NoError(t, err)
	assert.Equal(t, Granted, res)

	// Nothing left right now.
	res, err = l.ReserveTokens(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res)

	// 30s at 600/min refills exactly 300.
	fc.Advance(30 * time.Second)
	res, err = l.ReserveTokens(ctx, 300, 0)
	require.NoError(t, err)
	assert.Equal(t, Granted, res)
	res, err = l.ReserveTokens(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res)

	// A long idle period refills to the cap, never beyond it.
	fc.Advance(time.Hour)
	res, err = l.ReserveTokens(ctx, 600, 0)
	require.NoError(t, err)
	assert.Equal(t, Granted, res)
	res, err = l.ReserveTokens(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res)
}

func TestReserveAboveCapTimesOut(t *testing.T) {
	// Cap 600/min, worst-case estimate 700. Refill alone can never
	// reach 700, so a 60s wait must time out rather than grant.
	l, fc := newTestLedger(t, Limits{TokensPerMinute: 600, RequestsPerMinute: 10, RequestsPerDay: 100})
	ctx := context.Background()

	start := fc.Now()
	res, err := l.ReserveTokens(ctx, 700, 60*time.Second)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res)
	assert.GreaterOrEqual(t, fc.Now().Sub(start), 60*time.Second)
}

func TestReleaseTokensClampsAtCap(t *testing.T) {
	l, _ := newTestLedger(t, Limits{TokensPerMinute: 600, RequestsPerMinute: 10, RequestsPerDay: 100})
	ctx := context.Background()

	res, err := l.ReserveTokens(ctx, 100, 0)
	require.NoError(t, err)
	require.Equal(t, Granted, res)

	// Releasing more than was consumed must not bank tokens above the cap.
	require.NoError(t, l.ReleaseTokens(ctx, 10000))
	res, err = l.ReserveTokens(ctx, 600, 0)
	require.NoError(t, err)
	assert.Equal(t, Granted, res)
	res, err = l.ReserveTokens(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res)
}

func TestRequestSpacing(t *testing.T) {
	l, fc := newTestLedger(t, Limits{TokensPerMinute: 600, RequestsPerMinute: 1, RequestsPerDay: 100})
	ctx := context.Background()

	res, err := l.ReserveRequestSlot(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, Granted, res)
	first := fc.Now()

	// Too soon and the wait budget is shorter than the gap.
	res, err = l.ReserveRequestSlot(ctx, 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res)

	res, err = l.ReserveRequestSlot(ctx, 2*time.Minute)
	require.NoError(t, err)
	require.Equal(t, Granted, res)
	assert.GreaterOrEqual(t, fc.Now().Sub(first), time.Minute)
}

func TestDailyLimitShortCircuits(t *testing.T) {
	l, fc := newTestLedger(t, Limits{TokensPerMinute: 600, RequestsPerMinute: 60, RequestsPerDay: 1})
	ctx := context.Background()

	res, err := l.ReserveRequestSlot(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, Granted, res)

	// The ceiling is hit: no amount of waiting helps, so the result is
	// distinct from a timeout and returns without consuming the wait budget.
	before := fc.Now()
	res, err = l.ReserveRequestSlot(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, DailyLimitReached, res)
	assert.Equal(t, before, fc.Now())

	exhausted, err := l.DailyExhausted(ctx)
	require.NoError(t, err)
	assert.True(t, exhausted)

	require.NoError(t, l.ResetDaily(ctx))
	exhausted, err = l.DailyExhausted(ctx)
	require.NoError(t, err)
	assert.False(t, exhausted)

	fc.Advance(time.Minute)
	res, err = l.ReserveRequestSlot(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, Granted, res)
}

func TestUpdateLimitsClampsTokensDown(t *testing.T) {
	// Lowering the cap below the current balance clamps immediately: no
	// reservation larger than the new cap can ever be granted afterwards.
	l, _ := newTestLedger(t, Limits{TokensPerMinute: 600, RequestsPerMinute: 10, RequestsPerDay: 100})
	ctx := context.Background()

	require.NoError(t, l.UpdateLimits(ctx, Limits{TokensPerMinute: 100, RequestsPerMinute: 10, RequestsPerDay: 100}))

	res, err := l.ReserveTokens(ctx, 101, 0)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res)

	res, err = l.ReserveTokens(ctx, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, Granted, res)
}

func TestCorruptLedgerFieldIsLoggedAndZeroed(t *testing.T) {
	fc := clock.NewFake(t0)
	store := memstore.New(fc)
	l := New(store, fc, "")
	l.SetPollInterval(time.Second)
	ctx := context.Background()
	require.NoError(t, l.Init(ctx, Limits{TokensPerMinute: 600, RequestsPerMinute: 10, RequestsPerDay: 100}))

	require.NoError(t, store.HashSet(ctx, DefaultKey, map[string]string{"tokens_available": "garbage"}))

	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	defer func() { log.Logger = prev }()

	// The corrupt balance reads as zero, and the read is not silent.
	res, err := l.ReserveTokens(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res)
	assert.Contains(t, buf.String(), "unreadable quota ledger field")
	assert.Contains(t, buf.String(), "tokens_available")

	// The zeroed balance was written back as a valid scalar, so refill
	// recovers it over time.
	fc.Advance(time.Minute)
	res, err = l.ReserveTokens(ctx, 600, 0)
	require.NoError(t, err)
	assert.Equal(t, Granted, res)
}

func TestResetDailyRefillsTokens(t *testing.T) {
	l, _ := newTestLedger(t, Limits{TokensPerMinute: 600, RequestsPerMinute: 10, RequestsPerDay: 100})
	ctx := context.Background()

	res, err := l.ReserveTokens(ctx, 600, 0)
	require.NoError(t, err)
	require.Equal(t, Granted, res)

	require.NoError(t, l.ResetDaily(ctx))

	res, err = l.ReserveTokens(ctx, 600, 0)
	require.NoError(t, err)
	assert.Equal(t, Granted, res)
}
