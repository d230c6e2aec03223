// Package quota gates access to the rate-limited AI API along three axes:
// requests per minute (a minimum-inter-request-interval gate), tokens per
// minute (a lazily refilled budget reserved pessimistically before each call),
// and a hard daily request ceiling. All scalars live in one durable hash so a
// recycled process picks up exactly where the last one left off.
package quota

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"linkdigest/internal/clock"
	"linkdigest/internal/ports"
)

const (
	DefaultKey      = "digest:quota"
	defaultPollRate = 500 * time.Millisecond
)

// Result is the tri-state outcome of a reservation wait.
type Result int

const (
	Granted Result = iota
	TimedOut
	DailyLimitReached
)

func (r Result) String() string {
	switch r {
	case Granted:
		return "granted"
	case TimedOut:
		return "timed_out"
	case DailyLimitReached:
		return "daily_limit_reached"
	default:
		return "unknown"
	}
}

type Limits struct {
	TokensPerMinute   float64
	RequestsPerMinute int
	RequestsPerDay    int
}

type Ledger struct {
	store ports.Store
	clk   clock.Clock
	key   string
	poll  time.Duration
}

func New(store ports.Store, clk clock.Clock, key string) *Ledger {
	if key == "" {
		key = DefaultKey
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Ledger{store: store, clk: clk, key: key, poll: defaultPollRate}
}

type state struct {
	Limits
	TokensAvailable float64
	LastRefill      time.Time
	RequestsToday   int
	LastRequest     time.Time
}

func (l *Ledger) load(ctx context.Context) (*state, error) {
	h, err := l.store.HashGetAll(ctx, l.key)
	if err != nil {
		return nil, err
	}
	st := &state{}
	st.TokensPerMinute = parseFloat(h, "tokens_per_minute")
	st.RequestsPerMinute = parseInt(h, "requests_per_minute")
	st.RequestsPerDay = parseInt(h, "requests_per_day")
	st.TokensAvailable = parseFloat(h, "tokens_available")
	st.RequestsToday = parseInt(h, "requests_today")
	st.LastRefill = parseMillis(h, "last_refill_ms")
	st.LastRequest = parseMillis(h, "last_request_ms")
	return st, nil
}

func (l *Ledger) save(ctx context.Context, st *state) error {
	return l.store.HashSet(ctx, l.key, map[string]string{
		"tokens_per_minute":   strconv.FormatFloat(st.TokensPerMinute, 'f', -1, 64),
		"requests_per_minute": strconv.Itoa(st.RequestsPerMinute),
		"requests_per_day":    strconv.Itoa(st.RequestsPerDay),
		"tokens_available":    strconv.FormatFloat(st.TokensAvailable, 'f', -1, 64),
		"requests_today":      strconv.Itoa(st.RequestsToday),
		"last_refill_ms":      formatMillis(st.LastRefill),
		"last_request_ms":     formatMillis(st.LastRequest),
	})
}

// Init seeds the ledger with defaults on first boot. A ledger that already
// has caps persisted is left alone.
func (l *Ledger) Init(ctx context.Context, defaults Limits) error {
	st, err := l.load(ctx)
	if err != nil {
		return err
	}
	if st.TokensPerMinute > 0 || st.RequestsPerMinute > 0 {
		return nil
	}
	st.Limits = defaults
	st.TokensAvailable = defaults.TokensPerMinute
	st.LastRefill = l.clk.Now()
	return l.save(ctx, st)
}

// Limits returns the currently configured caps.
func (l *Ledger) Limits(ctx context.Context) (Limits, error) {
	st, err := l.load(ctx)
	if err != nil {
		return Limits{}, err
	}
	return st.Limits, nil
}

// UpdateLimits replaces the caps. The available token balance is clamped to
// the new per-minute cap and the refill clock restarts, so a cap change can
// never produce a burst above the new limit. Idempotent.
func (l *Ledger) UpdateLimits(ctx context.Context, lim Limits) error {
	st, err := l.load(ctx)
	if err != nil {
		return err
	}
	st.Limits = lim
	if st.TokensAvailable > lim.TokensPerMinute {
		st.TokensAvailable = lim.TokensPerMinute
	}
	st.LastRefill = l.clk.Now()
	return l.save(ctx, st)
}

// DailyExhausted reports whether the daily request ceiling has been reached.
func (l *Ledger) DailyExhausted(ctx context.Context) (bool, error) {
	st, err := l.load(ctx)
	if err != nil {
		return false, err
	}
	return st.RequestsToday >= st.RequestsPerDay, nil
}

// ReserveRequestSlot waits until at least 60s/requestsPerMinute has elapsed
// since the previous grant, then consumes one daily request. It returns
// DailyLimitReached immediately when the ceiling is hit: that state cannot
// resolve before the next daily reset, so waiting on it would be a lie.
func (l *Ledger) ReserveRequestSlot(ctx context.Context, timeout time.Duration) (Result, error) {
	deadline := l.clk.Now().Add(timeout)
	for {
		st, err := l.load(ctx)
		if err != nil {
			return TimedOut, err
		}
		if st.RequestsToday >= st.RequestsPerDay {
			return DailyLimitReached, nil
		}
		now := l.clk.Now()
		if st.LastRequest.IsZero() || now.Sub(st.LastRequest) >= minInterval(st.RequestsPerMinute) {
			st.RequestsToday++
			st.LastRequest = now
			if err := l.save(ctx, st); err != nil {
				return TimedOut, err
			}
			return Granted, nil
		}
		if !now.Before(deadline) {
			return TimedOut, nil
		}
		if err := l.clk.Sleep(ctx, l.poll); err != nil {
			return TimedOut, err
		}
	}
}

// ReserveTokens refills the budget lazily and subtracts amount in a single
// step once enough is available. An amount above the per-minute cap can never
// be granted; the wait times out instead.
func (l *Ledger) ReserveTokens(ctx context.Context, amount float64, timeout time.Duration) (Result, error) {
	deadline := l.clk.Now().Add(timeout)
	for {
		st, err := l.load(ctx)
		if err != nil {
			return TimedOut, err
		}
		now := l.clk.Now()
		refill(st, now)
		if st.TokensAvailable >= amount {
			st.TokensAvailable -= amount
			if err := l.save(ctx, st); err != nil {
				return TimedOut, err
			}
			return Granted, nil
		}
		if err := l.save(ctx, st); err != nil {
			return TimedOut, err
		}
		if !now.Before(deadline) {
			return TimedOut, nil
		}
		if err := l.clk.Sleep(ctx, l.poll); err != nil {
			return TimedOut, err
		}
	}
}

// ReleaseTokens returns unused budget from a pessimistic reservation,
// clamped at the cap. Excess is discarded, not banked.
func (l *Ledger) ReleaseTokens(ctx context.Context, amount float64) error {
	if amount <= 0 {
		return nil
	}
	st, err := l.load(ctx)
	if err != nil {
		return err
	}
	st.TokensAvailable += amount
	if st.TokensAvailable > st.TokensPerMinute {
		st.TokensAvailable = st.TokensPerMinute
	}
	return l.save(ctx, st)
}

// ResetDaily zeroes the daily request counter and refills the token budget.
// Invoked once per calendar day.
func (l *Ledger) ResetDaily(ctx context.Context) error {
	st, err := l.load(ctx)
	if err != nil {
		return err
	}
	st.RequestsToday = 0
	st.TokensAvailable = st.TokensPerMinute
	st.LastRefill = l.clk.Now()
	return l.save(ctx, st)
}

// SetPollInterval overrides the wait-loop poll cadence. Used by tests.
func (l *Ledger) SetPollInterval(d time.Duration) { l.poll = d }

func refill(st *state, now time.Time) {
	if st.LastRefill.IsZero() {
		st.LastRefill = now
		return
	}
	elapsed := now.Sub(st.LastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	st.TokensAvailable += elapsed * st.TokensPerMinute / 60
	if st.TokensAvailable > st.TokensPerMinute {
		st.TokensAvailable = st.TokensPerMinute
	}
	st.LastRefill = now
}

func minInterval(requestsPerMinute int) time.Duration {
	if requestsPerMinute <= 0 {
		return 0
	}
	return time.Duration(float64(time.Minute) / float64(requestsPerMinute))
}

// The parse helpers treat an absent field as zero silently (a fresh ledger
// has no fields at all) but warn on an unparseable one: a corrupt cap reads
// as zero, and a zeroed requests_per_day keeps DailyExhausted true until the
// value is repaired.
func parseFloat(h map[string]string, field string) float64 {
	s := h[field]
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		log.Warn().Str("field", field).Str("value", s).Msg("unreadable quota ledger field, treating as zero")
		return 0
	}
	return f
}

func parseInt(h map[string]string, field string) int {
	s := h[field]
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Warn().Str("field", field).Str("value", s).Msg("unreadable quota ledger field, treating as zero")
		return 0
	}
	return n
}

func parseMillis(h map[string]string, field string) time.Time {
	s := h[field]
	if s == "" || s == "0" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Warn().Str("field", field).Str("value", s).Msg("unreadable quota ledger field, treating as zero")
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func formatMillis(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}
