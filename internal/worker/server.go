package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"linkdigest/internal/clock"
	"linkdigest/internal/config"
	"linkdigest/internal/infra/fetcher"
	"linkdigest/internal/infra/gemini"
	"linkdigest/internal/infra/memstore"
	"linkdigest/internal/infra/origin"
	"linkdigest/internal/infra/redisstore"
	"linkdigest/internal/infra/settings"
	"linkdigest/internal/ports"
	"linkdigest/internal/queue"
	"linkdigest/internal/quota"
	"linkdigest/internal/retry"
	"linkdigest/internal/usecase"
)

type Config struct {
	// Memory runs against the in-process store instead of Redis; a dev mode
	// where nothing survives the process.
	Memory bool
}

func Run(cfg Config) error {
	appCfg := config.Load()
	clk := clock.System{}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store ports.Store
	if cfg.Memory {
		log.Info().Msg("using in-memory store, state will not survive this process")
		store = memstore.New(clk)
	} else {
		rs := redisstore.New(appCfg.Redis)
		if err := rs.Connect(ctx); err != nil {
			return err
		}
		defer func() { _ = rs.Close() }()
		store = rs
	}

	q := queue.New(store, "")
	retries := retry.New(store, "")
	ledger := quota.New(store, clk, "")
	if err := ledger.Init(ctx, quota.Limits{
		TokensPerMinute:   appCfg.Quota.TokensPerMinute,
		RequestsPerMinute: appCfg.Quota.RequestsPerMinute,
		RequestsPerDay:    appCfg.Quota.RequestsPerDay,
	}); err != nil {
		return err
	}

	pipe := &usecase.Pipeline{
		Queue:      q,
		Retries:    retries,
		Quota:      ledger,
		Origin:     origin.New(appCfg.Origin),
		Fetcher:    fetcher.New(),
		Summarizer: gemini.New(appCfg.Gemini.Model),
		Settings:   settings.New(store),
		Store:      store,
		Clock:      clk,
		Cfg: usecase.PipelineConfig{
			BatchSize:       appCfg.Pipeline.BatchSize,
			MaxRetries:      appCfg.Pipeline.MaxRetries,
			RetryInterval:   appCfg.Pipeline.RetryInterval,
			RetryDelay:      appCfg.Pipeline.RetryDelay,
			ReserveTimeout:  appCfg.Pipeline.ReserveTimeout,
			PauseTTL:        appCfg.Pipeline.PauseTTL,
			MaxOutputTokens: appCfg.Pipeline.MaxOutputTokens,
		},
	}
	sweep := usecase.Housekeeping{
		Queue:   q,
		Retries: retries,
		Clock:   clk,
		MaxAge:  appCfg.Pipeline.MaxItemAge,
	}
	reset := usecase.DailyReset{Quota: ledger}

	pipelineTicker := time.NewTicker(appCfg.Pipeline.Cadence)
	defer pipelineTicker.Stop()
	sweepTicker := time.NewTicker(time.Hour)
	defer sweepTicker.Stop()
	resetTimer := time.NewTimer(untilNextMidnightUTC(clk.Now()))
	defer resetTimer.Stop()

	log.Ctx(ctx).Info().Dur("cadence", appCfg.Pipeline.Cadence).Msg("pipeline worker started")
	return runCadences(ctx,
		cadence{name: "pipeline", c: pipelineTicker.C, fn: pipe.RunCycle},
		cadence{name: "housekeeping", c: sweepTicker.C, fn: func(ctx context.Context) error {
			_, err := sweep.Sweep(ctx)
			return err
		}},
		cadence{name: "daily-reset", c: resetTimer.C, fn: reset.Run, rearm: func() {
			resetTimer.Reset(untilNextMidnightUTC(clk.Now()))
		}},
	)
}

type cadence struct {
	name string
	c    <-chan time.Time
	fn   func(context.Context) error
	// rearm re-schedules one-shot cadences after each firing.
	rearm func()
}

func (c cadence) invoke(ctx context.Context) {
	// Each invocation gets a run id so one cycle's log lines correlate.
	logger := log.With().Str("job", c.name).Str("run_id", uuid.NewString()).Logger()
	if err := c.fn(logger.WithContext(ctx)); err != nil {
		logger.Error().Err(err).Msg("cadence job failed")
	}
	if c.rearm != nil {
		c.rearm()
	}
}

// runCadences multiplexes every cadence through a single goroutine, so one
// job body always runs to completion before the next fires. The store's
// read-modify-write mutations (quota scalars, retry counters) rely on this:
// nothing else serializes them. Ticks arriving while a job runs are dropped
// by the ticker, never queued.
func runCadences(ctx context.Context, pipeline, sweep, reset cadence) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pipeline.c:
			pipeline.invoke(ctx)
		case <-sweep.c:
			sweep.invoke(ctx)
		case <-reset.c:
			reset.invoke(ctx)
		}
	}
}

func untilNextMidnightUTC(now time.Time) time.Duration {
	now = now.UTC()
	next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now)
}
