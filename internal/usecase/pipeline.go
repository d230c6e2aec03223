package usecase

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"linkdigest/internal/clock"
	"linkdigest/internal/domain"
	"linkdigest/internal/ports"
	"linkdigest/internal/queue"
	"linkdigest/internal/quota"
	"linkdigest/internal/retry"
	"linkdigest/pkg/backoff"
)

// Settings keys the pipeline consults each cycle.
const (
	SettingAutomatic         = "settings:automatic"
	SettingAPIKey            = "settings:api_key"
	SettingTemperature       = "settings:temperature"
	SettingPinResults        = "settings:pin_results"
	SettingTokensPerMinute   = "settings:tokens_per_minute"
	SettingRequestsPerMinute = "settings:requests_per_minute"
	SettingRequestsPerDay    = "settings:requests_per_day"
)

const DefaultPauseKey = "digest:paused"

// errDailyExhausted is the cycle-level stop signal: not an item failure, no
// item state is mutated when it surfaces.
var errDailyExhausted = errors.New("daily request quota exhausted")

type PipelineConfig struct {
	BatchSize       int
	MaxRetries      int
	RetryInterval   time.Duration
	RetryDelay      time.Duration
	ReserveTimeout  time.Duration
	PauseTTL        time.Duration
	MaxOutputTokens int32
	PauseKey        string
}

// Pipeline is the per-cadence orchestrator. It owns no state of its own:
// everything it decides on lives in the durable store, so an invocation can
// be killed at any point and the next one resumes correctly.
type Pipeline struct {
	Queue      *queue.DelayQueue
	Retries    *retry.Ledger
	Quota      *quota.Ledger
	Origin     ports.Origin
	Fetcher    ports.Fetcher
	Summarizer ports.Summarizer
	Settings   ports.Settings
	Store      ports.Store
	Clock      clock.Clock
	Cfg        PipelineConfig
}

// RunCycle executes one pipeline invocation. It returns an error only for a
// newly raised fatal-authentication pause; every other outcome is absorbed
// into queue/ledger state.
func (p *Pipeline) RunCycle(ctx context.Context) error {
	paused, err := p.Paused(ctx)
	if err != nil {
		return err
	}
	if paused {
		log.Ctx(ctx).Debug().Msg("pipeline paused, skipping cycle")
		return nil
	}

	exhausted, err := p.Quota.DailyExhausted(ctx)
	if err != nil {
		return err
	}
	if exhausted {
		log.Ctx(ctx).Debug().Msg("daily quota exhausted, skipping cycle")
		return nil
	}

	run, err := p.resolveSettings(ctx)
	if err != nil {
		return err
	}
	if run == nil {
		return nil
	}

	ids, err := p.Queue.PullReady(ctx, p.Clock.Now(), p.Cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, id := range ids {
		err := p.processItem(ctx, id, run)
		if err == nil {
			continue
		}
		if errors.Is(err, errDailyExhausted) {
			// Remaining items keep their schedule untouched.
			log.Ctx(ctx).Info().Msg("daily quota reached mid-batch, stopping cycle")
			return nil
		}
		kind := domain.Classify(err)
		if kind.Fatal() {
			// The failing item stays queued at its current schedule so it is
			// retried automatically once the pause lifts.
			return p.raisePause(ctx, id, err)
		}
		if ferr := p.handleFailure(ctx, id, kind, err); ferr != nil {
			return ferr
		}
	}
	return nil
}

// cycleSettings is what one cycle resolved from the settings provider.
type cycleSettings struct {
	apiKey      string
	temperature float32
	pinResults  bool
}

// resolveSettings returns nil (and no error) when the pipeline should not
// run: automatic mode off or credentials absent. It also applies any quota
// limit overrides, but only when they differ from the ledger's stored caps,
// since UpdateLimits resets the refill clock.
func (p *Pipeline) resolveSettings(ctx context.Context) (*cycleSettings, error) {
	auto, ok, err := p.Settings.Get(ctx, SettingAutomatic)
	if err != nil {
		return nil, err
	}
	if enabled, _ := strconv.ParseBool(auto); !ok || !enabled {
		return nil, nil
	}
	apiKey, ok, err := p.Settings.Get(ctx, SettingAPIKey)
	if err != nil {
		return nil, err
	}
	if !ok || apiKey == "" {
		log.Ctx(ctx).Debug().Msg("no api key configured, skipping cycle")
		return nil, nil
	}

	if err := p.syncLimits(ctx); err != nil {
		return nil, err
	}

	run := &cycleSettings{apiKey: apiKey, temperature: 0.7}
	if v, ok, _ := p.Settings.Get(ctx, SettingTemperature); ok {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			run.temperature = float32(f)
		}
	}
	if v, ok, _ := p.Settings.Get(ctx, SettingPinResults); ok {
		run.pinResults, _ = strconv.ParseBool(v)
	}
	return run, nil
}

func (p *Pipeline) syncLimits(ctx context.Context) error {
	current, err := p.Quota.Limits(ctx)
	if err != nil {
		return err
	}
	want := current
	if v, ok, _ := p.Settings.Get(ctx, SettingTokensPerMinute); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			want.TokensPerMinute = f
		}
	}
	if v, ok, _ := p.Settings.Get(ctx, SettingRequestsPerMinute); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			want.RequestsPerMinute = n
		}
	}
	if v, ok, _ := p.Settings.Get(ctx, SettingRequestsPerDay); ok {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			want.RequestsPerDay = n
		}
	}
	if want == current {
		return nil
	}
	log.Ctx(ctx).Info().
		Float64("tokens_per_minute", want.TokensPerMinute).
		Int("requests_per_minute", want.RequestsPerMinute).
		Int("requests_per_day", want.RequestsPerDay).
		Msg("applying quota limit change")
	return p.Quota.UpdateLimits(ctx, want)
}

// processItem runs one item end to end. Errors it returns are classified by
// the caller; a nil return means the item reached a terminal state (success
// or silent eviction) and its queue/retry state is already settled.
func (p *Pipeline) processItem(ctx context.Context, id string, run *cycleSettings) error {
	meta, err := p.Origin.ItemByID(ctx, id)
	if err != nil {
		if domain.Classify(err) == domain.FailNotFound {
			// Origin item is gone; nothing to summarize, drop silently.
			log.Ctx(ctx).Info().Str("item", id).Msg("item vanished at origin, evicting")
			return p.evict(ctx, id)
		}
		return err
	}

	content, err := p.Fetcher.Fetch(ctx, meta.URL)
	if err != nil {
		return err
	}

	res, err := p.Quota.ReserveRequestSlot(ctx, p.Cfg.ReserveTimeout)
	if err != nil {
		return domain.Fail(domain.FailServiceUnavailable, err)
	}
	switch res {
	case quota.DailyLimitReached:
		return errDailyExhausted
	case quota.TimedOut:
		return domain.Failf(domain.FailRateLimited, "request slot not granted within %s", p.Cfg.ReserveTimeout)
	}

	// Pessimistic reservation: worst case is the whole input plus the maximum
	// allowed output. The unused share is released after the call.
	outputAllowance := float64(p.Cfg.MaxOutputTokens)
	reserve := estimateTokens(content.Title, content.Body) + outputAllowance
	res, err = p.Quota.ReserveTokens(ctx, reserve, p.Cfg.ReserveTimeout)
	if err != nil {
		return domain.Fail(domain.FailServiceUnavailable, err)
	}
	if res == quota.TimedOut {
		return domain.Failf(domain.FailRateLimited, "token budget of %.0f not granted within %s", reserve, p.Cfg.ReserveTimeout)
	}

	text, serr := p.Summarizer.Summarize(ctx, domain.SummaryRequest{
		URL:             meta.URL,
		Title:           content.Title,
		Body:            content.Body,
		APIKey:          run.apiKey,
		Temperature:     run.temperature,
		MaxOutputTokens: p.Cfg.MaxOutputTokens,
	})

	unused := outputAllowance
	if serr == nil {
		unused = outputAllowance - estimateTokens(text)
		if unused < 0 {
			unused = 0
		}
	}
	if rerr := p.Quota.ReleaseTokens(ctx, unused); rerr != nil {
		log.Ctx(ctx).Error().Err(rerr).Msg("failed to release unused tokens")
	}
	if serr != nil {
		return serr
	}

	resultID, err := p.Origin.PublishResult(ctx, id, text)
	if err != nil {
		return err
	}
	if run.pinResults {
		if err := p.Origin.PinResult(ctx, resultID); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("item", id).Msg("failed to pin result")
		}
	}

	log.Ctx(ctx).Info().Str("item", id).Str("result", resultID).Msg("summary published")
	return p.clear(ctx, id)
}

// handleFailure applies the retry state machine for a non-fatal failure.
func (p *Pipeline) handleFailure(ctx context.Context, id string, kind domain.FailKind, cause error) error {
	if !kind.Retryable() {
		// Fail closed: unclassified failures evict immediately so an
		// unanticipated error shape cannot accumulate retries forever.
		log.Ctx(ctx).Warn().Err(cause).Str("item", id).Str("kind", string(kind)).Msg("non-retryable failure, evicting")
		return p.evict(ctx, id)
	}
	n, err := p.Retries.Record(ctx, id)
	if err != nil {
		return err
	}
	if n >= p.Cfg.MaxRetries {
		log.Ctx(ctx).Warn().Err(cause).Str("item", id).Int("attempts", n).Msg("retries exhausted, evicting")
		return p.evict(ctx, id)
	}
	delay := backoff.Step(p.Cfg.RetryInterval, p.Cfg.RetryDelay, n)
	readyAt := p.Clock.Now().Add(delay)
	log.Ctx(ctx).Info().Err(cause).Str("item", id).Int("attempts", n).Time("ready_at", readyAt).Msg("rescheduling item")
	return p.Queue.Enqueue(ctx, id, readyAt)
}

// evict drops an item and its retry counter without publishing anything.
func (p *Pipeline) evict(ctx context.Context, id string) error {
	if err := p.Queue.Remove(ctx, id); err != nil {
		return err
	}
	return p.Retries.Clear(ctx, id)
}

// clear settles an item after terminal success.
func (p *Pipeline) clear(ctx context.Context, id string) error {
	if err := p.Queue.Remove(ctx, id); err != nil {
		return err
	}
	return p.Retries.Clear(ctx, id)
}

func (p *Pipeline) pauseKey() string {
	if p.Cfg.PauseKey != "" {
		return p.Cfg.PauseKey
	}
	return DefaultPauseKey
}

// Paused reports whether the pipeline-wide pause flag is set.
func (p *Pipeline) Paused(ctx context.Context) (bool, error) {
	_, ok, err := p.Store.GetString(ctx, p.pauseKey())
	return ok, err
}

// raisePause sets the pause flag and surfaces the fatal error. The flag's
// TTL throttles the raise to once per pause episode: if the flag was already
// set the error has been raised before and is swallowed here.
func (p *Pipeline) raisePause(ctx context.Context, id string, cause error) error {
	already, err := p.Paused(ctx)
	if err != nil {
		return err
	}
	if err := p.Store.SetString(ctx, p.pauseKey(), "1", p.Cfg.PauseTTL); err != nil {
		return err
	}
	log.Ctx(ctx).Error().Err(cause).Str("item", id).Msg("fatal authentication failure, pausing pipeline")
	if already {
		return nil
	}
	return fmt.Errorf("pipeline paused: %w", cause)
}

// Resume clears the pause flag; called once credentials are confirmed valid.
func (p *Pipeline) Resume(ctx context.Context) error {
	return p.Store.Delete(ctx, p.pauseKey())
}

// estimateTokens is the rough chars/4 heuristic used for pessimistic
// reservations; precision matters less than never under-reserving input.
func estimateTokens(parts ...string) float64 {
	total := 0
	for _, s := range parts {
		total += len(s)
	}
	return float64(total) / 4
}
