// Package retry runs a unit of work with exponential backoff and hands
// persistent quota failures to a model fallback hook.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Cyclone1070/iav/internal/availability"
	"github.com/Cyclone1070/iav/internal/fallback"
	"github.com/Cyclone1070/iav/internal/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"goa.design/clue/log"
)

var (
	// ErrInvalidMaxAttempts is returned before any attempt when MaxAttempts is not positive.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be a positive number")

	// ErrCancelled wraps the context error when the loop is cancelled.
	ErrCancelled = errors.New("retry cancelled")
)

const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 5 * time.Second
	DefaultMaxDelay     = 30 * time.Second

	meterName = "github.com/Cyclone1070/iav/internal/retry"
)

// FallbackHook is asked for a replacement model once failures persist.
// A nil outcome or one with ShouldRetry false ends the loop with the last error.
type FallbackHook func(ctx context.Context, failedModel string, err error) (*fallback.Outcome, error)

// modelSetter switches the model that serves the next attempt.
type modelSetter interface {
	SetActiveModel(model string)
}

// Options configures Do. Zero durations take the defaults.
type Options struct {
	// MaxAttempts is the attempt budget per model. Nil means DefaultMaxAttempts.
	MaxAttempts *int

	InitialDelay time.Duration
	MaxDelay     time.Duration

	// ShouldRetry overrides DefaultShouldRetry.
	ShouldRetry func(err error) bool

	// RetryNetworkErrors also retries transport failures that carry no
	// status, in addition to whatever ShouldRetry accepts.
	RetryNetworkErrors bool

	// CurrentModel reports the model that served the last attempt.
	// When nil, the model last chosen by fallback is used; before any
	// fallback that model is unknown and OnFallback is not consulted.
	CurrentModel func() string

	// Tracker and PolicyFor apply availability directives after failures.
	// Both must be set for directives to apply.
	Tracker   *availability.Tracker
	PolicyFor func(model string) (availability.ModelPolicy, bool)

	OnFallback FallbackHook
	Models     modelSetter

	// Jitter returns a factor in [-1, 1]. Nil uses a shared random source.
	Jitter func() float64
}

// Attempts is a helper for setting Options.MaxAttempts.
func Attempts(n int) *int {
	return &n
}

// DefaultShouldRetry retries 429 and 5xx responses. Errors without a status
// and other 4xx responses are not retried.
func DefaultShouldRetry(err error) bool {
	status, ok := provider.StatusCode(err)
	if !ok {
		return false
	}
	return status == http.StatusTooManyRequests || (status >= 500 && status < 600)
}

// Do runs fn until it succeeds, fails permanently, or ctx is cancelled.
func Do[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T

	maxAttempts := DefaultMaxAttempts
	if opts.MaxAttempts != nil {
		maxAttempts = *opts.MaxAttempts
	}
	if maxAttempts <= 0 {
		return zero, fmt.Errorf("%w: got %d", ErrInvalidMaxAttempts, maxAttempts)
	}
	initial := opts.InitialDelay
	if initial <= 0 {
		initial = DefaultInitialDelay
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}
	if opts.RetryNetworkErrors {
		base := shouldRetry
		shouldRetry = func(err error) bool {
			return provider.IsNetworkError(err) || base(err)
		}
	}
	jitter := opts.Jitter
	if jitter == nil {
		jitter = defaultJitter.factor
	}

	r := &runner{opts: opts, attemptsCounter: attemptsCounter()}
	attempt := 0
	restoreTo := ""

	for {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		attempt++
		r.recordAttempt(ctx, attempt)
		result, err := fn(ctx)
		served := r.currentModel()

		if restoreTo != "" {
			r.setActive(restoreTo)
			restoreTo = ""
		}

		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return zero, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}

		terminal := provider.IsTerminalQuota(err)
		retryable := !terminal && shouldRetry(err)
		exhausted := retryable && attempt >= maxAttempts

		if terminal || exhausted {
			failed := served
			r.applyDirective(failed, err, terminal)

			out, hookErr := r.fallback(ctx, failed, err)
			if hookErr != nil {
				return zero, hookErr
			}
			if out == nil || !out.ShouldRetry {
				log.Warn(ctx,
					log.KV{K: "msg", V: "giving up"},
					log.KV{K: "model", V: failed},
					log.KV{K: "attempts", V: attempt},
					log.KV{K: "err", V: err.Error()},
				)
				return zero, err
			}

			r.setActive(out.Model)
			restoreTo = out.RestoreTo
			attempt = 0
			continue
		}

		if !retryable {
			return zero, err
		}

		wait, explicit := provider.RetryDelay(err)
		if !explicit {
			wait = jittered(Delay(attempt, initial, maxDelay), jitter())
		}
		log.Debug(ctx,
			log.KV{K: "msg", V: "retrying"},
			log.KV{K: "attempt", V: attempt},
			log.KV{K: "delay_ms", V: wait.Milliseconds()},
			log.KV{K: "err", V: err.Error()},
		)

		if err := sleepFunc(ctx, wait); err != nil {
			return zero, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
	}
}

// Delay returns the un-jittered backoff before retry n (1-based).
func Delay(n int, initial, maxDelay time.Duration) time.Duration {
	d := initial
	for i := 1; i < n; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	return min(d, maxDelay)
}

// jittered scales d by 1 + 0.3*factor, with factor in [-1, 1].
func jittered(d time.Duration, factor float64) time.Duration {
	factor = max(-1, min(1, factor))
	out := time.Duration(float64(d) * (1 + 0.3*factor))
	if out < 0 {
		return 0
	}
	return out
}

// sleepFunc waits for d or until ctx is done. Tests replace it.
var sleepFunc = sleep

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type runner struct {
	opts            Options
	lastModel       string
	attemptsCounter metric.Int64Counter
}

func (r *runner) currentModel() string {
	if r.opts.CurrentModel != nil {
		return r.opts.CurrentModel()
	}
	return r.lastModel
}

func (r *runner) setActive(model string) {
	r.lastModel = model
	if r.opts.Models != nil {
		r.opts.Models.SetActiveModel(model)
	}
}

// applyDirective marks model per its policy. A terminal failure uses the
// terminal directive, an exhausted retry budget the retry-failure directive.
func (r *runner) applyDirective(model string, err error, terminal bool) {
	if r.opts.Tracker == nil || r.opts.PolicyFor == nil || model == "" {
		return
	}
	policy, ok := r.opts.PolicyFor(model)
	if !ok {
		return
	}
	if terminal {
		r.opts.Tracker.ApplyDirective(model, policy.OnTerminalErrorState, availability.ReasonQuota)
		return
	}
	reason := availability.ReasonCapacity
	if !provider.IsRetryableQuota(err) {
		reason = availability.ReasonUnknown
	}
	r.opts.Tracker.ApplyDirective(model, policy.OnRetryFailureState, reason)
}

// fallback consults the hook. Without a known failed model there is nothing
// to fall back from, so the hook is skipped.
func (r *runner) fallback(ctx context.Context, failed string, err error) (*fallback.Outcome, error) {
	if r.opts.OnFallback == nil || failed == "" {
		return nil, nil
	}
	out, hookErr := r.opts.OnFallback(ctx, failed, err)
	if hookErr != nil {
		return nil, fmt.Errorf("fallback for %s: %w", failed, hookErr)
	}
	return out, nil
}

func (r *runner) recordAttempt(ctx context.Context, attempt int) {
	if r.attemptsCounter == nil {
		return
	}
	r.attemptsCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.Bool("retry", attempt > 1),
	))
}

func attemptsCounter() metric.Int64Counter {
	c, err := otel.Meter(meterName).Int64Counter(
		"iav.retry.attempts",
		metric.WithDescription("Number of attempts made by the retry driver"),
	)
	if err != nil {
		otel.Handle(err)
		return nil
	}
	return c
}
