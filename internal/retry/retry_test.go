package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/Cyclone1070/iav/internal/availability"
	"github.com/Cyclone1070/iav/internal/fallback"
	"github.com/Cyclone1070/iav/internal/provider"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSleep records requested waits instead of sleeping.
func stubSleep(t *testing.T) *[]time.Duration {
	t.Helper()
	waits := make([]time.Duration, 0)
	orig := sleepFunc
	sleepFunc = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return ctx.Err()
	}
	t.Cleanup(func() { sleepFunc = orig })
	return &waits
}

type mockModels struct {
	active []string
}

func (m *mockModels) SetActiveModel(model string) {
	m.active = append(m.active, model)
}

func statusErr(status int) error {
	return &provider.ProviderError{Code: provider.ErrorCodeUnavailable, Message: http.StatusText(status), Status: status}
}

func failingTimes(k int, err error) (func(context.Context) (string, error), *int) {
	calls := 0
	return func(context.Context) (string, error) {
		calls++
		if calls <= k {
			return "", err
		}
		return "ok", nil
	}, &calls
}

func noJitter() float64 { return 0 }

func TestDo_SucceedsFirstAttempt(t *testing.T) {
	stubSleep(t)
	fn, calls := failingTimes(0, nil)

	got, err := Do(context.Background(), fn, Options{})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, *calls)
}

func TestDo_RetriesUntilSuccess(t *testing.T) {
	waits := stubSleep(t)
	fn, calls := failingTimes(2, statusErr(http.StatusServiceUnavailable))

	got, err := Do(context.Background(), fn, Options{InitialDelay: 10 * time.Millisecond, Jitter: noJitter})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, *waits)
}

func TestDo_ExhaustsAttempts(t *testing.T) {
	stubSleep(t)
	want := statusErr(http.StatusTooManyRequests)
	fn, calls := failingTimes(10, want)

	_, err := Do(context.Background(), fn, Options{MaxAttempts: Attempts(2)})

	assert.Same(t, want, err)
	assert.Equal(t, 2, *calls)
}

func TestDo_DefaultsToThreeAttempts(t *testing.T) {
	stubSleep(t)
	fn, calls := failingTimes(10, statusErr(http.StatusInternalServerError))

	_, err := Do(context.Background(), fn, Options{})

	assert.Error(t, err)
	assert.Equal(t, DefaultMaxAttempts, *calls)
}

func TestDo_InvalidMaxAttempts(t *testing.T) {
	for _, n := range []int{0, -1} {
		fn, calls := failingTimes(0, nil)

		_, err := Do(context.Background(), fn, Options{MaxAttempts: Attempts(n)})

		assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
		assert.Equal(t, 0, *calls)
	}
}

func TestDo_DefaultPredicate(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantCalls int
	}{
		{"429 retried", statusErr(http.StatusTooManyRequests), 3},
		{"500 retried", statusErr(http.StatusInternalServerError), 3},
		{"503 retried", statusErr(http.StatusServiceUnavailable), 3},
		{"400 not retried", statusErr(http.StatusBadRequest), 1},
		{"404 not retried", statusErr(http.StatusNotFound), 1},
		{"no status not retried", errors.New("plain"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubSleep(t)
			fn, calls := failingTimes(10, tt.err)

			_, err := Do(context.Background(), fn, Options{})

			assert.Error(t, err)
			assert.Equal(t, tt.wantCalls, *calls)
		})
	}
}

func TestDo_NetworkErrors(t *testing.T) {
	networkErr := &provider.ProviderError{
		Code:       provider.ErrorCodeNetwork,
		Message:    "network error",
		Underlying: errors.New("connection reset by peer"),
	}
	tests := []struct {
		name      string
		enabled   bool
		wantCalls int
		wantErr   bool
	}{
		{"retried when enabled", true, 2, false},
		{"returned when disabled", false, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stubSleep(t)
			fn, calls := failingTimes(1, networkErr)

			got, err := Do(context.Background(), fn, Options{RetryNetworkErrors: tt.enabled, Jitter: noJitter})

			assert.Equal(t, tt.wantCalls, *calls)
			if tt.wantErr {
				assert.ErrorIs(t, err, networkErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", got)
		})
	}
}

func TestDo_NetworkErrorsKeepCustomPredicate(t *testing.T) {
	stubSleep(t)
	fn, calls := failingTimes(1, errors.New("flaky"))

	_, err := Do(context.Background(), fn, Options{
		RetryNetworkErrors: true,
		ShouldRetry:        func(error) bool { return true },
	})

	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
}

func TestDo_CustomPredicate(t *testing.T) {
	stubSleep(t)
	fn, calls := failingTimes(2, errors.New("flaky"))

	got, err := Do(context.Background(), fn, Options{ShouldRetry: func(error) bool { return true }})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, *calls)
}

func TestDo_RespectsMaxDelay(t *testing.T) {
	waits := stubSleep(t)
	fn, _ := failingTimes(4, statusErr(http.StatusServiceUnavailable))

	_, err := Do(context.Background(), fn, Options{
		MaxAttempts:  Attempts(5),
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     250 * time.Millisecond,
		Jitter:       noJitter,
	})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond, 250 * time.Millisecond}, *waits)
}

func TestDo_UsesServerRetryDelayVerbatim(t *testing.T) {
	waits := stubSleep(t)
	fn, calls := failingTimes(1, &provider.RetryableQuotaError{Message: "slow down", RetryDelay: 1234 * time.Millisecond})

	_, err := Do(context.Background(), fn, Options{InitialDelay: 10 * time.Millisecond, Jitter: func() float64 { return 1 }})

	require.NoError(t, err)
	assert.Equal(t, 2, *calls)
	assert.Equal(t, []time.Duration{1234 * time.Millisecond}, *waits)
}

func TestDo_CancelledDuringDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()
		return "", statusErr(http.StatusServiceUnavailable)
	}

	start := time.Now()
	_, err := Do(ctx, fn, Options{InitialDelay: time.Hour})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Minute)
	assert.Equal(t, 1, calls)
}

func TestDo_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fn, calls := failingTimes(0, nil)

	_, err := Do(ctx, fn, Options{})

	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, *calls)
}

func policyFor(p availability.ModelPolicy) func(string) (availability.ModelPolicy, bool) {
	return func(model string) (availability.ModelPolicy, bool) {
		if model != p.Model {
			return availability.ModelPolicy{}, false
		}
		return p, true
	}
}

func TestDo_TerminalQuotaAppliesTerminalDirective(t *testing.T) {
	stubSleep(t)
	tracker := availability.NewTracker()
	want := &provider.TerminalQuotaError{Message: "quota"}
	fn, calls := failingTimes(10, want)

	_, err := Do(context.Background(), fn, Options{
		MaxAttempts:  Attempts(3),
		CurrentModel: func() string { return availability.ModelPro },
		Tracker:      tracker,
		PolicyFor: policyFor(availability.ModelPolicy{
			Model:                availability.ModelPro,
			OnTerminalErrorState: availability.DirectiveMarkPermanentlyUnavailable,
			OnRetryFailureState:  availability.DirectiveMarkUnavailableForTurn,
		}),
	})

	assert.Same(t, want, err)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, availability.Snapshot{Available: false, Reason: availability.ReasonQuota}, tracker.Snapshot(availability.ModelPro))
}

func TestDo_TransientQuotaExhaustedAppliesRetryFailureDirective(t *testing.T) {
	stubSleep(t)
	tracker := availability.NewTracker()
	want := &provider.RetryableQuotaError{Message: "throttled", RetryDelay: time.Millisecond}
	fn, calls := failingTimes(10, want)

	_, err := Do(context.Background(), fn, Options{
		MaxAttempts:  Attempts(2),
		CurrentModel: func() string { return availability.ModelPro },
		Tracker:      tracker,
		PolicyFor: policyFor(availability.ModelPolicy{
			Model:                availability.ModelPro,
			OnTerminalErrorState: availability.DirectiveMarkPermanentlyUnavailable,
			OnRetryFailureState:  availability.DirectiveMarkPermanentlyUnavailable,
		}),
	})

	assert.Same(t, want, err)
	assert.Equal(t, 2, *calls)
	assert.Equal(t, availability.Snapshot{Available: false, Reason: availability.ReasonCapacity}, tracker.Snapshot(availability.ModelPro))
}

func TestDo_MissingPolicySkipsDirectives(t *testing.T) {
	stubSleep(t)
	tracker := availability.NewTracker()
	fn, _ := failingTimes(10, &provider.TerminalQuotaError{Message: "quota"})

	_, err := Do(context.Background(), fn, Options{
		MaxAttempts:  Attempts(1),
		CurrentModel: func() string { return "unlisted" },
		Tracker:      tracker,
		PolicyFor:    policyFor(availability.ModelPolicy{Model: availability.ModelPro}),
	})

	assert.Error(t, err)
	assert.True(t, tracker.Snapshot("unlisted").Available)
}

func TestDo_RetryOnceRestoresAfterSingleAttempt(t *testing.T) {
	stubSleep(t)
	models := &mockModels{}
	hookCalls := 0
	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		switch calls {
		case 1:
			return "", &provider.TerminalQuotaError{Message: "daily limit"}
		default:
			return "", errors.New("fallback failed")
		}
	}

	_, err := Do(context.Background(), fn, Options{
		MaxAttempts:  Attempts(3),
		CurrentModel: func() string { return "original-model" },
		Models:       models,
		OnFallback: func(context.Context, string, error) (*fallback.Outcome, error) {
			hookCalls++
			return &fallback.Outcome{ShouldRetry: true, Intent: fallback.IntentRetryOnce, Model: "fallback-model", RestoreTo: "original-model"}, nil
		},
	})

	assert.EqualError(t, err, "fallback failed")
	assert.Equal(t, []string{"fallback-model", "original-model"}, models.active)
	assert.Equal(t, 1, hookCalls)
	assert.Equal(t, 2, calls)
}

func TestDo_RetryKeepsFallbackActive(t *testing.T) {
	stubSleep(t)
	models := &mockModels{}
	fn, _ := failingTimes(1, &provider.TerminalQuotaError{Message: "daily limit"})

	got, err := Do(context.Background(), fn, Options{
		CurrentModel: func() string { return "primary" },
		Models:       models,
		OnFallback: func(context.Context, string, error) (*fallback.Outcome, error) {
			return &fallback.Outcome{ShouldRetry: true, Intent: fallback.IntentRetry, Model: "fallback-model"}, nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []string{"fallback-model"}, models.active)
}

func TestDo_StopIntentReturnsOriginalError(t *testing.T) {
	stubSleep(t)
	tracker := availability.NewTracker()
	want := &provider.RetryableQuotaError{Message: "capacity", RetryDelay: time.Millisecond}
	fn, calls := failingTimes(10, want)

	_, err := Do(context.Background(), fn, Options{
		MaxAttempts:  Attempts(3),
		CurrentModel: func() string { return "primary" },
		Tracker:      tracker,
		PolicyFor: policyFor(availability.ModelPolicy{
			Model:               "primary",
			OnRetryFailureState: availability.DirectiveMarkUnavailableForTurn,
		}),
		OnFallback: func(context.Context, string, error) (*fallback.Outcome, error) {
			return &fallback.Outcome{ShouldRetry: false, Intent: fallback.IntentStop}, nil
		},
	})

	assert.Same(t, want, err)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, availability.Snapshot{Available: false, Reason: availability.ReasonUnavailableForTurn}, tracker.Snapshot("primary"))
}

func TestDo_ServerErrorExhaustedConsultsHook(t *testing.T) {
	stubSleep(t)
	fn, calls := failingTimes(3, statusErr(http.StatusServiceUnavailable))
	var failedWith error

	got, err := Do(context.Background(), fn, Options{
		CurrentModel: func() string { return "primary" },
		OnFallback: func(_ context.Context, _ string, err error) (*fallback.Outcome, error) {
			failedWith = err
			return &fallback.Outcome{ShouldRetry: true, Intent: fallback.IntentRetry, Model: "other"}, nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 4, *calls)
	assert.Error(t, failedWith)
}

func TestDo_UnknownModelSkipsHook(t *testing.T) {
	stubSleep(t)
	quota := &provider.TerminalQuotaError{Message: "daily"}
	fn, calls := failingTimes(10, quota)
	hookCalls := 0

	_, err := Do(context.Background(), fn, Options{
		OnFallback: func(context.Context, string, error) (*fallback.Outcome, error) {
			hookCalls++
			return &fallback.Outcome{ShouldRetry: true, Model: "flash"}, nil
		},
	})

	assert.ErrorIs(t, err, quota)
	assert.Equal(t, 1, *calls)
	assert.Zero(t, hookCalls)
}

func TestDo_HookErrorIsReturned(t *testing.T) {
	stubSleep(t)
	fn, _ := failingTimes(1, &provider.TerminalQuotaError{Message: "quota"})

	_, err := Do(context.Background(), fn, Options{
		CurrentModel: func() string { return "primary" },
		OnFallback: func(context.Context, string, error) (*fallback.Outcome, error) {
			return nil, fallback.ErrUnexpectedIntent
		},
	})

	assert.ErrorIs(t, err, fallback.ErrUnexpectedIntent)
}

// A terminal failure on the primary falls back with retry_always: the
// primary is marked unavailable for quota and the work runs again on the
// fallback model.
func TestDo_Scenario_TerminalQuotaRetryAlways(t *testing.T) {
	stubSleep(t)
	tracker := availability.NewTracker()
	state := &fakeModelState{preferred: "primary", active: "primary"}
	resolver := fallback.NewResolver(tracker, chainCatalog{availability.Chain{
		availability.DefaultPolicy("primary"),
		availability.DefaultPolicy("secondary"),
	}}, availability.TierStandard, state, func(context.Context, string, fallback.Recommendation, error) (fallback.Intent, error) {
		return fallback.IntentRetryAlways, nil
	})

	served := make([]string, 0)
	fn := func(context.Context) (string, error) {
		served = append(served, state.ActiveModel())
		if state.ActiveModel() == "primary" {
			return "", &provider.TerminalQuotaError{Message: "quota exhausted"}
		}
		return "ok", nil
	}

	got, err := Do(context.Background(), fn, Options{
		CurrentModel: state.ActiveModel,
		Tracker:      tracker,
		PolicyFor: func(model string) (availability.ModelPolicy, bool) {
			return availability.DefaultPolicy(model), true
		},
		OnFallback: resolver.Handle,
		Models:     state,
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, []string{"primary", "secondary"}, served)
	assert.Equal(t, "secondary", state.ActiveModel())
	assert.Equal(t, "secondary", state.preferred)
	assert.Equal(t, availability.Snapshot{Available: false, Reason: availability.ReasonQuota}, tracker.Snapshot("primary"))
}

// A capacity failure past the budget falls back with retry_once: the
// fallback serves exactly one attempt, then the primary is restored.
func TestDo_Scenario_TransientRetryOnce(t *testing.T) {
	stubSleep(t)
	tracker := availability.NewTracker()
	state := &fakeModelState{preferred: "primary", active: "primary"}
	chain := availability.Chain{
		{Model: "primary", OnRetryFailureState: availability.DirectiveMarkUnavailableForTurn},
		{Model: "secondary"},
	}
	resolver := fallback.NewResolver(tracker, chainCatalog{chain}, availability.TierStandard, state,
		func(context.Context, string, fallback.Recommendation, error) (fallback.Intent, error) {
			return fallback.IntentRetryOnce, nil
		})

	served := make([]string, 0)
	fn := func(context.Context) (string, error) {
		served = append(served, state.ActiveModel())
		if len(served) <= 3 {
			return "", &provider.RetryableQuotaError{Message: "capacity", RetryDelay: time.Millisecond}
		}
		return "ok", nil
	}

	_, err := Do(context.Background(), fn, Options{
		MaxAttempts:  Attempts(3),
		CurrentModel: state.ActiveModel,
		Tracker:      tracker,
		PolicyFor: func(model string) (availability.ModelPolicy, bool) {
			return chain.Find(model)
		},
		OnFallback: resolver.Handle,
		Models:     state,
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"primary", "primary", "primary", "secondary"}, served)
	assert.Equal(t, "primary", state.ActiveModel())
	assert.Equal(t, availability.Snapshot{Available: false, Reason: availability.ReasonUnavailableForTurn}, tracker.Snapshot("primary"))
}

// Nested fallback: the second hook call must name the model that failed
// second, not the original.
func TestDo_Scenario_NestedFallback(t *testing.T) {
	stubSleep(t)
	models := &mockModels{}
	failedModels := make([]string, 0)
	hook := func(_ context.Context, failed string, _ error) (*fallback.Outcome, error) {
		failedModels = append(failedModels, failed)
		switch len(failedModels) {
		case 1:
			return &fallback.Outcome{ShouldRetry: true, Intent: fallback.IntentRetryOnce, Model: "secondary", RestoreTo: "primary"}, nil
		case 2:
			return &fallback.Outcome{ShouldRetry: true, Intent: fallback.IntentRetryAlways, Model: "tertiary"}, nil
		}
		return nil, nil
	}
	calls := 0
	fn := func(context.Context) (string, error) {
		calls++
		switch {
		case calls <= 3:
			return "", &provider.RetryableQuotaError{Message: "primary capacity", RetryDelay: time.Millisecond}
		case calls == 4:
			return "", &provider.TerminalQuotaError{Message: "secondary quota"}
		}
		return "ok", nil
	}

	_, err := Do(context.Background(), fn, Options{
		MaxAttempts: Attempts(3),
		CurrentModel: func() string {
			if len(models.active) > 0 {
				return models.active[len(models.active)-1]
			}
			return "primary"
		},
		OnFallback: hook,
		Models:     models,
	})

	require.NoError(t, err)
	assert.Equal(t, 5, calls)
	assert.Equal(t, []string{"primary", "secondary"}, failedModels)
	assert.Equal(t, []string{"secondary", "primary", "tertiary"}, models.active)
}

func TestBackoffProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	const (
		initial  = 100 * time.Millisecond
		maxDelay = 250 * time.Millisecond
	)
	bounds := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}

	properties.Property("delays stay within 30% of 100, 200, 250", prop.ForAll(
		func(factors []float64) bool {
			for i, base := range bounds {
				d := jittered(Delay(i+1, initial, maxDelay), factors[i])
				lo := time.Duration(float64(base) * 0.7)
				hi := time.Duration(float64(base) * 1.3)
				if d < lo || d > hi {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(3, gen.Float64Range(-1, 1)),
	))

	properties.Property("k failures below the budget mean k+1 invocations", prop.ForAll(
		func(maxAttempts, k int) bool {
			if k >= maxAttempts {
				k = maxAttempts - 1
			}
			orig := sleepFunc
			sleepFunc = func(context.Context, time.Duration) error { return nil }
			defer func() { sleepFunc = orig }()

			fn, calls := failingTimes(k, statusErr(http.StatusServiceUnavailable))
			got, err := Do(context.Background(), fn, Options{MaxAttempts: Attempts(maxAttempts)})
			return err == nil && got == "ok" && *calls == k+1
		},
		gen.IntRange(1, 8),
		gen.IntRange(0, 7),
	))

	properties.TestingRun(t)
}

type fakeModelState struct {
	preferred string
	active    string
}

func (s *fakeModelState) ActiveModel() string         { return s.active }
func (s *fakeModelState) SetActiveModel(model string) { s.active = model }
func (s *fakeModelState) SetModel(model string)       { s.preferred, s.active = model, model }

type chainCatalog struct {
	chain availability.Chain
}

func (c chainCatalog) ChainFor(availability.Tier) availability.Chain { return c.chain.Clone() }
