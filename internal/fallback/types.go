package fallback

import (
	"context"

	"github.com/Cyclone1070/iav/internal/availability"
)

// Intent is what the operator, or the default, chose to do about a failed model.
type Intent string

const (
	// IntentRetry retries now on the fallback model for the rest of the turn.
	IntentRetry Intent = "retry"
	// IntentRetryOnce retries one attempt on the fallback, then restores the previous model.
	IntentRetryOnce Intent = "retry_once"
	// IntentRetryAlways switches the preferred model to the fallback.
	IntentRetryAlways Intent = "retry_always"
	// IntentStop gives up without switching.
	IntentStop Intent = "stop"
)

// Recommendation is what the resolver suggests to the Handler.
type Recommendation struct {
	Selected       string
	Skipped        []availability.SkippedModel
	Action         availability.Action
	FailureKind    availability.FailureKind
	FailedPolicy   *availability.ModelPolicy // nil when the failed model is outside the chain
	SelectedPolicy *availability.ModelPolicy
	IsLastResort   bool
}

// Outcome is the applied result of a fallback.
type Outcome struct {
	ShouldRetry bool
	Intent      Intent
	Model       string // Fallback model; empty for IntentStop
	RestoreTo   string // Set only for IntentRetryOnce
}

// Handler lets an operator pick an intent. Returning an error, or panicking,
// falls back to the policy default.
type Handler func(ctx context.Context, failedModel string, rec Recommendation, err error) (Intent, error)

// ModelAccessor reads and switches the serving model.
type ModelAccessor interface {
	ActiveModel() string
	SetActiveModel(model string)
	SetModel(model string)
}
