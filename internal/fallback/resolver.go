// Package fallback picks a replacement model after an upstream failure and
// applies the chosen intent to the model state and availability ledger.
package fallback

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cyclone1070/iav/internal/availability"
	"github.com/Cyclone1070/iav/internal/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"goa.design/clue/log"
)

// ErrUnexpectedIntent is returned when a Handler answers with an unknown intent.
var ErrUnexpectedIntent = errors.New("unexpected fallback intent")

const meterName = "github.com/Cyclone1070/iav/internal/fallback"

// catalog is the policy source consulted for the current tier.
type catalog interface {
	ChainFor(tier availability.Tier) availability.Chain
}

// Resolver recommends and applies model fallbacks.
type Resolver struct {
	tracker  *availability.Tracker
	catalog  catalog
	tier     availability.Tier
	models   ModelAccessor
	handler  Handler
	switches metric.Int64Counter
}

// NewResolver creates a Resolver. handler may be nil, in which case every
// fallback follows the failed model's policy action.
func NewResolver(tracker *availability.Tracker, cat catalog, tier availability.Tier, models ModelAccessor, handler Handler) *Resolver {
	switches, err := otel.Meter(meterName).Int64Counter(
		"iav.fallback.model_switches",
		metric.WithDescription("Number of times the active model was switched by fallback"),
	)
	if err != nil {
		otel.Handle(err)
	}
	return &Resolver{
		tracker:  tracker,
		catalog:  cat,
		tier:     tier,
		models:   models,
		handler:  handler,
		switches: switches,
	}
}

// ClassifyFailure maps an upstream error to a failure kind.
func ClassifyFailure(err error) availability.FailureKind {
	switch {
	case provider.IsTerminalQuota(err):
		return availability.FailureTerminal
	case provider.IsRetryableQuota(err):
		return availability.FailureTransient
	default:
		return availability.FailureUnknown
	}
}

// Recommend computes the fallback for failedModel without applying it.
// ok is false when no other model can serve.
func (r *Resolver) Recommend(failedModel string, err error) (rec Recommendation, ok bool) {
	chain := r.catalog.ChainFor(r.tier)
	candidates := chain.Without(failedModel)
	if len(candidates) == 0 {
		return Recommendation{}, false
	}

	sel := r.tracker.SelectFirstAvailable(candidates.Models())
	lastResort, hasLastResort := candidates.LastResort()

	fallbackModel := sel.Selected
	if fallbackModel == "" && hasLastResort {
		fallbackModel = lastResort.Model
	}
	if fallbackModel == "" || fallbackModel == failedModel {
		return Recommendation{}, false
	}

	kind := ClassifyFailure(err)
	rec = Recommendation{
		Selected:     fallbackModel,
		Skipped:      sel.Skipped,
		FailureKind:  kind,
		IsLastResort: hasLastResort && fallbackModel == lastResort.Model,
	}
	if p, found := chain.Find(failedModel); found {
		rec.FailedPolicy = &p
	}
	rec.Action = rec.FailedPolicy.ActionFor(kind)
	if p, found := candidates.Find(fallbackModel); found {
		rec.SelectedPolicy = &p
	} else if hasLastResort {
		rec.SelectedPolicy = &lastResort
	}
	return rec, true
}

// Handle resolves a fallback for failedModel and applies the resulting intent.
// It returns nil, nil when no fallback model exists.
func (r *Resolver) Handle(ctx context.Context, failedModel string, err error) (*Outcome, error) {
	rec, ok := r.Recommend(failedModel, err)
	if !ok {
		log.Debug(ctx, log.KV{K: "msg", V: "no eligible fallback model"}, log.KV{K: "failed_model", V: failedModel})
		return nil, nil
	}
	log.Debug(ctx,
		log.KV{K: "msg", V: "fallback recommended"},
		log.KV{K: "failed_model", V: failedModel},
		log.KV{K: "selected", V: rec.Selected},
		log.KV{K: "action", V: string(rec.Action)},
		log.KV{K: "failure_kind", V: string(rec.FailureKind)},
	)

	intent := r.askHandler(ctx, failedModel, rec, err)
	if intent == "" {
		intent = IntentStop
		if rec.Action == availability.ActionSilent {
			intent = IntentRetry
		}
	}

	switch intent {
	case IntentRetryAlways:
		previous := r.models.ActiveModel()
		r.tracker.MarkTerminal(failedModel, reasonFor(rec.FailureKind))
		r.models.SetModel(rec.Selected)
		r.recordSwitch(ctx, previous, rec.Selected, intent)
		return &Outcome{ShouldRetry: true, Intent: intent, Model: rec.Selected}, nil

	case IntentRetry, IntentRetryOnce:
		previous := r.models.ActiveModel()
		r.models.SetActiveModel(rec.Selected)
		r.recordSwitch(ctx, previous, rec.Selected, intent)
		out := &Outcome{ShouldRetry: true, Intent: intent, Model: rec.Selected}
		if intent == IntentRetryOnce {
			out.RestoreTo = previous
		}
		return out, nil

	case IntentStop:
		log.Info(ctx, log.KV{K: "msg", V: "fallback stopped"}, log.KV{K: "failed_model", V: failedModel})
		return &Outcome{ShouldRetry: false, Intent: intent}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedIntent, intent)
	}
}

// askHandler returns "" when there is no handler or it failed.
func (r *Resolver) askHandler(ctx context.Context, failedModel string, rec Recommendation, cause error) (intent Intent) {
	if r.handler == nil {
		return ""
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error(ctx, fmt.Errorf("fallback handler panicked: %v", p), log.KV{K: "failed_model", V: failedModel})
			intent = ""
		}
	}()

	intent, err := r.handler(ctx, failedModel, rec, cause)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "fallback handler failed"}, log.KV{K: "failed_model", V: failedModel})
		return ""
	}
	return intent
}

func (r *Resolver) recordSwitch(ctx context.Context, from, to string, intent Intent) {
	if from == to {
		return
	}
	log.Info(ctx,
		log.KV{K: "msg", V: "active model switched"},
		log.KV{K: "from", V: from},
		log.KV{K: "to", V: to},
		log.KV{K: "intent", V: string(intent)},
	)
	if r.switches != nil {
		r.switches.Add(ctx, 1, metric.WithAttributes(
			attribute.String("from", from),
			attribute.String("to", to),
			attribute.String("intent", string(intent)),
		))
	}
}

func reasonFor(kind availability.FailureKind) availability.Reason {
	switch kind {
	case availability.FailureTerminal:
		return availability.ReasonQuota
	case availability.FailureTransient:
		return availability.ReasonCapacity
	default:
		return availability.ReasonUnknown
	}
}
