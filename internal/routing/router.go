package routing

import (
	"context"
	"fmt"

	"github.com/Cyclone1070/iav/internal/availability"
	"goa.design/clue/log"
)

// Decision is the model chosen for one request and where the choice came from.
type Decision struct {
	Model     string
	Source    string
	Reasoning string
}

// Strategy proposes a model. ok is false when the strategy has no opinion.
type Strategy interface {
	Name() string
	Route(ctx context.Context) (Decision, bool)
}

// FallbackStrategy routes to the active model once fallback has moved it
// away from an explicit preference.
type FallbackStrategy struct {
	State *ModelState
}

func (FallbackStrategy) Name() string { return "fallback" }

func (f FallbackStrategy) Route(context.Context) (Decision, bool) {
	preferred := f.State.Model()
	active := f.State.ActiveModel()
	if preferred == availability.ModelAuto || active == preferred {
		return Decision{}, false
	}
	return Decision{
		Model:     active,
		Source:    f.Name(),
		Reasoning: fmt.Sprintf("active model differs from preferred (%s); using fallback: %s", preferred, active),
	}, true
}

// ChainStrategy serves auto mode: keep a concrete active model while it is
// available, otherwise take the first available model of the tier's chain.
type ChainStrategy struct {
	State   *ModelState
	Tracker *availability.Tracker
	Chain   availability.Chain
}

func (ChainStrategy) Name() string { return "chain" }

func (c ChainStrategy) Route(context.Context) (Decision, bool) {
	if c.State.Model() != availability.ModelAuto {
		return Decision{}, false
	}
	if active := c.State.ActiveModel(); active != availability.ModelAuto && c.Tracker.Snapshot(active).Available {
		return Decision{Model: active, Source: c.Name(), Reasoning: "active model is available"}, true
	}

	sel := c.Tracker.SelectFirstAvailable(c.Chain.Models())
	if sel.Selected != "" {
		return Decision{Model: sel.Selected, Source: c.Name(), Reasoning: "first available model in chain"}, true
	}
	if last, ok := c.Chain.LastResort(); ok {
		return Decision{Model: last.Model, Source: c.Name(), Reasoning: "no model available; using last resort"}, true
	}
	if len(c.Chain) > 0 {
		return Decision{Model: c.Chain[0].Model, Source: c.Name(), Reasoning: "no model available; using chain head"}, true
	}
	return Decision{}, false
}

// Router asks each strategy in order and falls back to the preferred model.
type Router struct {
	state      *ModelState
	strategies []Strategy
}

// NewRouter builds the default composite: fallback first, then the tier
// chain for auto mode.
func NewRouter(state *ModelState, tracker *availability.Tracker, chain availability.Chain) *Router {
	return &Router{
		state: state,
		strategies: []Strategy{
			FallbackStrategy{State: state},
			ChainStrategy{State: state, Tracker: tracker, Chain: chain},
		},
	}
}

// Route picks the model for the next request.
func (r *Router) Route(ctx context.Context) Decision {
	for _, s := range r.strategies {
		if d, ok := s.Route(ctx); ok {
			log.Debug(ctx, log.KV{K: "msg", V: "model routed"}, log.KV{K: "model", V: d.Model}, log.KV{K: "source", V: d.Source})
			return d
		}
	}
	return Decision{Model: r.state.Model(), Source: "default", Reasoning: "preferred model"}
}
