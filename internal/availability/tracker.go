// Package availability tracks per-model health and the policies that decide
// how a model failure is handled.
package availability

import (
	"sync"
)

// Reason explains why a model is unavailable.
type Reason string

const (
	ReasonQuota              Reason = "quota"
	ReasonCapacity           Reason = "capacity"
	ReasonUnavailableForTurn Reason = "unavailable_for_turn"
	ReasonUnknown            Reason = "unknown"
)

// healthStatus scopes an unhealthy record.
type healthStatus string

const (
	statusTerminal healthStatus = "terminal"
	statusTurn     healthStatus = "turn"
)

type healthState struct {
	status healthStatus
	reason Reason
}

// Snapshot is the externally visible availability of a model.
type Snapshot struct {
	Available bool
	Reason    Reason // Empty when Available
}

// SkippedModel is a model passed over during selection.
type SkippedModel struct {
	Model  string
	Reason Reason
}

// Selection is the result of SelectFirstAvailable.
type Selection struct {
	Selected string // Empty when no model is available
	Skipped  []SkippedModel
}

// HealthListener is notified whenever a health record is replaced or cleared.
type HealthListener func(model string, snapshot Snapshot)

// Tracker is the per-model health ledger. A model without a record is healthy.
// It is safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	health    map[string]healthState
	listeners map[int]HealthListener
	order     []int
	nextID    int
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		health:    make(map[string]healthState),
		listeners: make(map[int]HealthListener),
	}
}

// MarkTerminal marks a model unavailable until MarkHealthy is called.
// ReasonUnavailableForTurn is a turn-scoped reason and is recorded as ReasonUnknown here.
func (t *Tracker) MarkTerminal(model string, reason Reason) {
	if reason == "" || reason == ReasonUnavailableForTurn {
		reason = ReasonUnknown
	}
	t.set(model, healthState{status: statusTerminal, reason: reason})
}

// MarkUnavailableForTurn marks a model unavailable until the next ResetTurn.
func (t *Tracker) MarkUnavailableForTurn(model string) {
	t.set(model, healthState{status: statusTurn, reason: ReasonUnavailableForTurn})
}

// MarkHealthy clears any record for the model.
func (t *Tracker) MarkHealthy(model string) {
	t.mu.Lock()
	_, had := t.health[model]
	delete(t.health, model)
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	if had {
		notify(listeners, model, Snapshot{Available: true})
	}
}

// ApplyDirective applies a policy availability directive to a model.
// reason is only used for DirectiveMarkPermanentlyUnavailable.
func (t *Tracker) ApplyDirective(model string, directive Directive, reason Reason) {
	switch directive {
	case DirectiveMarkPermanentlyUnavailable:
		t.MarkTerminal(model, reason)
	case DirectiveMarkUnavailableForTurn:
		t.MarkUnavailableForTurn(model)
	}
}

// Snapshot reports the availability of a model.
func (t *Tracker) Snapshot(model string) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(model)
}

func (t *Tracker) snapshotLocked(model string) Snapshot {
	state, ok := t.health[model]
	if !ok {
		return Snapshot{Available: true}
	}
	return Snapshot{Available: false, Reason: state.reason}
}

// SelectFirstAvailable walks models in order and returns the first available one.
// Every model passed over is reported with its reason, in input order.
func (t *Tracker) SelectFirstAvailable(models []string) Selection {
	t.mu.Lock()
	defer t.mu.Unlock()

	sel := Selection{Skipped: make([]SkippedModel, 0)}
	for _, m := range models {
		snap := t.snapshotLocked(m)
		if snap.Available {
			sel.Selected = m
			return sel
		}
		reason := snap.Reason
		if reason == "" {
			reason = ReasonUnknown
		}
		sel.Skipped = append(sel.Skipped, SkippedModel{Model: m, Reason: reason})
	}
	return sel
}

// ResetTurn clears every turn-scoped record. Terminal records are untouched.
func (t *Tracker) ResetTurn() {
	t.mu.Lock()
	cleared := make([]string, 0)
	for model, state := range t.health {
		if state.status == statusTurn {
			delete(t.health, model)
			cleared = append(cleared, model)
		}
	}
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	for _, model := range cleared {
		notify(listeners, model, Snapshot{Available: true})
	}
}

// OnHealthChanged registers a listener and returns a function that removes it.
// Listeners run synchronously, in registration order, outside the tracker lock.
func (t *Tracker) OnHealthChanged(fn HealthListener) (unsubscribe func()) {
	t.mu.Lock()
	id := t.nextID
	t.nextID++
	t.listeners[id] = fn
	t.order = append(t.order, id)
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.listeners, id)
			for i, v := range t.order {
				if v == id {
					t.order = append(t.order[:i], t.order[i+1:]...)
					break
				}
			}
			t.mu.Unlock()
		})
	}
}

func (t *Tracker) set(model string, state healthState) {
	t.mu.Lock()
	t.health[model] = state
	snap := t.snapshotLocked(model)
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	notify(listeners, model, snap)
}

// snapshotListeners must be called with mu held.
func (t *Tracker) snapshotListeners() []HealthListener {
	out := make([]HealthListener, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.listeners[id])
	}
	return out
}

func notify(listeners []HealthListener, model string, snap Snapshot) {
	for _, fn := range listeners {
		fn(model, snap)
	}
}
