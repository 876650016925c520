package availability

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type healthEvent struct {
	model    string
	snapshot Snapshot
}

func recordEvents(t *Tracker) *[]healthEvent {
	events := make([]healthEvent, 0)
	t.OnHealthChanged(func(model string, s Snapshot) {
		events = append(events, healthEvent{model: model, snapshot: s})
	})
	return &events
}

func TestSnapshot_UnknownModel_IsAvailable(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, Snapshot{Available: true}, tr.Snapshot("gemini-x"))
}

func TestMarkTerminal_StaysUnavailableAcrossResetTurn(t *testing.T) {
	tr := NewTracker()
	tr.MarkTerminal("pro", ReasonQuota)

	assert.Equal(t, Snapshot{Available: false, Reason: ReasonQuota}, tr.Snapshot("pro"))

	tr.ResetTurn()
	assert.Equal(t, Snapshot{Available: false, Reason: ReasonQuota}, tr.Snapshot("pro"))

	tr.MarkHealthy("pro")
	assert.True(t, tr.Snapshot("pro").Available)
}

func TestMarkTerminal_TurnReasonIsRecordedAsUnknown(t *testing.T) {
	tr := NewTracker()
	tr.MarkTerminal("pro", ReasonUnavailableForTurn)
	assert.Equal(t, ReasonUnknown, tr.Snapshot("pro").Reason)
}

func TestResetTurn_ClearsOnlyTurnScopedEntries(t *testing.T) {
	tr := NewTracker()
	tr.MarkUnavailableForTurn("flash")
	tr.MarkTerminal("pro", ReasonCapacity)

	tr.ResetTurn()

	assert.True(t, tr.Snapshot("flash").Available)
	assert.Equal(t, Snapshot{Available: false, Reason: ReasonCapacity}, tr.Snapshot("pro"))
}

func TestMark_NewRecordReplacesOld(t *testing.T) {
	tr := NewTracker()
	tr.MarkTerminal("pro", ReasonQuota)
	tr.MarkUnavailableForTurn("pro")

	assert.Equal(t, ReasonUnavailableForTurn, tr.Snapshot("pro").Reason)

	// The turn-scoped record replaced the terminal one, so a reset clears it.
	tr.ResetTurn()
	assert.True(t, tr.Snapshot("pro").Available)
}

func TestHealthChanged_EmitsOnEveryReplaceAndClear(t *testing.T) {
	tr := NewTracker()
	events := recordEvents(tr)

	tr.MarkTerminal("pro", ReasonQuota)
	tr.MarkTerminal("pro", ReasonQuota)
	tr.MarkTerminal("pro", ReasonCapacity)
	tr.MarkHealthy("pro")
	tr.MarkHealthy("pro") // no record, no event
	tr.MarkUnavailableForTurn("flash")
	tr.ResetTurn()

	require.Len(t, *events, 6)
	assert.Equal(t, healthEvent{"pro", Snapshot{Available: false, Reason: ReasonQuota}}, (*events)[0])
	assert.Equal(t, healthEvent{"pro", Snapshot{Available: false, Reason: ReasonQuota}}, (*events)[1])
	assert.Equal(t, healthEvent{"pro", Snapshot{Available: false, Reason: ReasonCapacity}}, (*events)[2])
	assert.Equal(t, healthEvent{"pro", Snapshot{Available: true}}, (*events)[3])
	assert.Equal(t, healthEvent{"flash", Snapshot{Available: false, Reason: ReasonUnavailableForTurn}}, (*events)[4])
	assert.Equal(t, healthEvent{"flash", Snapshot{Available: true}}, (*events)[5])
}

func TestOnHealthChanged_UnsubscribeStopsDelivery(t *testing.T) {
	tr := NewTracker()
	calls := 0
	unsubscribe := tr.OnHealthChanged(func(string, Snapshot) { calls++ })

	tr.MarkTerminal("pro", ReasonQuota)
	unsubscribe()
	unsubscribe()
	tr.MarkHealthy("pro")

	assert.Equal(t, 1, calls)
}

func TestOnHealthChanged_ListenerMayReadTracker(t *testing.T) {
	tr := NewTracker()
	var seen Snapshot
	tr.OnHealthChanged(func(model string, _ Snapshot) {
		seen = tr.Snapshot(model)
	})

	tr.MarkTerminal("pro", ReasonQuota)

	assert.Equal(t, Snapshot{Available: false, Reason: ReasonQuota}, seen)
}

func TestApplyDirective(t *testing.T) {
	tr := NewTracker()

	tr.ApplyDirective("pro", DirectiveMarkPermanentlyUnavailable, ReasonQuota)
	tr.ApplyDirective("flash", DirectiveMarkUnavailableForTurn, ReasonQuota)
	tr.ApplyDirective("lite", Directive("bogus"), ReasonQuota)

	assert.Equal(t, ReasonQuota, tr.Snapshot("pro").Reason)
	assert.Equal(t, ReasonUnavailableForTurn, tr.Snapshot("flash").Reason)
	assert.True(t, tr.Snapshot("lite").Available)
}

func TestSelectFirstAvailable_ReportsSkippedInOrder(t *testing.T) {
	tr := NewTracker()
	tr.MarkTerminal("a", ReasonQuota)
	tr.MarkUnavailableForTurn("b")

	sel := tr.SelectFirstAvailable([]string{"a", "b", "c", "d"})

	assert.Equal(t, "c", sel.Selected)
	assert.Equal(t, []SkippedModel{
		{Model: "a", Reason: ReasonQuota},
		{Model: "b", Reason: ReasonUnavailableForTurn},
	}, sel.Skipped)
}

func TestSelectFirstAvailable_NoneAvailable(t *testing.T) {
	tr := NewTracker()
	tr.MarkTerminal("a", ReasonQuota)

	sel := tr.SelectFirstAvailable([]string{"a"})

	assert.Empty(t, sel.Selected)
	assert.Len(t, sel.Skipped, 1)
}

func TestTracker_ConcurrentWrites(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			model := fmt.Sprintf("m-%d", i%5)
			tr.MarkTerminal(model, ReasonQuota)
			tr.MarkUnavailableForTurn(model)
			_ = tr.Snapshot(model)
			tr.ResetTurn()
		}(i)
	}
	wg.Wait()

	for i := range 5 {
		assert.True(t, tr.Snapshot(fmt.Sprintf("m-%d", i)).Available)
	}
}

func TestTrackerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	reasons := gen.OneConstOf(ReasonQuota, ReasonCapacity, ReasonUnknown)

	properties.Property("terminal marks survive ResetTurn until MarkHealthy", prop.ForAll(
		func(model string, reason Reason) bool {
			tr := NewTracker()
			tr.MarkTerminal(model, reason)
			want := Snapshot{Available: false, Reason: reason}
			if tr.Snapshot(model) != want {
				return false
			}
			tr.ResetTurn()
			if tr.Snapshot(model) != want {
				return false
			}
			tr.MarkHealthy(model)
			return tr.Snapshot(model).Available
		},
		gen.Identifier(),
		reasons,
	))

	properties.Property("SelectFirstAvailable returns first available and skips the prefix", prop.ForAll(
		func(unavailable []bool) bool {
			tr := NewTracker()
			models := make([]string, len(unavailable))
			for i, down := range unavailable {
				models[i] = fmt.Sprintf("m%d", i)
				if down {
					tr.MarkTerminal(models[i], ReasonQuota)
				}
			}

			sel := tr.SelectFirstAvailable(models)

			first := -1
			for i, down := range unavailable {
				if !down {
					first = i
					break
				}
			}
			if first == -1 {
				return sel.Selected == "" && len(sel.Skipped) == len(models)
			}
			if sel.Selected != models[first] || len(sel.Skipped) != first {
				return false
			}
			for i, s := range sel.Skipped {
				if s.Model != models[i] || s.Reason != ReasonQuota {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
	))

	properties.TestingRun(t)
}
