// Package scheduler drives batches of tool calls through validation,
// approval and execution.
//
// Each call moves validating -> scheduled -> executing, detouring through
// awaiting_approval when its invocation asks for confirmation and policy
// does not settle it. Terminal states are success, error and cancelled.
// Approval requests go out on the confirmation bus; an approver answers by
// publishing a ToolConfirmationResponse with the same correlation id.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Cyclone1070/iav/internal/confirmation"
	"github.com/Cyclone1070/iav/internal/policy"
	"github.com/Cyclone1070/iav/internal/tool"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

const tracerName = "github.com/Cyclone1070/iav/internal/scheduler"

// Scheduler runs one batch at a time. It is safe for concurrent use; a
// Schedule call made while another batch runs waits for it to finish.
type Scheduler struct {
	tools     ToolLookup
	policy    PolicyChecker
	bus       *confirmation.Bus
	callbacks Callbacks
	tracer    trace.Tracer

	batchMu sync.Mutex

	serialMu    sync.Mutex
	serialSlots map[string]chan struct{}
}

// New creates a Scheduler. checker may be nil, in which case every call
// that needs confirmation is sent to the bus.
func New(tools ToolLookup, checker PolicyChecker, bus *confirmation.Bus, callbacks Callbacks) *Scheduler {
	return &Scheduler{
		tools:       tools,
		policy:      checker,
		bus:         bus,
		callbacks:   callbacks,
		tracer:      otel.Tracer(tracerName),
		serialSlots: make(map[string]chan struct{}),
	}
}

// Schedule runs every call in reqs concurrently and returns once all are
// terminal. The result keeps the order of reqs.
func (s *Scheduler) Schedule(ctx context.Context, reqs []tool.CallInfo) []ToolCall {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	if len(reqs) == 0 {
		return []ToolCall{}
	}

	b := newBatch(reqs, s.callbacks)
	b.publishAll()

	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.run(ctx, b, i)
		}(i)
	}
	wg.Wait()

	return b.snapshot()
}

func (s *Scheduler) run(ctx context.Context, b *batch, i int) {
	call := b.get(i)

	t, ok := s.tools.Lookup(call.Name)
	if !ok {
		b.fail(i, fmt.Errorf("%w: %s", ErrToolNotFound, call.Name))
		return
	}

	inv, err := t.Build(call.Args)
	if err != nil {
		b.fail(i, err)
		return
	}
	b.update(i, func(c *ToolCall) { c.Invocation = inv })

	details, err := inv.ShouldConfirmExecute(ctx)
	if err != nil {
		b.fail(i, fmt.Errorf("confirmation check: %w", err))
		return
	}

	if details != nil {
		if !s.approve(ctx, b, i, details) {
			return
		}
	}

	b.update(i, func(c *ToolCall) { c.Status = StatusScheduled })
	s.execute(ctx, b, i, t, inv)
}

// approve settles a call that asked for confirmation. It returns false when
// the call reached a terminal state instead.
func (s *Scheduler) approve(ctx context.Context, b *batch, i int, details *tool.ConfirmationDetails) bool {
	call := b.get(i)

	decision := policy.DecisionAskUser
	if s.policy != nil {
		d, err := s.policy.Check(ctx, call.Info())
		if err != nil {
			b.fail(i, fmt.Errorf("policy check: %w", err))
			return false
		}
		decision = d
	}

	switch decision {
	case policy.DecisionAllow:
		return true
	case policy.DecisionDeny:
		s.bus.Publish(ctx, confirmation.ToolPolicyRejection{Call: call.Info(), Reason: "denied by policy"})
		b.fail(i, fmt.Errorf("%w: %s", ErrPolicyDenied, call.Name))
		return false
	}

	id := uuid.NewString()
	b.update(i, func(c *ToolCall) {
		c.Status = StatusAwaitingApproval
		c.Confirmation = details
		c.CorrelationID = id
	})

	resp, err := confirmation.Confirm(ctx, s.bus, confirmation.ToolConfirmationRequest{
		ID:      id,
		Call:    call.Info(),
		Details: details,
	})
	if err != nil {
		b.finish(i, StatusCancelled, nil, err)
		return false
	}

	outcome := resp.Outcome
	if outcome == "" {
		outcome = tool.OutcomeProceedOnce
		if !resp.Confirmed {
			outcome = tool.OutcomeCancel
		}
	}
	b.update(i, func(c *ToolCall) { c.Outcome = outcome })

	if !resp.Confirmed || outcome == tool.OutcomeCancel {
		b.finish(i, StatusCancelled, nil, nil)
		return false
	}
	switch outcome {
	case tool.OutcomeProceedAlways:
		s.bus.Publish(ctx, confirmation.UpdatePolicy{ToolName: call.Name})
	case tool.OutcomeProceedAlwaysAndSave:
		s.bus.Publish(ctx, confirmation.UpdatePolicy{ToolName: call.Name, Persist: true})
	}
	return true
}

func (s *Scheduler) execute(ctx context.Context, b *batch, i int, t tool.Tool, inv tool.Invocation) {
	call := b.get(i)

	if err := s.beforeTool(ctx, call); err != nil {
		if ctx.Err() != nil {
			b.finish(i, StatusCancelled, nil, err)
			return
		}
		b.fail(i, err)
		return
	}

	if st, ok := t.(tool.Serial); ok && st.Serial() {
		release, err := s.acquireSerial(ctx, call.Name)
		if err != nil {
			b.finish(i, StatusCancelled, nil, err)
			return
		}
		defer release()
	}

	ctx, span := s.tracer.Start(ctx, "tool "+call.Name, trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.CallID),
	))
	defer span.End()

	b.update(i, func(c *ToolCall) { c.Status = StatusExecuting })

	res, err := inv.Execute(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		span.SetStatus(codes.Error, "cancelled")
		b.finish(i, StatusCancelled, nil, err)
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Debug(ctx, log.KV{K: "msg", V: "tool failed"}, log.KV{K: "tool", V: call.Name}, log.KV{K: "err", V: err.Error()})
		b.finish(i, StatusError, nil, err)
		s.bus.Publish(ctx, confirmation.ToolExecutionFailure{Call: call.Info(), Err: err})
	default:
		if res == nil {
			res = &tool.Result{}
		}
		b.finish(i, StatusSuccess, res, nil)
		s.bus.Publish(ctx, confirmation.ToolExecutionSuccess{Call: call.Info(), Result: res})
	}
}

// beforeTool runs the BeforeTool hooks when a hook runner is listening.
func (s *Scheduler) beforeTool(ctx context.Context, call ToolCall) error {
	if !s.bus.Subscribed(confirmation.TypeHookExecutionRequest) {
		return nil
	}
	out, err := confirmation.RequestHook(ctx, s.bus, confirmation.HookBeforeTool, map[string]any{
		"tool_name":  call.Name,
		"tool_input": call.Args,
	})
	if err != nil {
		return err
	}
	if decision, _ := out["decision"].(string); decision == "deny" {
		if reason, _ := out["reason"].(string); reason != "" {
			return fmt.Errorf("%w: %s: %s", ErrHookDenied, call.Name, reason)
		}
		return fmt.Errorf("%w: %s", ErrHookDenied, call.Name)
	}
	return nil
}

// acquireSerial waits for the tool's single execution slot.
func (s *Scheduler) acquireSerial(ctx context.Context, name string) (release func(), err error) {
	s.serialMu.Lock()
	slot, ok := s.serialSlots[name]
	if !ok {
		slot = make(chan struct{}, 1)
		s.serialSlots[name] = slot
	}
	s.serialMu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// batch owns the call records of one Schedule.
type batch struct {
	callbacks Callbacks

	// emitMu keeps callback snapshots in the order the changes were made.
	emitMu    sync.Mutex
	mu        sync.Mutex
	calls     []*ToolCall
	began     []time.Time // When each call entered executing
	completed bool
}

func newBatch(reqs []tool.CallInfo, callbacks Callbacks) *batch {
	b := &batch{callbacks: callbacks, calls: make([]*ToolCall, len(reqs)), began: make([]time.Time, len(reqs))}
	for i, r := range reqs {
		b.calls[i] = &ToolCall{CallID: r.CallID, Name: r.Name, Args: r.Args, Status: StatusValidating}
	}
	return b
}

func (b *batch) get(i int) ToolCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return *b.calls[i]
}

func (b *batch) snapshot() []ToolCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *batch) snapshotLocked() []ToolCall {
	out := make([]ToolCall, len(b.calls))
	for i, c := range b.calls {
		out[i] = *c
	}
	return out
}

func (b *batch) publishAll() {
	b.update(-1, nil)
}

// update applies fn to call i, then notifies observers when the status changed.
// i < 0 only notifies.
func (b *batch) update(i int, fn func(c *ToolCall)) {
	b.emitMu.Lock()
	defer b.emitMu.Unlock()

	b.mu.Lock()
	changed := i < 0
	if i >= 0 {
		if b.calls[i].Status.Terminal() {
			b.mu.Unlock()
			return
		}
		before := b.calls[i].Status
		fn(b.calls[i])
		changed = b.calls[i].Status != before
		if changed && b.calls[i].Status == StatusExecuting {
			b.began[i] = time.Now()
		}
	}
	snap := b.snapshotLocked()
	done := !b.completed && allTerminal(snap)
	if done {
		b.completed = true
	}
	b.mu.Unlock()

	if !changed {
		return
	}
	if b.callbacks.OnToolCallsUpdate != nil {
		b.callbacks.OnToolCallsUpdate(snap)
	}
	if done && b.callbacks.OnAllToolCallsComplete != nil {
		b.callbacks.OnAllToolCallsComplete(snap)
	}
}

func (b *batch) finish(i int, status Status, res *tool.Result, err error) {
	b.update(i, func(c *ToolCall) {
		c.Status = status
		c.Result = res
		c.Err = err
		if !b.began[i].IsZero() {
			c.Duration = time.Since(b.began[i])
		}
	})
}

func (b *batch) fail(i int, err error) {
	b.finish(i, StatusError, nil, err)
}

func allTerminal(calls []ToolCall) bool {
	for _, c := range calls {
		if !c.Status.Terminal() {
			return false
		}
	}
	return true
}
