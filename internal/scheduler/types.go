package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/Cyclone1070/iav/internal/policy"
	"github.com/Cyclone1070/iav/internal/tool"
)

var (
	ErrToolNotFound = errors.New("tool not found")
	ErrPolicyDenied = errors.New("denied by policy")
	ErrHookDenied   = errors.New("denied by hook")
)

// Status is a tool call's lifecycle state.
type Status string

const (
	StatusValidating       Status = "validating"
	StatusScheduled        Status = "scheduled"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusExecuting        Status = "executing"
	StatusSuccess          Status = "success"
	StatusError            Status = "error"
	StatusCancelled        Status = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusError || s == StatusCancelled
}

// ToolCall is the scheduler's record of one call. Callbacks receive copies.
type ToolCall struct {
	CallID string
	Name   string
	Args   map[string]any
	Status Status

	Invocation    tool.Invocation
	Confirmation  *tool.ConfirmationDetails
	CorrelationID string // Set while and after awaiting approval
	Outcome       tool.ConfirmationOutcome

	Result *tool.Result
	Err    error

	// Duration is the time spent executing. It is zero for calls that never
	// reached executing.
	Duration time.Duration
}

// Info returns the identifying part of the call.
func (c ToolCall) Info() tool.CallInfo {
	return tool.CallInfo{CallID: c.CallID, Name: c.Name, Args: c.Args}
}

// ToolLookup resolves a tool by name.
type ToolLookup interface {
	Lookup(name string) (tool.Tool, bool)
}

// PolicyChecker decides whether a call that needs confirmation may skip it.
type PolicyChecker interface {
	Check(ctx context.Context, call tool.CallInfo) (policy.Decision, error)
}

// Callbacks observe a batch. Both receive a snapshot of every call in the batch.
type Callbacks struct {
	// OnToolCallsUpdate fires on every status change.
	OnToolCallsUpdate func(calls []ToolCall)
	// OnAllToolCallsComplete fires once, when every call is terminal.
	OnAllToolCallsComplete func(calls []ToolCall)
}
