// Package tool defines the capability interface the scheduler drives:
// a Tool validates raw arguments into an Invocation, and the Invocation
// reports whether it needs approval before it executes.
package tool

import "context"

// Tool is a named capability the model can call.
type Tool interface {
	Name() string
	Declaration() Declaration

	// Build validates args and returns a ready-to-run invocation.
	// Errors are validation failures and are never retried.
	Build(args map[string]any) (Invocation, error)
}

// Invocation is a validated call, ready to execute.
type Invocation interface {
	// ShouldConfirmExecute returns nil when no approval is needed.
	ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error)
	Execute(ctx context.Context) (*Result, error)
}

// Serial is implemented by tools that must not run two invocations at once.
type Serial interface {
	Serial() bool
}

// CallInfo identifies one requested call.
type CallInfo struct {
	CallID string
	Name   string
	Args   map[string]any
}

// ConfirmationDetails is what an approver is shown before a call runs.
type ConfirmationDetails struct {
	Title   string
	Prompt  string
	Display ToolDisplay
}

// ConfirmationOutcome is the approver's answer.
type ConfirmationOutcome string

const (
	OutcomeProceedOnce          ConfirmationOutcome = "proceed_once"
	OutcomeProceedAlways        ConfirmationOutcome = "proceed_always"
	OutcomeProceedAlwaysAndSave ConfirmationOutcome = "proceed_always_and_save"
	OutcomeCancel               ConfirmationOutcome = "cancel"
)

// Result is the output of a successful execution.
type Result struct {
	LLMContent string      // Sent back to the model
	Display    ToolDisplay // Shown to the user
}
