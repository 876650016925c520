package workflow

import "github.com/Cyclone1070/iav/internal/tool"

// Event is the interface for all workflow events.
// UI handles events via type switch.
type Event interface {
	isEvent()
}

// TextEvent is emitted when the LLM produces text output.
type TextEvent struct {
	Text string
}

func (TextEvent) isEvent() {}

// ThinkingEvent is emitted when the LLM is processing.
type ThinkingEvent struct{}

func (ThinkingEvent) isEvent() {}

// DoneEvent is emitted when the workflow loop completes.
type DoneEvent struct{}

func (DoneEvent) isEvent() {}

// ModelEvent is emitted when a turn is served by a different model than the
// previous one, e.g. after a fallback.
type ModelEvent struct {
	Model     string
	Source    string // Routing strategy that picked the model
	Reasoning string
}

func (ModelEvent) isEvent() {}

// ToolStartEvent is emitted when a tool execution begins.
type ToolStartEvent struct {
	ToolName       string
	RequestDisplay string // e.g., "Writing 3 todos"
}

func (ToolStartEvent) isEvent() {}

// ToolAwaitingApprovalEvent is emitted when a call waits for the user.
type ToolAwaitingApprovalEvent struct {
	ToolName string
	CallID   string
	Prompt   string
}

func (ToolAwaitingApprovalEvent) isEvent() {}

// ToolEndEvent is emitted when a call reaches a terminal status.
type ToolEndEvent struct {
	ToolName string
	Status   string // success, error or cancelled
	Display  tool.ToolDisplay
}

func (ToolEndEvent) isEvent() {}
