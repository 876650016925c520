package confirmation

import "github.com/Cyclone1070/iav/internal/tool"

// MessageType discriminates bus messages. Subscriptions are keyed by it.
type MessageType string

const (
	TypeToolConfirmationRequest  MessageType = "tool-confirmation-request"
	TypeToolConfirmationResponse MessageType = "tool-confirmation-response"
	TypeToolPolicyRejection      MessageType = "tool-policy-rejection"
	TypeToolExecutionSuccess     MessageType = "tool-execution-success"
	TypeToolExecutionFailure     MessageType = "tool-execution-failure"
	TypeUpdatePolicy             MessageType = "update-policy"
	TypeHookExecutionRequest     MessageType = "hook-execution-request"
	TypeHookExecutionResponse    MessageType = "hook-execution-response"
	TypeHookPolicyDecision       MessageType = "hook-policy-decision"
)

// HookBeforeTool is the hook event run before an approved call executes.
// Its input carries "tool_name" and "tool_input". A hook output with
// "decision": "deny" blocks the call; "reason" explains why.
const HookBeforeTool = "BeforeTool"

// Message is implemented by every bus message. Messages are values and are
// not modified after publishing.
type Message interface {
	Type() MessageType
}

// Correlated is implemented by request and response messages.
type Correlated interface {
	Message
	CorrelationID() string
}

// deferrer is implemented by responses that may decline to decide,
// leaving the request pending for another responder.
type deferrer interface {
	Deferred() bool
}

// ToolConfirmationRequest asks an approver whether a call may run.
type ToolConfirmationRequest struct {
	ID      string
	Call    tool.CallInfo
	Details *tool.ConfirmationDetails
}

func (ToolConfirmationRequest) Type() MessageType       { return TypeToolConfirmationRequest }
func (m ToolConfirmationRequest) CorrelationID() string { return m.ID }

// ToolConfirmationResponse answers a ToolConfirmationRequest with the same ID.
//
// RequiresUserConfirmation is set by automated responders that cannot decide;
// such a response leaves the request waiting for a human answer.
type ToolConfirmationResponse struct {
	ID                       string
	Confirmed                bool
	Outcome                  tool.ConfirmationOutcome
	RequiresUserConfirmation bool
}

func (ToolConfirmationResponse) Type() MessageType       { return TypeToolConfirmationResponse }
func (m ToolConfirmationResponse) CorrelationID() string { return m.ID }
func (m ToolConfirmationResponse) Deferred() bool        { return m.RequiresUserConfirmation }

// ToolPolicyRejection reports a call refused by policy without asking anyone.
type ToolPolicyRejection struct {
	Call   tool.CallInfo
	Reason string
}

func (ToolPolicyRejection) Type() MessageType { return TypeToolPolicyRejection }

// ToolExecutionSuccess reports a call that ran and succeeded.
type ToolExecutionSuccess struct {
	Call   tool.CallInfo
	Result *tool.Result
}

func (ToolExecutionSuccess) Type() MessageType { return TypeToolExecutionSuccess }

// ToolExecutionFailure reports a call that ran and failed.
type ToolExecutionFailure struct {
	Call tool.CallInfo
	Err  error
}

func (ToolExecutionFailure) Type() MessageType { return TypeToolExecutionFailure }

// UpdatePolicy asks policy holders to allow a tool from now on.
// Persist distinguishes "always" from "this session".
type UpdatePolicy struct {
	ToolName string
	Persist  bool
}

func (UpdatePolicy) Type() MessageType { return TypeUpdatePolicy }

// HookExecutionRequest asks a hook runner to execute the hooks for an event.
type HookExecutionRequest struct {
	ID        string
	EventName string
	Input     map[string]any
}

func (HookExecutionRequest) Type() MessageType       { return TypeHookExecutionRequest }
func (m HookExecutionRequest) CorrelationID() string { return m.ID }

// HookExecutionResponse carries the outcome of a HookExecutionRequest.
type HookExecutionResponse struct {
	ID      string
	Success bool
	Output  map[string]any
	Error   string
}

func (HookExecutionResponse) Type() MessageType       { return TypeHookExecutionResponse }
func (m HookExecutionResponse) CorrelationID() string { return m.ID }

// HookPolicyDecision records whether policy let a hook run.
type HookPolicyDecision struct {
	EventName string
	HookName  string
	Decision  string // "allow" or "deny"
	Reason    string
}

func (HookPolicyDecision) Type() MessageType { return TypeHookPolicyDecision }
