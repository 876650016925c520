// Package provider defines the conversation types exchanged with a model
// backend and the upstream error taxonomy the retry and fallback layers act on.
package provider

import (
	"context"
	"encoding/json"

	"github.com/Cyclone1070/iav/internal/tool"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the conversation history.
type Message struct {
	Role    Role
	Content string

	// For assistant messages that request tools
	ToolCalls []ToolCall

	// For tool messages, the ID of the call this answers
	ToolCallID string
}

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	ID       string
	Function FunctionCall
}

// FunctionCall names the tool and carries its raw JSON arguments.
type FunctionCall struct {
	Name      string
	Arguments json.RawMessage
}

// Args decodes the raw arguments into a map. Empty arguments yield an empty map.
func (f FunctionCall) Args() (map[string]any, error) {
	args := make(map[string]any)
	if len(f.Arguments) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(f.Arguments, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// Provider generates the next assistant message for a conversation using the
// named model.
type Provider interface {
	Generate(ctx context.Context, model string, messages []Message, tools []tool.Declaration) (*Message, error)
}
