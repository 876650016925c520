package loop

import (
	"context"

	"github.com/Cyclone1070/iav/internal/provider"
	"github.com/Cyclone1070/iav/internal/routing"
	"github.com/Cyclone1070/iav/internal/scheduler"
	"github.com/Cyclone1070/iav/internal/tool"
)

// llmProvider communicates with an LLM.
type llmProvider interface {
	// Generate sends messages to the named model and returns its response.
	Generate(ctx context.Context, model string, messages []provider.Message, tools []tool.Declaration) (*provider.Message, error)
}

// toolRegistry describes the registered tools.
type toolRegistry interface {
	// Declarations returns all tool schemas for the LLM.
	Declarations() []tool.Declaration

	// UnknownToolMessage and InvalidArgumentsMessage build the replies sent to
	// the LLM for calls that never reached execution.
	UnknownToolMessage(name string) string
	InvalidArgumentsMessage(name string, cause error) string
}

// toolScheduler runs a batch of tool calls to completion.
type toolScheduler interface {
	Schedule(ctx context.Context, reqs []tool.CallInfo) []scheduler.ToolCall
}

// modelRouter picks the model for the next request.
type modelRouter interface {
	Route(ctx context.Context) routing.Decision
}
