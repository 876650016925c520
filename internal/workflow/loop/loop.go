// Package loop runs one agent turn: ask the model, run the tools it calls,
// feed the results back, until it answers without tool calls.
package loop

import (
	"context"
	"errors"
	"fmt"

	"github.com/Cyclone1070/iav/internal/provider"
	"github.com/Cyclone1070/iav/internal/retry"
	"github.com/Cyclone1070/iav/internal/scheduler"
	"github.com/Cyclone1070/iav/internal/tool"
	"github.com/Cyclone1070/iav/internal/workflow"
	"github.com/google/uuid"
	"goa.design/clue/log"
)

// Deps are the collaborators of a Loop.
type Deps struct {
	Provider  llmProvider
	Tools     toolRegistry
	Scheduler toolScheduler
	Router    modelRouter

	// Turns is reset at the start of every Run so models marked unavailable
	// for the previous turn are tried again. Optional.
	Turns interface{ ResetTurn() }

	// Retry is the template for every Generate call. CurrentModel is
	// overwritten to report the routed model.
	Retry retry.Options
}

type Loop struct {
	deps          Deps
	events        chan<- workflow.Event
	maxIterations int

	lastModel string
}

func NewLoop(deps Deps, events chan<- workflow.Event, maxIterations int) *Loop {
	return &Loop{
		deps:          deps,
		events:        events,
		maxIterations: maxIterations,
	}
}

func (l *Loop) Run(ctx context.Context, initialMessage string) error {
	messages := []provider.Message{
		{Role: provider.RoleUser, Content: initialMessage},
	}

	defer l.emit(workflow.DoneEvent{})

	if l.deps.Turns != nil {
		l.deps.Turns.ResetTurn()
	}

	for i := 0; i < l.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		l.emit(workflow.ThinkingEvent{})

		resp, err := l.generate(ctx, messages)
		if err != nil {
			return fmt.Errorf("provider.Generate: %w", err)
		}

		messages = append(messages, *resp)

		if resp.Content != "" {
			l.emit(workflow.TextEvent{Text: resp.Content})
		}

		if len(resp.ToolCalls) == 0 {
			return nil
		}

		replies, err := l.runTools(ctx, resp.ToolCalls)
		if err != nil {
			return err
		}
		messages = append(messages, replies...)
	}

	return fmt.Errorf("max iterations (%d) reached", l.maxIterations)
}

// generate asks the routed model for the next message, retrying and falling
// back per the retry options.
func (l *Loop) generate(ctx context.Context, messages []provider.Message) (*provider.Message, error) {
	decls := l.deps.Tools.Declarations()

	var model string
	opts := l.deps.Retry
	opts.CurrentModel = func() string { return model }

	return retry.Do(ctx, func(ctx context.Context) (*provider.Message, error) {
		d := l.deps.Router.Route(ctx)
		model = d.Model
		if model != l.lastModel {
			l.lastModel = model
			l.emit(workflow.ModelEvent{Model: d.Model, Source: d.Source, Reasoning: d.Reasoning})
		}
		return l.deps.Provider.Generate(ctx, model, messages, decls)
	}, opts)
}

// runTools schedules the model's tool calls and returns one tool message per
// call, in the order the model asked for them.
func (l *Loop) runTools(ctx context.Context, calls []provider.ToolCall) ([]provider.Message, error) {
	replies := make([]provider.Message, len(calls))
	index := make(map[string]int, len(calls))
	reqs := make([]tool.CallInfo, 0, len(calls))

	for i, tc := range calls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		replies[i] = provider.Message{Role: provider.RoleTool, ToolCallID: id}

		args, err := tc.Function.Args()
		if err != nil {
			replies[i].Content = l.deps.Tools.InvalidArgumentsMessage(tc.Function.Name, err)
			l.emit(workflow.ToolEndEvent{
				ToolName: tc.Function.Name,
				Status:   string(scheduler.StatusError),
				Display:  tool.StringDisplay("Invalid tool request"),
			})
			continue
		}
		index[id] = i
		reqs = append(reqs, tool.CallInfo{CallID: id, Name: tc.Function.Name, Args: args})
	}

	if len(reqs) > 0 {
		for _, c := range l.deps.Scheduler.Schedule(ctx, reqs) {
			i, ok := index[c.CallID]
			if !ok {
				continue
			}
			replies[i].Content = l.replyFor(ctx, c)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return replies, nil
}

func (l *Loop) replyFor(ctx context.Context, c scheduler.ToolCall) string {
	switch c.Status {
	case scheduler.StatusSuccess:
		return c.Result.LLMContent
	case scheduler.StatusCancelled:
		return fmt.Sprintf("Tool call %q was cancelled by the user.", c.Name)
	}

	switch {
	case errors.Is(c.Err, scheduler.ErrToolNotFound):
		return l.deps.Tools.UnknownToolMessage(c.Name)
	case errors.Is(c.Err, tool.ErrInvalidArguments):
		return l.deps.Tools.InvalidArgumentsMessage(c.Name, c.Err)
	case c.Err != nil:
		log.Debug(ctx, log.KV{K: "msg", V: "tool call failed"}, log.KV{K: "tool", V: c.Name}, log.KV{K: "err", V: c.Err.Error()})
		return fmt.Sprintf("Error: %v", c.Err)
	default:
		return fmt.Sprintf("Error: tool %q ended with status %s", c.Name, c.Status)
	}
}

func (l *Loop) emit(ev workflow.Event) {
	if l.events != nil {
		l.events <- ev
	}
}
