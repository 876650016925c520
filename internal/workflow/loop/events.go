package loop

import (
	"fmt"
	"sync"

	"github.com/Cyclone1070/iav/internal/scheduler"
	"github.com/Cyclone1070/iav/internal/tool"
	"github.com/Cyclone1070/iav/internal/workflow"
)

// SchedulerCallbacks turns scheduler updates into workflow events on events.
// Each call produces at most one event per status it enters.
func SchedulerCallbacks(events chan<- workflow.Event) scheduler.Callbacks {
	var mu sync.Mutex
	seen := make(map[string]scheduler.Status)

	return scheduler.Callbacks{
		OnToolCallsUpdate: func(calls []scheduler.ToolCall) {
			mu.Lock()
			defer mu.Unlock()
			for _, c := range calls {
				if seen[c.CallID] == c.Status {
					continue
				}
				seen[c.CallID] = c.Status
				if ev := eventFor(c); ev != nil && events != nil {
					events <- ev
				}
			}
		},
	}
}

func eventFor(c scheduler.ToolCall) workflow.Event {
	switch c.Status {
	case scheduler.StatusAwaitingApproval:
		prompt := ""
		if c.Confirmation != nil {
			prompt = c.Confirmation.Prompt
		}
		return workflow.ToolAwaitingApprovalEvent{ToolName: c.Name, CallID: c.CallID, Prompt: prompt}
	case scheduler.StatusExecuting:
		display := ""
		if s, ok := c.Invocation.(fmt.Stringer); ok {
			display = s.String()
		}
		return workflow.ToolStartEvent{ToolName: c.Name, RequestDisplay: display}
	case scheduler.StatusSuccess:
		var display tool.ToolDisplay = tool.StringDisplay("")
		if c.Result != nil && c.Result.Display != nil {
			display = c.Result.Display
		}
		return workflow.ToolEndEvent{ToolName: c.Name, Status: string(c.Status), Display: display}
	case scheduler.StatusError:
		msg := "Failed"
		if c.Err != nil {
			msg = c.Err.Error()
		}
		return workflow.ToolEndEvent{ToolName: c.Name, Status: string(c.Status), Display: tool.StringDisplay(msg)}
	case scheduler.StatusCancelled:
		return workflow.ToolEndEvent{ToolName: c.Name, Status: string(c.Status), Display: tool.StringDisplay("Cancelled")}
	}
	return nil
}
