package confirmation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrHookFailed is returned by RequestHook when the hook runner reports failure.
var ErrHookFailed = errors.New("hook execution failed")

// RequestHook asks the hook runner subscribed to TypeHookExecutionRequest to
// run the hooks for event and waits for its response. With no runner
// subscribed it blocks until ctx is done.
func RequestHook(ctx context.Context, bus *Bus, event string, input map[string]any) (map[string]any, error) {
	req := HookExecutionRequest{
		ID:        uuid.NewString(),
		EventName: event,
		Input:     input,
	}
	resp, err := bus.Request(ctx, req, TypeHookExecutionResponse)
	if err != nil {
		return nil, fmt.Errorf("hook %s: %w", event, err)
	}

	hr, ok := resp.(HookExecutionResponse)
	if !ok {
		return nil, fmt.Errorf("hook %s: unexpected response %T", event, resp)
	}
	if !hr.Success {
		return nil, fmt.Errorf("%w: %s: %s", ErrHookFailed, event, hr.Error)
	}
	return hr.Output, nil
}

// Confirm publishes req and waits for a decisive answer. req.ID is filled
// with a fresh uuid when empty.
func Confirm(ctx context.Context, bus *Bus, req ToolConfirmationRequest) (ToolConfirmationResponse, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	resp, err := bus.Request(ctx, req, TypeToolConfirmationResponse)
	if err != nil {
		return ToolConfirmationResponse{}, err
	}
	cr, ok := resp.(ToolConfirmationResponse)
	if !ok {
		return ToolConfirmationResponse{}, fmt.Errorf("confirmation %s: unexpected response %T", req.ID, resp)
	}
	return cr, nil
}
