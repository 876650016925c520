// Package hooks runs user-configured shell commands for hook events
// requested on the confirmation bus.
//
// Each command gets the event input as a JSON object on stdin, with
// "hook_event_name" added. A command that prints a JSON object contributes
// its keys to the event output; later commands overwrite earlier keys.
// A non-zero exit fails the event, and a "decision": "deny" output stops
// the remaining commands.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os/exec"
	"strings"

	"github.com/Cyclone1070/iav/internal/confirmation"
	"goa.design/clue/log"
)

// Runner executes the commands configured per event.
type Runner struct {
	commands map[string][]string
	shell    []string
}

// NewRunner creates a Runner for commands keyed by event name.
func NewRunner(commands map[string][]string) *Runner {
	return &Runner{commands: commands, shell: []string{"sh", "-c"}}
}

// Configured reports whether any event has a command.
func (r *Runner) Configured() bool {
	for _, cmds := range r.commands {
		if len(cmds) > 0 {
			return true
		}
	}
	return false
}

// Listen answers hook execution requests on bus. It subscribes only when a
// command is configured, so callers see no runner otherwise; the returned
// subscription is nil in that case.
func (r *Runner) Listen(bus *confirmation.Bus) *confirmation.Subscription {
	if !r.Configured() {
		return nil
	}
	return bus.Subscribe(confirmation.TypeHookExecutionRequest, func(ctx context.Context, msg confirmation.Message) {
		req, ok := msg.(confirmation.HookExecutionRequest)
		if !ok {
			return
		}
		resp := r.Run(ctx, req.EventName, req.Input)
		resp.ID = req.ID
		for _, d := range resp.decisions {
			bus.Publish(ctx, d)
		}
		bus.Publish(ctx, resp.HookExecutionResponse)
	})
}

// Result is the outcome of one event run.
type Result struct {
	confirmation.HookExecutionResponse
	decisions []confirmation.HookPolicyDecision
}

// Run executes the commands for event in order.
func (r *Runner) Run(ctx context.Context, event string, input map[string]any) Result {
	payload := make(map[string]any, len(input)+1)
	maps.Copy(payload, input)
	payload["hook_event_name"] = event
	stdin, err := json.Marshal(payload)
	if err != nil {
		return failed(fmt.Errorf("encode hook input: %w", err))
	}

	res := Result{HookExecutionResponse: confirmation.HookExecutionResponse{Success: true, Output: map[string]any{}}}
	for _, command := range r.commands[event] {
		out, err := r.exec(ctx, command, stdin)
		if err != nil {
			log.Warn(ctx, log.KV{K: "msg", V: "hook failed"}, log.KV{K: "event", V: event}, log.KV{K: "hook", V: command}, log.KV{K: "err", V: err.Error()})
			return failed(err)
		}
		maps.Copy(res.Output, out)

		decision, _ := out["decision"].(string)
		if decision == "" {
			continue
		}
		reason, _ := out["reason"].(string)
		res.decisions = append(res.decisions, confirmation.HookPolicyDecision{
			EventName: event,
			HookName:  command,
			Decision:  decision,
			Reason:    reason,
		})
		if decision == "deny" {
			log.Info(ctx, log.KV{K: "msg", V: "hook denied"}, log.KV{K: "event", V: event}, log.KV{K: "hook", V: command}, log.KV{K: "reason", V: reason})
			break
		}
	}
	return res
}

func (r *Runner) exec(ctx context.Context, command string, stdin []byte) (map[string]any, error) {
	args := append(append([]string(nil), r.shell[1:]...), command)
	cmd := exec.CommandContext(ctx, r.shell[0], args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if msg := strings.TrimSpace(stderr.String()); msg != "" {
				return nil, fmt.Errorf("%s: %s", exitErr, msg)
			}
		}
		return nil, err
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, fmt.Errorf("hook %q printed invalid JSON: %w", command, err)
	}
	return out, nil
}

func failed(err error) Result {
	return Result{HookExecutionResponse: confirmation.HookExecutionResponse{Error: err.Error()}}
}
