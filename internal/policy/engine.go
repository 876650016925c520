// Package policy decides whether a tool call may run without asking.
package policy

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Cyclone1070/iav/internal/confirmation"
	"github.com/Cyclone1070/iav/internal/tool"
	"goa.design/clue/log"
)

// Decision is the verdict for one call.
type Decision string

const (
	DecisionAllow   Decision = "ALLOW"
	DecisionDeny    Decision = "DENY"
	DecisionAskUser Decision = "ASK_USER"
)

// Rules are the static allow and deny lists. Allow wins when a tool is in both.
type Rules struct {
	Allow []string
	Deny  []string
}

// Engine evaluates Rules plus tools approved during the session.
// It is safe for concurrent use.
type Engine struct {
	rules Rules

	mu           sync.RWMutex
	sessionAllow map[string]bool
	persisted    map[string]bool
}

// NewEngine creates an Engine over rules.
func NewEngine(rules Rules) *Engine {
	return &Engine{
		rules:        rules,
		sessionAllow: make(map[string]bool),
		persisted:    make(map[string]bool),
	}
}

// Check returns the decision for call.
func (e *Engine) Check(ctx context.Context, call tool.CallInfo) (Decision, error) {
	if call.Name == "" {
		return "", fmt.Errorf("tool name cannot be empty")
	}

	e.mu.RLock()
	session := e.sessionAllow[call.Name] || e.persisted[call.Name]
	e.mu.RUnlock()

	switch {
	case session:
		return DecisionAllow, nil
	case slices.Contains(e.rules.Allow, call.Name):
		return DecisionAllow, nil
	case slices.Contains(e.rules.Deny, call.Name):
		log.Debug(ctx, log.KV{K: "msg", V: "tool denied by policy"}, log.KV{K: "tool", V: call.Name})
		return DecisionDeny, nil
	default:
		return DecisionAskUser, nil
	}
}

// AllowForSession allows toolName without asking until the process exits.
func (e *Engine) AllowForSession(toolName string) {
	e.mu.Lock()
	e.sessionAllow[toolName] = true
	e.mu.Unlock()
}

// Persisted lists tools approved with "always" that should be written to
// the user's allow list.
func (e *Engine) Persisted() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.persisted))
	for name := range e.persisted {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// Listen applies UpdatePolicy messages published on bus until the returned
// subscription is removed.
func (e *Engine) Listen(bus *confirmation.Bus) *confirmation.Subscription {
	return bus.Subscribe(confirmation.TypeUpdatePolicy, func(ctx context.Context, msg confirmation.Message) {
		update, ok := msg.(confirmation.UpdatePolicy)
		if !ok || update.ToolName == "" {
			return
		}
		e.mu.Lock()
		if update.Persist {
			e.persisted[update.ToolName] = true
		} else {
			e.sessionAllow[update.ToolName] = true
		}
		e.mu.Unlock()
		log.Info(ctx, log.KV{K: "msg", V: "tool allowed"}, log.KV{K: "tool", V: update.ToolName}, log.KV{K: "persist", V: update.Persist})
	})
}
