package config

import (
	"fmt"
	"strings"

	"github.com/Cyclone1070/iav/internal/availability"
)

// Validate checks config values for correctness.
// Returns an error listing every invalid value.
func (c *Config) Validate() error {
	var errs []string

	// Model
	if c.Model.Preferred == "" {
		errs = append(errs, "model.preferred must not be empty")
	}
	switch availability.Tier(c.Model.Tier) {
	case availability.TierFree, availability.TierStandard, availability.TierLegacy:
	default:
		errs = append(errs, fmt.Sprintf("model.tier must be one of free, standard, legacy (got %q)", c.Model.Tier))
	}

	// Retry
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, "retry.max_attempts must be >= 1")
	}
	if c.Retry.InitialDelayMs < 1 {
		errs = append(errs, "retry.initial_delay_ms must be >= 1")
	}
	if c.Retry.MaxDelayMs < 1 {
		errs = append(errs, "retry.max_delay_ms must be >= 1")
	}
	if c.Retry.InitialDelayMs > c.Retry.MaxDelayMs {
		errs = append(errs, "retry.initial_delay_ms must be <= retry.max_delay_ms")
	}

	// Policy
	deny := make(map[string]bool, len(c.Policy.ToolsDeny))
	for _, name := range c.Policy.ToolsDeny {
		if name == "" {
			errs = append(errs, "policy.tools_deny must not contain empty names")
		}
		deny[name] = true
	}
	for _, name := range c.Policy.ToolsAllow {
		if name == "" {
			errs = append(errs, "policy.tools_allow must not contain empty names")
		}
		if deny[name] && name != "" {
			errs = append(errs, fmt.Sprintf("policy: tool %q is in both tools_allow and tools_deny", name))
		}
	}

	// Workflow
	if c.Workflow.MaxIterations < 1 {
		errs = append(errs, "workflow.max_iterations must be >= 1")
	}

	// Tools
	if c.Tools.MaxTodos < 1 {
		errs = append(errs, "tools.max_todos must be >= 1")
	}

	// Hooks
	for _, cmd := range c.Hooks.BeforeTool {
		if strings.TrimSpace(cmd) == "" {
			errs = append(errs, "hooks.before_tool must not contain empty commands")
			break
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %v", errs)
	}

	return nil
}
