package config

import "github.com/Cyclone1070/iav/internal/availability"

// Config holds all application configuration values.
// Defaults are set in DefaultConfig() and can be overridden via dotfile.
// NOTE: Values in config files override defaults, including explicit zero values.
// Missing keys are left at their default values.
type Config struct {
	Model    ModelConfig    `json:"model"`
	Retry    RetryConfig    `json:"retry"`
	Policy   PolicyConfig   `json:"policy"`
	Workflow WorkflowConfig `json:"workflow"`
	Tools    ToolsConfig    `json:"tools"`
	Hooks    HooksConfig    `json:"hooks"`

	// CatalogPath points at an optional YAML policy catalog. "~/" is expanded.
	CatalogPath string `json:"catalog_path"`
}

type ModelConfig struct {
	Preferred string `json:"preferred"` // Default: "auto"
	Tier      string `json:"tier"`      // Default: "standard"
}

type RetryConfig struct {
	MaxAttempts    int `json:"max_attempts"`     // Default: 3
	InitialDelayMs int `json:"initial_delay_ms"` // Default: 5000
	MaxDelayMs     int `json:"max_delay_ms"`     // Default: 30000

	RetryNetworkErrors bool `json:"retry_network_errors"` // Default: true
}

type PolicyConfig struct {
	ToolsAllow []string `json:"tools_allow"` // Run without asking
	ToolsDeny  []string `json:"tools_deny"`  // Never run
}

type WorkflowConfig struct {
	MaxIterations int `json:"max_iterations"` // Default: 20
}

type ToolsConfig struct {
	MaxTodos int `json:"max_todos"` // Default: 100
}

// HooksConfig lists shell commands run for each hook event. Each command
// gets the event input as JSON on stdin; a non-zero exit fails the event.
type HooksConfig struct {
	BeforeTool []string `json:"before_tool"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Preferred: availability.ModelAuto,
			Tier:      string(availability.TierStandard),
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialDelayMs: 5000,
			MaxDelayMs:     30000,

			RetryNetworkErrors: true,
		},
		Policy: PolicyConfig{
			ToolsAllow: []string{"read_todos"},
			ToolsDeny:  []string{},
		},
		Workflow: WorkflowConfig{
			MaxIterations: 20,
		},
		Tools: ToolsConfig{
			MaxTodos: 100,
		},
		Hooks: HooksConfig{
			BeforeTool: []string{},
		},
	}
}
