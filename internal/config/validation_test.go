package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_AllDefaults_Pass(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestValidate_Model(t *testing.T) {
	t.Run("Empty Preferred Fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Model.Preferred = ""
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "model.preferred")
	})

	t.Run("Unknown Tier Fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Model.Tier = "platinum"
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "model.tier")
	})
}

func TestValidate_Retry(t *testing.T) {
	t.Run("Zero MaxAttempts Fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Retry.MaxAttempts = 0
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max_attempts")
	})

	t.Run("Initial Above Max Fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Retry.InitialDelayMs = 500
		cfg.Retry.MaxDelayMs = 100
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "initial_delay_ms must be <=")
	})
}

func TestValidate_PolicyArrays(t *testing.T) {
	t.Run("Empty Name Fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Policy.ToolsDeny = []string{""}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "tools_deny")
	})

	t.Run("Allow And Deny Overlap Fails", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Policy.ToolsDeny = []string{"read_todos"}
		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "both tools_allow and tools_deny")
	})
}

func TestValidate_Hooks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Hooks.BeforeTool = []string{"./check.sh", "  "}

	err := cfg.Validate()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "hooks.before_tool")
}

func TestValidate_MultipleErrors_ReportsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workflow.MaxIterations = 0
	cfg.Tools.MaxTodos = -1

	err := cfg.Validate()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "workflow.max_iterations")
	assert.Contains(t, err.Error(), "tools.max_todos")
}
