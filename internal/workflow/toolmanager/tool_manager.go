// Package toolmanager keeps the set of tools offered to the model.
package toolmanager

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/Cyclone1070/iav/internal/tool"
)

// ToolManager is a name-keyed tool registry. It is safe for concurrent use.
type ToolManager struct {
	mu       sync.RWMutex
	registry map[string]tool.Tool
}

func NewToolManager(tools ...tool.Tool) *ToolManager {
	tm := &ToolManager{
		registry: make(map[string]tool.Tool),
	}
	for _, t := range tools {
		tm.Register(t)
	}
	return tm
}

// Register adds t, replacing any tool with the same name.
func (m *ToolManager) Register(t tool.Tool) {
	m.mu.Lock()
	m.registry[t.Name()] = t
	m.mu.Unlock()
}

// Lookup implements scheduler.ToolLookup.
func (m *ToolManager) Lookup(name string) (tool.Tool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.registry[name]
	return t, ok
}

// Declarations returns every tool schema sorted by name.
func (m *ToolManager) Declarations() []tool.Declaration {
	m.mu.RLock()
	decls := make([]tool.Declaration, 0, len(m.registry))
	for _, t := range m.registry {
		decls = append(decls, t.Declaration())
	}
	m.mu.RUnlock()

	sort.Slice(decls, func(i, j int) bool {
		return decls[i].Name < decls[j].Name
	})
	return decls
}

// UnknownToolMessage is the reply sent to the model when it calls a tool
// that is not registered.
func (m *ToolManager) UnknownToolMessage(name string) string {
	declsJSON, _ := json.MarshalIndent(m.Declarations(), "", "  ")
	return fmt.Sprintf("Error: tool %q does not exist.\n\nAvailable tools:\n%s", name, declsJSON)
}

// InvalidArgumentsMessage is the reply sent to the model when its arguments
// for name were rejected.
func (m *ToolManager) InvalidArgumentsMessage(name string, cause error) string {
	t, ok := m.Lookup(name)
	if !ok {
		return m.UnknownToolMessage(name)
	}
	declJSON, _ := json.MarshalIndent(t.Declaration(), "", "  ")
	return fmt.Sprintf("Error: invalid arguments for tool %q: %v\n\nExpected schema:\n%s", name, cause, declJSON)
}
