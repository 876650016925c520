package todo

import (
	"slices"
	"sync"
)

// InMemoryTodoStore keeps the todo list for one session. Reads and writes copy,
// so callers never share the backing slice.
type InMemoryTodoStore struct {
	mu    sync.RWMutex
	todos []Todo
}

// NewInMemoryTodoStore creates an empty store.
func NewInMemoryTodoStore() *InMemoryTodoStore {
	return &InMemoryTodoStore{todos: make([]Todo, 0)}
}

// Read returns a copy of the current list.
func (s *InMemoryTodoStore) Read() ([]Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.todos), nil
}

// Write replaces the list with a copy of todos.
func (s *InMemoryTodoStore) Write(todos []Todo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.todos = append(make([]Todo, 0, len(todos)), todos...)
	return nil
}
