package todo

import (
	"fmt"
	"strings"
)

// TodoStatus represents the status of a todo item.
type TodoStatus string

const (
	TodoStatusPending    TodoStatus = "pending"
	TodoStatusInProgress TodoStatus = "in_progress"
	TodoStatusCompleted  TodoStatus = "completed"
	TodoStatusCancelled  TodoStatus = "cancelled"
)

// Todo represents a single task item.
type Todo struct {
	Description string     `json:"description"`
	Status      TodoStatus `json:"status"`
}

func (t Todo) String() string {
	return fmt.Sprintf("[%s] %s", t.Status, t.Description)
}

// ReadTodosInput takes no arguments.
type ReadTodosInput struct{}

func (ReadTodosInput) String() string {
	return "Reading todos"
}

// WriteTodosInput replaces the whole list. An empty list clears it.
type WriteTodosInput struct {
	Todos []Todo `json:"todos"`
}

// Validate checks every item's status and description.
func (in WriteTodosInput) Validate() error {
	for i, todo := range in.Todos {
		switch todo.Status {
		case TodoStatusPending, TodoStatusInProgress, TodoStatusCompleted, TodoStatusCancelled:
		default:
			return &ItemError{Index: i, Err: fmt.Errorf("%w: %q", ErrInvalidStatus, todo.Status)}
		}
		if strings.TrimSpace(todo.Description) == "" {
			return &ItemError{Index: i, Err: ErrEmptyDescription}
		}
	}
	return nil
}

func (in WriteTodosInput) String() string {
	return fmt.Sprintf("Writing %d todos", len(in.Todos))
}
