// Package todo provides the read_todos and write_todos tools.
package todo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Cyclone1070/iav/internal/tool"
)

// todoStore defines the interface for todo storage.
type todoStore interface {
	Read() ([]Todo, error)
	Write(todos []Todo) error
}

var todosSchema = &tool.Schema{
	Type:        tool.TypeArray,
	Description: "The complete todo list, replacing the current one",
	Items: &tool.Schema{
		Type: tool.TypeObject,
		Properties: map[string]*tool.Schema{
			"description": {Type: tool.TypeString, Description: "What needs doing"},
			"status": {
				Type: tool.TypeString,
				Enum: []string{
					string(TodoStatusPending),
					string(TodoStatusInProgress),
					string(TodoStatusCompleted),
					string(TodoStatusCancelled),
				},
			},
		},
		Required: []string{"description", "status"},
	},
}

// NewReadTodosTool returns the read_todos tool. It never asks for approval.
func NewReadTodosTool(store todoStore) *tool.Typed[ReadTodosInput] {
	decl := tool.Declaration{
		Name:        "read_todos",
		Description: "Returns the current todo list",
		Parameters:  &tool.Schema{Type: tool.TypeObject},
	}
	return tool.NewTyped(decl, func(ctx context.Context, _ ReadTodosInput) (*tool.Result, error) {
		todos, err := store.Read()
		if err != nil {
			return nil, fmt.Errorf("read todos: %w", err)
		}
		return listResult("Todos", todos)
	})
}

// NewWriteTodosTool returns the write_todos tool. Each write replaces the list,
// is shown to the approver first, and never overlaps another write.
func NewWriteTodosTool(store todoStore, maxTodos int) *tool.Typed[WriteTodosInput] {
	decl := tool.Declaration{
		Name:        "write_todos",
		Description: "Replaces the current todo list",
		Parameters: &tool.Schema{
			Type:       tool.TypeObject,
			Properties: map[string]*tool.Schema{"todos": todosSchema},
			Required:   []string{"todos"},
		},
	}

	execute := func(ctx context.Context, in WriteTodosInput) (*tool.Result, error) {
		if len(in.Todos) > maxTodos {
			return nil, fmt.Errorf("%w: %d exceeds limit of %d", ErrTooManyTodos, len(in.Todos), maxTodos)
		}
		if err := store.Write(in.Todos); err != nil {
			return nil, fmt.Errorf("write todos: %w", err)
		}
		return listResult("Updated todos", in.Todos)
	}

	confirm := func(ctx context.Context, in WriteTodosInput) (*tool.ConfirmationDetails, error) {
		return &tool.ConfirmationDetails{
			Title:   "Update todo list",
			Prompt:  in.String(),
			Display: listDisplay("Proposed todos", in.Todos),
		}, nil
	}

	return tool.NewTyped(decl, execute).WithConfirmation(confirm).WithSerial()
}

func listResult(title string, todos []Todo) (*tool.Result, error) {
	if todos == nil {
		todos = []Todo{}
	}
	content, err := json.Marshal(map[string]any{"todos": todos})
	if err != nil {
		return nil, err
	}
	return &tool.Result{LLMContent: string(content), Display: listDisplay(title, todos)}, nil
}

func listDisplay(title string, todos []Todo) tool.ListDisplay {
	items := make([]string, len(todos))
	for i, t := range todos {
		items[i] = t.String()
	}
	return tool.ListDisplay{Title: title, Items: items}
}
