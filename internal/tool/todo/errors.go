package todo

import (
	"errors"
	"fmt"
)

// -- Sentinels --

var (
	ErrInvalidStatus    = errors.New("invalid status")
	ErrEmptyDescription = errors.New("description cannot be empty")
	ErrTooManyTodos     = errors.New("too many todos")
)

// ItemError reports which todo in a write request is invalid.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("todos[%d]: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
