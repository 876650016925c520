package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ErrInvalidArguments is matched by every argument decoding or validation failure.
var ErrInvalidArguments = errors.New("invalid arguments")

// InvalidArgumentsError reports why args could not be turned into an invocation.
type InvalidArgumentsError struct {
	Tool  string
	Cause error
}

func (e *InvalidArgumentsError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %v", e.Tool, e.Cause)
}

func (e *InvalidArgumentsError) Unwrap() error {
	return e.Cause
}

func (e *InvalidArgumentsError) Is(target error) bool {
	return target == ErrInvalidArguments
}

// Validator is implemented by input types that check themselves after decoding.
type Validator interface {
	Validate() error
}

// ExecuteFunc runs a tool with typed input.
type ExecuteFunc[In any] func(ctx context.Context, in In) (*Result, error)

// ConfirmFunc decides whether typed input needs approval. Returning nil means no.
type ConfirmFunc[In any] func(ctx context.Context, in In) (*ConfirmationDetails, error)

// Typed is a Tool whose arguments decode into In.
//
// Build decodes the args map with mapstructure using json tags, rejects
// unknown keys, then calls In.Validate when In implements Validator.
type Typed[In any] struct {
	decl    Declaration
	execute ExecuteFunc[In]
	confirm ConfirmFunc[In]
	serial  bool
}

// NewTyped creates a Typed tool.
//
//	write := tool.NewTyped(decl, store.write).
//	    WithConfirmation(confirmWrite).
//	    WithSerial()
func NewTyped[In any](decl Declaration, execute ExecuteFunc[In]) *Typed[In] {
	return &Typed[In]{decl: decl, execute: execute}
}

// WithConfirmation sets the approval check.
func (t *Typed[In]) WithConfirmation(fn ConfirmFunc[In]) *Typed[In] {
	t.confirm = fn
	return t
}

// WithSerial marks the tool as running one invocation at a time.
func (t *Typed[In]) WithSerial() *Typed[In] {
	t.serial = true
	return t
}

func (t *Typed[In]) Name() string {
	return t.decl.Name
}

func (t *Typed[In]) Declaration() Declaration {
	return t.decl
}

func (t *Typed[In]) Serial() bool {
	return t.serial
}

// Build implements Tool.
func (t *Typed[In]) Build(args map[string]any) (Invocation, error) {
	var in In
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		ErrorUnused: true,
		Result:      &in,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(args); err != nil {
		return nil, &InvalidArgumentsError{Tool: t.decl.Name, Cause: err}
	}

	if v, ok := any(in).(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, &InvalidArgumentsError{Tool: t.decl.Name, Cause: err}
		}
	}

	return &typedInvocation[In]{tool: t, in: in}, nil
}

type typedInvocation[In any] struct {
	tool *Typed[In]
	in   In
}

func (i *typedInvocation[In]) ShouldConfirmExecute(ctx context.Context) (*ConfirmationDetails, error) {
	if i.tool.confirm == nil {
		return nil, nil
	}
	return i.tool.confirm(ctx, i.in)
}

func (i *typedInvocation[In]) Execute(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return i.tool.execute(ctx, i.in)
}

// String describes the call for display. Inputs implementing fmt.Stringer
// describe themselves.
func (i *typedInvocation[In]) String() string {
	if s, ok := any(i.in).(fmt.Stringer); ok {
		return s.String()
	}
	return i.tool.decl.Name
}
