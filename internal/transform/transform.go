// Package transform provides named payload transformations and the ordered,
// format-checked chains the mediation core runs messages through.
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/avmedgw/internal/message"
)

// Sentinel errors for transformation operations.
var (
	// ErrDuplicateName indicates a unit or chain name is already registered.
	ErrDuplicateName = errors.New("transformer name already registered")

	// ErrNotFound indicates no transformer is registered under the name.
	ErrNotFound = errors.New("transformer not found")

	// ErrIncompatibleChain indicates consecutive chain links disagree on format.
	ErrIncompatibleChain = errors.New("incompatible transform chain")

	// ErrEmptyChain indicates a chain was built without units.
	ErrEmptyChain = errors.New("transform chain has no units")

	// ErrFormatMismatch indicates a runtime format mismatch. Chains are
	// validated at build time, so hitting this is an internal invariant
	// violation, not a user error.
	ErrFormatMismatch = errors.New("internal: message format does not match unit input format")
)

// Unit is a named, pure transformation from one payload format to another.
type Unit interface {
	// Name returns the unique name of the unit.
	Name() string

	// InputFormat returns the format the unit consumes.
	InputFormat() message.Format

	// OutputFormat returns the format the unit produces.
	OutputFormat() message.Format

	// Apply transforms the message, returning a derived message.
	// Implementations must not mutate the input.
	Apply(ctx context.Context, msg *message.Message) (*message.Message, error)
}

// ApplyFunc is the function signature for closure-based units.
type ApplyFunc func(ctx context.Context, msg *message.Message) (*message.Message, error)

// funcUnit adapts a closure into a Unit.
type funcUnit struct {
	name   string
	input  message.Format
	output message.Format
	fn     ApplyFunc
}

// NewUnit creates a Unit from a transformation function.
func NewUnit(name string, input, output message.Format, fn ApplyFunc) Unit {
	return &funcUnit{name: name, input: input, output: output, fn: fn}
}

func (u *funcUnit) Name() string                 { return u.name }
func (u *funcUnit) InputFormat() message.Format  { return u.input }
func (u *funcUnit) OutputFormat() message.Format { return u.output }

func (u *funcUnit) Apply(ctx context.Context, msg *message.Message) (*message.Message, error) {
	return u.fn(ctx, msg)
}

// Error is a transformation failure tagged with the failing unit and its
// position within the chain.
type Error struct {
	Unit     string
	Position int
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("transform unit %q (position %d): %v", e.Unit, e.Position, e.Cause)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a transformation Error.
func NewError(unit string, position int, cause error) *Error {
	return &Error{Unit: unit, Position: position, Cause: cause}
}
