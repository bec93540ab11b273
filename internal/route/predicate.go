// Package route provides CEL-based routing predicates evaluated against
// in-flight messages.
package route

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/vyrodovalexey/avmedgw/internal/message"
)

// ErrNotBool indicates a predicate expression does not evaluate to a boolean.
var ErrNotBool = errors.New("routing predicate must evaluate to bool")

// Message attributes available to predicate expressions.
//
//	format         string            payload format tag ("xml", "json", ...)
//	headers        map[string]string message headers
//	correlation_id string            message correlation ID
//	size           int               payload length in bytes
const (
	varFormat        = "format"
	varHeaders       = "headers"
	varCorrelationID = "correlation_id"
	varSize          = "size"
)

// Predicate is a compiled routing predicate.
type Predicate struct {
	expr    string
	program cel.Program
}

// newEnv builds the CEL environment exposing message attributes.
func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable(varFormat, cel.StringType),
		cel.Variable(varHeaders, cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable(varCorrelationID, cel.StringType),
		cel.Variable(varSize, cel.IntType),
	)
}

// Compile compiles a CEL expression into a Predicate. Compilation errors
// are configuration-time failures; a service with an invalid predicate must
// not become routable.
func Compile(expr string) (*Predicate, error) {
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("create cel environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile predicate %q: %w", expr, iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("predicate %q: %w", expr, ErrNotBool)
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build predicate program: %w", err)
	}

	return &Predicate{expr: expr, program: program}, nil
}

// Expression returns the source expression.
func (p *Predicate) Expression() string {
	return p.expr
}

// Matches evaluates the predicate against a message.
func (p *Predicate) Matches(msg *message.Message) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		varFormat:        msg.Format().String(),
		varHeaders:       msg.Headers(),
		varCorrelationID: msg.CorrelationID(),
		varSize:          msg.Size(),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate predicate %q: %w", p.expr, err)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, ErrNotBool
	}
	return matched, nil
}
