package transform

import (
	"context"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avmedgw/internal/message"
)

// Chain is an ordered sequence of units whose formats have been validated
// link-by-link at build time. A Chain is itself a Unit, so chains nest.
type Chain struct {
	name  string
	units []Unit
}

// NewChain builds a chain from units, validating that every unit's output
// format matches the next unit's input format. Validation happens here so a
// format mismatch can never be observed at message-processing time.
func NewChain(name string, units ...Unit) (*Chain, error) {
	if len(units) == 0 {
		return nil, fmt.Errorf("chain %q: %w", name, ErrEmptyChain)
	}

	for i := 0; i < len(units)-1; i++ {
		out := units[i].OutputFormat()
		in := units[i+1].InputFormat()
		if out != in {
			return nil, fmt.Errorf("chain %q: unit %q outputs %s but unit %q expects %s: %w",
				name, units[i].Name(), out, units[i+1].Name(), in, ErrIncompatibleChain)
		}
	}

	return &Chain{name: name, units: append([]Unit(nil), units...)}, nil
}

// Name returns the chain name.
func (c *Chain) Name() string { return c.name }

// InputFormat returns the input format of the first unit.
func (c *Chain) InputFormat() message.Format { return c.units[0].InputFormat() }

// OutputFormat returns the output format of the last unit.
func (c *Chain) OutputFormat() message.Format { return c.units[len(c.units)-1].OutputFormat() }

// Len returns the number of units in the chain.
func (c *Chain) Len() int { return len(c.units) }

// Apply runs the message through each unit in order. On the first unit
// failure the chain short-circuits and returns an *Error tagged with the
// unit's name and position; the partially transformed message is discarded.
func (c *Chain) Apply(ctx context.Context, msg *message.Message) (*message.Message, error) {
	current := msg
	for i, unit := range c.units {
		if current.Format() != unit.InputFormat() {
			return nil, NewError(unit.Name(), i, ErrFormatMismatch)
		}

		start := time.Now()
		next, err := unit.Apply(ctx, current)
		observeTransform(unit.Name(), time.Since(start), err)
		if err != nil {
			return nil, NewError(unit.Name(), i, err)
		}
		current = next
	}
	return current, nil
}
