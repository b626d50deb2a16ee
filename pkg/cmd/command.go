// Package cmd is a transport-agnostic command core: a command has a name, a
// description and Run(ctx, invocation). Adapters (Discord slash commands,
// HTTP, CLI) decide how commands are registered and what an invocation
// carries.
package cmd

import (
	"context"
	"errors"
)

// ErrInvalidInvocation is returned by commands handed an invocation payload
// of a type they do not understand.
var ErrInvalidInvocation = errors.New("invalid invocation")

// Invocation carries the input of one run. Scope names what the command acts
// on, e.g. an agent. Data is the adapter's payload; commands may write their
// reply into it.
type Invocation struct {
	Scope string
	Data  any
}

// Command is the universal contract: identity plus execution.
type Command interface {
	Name() string
	Description() string
	Run(ctx context.Context, inv *Invocation) error
}

// Middleware wraps a command (logging, permission checks, metrics).
type Middleware func(Command) Command

// Apply wraps c so that the first middleware in the list runs outermost.
func Apply(c Command, mws ...Middleware) Command {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

// Wrap returns a command that runs run instead of c.Run and delegates
// Name and Description to c.
func Wrap(c Command, run func(ctx context.Context, inv *Invocation) error) Command {
	return &wrapped{inner: c, run: run}
}

type wrapped struct {
	inner Command
	run   func(ctx context.Context, inv *Invocation) error
}

func (w *wrapped) Name() string        { return w.inner.Name() }
func (w *wrapped) Description() string { return w.inner.Description() }
func (w *wrapped) Unwrap() Command     { return w.inner }

func (w *wrapped) Run(ctx context.Context, inv *Invocation) error {
	return w.run(ctx, inv)
}

// Root strips every middleware layer and returns the underlying command, so
// adapters can reach their own interfaces on it.
func Root(c Command) Command {
	for {
		u, ok := c.(interface{ Unwrap() Command })
		if !ok {
			return c
		}
		c = u.Unwrap()
	}
}
