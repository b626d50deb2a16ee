package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoCommand struct{ name string }

func (c echoCommand) Name() string        { return c.name }
func (c echoCommand) Description() string { return "echo " + c.name }

func (c echoCommand) Run(_ context.Context, inv *Invocation) error {
	trace, ok := inv.Data.(*[]string)
	if !ok {
		return ErrInvalidInvocation
	}
	*trace = append(*trace, c.name+":"+inv.Scope)
	return nil
}

func tracing(tag string) Middleware {
	return func(c Command) Command {
		return Wrap(c, func(ctx context.Context, inv *Invocation) error {
			trace := inv.Data.(*[]string)
			*trace = append(*trace, tag+">")
			err := c.Run(ctx, inv)
			*trace = append(*trace, "<"+tag)
			return err
		})
	}
}

func TestApplyOrder(t *testing.T) {
	c := Apply(echoCommand{name: "status"}, tracing("outer"), tracing("inner"))
	var trace []string
	require.NoError(t, c.Run(context.Background(), &Invocation{Scope: "c1", Data: &trace}))
	assert.Equal(t, []string{"outer>", "inner>", "status:c1", "<inner", "<outer"}, trace)

	assert.Equal(t, "status", c.Name())
	assert.Equal(t, "echo status", c.Description())
	assert.Equal(t, echoCommand{name: "status"}, Root(c))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoCommand{name: "reset"}))
	require.NoError(t, r.Register(echoCommand{name: "enable"}, tracing("log")))
	assert.Error(t, r.Register(echoCommand{name: "reset"}))

	all := r.All()
	require.Len(t, all, 2)
	assert.Equal(t, "enable", all[0].Name())
	assert.Equal(t, "reset", all[1].Name())
	assert.Nil(t, r.Get("missing"))

	err := r.Get("reset").Run(context.Background(), &Invocation{Data: "not a trace"})
	assert.ErrorIs(t, err, ErrInvalidInvocation)
}
