package engine

import (
	"context"

	"github.com/keshon/behavior-sim/pkg/util"
)

// BatchResult pairs a decision with its error, in input order.
type BatchResult struct {
	Decision Decision `json:"decision"`
	Err      error    `json:"-"`
}

// ProcessBatch processes inputs of different agents in parallel and inputs
// of the same agent one after another in their given order.
func (e *Engine) ProcessBatch(ctx context.Context, inputs []Input) []BatchResult {
	results := make([]BatchResult, len(inputs))
	done := make([]bool, len(inputs))

	var groups [][]int
	byAgent := make(map[string]int)
	for i, in := range inputs {
		g, ok := byAgent[in.AgentID]
		if !ok {
			g = len(groups)
			byAgent[in.AgentID] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}

	err := util.Parallel(ctx, groups, e.workers, func(ctx context.Context, idx []int) error {
		for _, i := range idx {
			if err := ctx.Err(); err != nil {
				return err
			}
			d, err := e.Process(ctx, inputs[i])
			results[i] = BatchResult{Decision: d, Err: err}
			done[i] = true
		}
		return nil
	})
	if err == nil {
		err = ctx.Err()
	}
	for i := range results {
		if !done[i] {
			results[i].Err = err
		}
	}
	return results
}
