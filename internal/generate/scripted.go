package generate

import (
	"context"
	"sync"
)

// ScriptedGenerator replays a fixed sequence of proposals, letting
// tests exercise the loop without a live generation service. Once
// the script is exhausted the last proposal repeats.
type ScriptedGenerator struct {
	mu        sync.Mutex
	proposals []*Proposal
	calls     int
}

// NewScriptedGenerator creates a generator replaying proposals in
// order.
func NewScriptedGenerator(proposals ...*Proposal) *ScriptedGenerator {
	return &ScriptedGenerator{proposals: proposals}
}

// Propose returns the next scripted proposal.
func (g *ScriptedGenerator) Propose(ctx context.Context, req Request) (*Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.proposals) == 0 {
		g.calls++
		return &Proposal{Kind: KindNoChange}, nil
	}
	i := g.calls
	if i >= len(g.proposals) {
		i = len(g.proposals) - 1
	}
	g.calls++
	return g.proposals[i], nil
}

// Calls returns how many proposals have been requested.
func (g *ScriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}
