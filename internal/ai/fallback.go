package ai

import (
	"context"

	"github.com/keshon/young-ellens/internal/patterns"
	"github.com/keshon/young-ellens/internal/persona"
)

// FallbackProvider draws from the curated phrase corpora. It cannot fail:
// every precedence branch ends in a non-empty set.
//
// Precedence: drug-reference message → denial set; high chaos → chaotic set;
// mood done → boredom set; otherwise default set.
type FallbackProvider struct {
	lib             *patterns.Library
	rng             patterns.Rand
	highChaos       int
	signatureChance float64
}

// NewFallbackProvider creates the terminal pipeline stage. rng is injectable
// for deterministic selection in tests.
func NewFallbackProvider(lib *patterns.Library, rng patterns.Rand) *FallbackProvider {
	return &FallbackProvider{
		lib:             lib,
		rng:             rng,
		highChaos:       70,
		signatureChance: 0.1,
	}
}

func (p *FallbackProvider) Name() string { return "fallback" }

// Generate never returns an error.
func (p *FallbackProvider) Generate(_ context.Context, req Request, _ Params) (*Result, error) {
	var set string
	switch {
	case p.lib.HasDrugReference(req.UserMessage):
		set = patterns.SetDenial
	case req.Chaos > p.highChaos:
		set = patterns.SetChaotic
	case req.Mood == persona.MoodDone:
		set = patterns.SetBoredom
	default:
		set = patterns.SetDefault
	}
	reply := p.lib.Pick(set, p.rng)
	if set == patterns.SetDefault {
		reply = p.lib.Signature(reply, p.signatureChance, p.rng)
	}
	return &Result{Text: reply}, nil
}
