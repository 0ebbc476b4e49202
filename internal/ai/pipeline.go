package ai

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Stage labels a provider's position in the chain. The label is what shows
// up as Response.Provider.
type Stage struct {
	Label    string
	Provider Provider
	Remote   bool // remote stages go through the limiter and timeout
}

// Pipeline tries providers in order until one yields a usable result. The
// last stage must be a FallbackProvider, which makes Generate total: it
// always returns a populated Response, never an error.
type Pipeline struct {
	stages      []Stage
	limiter     *AdaptiveLimiter
	callTimeout time.Duration
	log         zerolog.Logger
}

// NewPipeline assembles the chain. limiter may be nil (no throttling);
// callTimeout bounds each remote attempt, with expiry treated as failure.
func NewPipeline(stages []Stage, limiter *AdaptiveLimiter, callTimeout time.Duration, log zerolog.Logger) *Pipeline {
	if callTimeout <= 0 {
		callTimeout = 20 * time.Second
	}
	return &Pipeline{
		stages:      stages,
		limiter:     limiter,
		callTimeout: callTimeout,
		log:         log,
	}
}

// TemperatureForChaos maps chaos 0..100 linearly onto the provider
// temperature range: 0.6 at chaos 0 up to 1.4 at chaos 100, clamped.
func TemperatureForChaos(chaos int) float64 {
	if chaos < 0 {
		chaos = 0
	}
	if chaos > 100 {
		chaos = 100
	}
	return 0.6 + 0.8*float64(chaos)/100
}

// Generate runs the chain. Remote failures are logged and swallowed; a
// degenerate remote result (zero usage) advances to the next stage the same
// way an error does.
func (p *Pipeline) Generate(ctx context.Context, req Request) Response {
	params := Params{Temperature: TemperatureForChaos(req.Chaos)}

	// One token covers the whole call, however many stages it falls through;
	// charging per stage would let a failing primary starve the secondary.
	remoteAllowed := p.limiter == nil || p.limiter.Allow()

	for _, stage := range p.stages {
		if stage.Remote {
			if !remoteAllowed {
				p.log.Debug().Str("action", "generate").Str("provider", stage.Label).Msg("rate budget exhausted, skipping stage")
				continue
			}
			callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
			res, err := stage.Provider.Generate(callCtx, req, params)
			cancel()
			if err != nil {
				if p.limiter != nil {
					p.limiter.Failure()
				}
				p.log.Warn().Str("action", "generate").Str("provider", stage.Label).Err(err).Msg("provider failed, falling through")
				continue
			}
			if res.Usage != nil && res.Usage.CompletionTokens == 0 {
				p.log.Warn().Str("action", "generate").Str("provider", stage.Label).Msg("degenerate response, falling through")
				continue
			}
			if p.limiter != nil {
				p.limiter.Success()
			}
			return Response{Text: res.Text, Provider: stage.Label, Usage: res.Usage}
		}

		// Terminal deterministic stage.
		res, _ := stage.Provider.Generate(ctx, req, params)
		return Response{Text: res.Text, Provider: stage.Label}
	}

	// Unreachable when the chain is well-formed; kept total anyway.
	return Response{Text: "Ey yo, something went wrong! But I'm still here for you! 😅", Provider: "fallback"}
}
