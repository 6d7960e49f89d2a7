// Package filter screens candidate signals. Critical filters are
// binary and evaluated first in a fixed, documented order; the pipeline
// short-circuits on the first critical failure. Scored filters run only
// when every critical filter passed and contribute an additive score.
package filter

import (
	"marlin/internal/market/state"
	"marlin/internal/strategy"
)

// Verdict records one filter's evaluation of a signal.
type Verdict struct {
	Filter     string  `json:"filter"`
	Passed     bool    `json:"passed"`
	ScoreDelta float64 `json:"score_delta,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// Result is a signal's final disposition. Verdicts lists exactly the
// filters that were evaluated, so a short-circuited run is visible.
type Result struct {
	Accepted bool      `json:"accepted"`
	Score    float64   `json:"score"`
	Verdicts []Verdict `json:"verdicts"`
}

// Critical is a binary gate.
type Critical interface {
	Name() string
	Check(sig *strategy.Signal, st *state.State) Verdict
}

// Scored contributes an additive score delta and never rejects alone.
type Scored interface {
	Name() string
	Score(sig *strategy.Signal, st *state.State) Verdict
}

// Pipeline evaluates a signal against its filters. Declaration order is
// evaluation order; keep the cheapest, most deterministic checks first.
type Pipeline struct {
	critical  []Critical
	scored    []Scored
	threshold float64
}

func NewPipeline(threshold float64, critical []Critical, scored []Scored) *Pipeline {
	return &Pipeline{critical: critical, scored: scored, threshold: threshold}
}

// Evaluate runs the pipeline. The first failing critical filter stops
// evaluation; its verdict is the last entry in Verdicts and the scored
// filters are absent from the list entirely.
func (p *Pipeline) Evaluate(sig *strategy.Signal, st *state.State) Result {
	res := Result{Verdicts: make([]Verdict, 0, len(p.critical)+len(p.scored))}
	for _, f := range p.critical {
		v := f.Check(sig, st)
		res.Verdicts = append(res.Verdicts, v)
		if !v.Passed {
			return res
		}
	}
	for _, f := range p.scored {
		v := f.Score(sig, st)
		res.Verdicts = append(res.Verdicts, v)
		res.Score += v.ScoreDelta
	}
	res.Accepted = res.Score >= p.threshold
	return res
}

// Threshold exposes the acceptance score for reporting.
func (p *Pipeline) Threshold() float64 { return p.threshold }
