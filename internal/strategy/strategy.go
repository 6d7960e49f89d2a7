// Package strategy holds the signal generators. Each generator is a
// pure function of a market snapshot plus its own parameter struct; at
// most one Signal is emitted per step, chosen by the Manager.
package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"marlin/internal/market/state"
)

type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// TPLeg is one take-profit target with the fraction of the position to
// exit there. Fractions across a signal's legs sum to 1.
type TPLeg struct {
	Price    float64 `json:"price"`
	Fraction float64 `json:"fraction"`
}

const (
	// TagExit marks the exit style; "time" signals close on deadline.
	TagExit = "exit"
	// TagDeadline is a millisecond timestamp for time-based exits.
	TagDeadline = "deadline"
	// TagMaxHoldBars bounds the hold window for time-based exits.
	TagMaxHoldBars = "max_hold_bars"
	// TagSetup records the structure setup kind (bounce, rejection, ...).
	TagSetup = "setup"
)

// Signal is one candidate trade.
type Signal struct {
	ID         string            `json:"id"`
	Strategy   string            `json:"strategy"`
	Direction  Direction         `json:"direction"`
	Entry      float64           `json:"entry"`
	Stop       float64           `json:"stop"`
	Legs       []TPLeg           `json:"legs,omitempty"`
	Confidence float64           `json:"confidence"`
	Tags       map[string]string `json:"tags,omitempty"`
	CreatedAt  int64             `json:"created_at"`
}

// StopDistance is the absolute entry-stop span.
func (s *Signal) StopDistance() float64 {
	if s.Direction == Long {
		return s.Entry - s.Stop
	}
	return s.Stop - s.Entry
}

// TimeExit reports whether the signal exits on a deadline instead of
// price targets.
func (s *Signal) TimeExit() bool {
	return s.Tags[TagExit] == "time"
}

const legSumTolerance = "0.000000001"

// Validate enforces the structural invariants every emitted signal must
// hold: positive stop distance, targets on the profitable side, and leg
// fractions summing to 1 within tolerance. Time-exit signals carry no legs.
func (s *Signal) Validate() error {
	if s.Direction != Long && s.Direction != Short {
		return fmt.Errorf("signal %s: bad direction %q", s.Strategy, s.Direction)
	}
	if s.Entry <= 0 {
		return fmt.Errorf("signal %s: entry must be positive", s.Strategy)
	}
	if s.StopDistance() <= 0 {
		return fmt.Errorf("signal %s: stop distance must be positive (entry=%.8f stop=%.8f)",
			s.Strategy, s.Entry, s.Stop)
	}
	if s.TimeExit() {
		if len(s.Legs) != 0 {
			return fmt.Errorf("signal %s: time-exit signals carry no take-profit legs", s.Strategy)
		}
		return nil
	}
	if len(s.Legs) == 0 {
		return fmt.Errorf("signal %s: at least one take-profit leg required", s.Strategy)
	}
	sum := decimal.Zero
	prev := s.Entry
	for i, leg := range s.Legs {
		if leg.Fraction <= 0 {
			return fmt.Errorf("signal %s: leg %d fraction must be positive", s.Strategy, i)
		}
		if s.Direction == Long && leg.Price <= prev {
			return fmt.Errorf("signal %s: leg %d price %.8f not above %.8f", s.Strategy, i, leg.Price, prev)
		}
		if s.Direction == Short && leg.Price >= prev {
			return fmt.Errorf("signal %s: leg %d price %.8f not below %.8f", s.Strategy, i, leg.Price, prev)
		}
		prev = leg.Price
		sum = sum.Add(decimal.NewFromFloat(leg.Fraction))
	}
	diff := sum.Sub(decimal.NewFromInt(1)).Abs()
	if diff.GreaterThan(decimal.RequireFromString(legSumTolerance)) {
		return fmt.Errorf("signal %s: leg fractions sum to %s, want 1", s.Strategy, sum)
	}
	return nil
}

// Generator is the shared capability of every strategy variant.
// A nil Signal with nil error means no setup on this step.
type Generator interface {
	Name() string
	Generate(st *state.State) (*Signal, error)
}

func signalID(name string, now int64) string {
	return fmt.Sprintf("%s-%d", name, now)
}

// target converts a risk multiple into an absolute target price.
func target(dir Direction, entry, stopDistance, multiple float64) float64 {
	if dir == Long {
		return entry + stopDistance*multiple
	}
	return entry - stopDistance*multiple
}

// legsFromMultiples builds TP legs at the given risk multiples.
func legsFromMultiples(dir Direction, entry, stopDistance float64, multiples, fractions []float64) []TPLeg {
	legs := make([]TPLeg, 0, len(multiples))
	for i, m := range multiples {
		legs = append(legs, TPLeg{
			Price:    target(dir, entry, stopDistance, m),
			Fraction: fractions[i],
		})
	}
	return legs
}
