package roles

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rustyeddy/ufoagent/market"
)

// ErrDecisionMalformed marks a role answer no decision could be read from.
var ErrDecisionMalformed = errors.New("decision malformed")

// Action is what a decision asks for.
type Action string

const (
	Open   Action = "open"
	Close  Action = "close"
	Hold   Action = "hold"
	Adjust Action = "adjust"
)

// Valid reports whether a is one of the four actions.
func (a Action) Valid() bool {
	switch a {
	case Open, Close, Hold, Adjust:
		return true
	}
	return false
}

// Decision is one recommendation of a role.
type Decision struct {
	Role       string           `json:"role"`
	Action     Action           `json:"action"`
	Symbol     string           `json:"symbol,omitempty"`
	Direction  market.Direction `json:"direction,omitempty"`
	Size       float64          `json:"size,omitempty"` // lots
	Rationale  string           `json:"rationale,omitempty"`
	Confidence float64          `json:"confidence,omitempty"`
	StopPips   float64          `json:"stop_pips,omitempty"`
	TargetPips float64          `json:"target_pips,omitempty"`
}

// HoldDecision is the fail closed answer of a role.
func HoldDecision(role, rationale string) Decision {
	return Decision{Role: role, Action: Hold, Rationale: rationale}
}

// Key identifies a decision within a cycle for idempotent execution.
func (d Decision) Key(cycleID string) string {
	return strings.Join([]string{cycleID, d.Symbol, string(d.Action), string(d.Direction)}, "|")
}

// Validate checks that the fields the action needs are present.
func (d Decision) Validate() error {
	if !d.Action.Valid() {
		return fmt.Errorf("%w: unknown action %q", ErrDecisionMalformed, d.Action)
	}
	if d.Action == Hold {
		return nil
	}
	if _, err := market.ParsePair(d.Symbol); err != nil {
		return fmt.Errorf("%w: %s needs a symbol: %v", ErrDecisionMalformed, d.Action, err)
	}
	if d.Action == Open {
		if d.Direction != market.Long && d.Direction != market.Short {
			return fmt.Errorf("%w: open %s without direction", ErrDecisionMalformed, d.Symbol)
		}
		if d.Size < 0 {
			return fmt.Errorf("%w: open %s with negative size", ErrDecisionMalformed, d.Symbol)
		}
	}
	return nil
}

func (d Decision) String() string {
	switch d.Action {
	case Hold:
		return fmt.Sprintf("%s hold", d.Role)
	case Open:
		return fmt.Sprintf("%s open %s %s %.2f lots", d.Role, d.Symbol, d.Direction, d.Size)
	}
	return fmt.Sprintf("%s %s %s", d.Role, d.Action, d.Symbol)
}
