// Package risk screens proposed decisions against portfolio limits before
// they reach the broker.
package risk

import (
	"errors"
	"fmt"

	"github.com/rustyeddy/ufoagent/portfolio"
	"github.com/rustyeddy/ufoagent/roles"
)

// ErrRejected wraps every rejection reason.
var ErrRejected = errors.New("risk rejected")

// Rejection reasons.
const (
	ReasonLimitExceeded = "limit exceeded"
	ReasonEquityStop    = "equity stop"
	ReasonTargetReached = "target reached"
	ReasonDuplicate     = "duplicate symbol"
	ReasonNoPosition    = "no position"
	ReasonInvalid       = "invalid decision"
)

// Limits are the portfolio constraints.
type Limits struct {
	MaxPositions    int
	TargetPositions int
	// EquityStop is a negative drawdown fraction; zero disables it.
	EquityStop float64
}

// Rejection is a decision that will not be executed.
type Rejection struct {
	Decision roles.Decision `json:"decision"`
	Reason   string         `json:"reason"`
	Detail   string         `json:"detail,omitempty"`
}

func (r Rejection) Err() error {
	if r.Detail == "" {
		return fmt.Errorf("%w: %s", ErrRejected, r.Reason)
	}
	return fmt.Errorf("%w: %s: %s", ErrRejected, r.Reason, r.Detail)
}

// Result splits decisions into approved and rejected. Holds are neither.
type Result struct {
	Approved []roles.Decision `json:"approved"`
	Rejected []Rejection      `json:"rejected"`
}

// OpensApproved counts the approved open decisions.
func (r Result) OpensApproved() int {
	n := 0
	for _, d := range r.Approved {
		if d.Action == roles.Open {
			n++
		}
	}
	return n
}

// Gate applies Limits. It holds no state between calls.
type Gate struct {
	limits Limits
}

func NewGate(l Limits) Gate { return Gate{limits: l} }

func (g Gate) Limits() Limits { return g.limits }

// Evaluate screens decisions in the order given. Opens are first come first
// served: once the concurrency limit is used up by earlier approvals, later
// opens of the same cycle are rejected even if they are otherwise valid.
// Approved closes do not free slots within the cycle.
func (g Gate) Evaluate(decisions []roles.Decision, positions []portfolio.Position, drawdown float64) Result {
	var res Result

	held := make(map[string]bool, len(positions))
	for _, p := range positions {
		held[p.Symbol] = true
	}
	opened := make(map[string]bool)
	touched := make(map[string]bool)
	open := len(positions)

	reject := func(d roles.Decision, reason, detail string) {
		res.Rejected = append(res.Rejected, Rejection{Decision: d, Reason: reason, Detail: detail})
	}

	for _, d := range decisions {
		if d.Action == roles.Hold {
			continue
		}
		if err := d.Validate(); err != nil {
			reject(d, ReasonInvalid, err.Error())
			continue
		}

		switch d.Action {
		case roles.Open:
			switch {
			case held[d.Symbol] || opened[d.Symbol]:
				reject(d, ReasonDuplicate, d.Symbol+" already held")
			case g.limits.EquityStop < 0 && drawdown <= g.limits.EquityStop:
				reject(d, ReasonEquityStop, fmt.Sprintf("drawdown %.2f%% at or below %.2f%%", drawdown*100, g.limits.EquityStop*100))
			case open >= g.limits.MaxPositions:
				reject(d, ReasonLimitExceeded, fmt.Sprintf("%d of %d positions open", open, g.limits.MaxPositions))
			case g.limits.TargetPositions > 0 && open >= g.limits.TargetPositions:
				reject(d, ReasonTargetReached, fmt.Sprintf("%d positions meet target %d", open, g.limits.TargetPositions))
			default:
				opened[d.Symbol] = true
				open++
				res.Approved = append(res.Approved, d)
			}

		case roles.Close, roles.Adjust:
			key := string(d.Action) + "|" + d.Symbol
			switch {
			case !held[d.Symbol]:
				reject(d, ReasonNoPosition, d.Symbol+" not held")
			case touched[key] || touched["close|"+d.Symbol]:
				reject(d, ReasonDuplicate, d.Symbol+" already handled this cycle")
			default:
				touched[key] = true
				res.Approved = append(res.Approved, d)
			}
		}
	}
	return res
}
