// Package roles holds the decision makers of a cycle. Every role has the
// same capability, Decide, and comes in rule based, language model backed
// and mock variants chosen by configuration.
package roles

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rustyeddy/ufoagent/portfolio"
	"github.com/rustyeddy/ufoagent/ufo"
)

// Role names, in the order a cycle consults them.
const (
	DataAnalyst      = "DataAnalyst"
	MarketResearcher = "MarketResearcher"
	Trader           = "Trader"
	RiskManager      = "RiskManager"
	FundManager      = "FundManager"
)

// Order is the fixed consultation order.
var Order = []string{DataAnalyst, MarketResearcher, Trader, RiskManager, FundManager}

// Role turns cycle context into decisions.
type Role interface {
	Name() string
	Decide(ctx context.Context, in Input) ([]Decision, error)
}

// Limits are the trading parameters roles work within.
type Limits struct {
	MaxPositions    int      `json:"max_positions"`
	TargetPositions int      `json:"target_positions"`
	MinPositions    int      `json:"min_positions"`
	EquityStop      float64  `json:"equity_stop"`
	LotSize         float64  `json:"lot_size"`
	StopPips        float64  `json:"stop_pips"`
	TargetPips      float64  `json:"target_pips"`
	MinSpread       float64  `json:"min_strength_spread"`
	Symbols         []string `json:"symbols"`
}

// Input is what a role sees. Prior holds the decisions of the roles
// consulted before it in this cycle.
type Input struct {
	Cycle     string               `json:"cycle"`
	Time      time.Time            `json:"time"`
	Snapshot  ufo.Snapshot         `json:"snapshot"`
	Positions []portfolio.Position `json:"positions"`
	Equity    float64              `json:"equity"`
	Drawdown  float64              `json:"drawdown"`
	Limits    Limits               `json:"limits"`
	Prior     []Decision           `json:"prior,omitempty"`
}

// Failure records a role that produced no usable answer.
type Failure struct {
	Role string
	Err  error
}

// Panel consults roles in order. A role that fails, times out or answers
// with malformed decisions contributes a hold instead.
type Panel struct {
	roles   []Role
	timeout time.Duration
	log     zerolog.Logger
}

func NewPanel(timeout time.Duration, log zerolog.Logger, roles ...Role) *Panel {
	return &Panel{
		roles:   roles,
		timeout: timeout,
		log:     log.With().Str("component", "roles").Logger(),
	}
}

// Roles returns the consulted roles in order.
func (p *Panel) Roles() []Role { return append([]Role(nil), p.roles...) }

// Run collects the decisions of every role.
func (p *Panel) Run(ctx context.Context, in Input) ([]Decision, []Failure) {
	var (
		all      []Decision
		failures []Failure
	)
	for _, r := range p.roles {
		view := in
		view.Positions = append([]portfolio.Position(nil), in.Positions...)
		view.Prior = append([]Decision(nil), all...)
		view.Limits.Symbols = append([]string(nil), in.Limits.Symbols...)

		ds, err := p.consult(ctx, r, view)
		if err == nil {
			for _, d := range ds {
				if verr := d.Validate(); verr != nil {
					err = verr
					break
				}
			}
		}
		if err != nil {
			p.log.Warn().Err(err).Str("role", r.Name()).Msg("role failed, holding")
			failures = append(failures, Failure{Role: r.Name(), Err: err})
			all = append(all, HoldDecision(r.Name(), "role failed: "+err.Error()))
			continue
		}
		if len(ds) == 0 {
			ds = []Decision{HoldDecision(r.Name(), "no decision")}
		}
		for _, d := range ds {
			d.Role = r.Name()
			all = append(all, d)
		}
	}
	return all, failures
}

type answer struct {
	ds  []Decision
	err error
}

// consult runs one role under the decision timeout. A role that ignores
// its context is abandoned when the timeout fires.
func (p *Panel) consult(ctx context.Context, r Role, in Input) (ds []Decision, err error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	done := make(chan answer, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- answer{err: fmt.Errorf("role %s panicked: %v", r.Name(), rec)}
			}
		}()
		ds, err := r.Decide(ctx, in)
		done <- answer{ds: ds, err: err}
	}()

	select {
	case a := <-done:
		return a.ds, a.err
	case <-ctx.Done():
		return nil, fmt.Errorf("role %s: %w", r.Name(), ctx.Err())
	}
}
