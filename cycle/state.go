// Package cycle drives the decision loop: collect bars, compute strength,
// consult the roles, screen through the risk gate, execute, then reconcile
// the portfolio with the broker. Cycles run one at a time on a fixed period.
package cycle

import (
	"errors"
	"time"

	"github.com/rustyeddy/ufoagent/broker"
	"github.com/rustyeddy/ufoagent/executor"
	"github.com/rustyeddy/ufoagent/gateway"
	"github.com/rustyeddy/ufoagent/journal"
	"github.com/rustyeddy/ufoagent/risk"
	"github.com/rustyeddy/ufoagent/roles"
	"github.com/rustyeddy/ufoagent/ufo"
)

var (
	// ErrStateDesync means the portfolio no longer matches what the broker
	// confirms. It is the only error that halts the loop.
	ErrStateDesync = errors.New("portfolio desynchronized from broker")
	// ErrFaulted is returned for every cycle attempted after a fault until
	// the orchestrator is reset.
	ErrFaulted = errors.New("orchestrator faulted")
)

// State is a step of the cycle state machine.
type State int

const (
	Idle State = iota
	CollectingData
	ComputingSignals
	AwaitingDecisions
	RiskChecking
	Executing
	Monitoring
	Faulted
)

var stateNames = [...]string{
	Idle:              "Idle",
	CollectingData:    "CollectingData",
	ComputingSignals:  "ComputingSignals",
	AwaitingDecisions: "AwaitingDecisions",
	RiskChecking:      "RiskChecking",
	Executing:         "Executing",
	Monitoring:        "Monitoring",
	Faulted:           "Faulted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// next is the only forward transition allowed out of each running state.
var next = map[State]State{
	Idle:              CollectingData,
	CollectingData:    ComputingSignals,
	ComputingSignals:  AwaitingDecisions,
	AwaitingDecisions: RiskChecking,
	RiskChecking:      Executing,
	Executing:         Monitoring,
	Monitoring:        Idle,
}

// Outcomes recorded for a closed cycle.
const (
	OutcomeOK        = "ok"
	OutcomeDegraded  = "degraded"
	OutcomeCancelled = "cancelled"
	OutcomeFaulted   = "faulted"
)

// Record is the closed log entry of one cycle. It is not modified after
// RunCycle returns it.
type Record struct {
	ID    string
	Start time.Time
	End   time.Time
	// Ref is the reference time bars were collected up to.
	Ref time.Time

	// State is the terminal state: Idle or Faulted.
	State   State
	Outcome string
	Path    []State

	Stats    gateway.Stats
	Snapshot ufo.Snapshot
	Issues   []ufo.Issue

	Decisions  []roles.Decision
	Failures   []roles.Failure
	Approved   []roles.Decision
	Rejected   []risk.Rejection
	Executions []executor.Result

	// Closed lists trades the broker closed on its own (stops, targets)
	// found while reconciling.
	Closed []broker.Closed

	Summary journal.Summary
	Err     error
}

// Degraded reports whether the cycle ran on substitute signals.
func (r Record) Degraded() bool { return r.Snapshot.Degraded() }

// Entry converts the record to its journal form.
func (r Record) Entry() journal.CycleEntry {
	e := journal.CycleEntry{
		ID:       r.ID,
		Start:    r.Start,
		End:      r.End,
		Outcome:  r.Outcome,
		Degraded: r.Degraded(),
		Origin:   r.Snapshot.Origin(),
		Summary:  r.Summary,
	}
	for _, d := range r.Decisions {
		e.Decisions = append(e.Decisions, journal.DecisionLine{
			Role:       d.Role,
			Action:     string(d.Action),
			Symbol:     d.Symbol,
			Direction:  string(d.Direction),
			Size:       d.Size,
			Confidence: d.Confidence,
			Rationale:  d.Rationale,
		})
	}
	for _, rj := range r.Rejected {
		e.Rejections = append(e.Rejections, journal.RejectionLine{
			Role:   rj.Decision.Role,
			Action: string(rj.Decision.Action),
			Symbol: rj.Decision.Symbol,
			Reason: rj.Reason,
			Detail: rj.Detail,
		})
	}
	for _, x := range r.Executions {
		e.Executions = append(e.Executions, journal.ExecutionLine{
			Action: string(x.Decision.Action),
			Symbol: x.Decision.Symbol,
			Status: string(x.Status),
			Ref:    x.BrokerRef,
			Price:  x.FilledPrice,
			Error:  x.Error,
		})
	}
	if r.Err != nil {
		e.Error = r.Err.Error()
	}
	return e
}
