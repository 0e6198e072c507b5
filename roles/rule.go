package roles

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rustyeddy/ufoagent/market"
	"github.com/rustyeddy/ufoagent/ufo"
)

// signal is the strength spread of one pair across the snapshot timeframes.
type signal struct {
	Symbol     string
	Direction  market.Direction
	Mean       float64
	Timeframes int
	Agree      bool
}

func pairSignal(s ufo.Snapshot, symbol string) (signal, bool) {
	p, err := market.ParsePair(symbol)
	if err != nil {
		return signal{}, false
	}
	sig := signal{Symbol: p.Symbol(), Agree: true}
	sum, sign := 0.0, 0.0
	for _, tf := range s.Timeframes() {
		v, ok := s.Spread(tf, p)
		if !ok {
			continue
		}
		sig.Timeframes++
		sum += v
		switch {
		case v == 0:
			sig.Agree = false
		case sign == 0:
			sign = math.Copysign(1, v)
		case math.Copysign(1, v) != sign:
			sig.Agree = false
		}
	}
	if sig.Timeframes == 0 {
		return signal{}, false
	}
	sig.Mean = sum / float64(sig.Timeframes)
	sig.Direction = market.DirectionOf(sig.Mean)
	return sig, true
}

// DataAnalystRule reports on the quality of the cycle's signal data.
type DataAnalystRule struct{}

func (DataAnalystRule) Name() string { return DataAnalyst }

func (DataAnalystRule) Decide(_ context.Context, in Input) ([]Decision, error) {
	s := in.Snapshot
	if s.Empty() {
		return []Decision{HoldDecision(DataAnalyst, "no signal data this cycle")}, nil
	}
	tfs := s.Timeframes()
	ccys := map[string]bool{}
	for _, tf := range tfs {
		for _, c := range s.Currencies(tf) {
			ccys[c] = true
		}
	}
	msg := fmt.Sprintf("%d timeframes, %d currencies", len(tfs), len(ccys))
	if s.Degraded() {
		msg += fmt.Sprintf(", degraded (%s)", s.Origin())
	}
	return []Decision{HoldDecision(DataAnalyst, msg)}, nil
}

// MarketResearcherRule summarises the strongest and weakest currency per
// timeframe.
type MarketResearcherRule struct{}

func (MarketResearcherRule) Name() string { return MarketResearcher }

func (MarketResearcherRule) Decide(_ context.Context, in Input) ([]Decision, error) {
	var parts []string
	for _, tf := range in.Snapshot.Timeframes() {
		r := in.Snapshot.Ranking(tf)
		if len(r) < 2 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s %s>%s", tf, r[0].Currency, r[len(r)-1].Currency))
	}
	if len(parts) == 0 {
		return []Decision{HoldDecision(MarketResearcher, "no ranking available")}, nil
	}
	return []Decision{HoldDecision(MarketResearcher, strings.Join(parts, " "))}, nil
}

// TraderRule opens pairs whose strength spread agrees in sign on every
// timeframe and is at least the minimum spread, strongest first, until the
// target position count would be met.
type TraderRule struct{}

func (TraderRule) Name() string { return Trader }

func (TraderRule) Decide(_ context.Context, in Input) ([]Decision, error) {
	switch {
	case in.Snapshot.Empty():
		return []Decision{HoldDecision(Trader, "no signals")}, nil
	case in.Snapshot.Degraded():
		return []Decision{HoldDecision(Trader, "signals degraded, not opening")}, nil
	case in.Limits.EquityStop < 0 && in.Drawdown <= in.Limits.EquityStop:
		return []Decision{HoldDecision(Trader, "equity stop reached")}, nil
	}

	slots := in.Limits.TargetPositions - len(in.Positions)
	if slots <= 0 {
		return []Decision{HoldDecision(Trader, "target positions reached")}, nil
	}

	held := make(map[string]bool, len(in.Positions))
	for _, p := range in.Positions {
		held[p.Symbol] = true
	}

	var cands []signal
	for _, sym := range in.Limits.Symbols {
		if held[sym] {
			continue
		}
		sig, ok := pairSignal(in.Snapshot, sym)
		if !ok || !sig.Agree || math.Abs(sig.Mean) < in.Limits.MinSpread {
			continue
		}
		cands = append(cands, sig)
	}
	sort.SliceStable(cands, func(i, j int) bool {
		return math.Abs(cands[i].Mean) > math.Abs(cands[j].Mean)
	})
	if len(cands) > slots {
		cands = cands[:slots]
	}
	if len(cands) == 0 {
		return []Decision{HoldDecision(Trader, "no pair with agreeing strength spread")}, nil
	}

	out := make([]Decision, 0, len(cands))
	for _, c := range cands {
		strength := math.Abs(c.Mean)
		out = append(out, Decision{
			Role:       Trader,
			Action:     Open,
			Symbol:     c.Symbol,
			Direction:  c.Direction,
			Size:       in.Limits.LotSize,
			StopPips:   in.Limits.StopPips,
			TargetPips: in.Limits.TargetPips,
			Confidence: strength / (strength + in.Limits.MinSpread),
			Rationale:  fmt.Sprintf("spread %+.4f agrees on %d timeframes", c.Mean, c.Timeframes),
		})
	}
	return out, nil
}

// RiskManagerRule closes positions whose pair strength has turned against
// them and attaches stops to positions that have none.
type RiskManagerRule struct{}

func (RiskManagerRule) Name() string { return RiskManager }

func (RiskManagerRule) Decide(_ context.Context, in Input) ([]Decision, error) {
	var out []Decision
	for _, p := range in.Positions {
		sig, ok := pairSignal(in.Snapshot, p.Symbol)
		if ok && !in.Snapshot.Degraded() && sig.Agree && sig.Direction != p.Direction && math.Abs(sig.Mean) >= in.Limits.MinSpread {
			out = append(out, Decision{
				Role:      RiskManager,
				Action:    Close,
				Symbol:    p.Symbol,
				Direction: p.Direction,
				Rationale: fmt.Sprintf("strength reversed: spread %+.4f against %s", sig.Mean, p.Direction),
			})
			continue
		}
		if p.StopLoss == nil && in.Limits.StopPips > 0 {
			out = append(out, Decision{
				Role:       RiskManager,
				Action:     Adjust,
				Symbol:     p.Symbol,
				Direction:  p.Direction,
				StopPips:   in.Limits.StopPips,
				TargetPips: in.Limits.TargetPips,
				Rationale:  "position has no stop loss",
			})
		}
	}
	if len(out) == 0 {
		return []Decision{HoldDecision(RiskManager, fmt.Sprintf("%d positions within risk", len(in.Positions)))}, nil
	}
	return out, nil
}

// FundManagerRule closes everything once the equity stop is breached.
type FundManagerRule struct{}

func (FundManagerRule) Name() string { return FundManager }

func (FundManagerRule) Decide(_ context.Context, in Input) ([]Decision, error) {
	if in.Limits.EquityStop < 0 && in.Drawdown <= in.Limits.EquityStop {
		out := make([]Decision, 0, len(in.Positions))
		seen := map[string]bool{}
		for _, p := range in.Positions {
			if seen[p.Symbol] {
				continue
			}
			seen[p.Symbol] = true
			out = append(out, Decision{
				Role:      FundManager,
				Action:    Close,
				Symbol:    p.Symbol,
				Direction: p.Direction,
				Rationale: fmt.Sprintf("equity stop: drawdown %.2f%% <= %.2f%%", in.Drawdown*100, in.Limits.EquityStop*100),
			})
		}
		if len(out) > 0 {
			return out, nil
		}
	}

	n := len(in.Positions)
	msg := fmt.Sprintf("positions %d/%d target %d minimum %d", n, in.Limits.MaxPositions, in.Limits.TargetPositions, in.Limits.MinPositions)
	if n < in.Limits.MinPositions {
		msg += " (below minimum)"
	}
	return []Decision{HoldDecision(FundManager, msg)}, nil
}

// RuleRole returns the rule based variant of the named role.
func RuleRole(name string) (Role, error) {
	switch name {
	case DataAnalyst:
		return DataAnalystRule{}, nil
	case MarketResearcher:
		return MarketResearcherRule{}, nil
	case Trader:
		return TraderRule{}, nil
	case RiskManager:
		return RiskManagerRule{}, nil
	case FundManager:
		return FundManagerRule{}, nil
	}
	return nil, fmt.Errorf("unknown role %q", name)
}
