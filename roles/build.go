package roles

import (
	"fmt"

	"github.com/rustyeddy/ufoagent/config"
)

// Build returns the five roles in consultation order with the strategy the
// configuration selects for each. client may be nil when no role uses the
// llm strategy.
func Build(cfg config.RolesConfig, client Completer) ([]Role, error) {
	out := make([]Role, 0, len(Order))
	for _, name := range Order {
		switch strategy := cfg.StrategyFor(name); strategy {
		case "rule":
			r, err := RuleRole(name)
			if err != nil {
				return nil, err
			}
			out = append(out, r)
		case "llm":
			if client == nil {
				return nil, fmt.Errorf("role %s: llm strategy needs a completion client", name)
			}
			out = append(out, NewLLMRole(name, client))
		case "mock":
			out = append(out, &Mock{RoleName: name})
		default:
			return nil, fmt.Errorf("role %s: unknown strategy %q", name, strategy)
		}
	}
	return out, nil
}

// NeedsLLM reports whether any role is configured to use a language model.
func NeedsLLM(cfg config.RolesConfig) bool {
	for _, name := range Order {
		if cfg.StrategyFor(name) == "llm" {
			return true
		}
	}
	return false
}

// LimitsFrom derives role limits from the trading configuration.
func LimitsFrom(t config.TradingConfig) Limits {
	return Limits{
		MaxPositions:    t.MaxConcurrentPositions.Value(),
		TargetPositions: t.TargetPositionsWhenAvailable.Value(),
		MinPositions:    t.MinPositionsForSession.Value(),
		EquityStop:      t.EquityStop(),
		LotSize:         t.LotSize.Value(),
		StopPips:        t.StopPips.Value(),
		TargetPips:      t.TargetPips.Value(),
		MinSpread:       t.MinStrengthSpread.Value(),
		Symbols:         t.Universe(),
	}
}
