package roles

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rustyeddy/ufoagent/config"
	"github.com/rustyeddy/ufoagent/llm"
	"github.com/rustyeddy/ufoagent/market"
)

// ParseDecisions reads the decisions in a model reply. The reply may hold
// a bare object, an array of objects, or an object with a "decisions"
// array, optionally wrapped in prose or a code fence. Field names and
// values are matched loosely: "buy" and "long" open long, "wait" holds.
// Any entry that cannot be read makes the whole reply malformed.
func ParseDecisions(role, reply string) ([]Decision, error) {
	raw, err := llm.ExtractJSON(reply)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", role, ErrDecisionMalformed, err)
	}

	var entries []map[string]any
	var arr []map[string]any
	if err := json.Unmarshal(raw, &arr); err == nil {
		entries = arr
	} else {
		var obj map[string]any
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", role, ErrDecisionMalformed, err)
		}
		entries = []map[string]any{obj}
		for _, k := range []string{"decisions", "trades", "actions"} {
			if list, ok := obj[k].([]any); ok {
				entries = entries[:0]
				for _, e := range list {
					m, ok := e.(map[string]any)
					if !ok {
						return nil, fmt.Errorf("%s: %w: %s entry is %T", role, ErrDecisionMalformed, k, e)
					}
					entries = append(entries, m)
				}
				break
			}
		}
	}

	out := make([]Decision, 0, len(entries))
	for i, e := range entries {
		d, err := decisionFrom(role, e)
		if err != nil {
			return nil, fmt.Errorf("%s: entry %d: %w", role, i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func decisionFrom(role string, m map[string]any) (Decision, error) {
	lower := make(map[string]any, len(m))
	for k, v := range m {
		lower[strings.ToLower(strings.TrimSpace(k))] = v
	}
	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := lower[k]; ok && v != nil {
				return strings.TrimSpace(fmt.Sprint(v))
			}
		}
		return ""
	}
	num := func(keys ...string) float64 {
		for _, k := range keys {
			switch v := lower[k].(type) {
			case float64:
				return v
			case string:
				if f, ok := config.ParseLeadingFloat(v); ok {
					return f
				}
			}
		}
		return 0
	}

	d := Decision{
		Role:       role,
		Symbol:     str("symbol", "pair", "instrument"),
		Size:       num("size", "volume", "lots", "lot_size"),
		Rationale:  str("rationale", "reason", "reasoning", "comment"),
		Confidence: num("confidence", "score"),
		StopPips:   num("stop_pips", "sl_pips", "stop_loss_pips"),
		TargetPips: num("target_pips", "tp_pips", "take_profit_pips"),
	}
	if p, err := market.ParsePair(d.Symbol); err == nil {
		d.Symbol = p.Symbol()
	}
	if d.Confidence > 1 {
		d.Confidence /= 100
	}

	action := strings.ToLower(str("action", "decision", "signal"))
	dirText := str("direction", "side", "type")
	switch action {
	case "open", "enter", "entry", "trade":
		d.Action = Open
	case "buy", "long":
		d.Action, dirText = Open, "long"
	case "sell", "short":
		d.Action, dirText = Open, "short"
	case "close", "exit":
		d.Action = Close
	case "adjust", "modify", "update":
		d.Action = Adjust
	case "hold", "wait", "none", "nothing", "no_trade", "":
		d.Action = Hold
	default:
		return Decision{}, fmt.Errorf("%w: unknown action %q", ErrDecisionMalformed, action)
	}
	if dirText != "" {
		dir, err := market.ParseDirection(dirText)
		if err != nil && d.Action == Open {
			return Decision{}, fmt.Errorf("%w: %v", ErrDecisionMalformed, err)
		}
		d.Direction = dir
	}
	if err := d.Validate(); err != nil {
		return Decision{}, err
	}
	return d, nil
}
