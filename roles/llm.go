package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rustyeddy/ufoagent/market"
	"github.com/rustyeddy/ufoagent/ufo"
)

// Completer is a chat completion backend.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

var briefs = map[string]string{
	DataAnalyst:      "You check the quality and coverage of currency strength data.",
	MarketResearcher: "You describe which currencies are strong and weak across timeframes.",
	Trader:           "You propose new forex positions on pairs whose strength spread agrees across timeframes.",
	RiskManager:      "You close positions whose pair strength has reversed and tighten missing stops.",
	FundManager:      "You protect account equity and keep the number of positions near the target.",
}

const answerFormat = `Answer with JSON only: {"decisions":[{"action":"open|close|hold|adjust",` +
	`"symbol":"EURUSD","direction":"long|short","size":0.1,"stop_pips":30,"target_pips":60,` +
	`"confidence":0.0-1.0,"rationale":"..."}]}`

// LLMRole asks a language model for its decisions.
type LLMRole struct {
	name   string
	client Completer
}

func NewLLMRole(name string, client Completer) *LLMRole {
	return &LLMRole{name: name, client: client}
}

func (r *LLMRole) Name() string { return r.name }

func (r *LLMRole) Decide(ctx context.Context, in Input) ([]Decision, error) {
	user, err := buildPrompt(in)
	if err != nil {
		return nil, err
	}
	reply, err := r.client.Complete(ctx, systemPrompt(r.name), user)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", r.name, err)
	}
	ds, err := ParseDecisions(r.name, reply)
	if err != nil {
		return nil, err
	}
	for i := range ds {
		if ds[i].Action == Open && ds[i].Size == 0 {
			ds[i].Size = in.Limits.LotSize
		}
	}
	return ds, nil
}

func systemPrompt(role string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s of a forex trading desk. ", role)
	b.WriteString(briefs[role])
	b.WriteString(" Strength values are cumulative percentage moves; a pair's spread is strength(base) - strength(quote).\n")
	b.WriteString(answerFormat)
	return b.String()
}

type promptContext struct {
	Cycle     string                                  `json:"cycle"`
	Time      string                                  `json:"time"`
	Degraded  bool                                    `json:"degraded,omitempty"`
	Strength  map[market.Timeframe]map[string]float64 `json:"strength"`
	Ranking   map[market.Timeframe][]ufo.Ranked       `json:"ranking"`
	Positions []map[string]any                        `json:"positions"`
	Equity    float64                                 `json:"equity"`
	Drawdown  float64                                 `json:"drawdown"`
	Limits    Limits                                  `json:"limits"`
	Prior     []Decision                              `json:"prior_decisions,omitempty"`
}

func buildPrompt(in Input) (string, error) {
	pc := promptContext{
		Cycle:    in.Cycle,
		Time:     in.Time.UTC().Format("2006-01-02 15:04 MST"),
		Degraded: in.Snapshot.Degraded(),
		Strength: in.Snapshot.Latest(),
		Ranking:  make(map[market.Timeframe][]ufo.Ranked),
		Equity:   in.Equity,
		Drawdown: in.Drawdown,
		Limits:   in.Limits,
		Prior:    in.Prior,
	}
	for _, tf := range in.Snapshot.Timeframes() {
		pc.Ranking[tf] = in.Snapshot.Ranking(tf)
	}
	for _, p := range in.Positions {
		pc.Positions = append(pc.Positions, map[string]any{
			"symbol":        p.Symbol,
			"direction":     p.Direction,
			"lots":          p.Lots(),
			"entry_price":   p.EntryPrice,
			"unrealized_pl": p.UnrealizedPL,
			"has_stop":      p.StopLoss != nil,
		})
	}
	body, err := json.MarshalIndent(pc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode prompt: %w", err)
	}
	return fmt.Sprintf("Cycle context:\n```json\n%s\n```", body), nil
}
