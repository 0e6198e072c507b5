package journal

import (
	"sort"
)

// PL totals realized profit and loss for one group of trades.
type PL struct {
	Key         string  `json:"key"`
	Trades      int     `json:"trades"`
	Wins        int     `json:"wins"`
	Net         float64 `json:"net"`
	GrossProfit float64 `json:"gross_profit"`
	GrossLoss   float64 `json:"gross_loss"`
}

// ProfitFactor is gross profit over gross loss, zero when nothing was lost.
func (p PL) ProfitFactor() float64 {
	if p.GrossLoss == 0 {
		return 0
	}
	return p.GrossProfit / p.GrossLoss
}

func (p *PL) add(v float64) {
	p.Trades++
	p.Net += v
	if v > 0 {
		p.Wins++
		p.GrossProfit += v
	} else {
		p.GrossLoss -= v
	}
}

// Report groups closed trades by symbol and by closing reason.
type Report struct {
	Total    PL   `json:"total"`
	BySymbol []PL `json:"by_symbol"`
	ByReason []PL `json:"by_reason"`
}

// Summarize builds a Report. Open trades are ignored. Groups are sorted by
// key.
func Summarize(trades []TradeRecord) Report {
	rep := Report{Total: PL{Key: "total"}}
	sym := map[string]*PL{}
	why := map[string]*PL{}
	for _, t := range trades {
		if !t.Closed() {
			continue
		}
		rep.Total.add(t.RealizedPL)
		group(sym, t.Symbol).add(t.RealizedPL)
		reason := t.Reason
		if reason == "" {
			reason = "unknown"
		}
		group(why, reason).add(t.RealizedPL)
	}
	rep.BySymbol = flatten(sym)
	rep.ByReason = flatten(why)
	return rep
}

// SummarizeLines does the same for closed lines scraped from a text log.
func SummarizeLines(lines []ClosedLine) Report {
	trades := make([]TradeRecord, len(lines))
	for i, l := range lines {
		trades[i] = TradeRecord{Symbol: l.Symbol, RealizedPL: l.PL, Reason: l.Reason, CloseTime: l.Time}
	}
	return Summarize(trades)
}

func group(m map[string]*PL, key string) *PL {
	p, ok := m[key]
	if !ok {
		p = &PL{Key: key}
		m[key] = p
	}
	return p
}

func flatten(m map[string]*PL) []PL {
	out := make([]PL, 0, len(m))
	for _, p := range m {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
