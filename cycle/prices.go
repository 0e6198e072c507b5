package cycle

import (
	"sync"

	"github.com/rustyeddy/ufoagent/market"
)

// Prices holds the newest close of every symbol of the latest collected
// frame. Mid is handed to the executor to price protective levels.
type Prices struct {
	mu   sync.RWMutex
	last map[string]market.Candle
}

func NewPrices() *Prices { return &Prices{last: map[string]market.Candle{}} }

// Update takes the newest bar of each symbol in frame. Symbols missing from
// frame keep their previous price.
func (p *Prices) Update(frame market.Frame, symbols []string) map[string]market.Candle {
	bars := make(map[string]market.Candle, len(symbols))
	for _, sym := range symbols {
		if c, ok := frame.LastClose(sym); ok && c.Close > 0 {
			bars[sym] = c
		}
	}
	p.mu.Lock()
	for sym, c := range bars {
		p.last[sym] = c
	}
	p.mu.Unlock()
	return bars
}

// Mid returns the last close of symbol.
func (p *Prices) Mid(symbol string) (float64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.last[symbol]
	return c.Close, ok
}
