package market

import (
	"fmt"
	"strings"
)

// Pair is a currency pair; the base is priced in units of the quote.
type Pair struct {
	Base  string
	Quote string
}

// Symbol returns the six letter form, e.g. "EURUSD".
func (p Pair) Symbol() string { return p.Base + p.Quote }

// Instrument returns the underscore form used by OANDA, e.g. "EUR_USD".
func (p Pair) Instrument() string { return p.Base + "_" + p.Quote }

// Contains reports whether ccy is the base or the quote of the pair.
func (p Pair) Contains(ccy string) bool { return p.Base == ccy || p.Quote == ccy }

// PipLocation is -2 for JPY quoted pairs and -4 otherwise.
func (p Pair) PipLocation() int {
	if p.Quote == "JPY" {
		return -2
	}
	return -4
}

// ParsePair accepts "EURUSD", "EUR_USD" and "EUR/USD". Anything past the
// six currency letters, such as a broker suffix, is ignored.
func ParsePair(symbol string) (Pair, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("_", "", "/", "").Replace(s)
	if len(s) < 6 {
		return Pair{}, fmt.Errorf("invalid pair %q", symbol)
	}
	for i := 0; i < 6; i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return Pair{}, fmt.Errorf("invalid pair %q", symbol)
		}
	}
	p := Pair{Base: s[:3], Quote: s[3:6]}
	if p.Base == p.Quote {
		return Pair{}, fmt.Errorf("invalid pair %q: base equals quote", symbol)
	}
	return p, nil
}

// priority ranks currencies for market convention: when two currencies form
// a pair the one with the lower rank is the base.
var priority = map[string]int{
	"EUR": 0,
	"GBP": 1,
	"AUD": 2,
	"NZD": 3,
	"USD": 4,
	"CAD": 5,
	"CHF": 6,
	"JPY": 7,
}

// Universe forms every conventional pair from the given currencies.
// Currencies missing from the priority table are ordered after the majors,
// alphabetically.
func Universe(currencies []string) []string {
	ccys := make([]string, 0, len(currencies))
	seen := make(map[string]bool, len(currencies))
	for _, c := range currencies {
		c = strings.ToUpper(strings.TrimSpace(c))
		if len(c) != 3 || seen[c] {
			continue
		}
		seen[c] = true
		ccys = append(ccys, c)
	}

	rank := func(c string) (int, string) {
		if r, ok := priority[c]; ok {
			return r, ""
		}
		return len(priority), c
	}
	before := func(a, b string) bool {
		ra, sa := rank(a)
		rb, sb := rank(b)
		if ra != rb {
			return ra < rb
		}
		return sa < sb
	}

	var out []string
	for i := 0; i < len(ccys); i++ {
		for j := i + 1; j < len(ccys); j++ {
			a, b := ccys[i], ccys[j]
			if before(b, a) {
				a, b = b, a
			}
			out = append(out, a+b)
		}
	}
	return out
}
