package market

import "fmt"

// MidFunc returns the latest mid price for a six letter symbol.
type MidFunc func(symbol string) (float64, bool)

// QuoteToAccountRate returns the factor converting an amount in the pair's
// quote currency into the account currency.
//
// EURUSD in a USD account -> 1.0
// USDJPY in a USD account -> 1 / USDJPY
// EURGBP in a USD account -> GBPUSD
func QuoteToAccountRate(p Pair, accountCurrency string, mid MidFunc) (float64, error) {
	if p.Quote == accountCurrency {
		return 1.0, nil
	}

	if p.Base == accountCurrency {
		px, ok := mid(p.Symbol())
		if !ok || px <= 0 {
			return 0, fmt.Errorf("no price for %s", p.Symbol())
		}
		return 1.0 / px, nil
	}

	// Cross: find the quote currency against the account currency.
	if px, ok := mid(p.Quote + accountCurrency); ok && px > 0 {
		return px, nil
	}
	if px, ok := mid(accountCurrency + p.Quote); ok && px > 0 {
		return 1.0 / px, nil
	}
	return 0, fmt.Errorf("cross conversion %s -> %s: no price", p.Quote, accountCurrency)
}
