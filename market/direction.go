package market

import (
	"fmt"
	"strings"
)

// Direction is the side of a position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// ParseDirection accepts long/short and the buy/sell synonyms.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "long", "buy", "bull", "bullish":
		return Long, nil
	case "short", "sell", "bear", "bearish":
		return Short, nil
	}
	return "", fmt.Errorf("unknown direction %q", s)
}

// Sign is +1 for long and -1 for short.
func (d Direction) Sign() float64 {
	if d == Short {
		return -1
	}
	return 1
}

// Opposite returns the other side.
func (d Direction) Opposite() Direction {
	if d == Short {
		return Long
	}
	return Short
}

// DirectionOf returns the side of a signed unit count.
func DirectionOf(units float64) Direction {
	if units < 0 {
		return Short
	}
	return Long
}

// UnitsPerLot is the size of one standard lot.
const UnitsPerLot = 100_000

// PipSize returns the price value of one pip for p.
func (p Pair) PipSize() float64 {
	if p.PipLocation() == -2 {
		return 0.01
	}
	return 0.0001
}
