package market

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Timeframe is a bar granularity such as M5 or H4.
type Timeframe string

const (
	M1  Timeframe = "M1"
	M5  Timeframe = "M5"
	M15 Timeframe = "M15"
	M30 Timeframe = "M30"
	H1  Timeframe = "H1"
	H4  Timeframe = "H4"
	D1  Timeframe = "D1"
	W1  Timeframe = "W1"
)

var tfDurations = map[Timeframe]time.Duration{
	M1:  time.Minute,
	M5:  5 * time.Minute,
	M15: 15 * time.Minute,
	M30: 30 * time.Minute,
	H1:  time.Hour,
	H4:  4 * time.Hour,
	D1:  24 * time.Hour,
	W1:  7 * 24 * time.Hour,
}

// ParseTimeframe accepts the canonical names plus the common "D"/"W"
// spellings used by brokers.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToUpper(strings.TrimSpace(s)))
	switch tf {
	case "D":
		tf = D1
	case "W":
		tf = W1
	}
	if _, ok := tfDurations[tf]; !ok {
		return "", fmt.Errorf("unsupported timeframe: %q", s)
	}
	return tf, nil
}

// Duration returns the bar length, or zero for an unknown timeframe.
func (tf Timeframe) Duration() time.Duration { return tfDurations[tf] }

func (tf Timeframe) String() string { return string(tf) }

// SortTimeframes orders timeframes from finest to coarsest.
func SortTimeframes(tfs []Timeframe) {
	sort.Slice(tfs, func(i, j int) bool { return tfs[i].Duration() < tfs[j].Duration() })
}
