package journal

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Text is the human readable run log. Every line starts with an RFC3339
// timestamp. Closed trades are written as
//
//	2025-07-31T10:40:00Z Position closed: EURUSD P&L: $12.50 reason=RiskManager
//
// so that symbol, P&L and reason can be pulled out with ParseClosedLines or
// a plain grep.
type Text struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewText writes to w. Close is a no-op unless w is an io.Closer.
func NewText(w io.Writer) *Text {
	t := &Text{w: w}
	if c, ok := w.(io.Closer); ok {
		t.c = c
	}
	return t
}

// OpenText appends to the file at path, creating it if needed.
func OpenText(path string) (*Text, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("journal: open text log: %w", err)
	}
	return NewText(f), nil
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// oneLine keeps a record on one physical line. Rationales and broker errors
// are free text and may carry their own line breaks.
var oneLine = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

func (t *Text) lines(ts time.Time, lines ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(stamp(ts))
		b.WriteByte(' ')
		b.WriteString(oneLine.Replace(l))
		b.WriteByte('\n')
	}
	_, err := io.WriteString(t.w, b.String())
	return err
}

func (t *Text) RecordCycle(_ context.Context, c CycleEntry) error {
	var out []string
	head := fmt.Sprintf("Cycle %s start=%s outcome=%s", c.ID, stamp(c.Start), c.Outcome)
	if c.Degraded {
		head += " DEGRADED origin=" + c.Origin
	}
	out = append(out, head)

	for _, d := range c.Decisions {
		line := fmt.Sprintf("Decision %s: %s", d.Role, d.Action)
		if d.Symbol != "" {
			line += " " + d.Symbol
		}
		if d.Direction != "" {
			line += " " + d.Direction
		}
		if d.Size > 0 {
			line += fmt.Sprintf(" size=%.2f", d.Size)
		}
		if d.Confidence > 0 {
			line += fmt.Sprintf(" confidence=%.2f", d.Confidence)
		}
		if d.Rationale != "" {
			line += " - " + d.Rationale
		}
		out = append(out, line)
	}
	for _, r := range c.Rejections {
		line := fmt.Sprintf("Rejected %s %s %s: %s", r.Role, r.Action, r.Symbol, r.Reason)
		if r.Detail != "" {
			line += " (" + r.Detail + ")"
		}
		out = append(out, line)
	}
	for _, e := range c.Executions {
		line := fmt.Sprintf("Executed %s %s: %s", e.Action, e.Symbol, e.Status)
		if e.Ref != "" {
			line += " ref=" + e.Ref
		}
		if e.Price > 0 {
			line += " price=" + strconv.FormatFloat(e.Price, 'f', -1, 64)
		}
		if e.Error != "" {
			line += " error=" + e.Error
		}
		out = append(out, line)
	}
	if c.Error != "" {
		out = append(out, "Cycle error: "+c.Error)
	}

	s := c.Summary
	summary := fmt.Sprintf("Session: %d/%d positions open (target %d, minimum %d) opened=%d closed=%d balance=$%.2f equity=$%.2f drawdown=%.2f%%",
		s.OpenPositions, s.MaxPositions, s.TargetPositions, s.MinPositions,
		s.TradesOpened, s.TradesClosed, s.Balance, s.Equity, s.Drawdown*100)
	if s.BelowMinimum() {
		summary += " BELOW MINIMUM"
	}
	out = append(out, summary)

	end := c.End
	if end.IsZero() {
		end = c.Start
	}
	return t.lines(end, out...)
}

func (t *Text) RecordTrade(_ context.Context, r TradeRecord) error {
	if r.Closed() {
		line := fmt.Sprintf("Position closed: %s P&L: $%.2f reason=%s trade=%s exit=%s",
			r.Symbol, r.RealizedPL, reasonOrUnknown(r.Reason), r.TradeID,
			strconv.FormatFloat(r.ExitPrice, 'f', -1, 64))
		return t.lines(r.CloseTime, line)
	}
	line := fmt.Sprintf("Trade opened: %s %s units=%.0f entry=%s trade=%s",
		r.Symbol, r.Direction, r.Units, strconv.FormatFloat(r.EntryPrice, 'f', -1, 64), r.TradeID)
	if r.StopLoss != nil {
		line += " sl=" + strconv.FormatFloat(*r.StopLoss, 'f', -1, 64)
	}
	if r.TakeProfit != nil {
		line += " tp=" + strconv.FormatFloat(*r.TakeProfit, 'f', -1, 64)
	}
	return t.lines(r.OpenTime, line)
}

func reasonOrUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.ReplaceAll(s, " ", "_")
}

func (t *Text) RecordEquity(_ context.Context, e EquitySnapshot) error {
	return t.lines(e.Time, fmt.Sprintf("Equity: $%.2f balance=$%.2f unrealized=$%.2f open=%d drawdown=%.2f%%",
		e.Equity, e.Balance, e.UnrealizedPL, e.OpenPositions, e.Drawdown*100))
}

func (t *Text) Close() error {
	if t.c == nil {
		return nil
	}
	return t.c.Close()
}

// ClosedLine is a closed trade recovered from the text log.
type ClosedLine struct {
	Time   time.Time
	Symbol string
	PL     float64
	Reason string
}

var closedRE = regexp.MustCompile(`^(\S+) Position closed: (\S+) P&L: \$(-?[0-9.]+) reason=(\S+)`)

// ParseClosedLines scans a text log and returns every closed position in
// order. Lines that do not match are ignored.
func ParseClosedLines(r io.Reader) ([]ClosedLine, error) {
	var out []ClosedLine
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		m := closedRE.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, m[1])
		if err != nil {
			continue
		}
		pl, err := strconv.ParseFloat(m[3], 64)
		if err != nil {
			continue
		}
		out = append(out, ClosedLine{Time: ts, Symbol: m[2], PL: pl, Reason: m[4]})
	}
	return out, sc.Err()
}
